package domain

import "time"

// Board event types published after successful mutations.
const (
	EventItemCreated = "item_created"
	EventItemMoved   = "item_moved"
	EventItemDeleted = "item_deleted"
)

// BoardEvent describes a committed board mutation. From and To are set for
// moves only.
type BoardEvent struct {
	Type   string       `json:"type"`
	Board  BoardType    `json:"board"`
	ItemID string       `json:"itemId"`
	From   DisplayStage `json:"from,omitempty"`
	To     DisplayStage `json:"to,omitempty"`
	At     time.Time    `json:"at"`
}

// BoardEventEnvelope wraps an event with the account it happened under.
type BoardEventEnvelope struct {
	AccountID string     `json:"accountId"`
	Event     BoardEvent `json:"event"`
}
