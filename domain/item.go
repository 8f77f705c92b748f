package domain

import "time"

// Money is a monetary amount in minor units of a single currency. Deal
// values are summed per column in one currency context; currency
// normalization happens upstream of this service.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// Assignee is a creator or team member attached to an item.
type Assignee struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Item is a single board card: a deal on the pipeline or a task on the
// tasks board. Status holds the persisted enumeration value; the display
// stage is always derived through the board's taxonomy.
type Item struct {
	ID             string          `json:"id"`
	Board          BoardType       `json:"board"`
	Title          string          `json:"title"`
	Status         PersistedStatus `json:"status"`
	Value          Money           `json:"value,omitzero"`
	StageEnteredAt time.Time       `json:"stageEnteredAt"`
	Urgent         bool            `json:"urgent,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Assignees      []Assignee      `json:"assignees,omitempty"`
}

// AgeInStage derives the whole days an item has sat in its current stage.
// It is computed at read time from StageEnteredAt and never stored. A zero
// or future timestamp counts as zero days.
func (i Item) AgeInStage(now time.Time) int {
	if i.StageEnteredAt.IsZero() || now.Before(i.StageEnteredAt) {
		return 0
	}
	return int(now.Sub(i.StageEnteredAt) / (24 * time.Hour))
}
