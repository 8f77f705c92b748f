package api

import (
	"context"

	"boardflow-api/board"
	"boardflow-api/domain"
)

// Storage abstracts item persistence for handlers.
type Storage interface {
	ListItems(ctx context.Context, accountID string, board domain.BoardType) ([]domain.Item, error)
	GetItem(ctx context.Context, accountID, itemID string) (domain.Item, error)
	CreateItem(ctx context.Context, accountID string, item domain.Item) (domain.Item, error)
	DeleteItem(ctx context.Context, accountID, itemID string) error
}

// Transitioner mediates stage changes; implemented by board.Controller.
type Transitioner interface {
	RequestTransition(ctx context.Context, accountID string, item domain.Item, target domain.DisplayStage) (domain.Item, error)
}

// Authenticator is implemented by types able to extract account IDs from headers.
type Authenticator interface {
	AccountIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reapplying duplicate transition submissions.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, accountID, key string) (bool, error)
	// Remove deletes a previously added key, used when the transition fails
	// so the client may retry.
	Remove(ctx context.Context, accountID, key string) error
}

// Publisher fans out board events after committed mutations.
type Publisher interface {
	Publish(accountID string, ev domain.BoardEvent)
}

// NotificationSource serves the per-account notification feed.
type NotificationSource interface {
	Recent(accountID string) []board.Notification
}
