// Package board mediates user-requested stage transitions between the
// cached board view and the authoritative item store.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardflow-api/domain"
)

var (
	// ErrUnknownStage is returned when the requested target is not a column
	// of the item's board.
	ErrUnknownStage = errors.New("unknown display stage")
	// ErrTransitionInFlight is returned when a transition for the same item
	// has been issued and has not settled yet. The request is rejected, not
	// queued: two concurrent writes must never race over one card.
	ErrTransitionInFlight = errors.New("transition already in flight for item")
)

// Store issues the authoritative stage mutation.
type Store interface {
	UpdateItemStage(ctx context.Context, accountID, itemID string, status domain.PersistedStatus) (domain.Item, error)
}

// Cache is the board view's cached item copy. All methods are best-effort;
// the cache is never the source of truth.
type Cache interface {
	SnapshotItems(ctx context.Context, accountID string, board domain.BoardType) ([]domain.Item, bool)
	PatchItemStage(ctx context.Context, accountID string, board domain.BoardType, itemID string, status domain.PersistedStatus)
	RestoreItems(ctx context.Context, accountID string, board domain.BoardType, items []domain.Item)
	Invalidate(ctx context.Context, accountID string, board domain.BoardType)
}

// Notifier surfaces user-visible notifications.
type Notifier interface {
	Notify(ctx context.Context, accountID string, n Notification)
}

// Publisher fans out board events after committed mutations.
type Publisher interface {
	Publish(accountID string, ev domain.BoardEvent)
}

// Notification is a user-visible message about a board interaction.
type Notification struct {
	Level   string           `json:"level"`
	Message string           `json:"message"`
	Board   domain.BoardType `json:"board,omitempty"`
	ItemID  string           `json:"itemId,omitempty"`
	At      time.Time        `json:"at"`
}

// Controller orchestrates a requested stage change: validates it is a real
// change, applies the optimistic cache patch, issues the single persisted
// write, and reconciles the cached view with the outcome. A declined write
// rolls the cached copy back to its pre-transition snapshot and raises
// exactly one failure notification; nothing is retried automatically.
type Controller struct {
	catalog  *domain.Catalog
	store    Store
	cache    Cache
	notifier Notifier
	events   Publisher
	log      *log.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Controller. Cache, notifier and events may be nil.
func New(catalog *domain.Catalog, store Store, cache Cache, notifier Notifier, events Publisher, logger *log.Logger) *Controller {
	if catalog == nil || store == nil {
		panic("board.New: catalog and store are required")
	}
	return &Controller{
		catalog:  catalog,
		store:    store,
		cache:    cache,
		notifier: notifier,
		events:   events,
		log:      logger,
		inFlight: make(map[string]struct{}),
	}
}

// RequestTransition moves an item onto the target column. Moving an item
// onto the column it already occupies is a no-op: no write is issued and
// no notification raised. On success the returned item carries the
// confirmed status; on failure the pre-transition item is returned so the
// caller's displayed stage settles back where it started.
func (c *Controller) RequestTransition(ctx context.Context, accountID string, item domain.Item, target domain.DisplayStage) (domain.Item, error) {
	tax, err := c.catalog.For(item.Board)
	if err != nil {
		return item, err
	}
	if !tax.Contains(target) {
		return item, fmt.Errorf("%w: %s board has no stage %q", ErrUnknownStage, item.Board, target)
	}
	if tax.ToDisplay(item.Status) == target {
		return item, nil
	}

	key := accountID + "/" + item.ID
	if !c.acquire(key) {
		return item, ErrTransitionInFlight
	}
	// The in-flight marker clears unconditionally, success or failure.
	defer c.release(key)

	status := tax.ToPersisted(target)

	var snapshot []domain.Item
	restorable := false
	if c.cache != nil {
		snapshot, restorable = c.cache.SnapshotItems(ctx, accountID, item.Board)
		c.cache.PatchItemStage(ctx, accountID, item.Board, item.ID, status)
	}

	updated, err := c.store.UpdateItemStage(ctx, accountID, item.ID, status)
	if err != nil {
		c.rollback(ctx, accountID, item.Board, snapshot, restorable)
		c.notifyFailure(ctx, accountID, item, target, err)
		return item, err
	}

	if c.events != nil {
		c.events.Publish(accountID, domain.BoardEvent{
			Type:   domain.EventItemMoved,
			Board:  item.Board,
			ItemID: item.ID,
			From:   tax.ToDisplay(item.Status),
			To:     target,
			At:     time.Now().UTC(),
		})
	}
	return updated, nil
}

func (c *Controller) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, pending := c.inFlight[key]; pending {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Controller) release(key string) {
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

func (c *Controller) rollback(ctx context.Context, accountID string, board domain.BoardType, snapshot []domain.Item, restorable bool) {
	if c.cache == nil {
		return
	}
	if restorable {
		c.cache.RestoreItems(ctx, accountID, board, snapshot)
		return
	}
	// No pre-transition snapshot to put back; drop the optimistic copy so
	// the next read refetches the last accepted state.
	c.cache.Invalidate(ctx, accountID, board)
}

func (c *Controller) notifyFailure(ctx context.Context, accountID string, item domain.Item, target domain.DisplayStage, cause error) {
	if c.log != nil {
		c.log.WithFields(log.Fields{
			"account": accountID,
			"board":   item.Board,
			"item":    item.ID,
			"target":  target,
			"error":   cause.Error(),
		}).Warn("stage transition declined")
	}
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(ctx, accountID, Notification{
		Level:   "error",
		Message: fmt.Sprintf("Could not move %q to %s. The board was left unchanged.", item.Title, target),
		Board:   item.Board,
		ItemID:  item.ID,
		At:      time.Now().UTC(),
	})
}
