package board

import (
	"context"
	"errors"
	"sync"
	"testing"

	"boardflow-api/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	calls   int
	pending chan struct{} // when set, UpdateItemStage blocks until released
	release chan struct{}
	err     error
	updated domain.Item
}

func (f *fakeStore) UpdateItemStage(ctx context.Context, accountID, itemID string, status domain.PersistedStatus) (domain.Item, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.pending != nil {
		f.pending <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return domain.Item{}, f.err
	}
	updated := f.updated
	if updated.ID == "" {
		updated = domain.Item{ID: itemID, Status: status}
	}
	return updated, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu        sync.Mutex
	items     []domain.Item
	hasItems  bool
	patches   []domain.PersistedStatus
	restored  [][]domain.Item
	evictions int
}

func (f *fakeCache) SnapshotItems(ctx context.Context, accountID string, board domain.BoardType) ([]domain.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasItems {
		return nil, false
	}
	out := make([]domain.Item, len(f.items))
	copy(out, f.items)
	return out, true
}

func (f *fakeCache) PatchItemStage(ctx context.Context, accountID string, board domain.BoardType, itemID string, status domain.PersistedStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, status)
	for i := range f.items {
		if f.items[i].ID == itemID {
			f.items[i].Status = status
		}
	}
}

func (f *fakeCache) RestoreItems(ctx context.Context, accountID string, board domain.BoardType, items []domain.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, items)
	f.items = items
}

func (f *fakeCache) Invalidate(ctx context.Context, accountID string, board domain.BoardType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictions++
	f.items, f.hasItems = nil, false
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, accountID string, n Notification) {
	f.mu.Lock()
	f.notes = append(f.notes, n)
	f.mu.Unlock()
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.BoardEvent
}

func (f *fakePublisher) Publish(accountID string, ev domain.BoardEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func dealItem(status domain.PersistedStatus) domain.Item {
	return domain.Item{ID: "d1", Board: domain.BoardDeals, Title: "Spring campaign", Status: status}
}

func TestRequestTransitionSameStageIsNoOp(t *testing.T) {
	store := &fakeStore{}
	notes := &fakeNotifier{}
	pub := &fakePublisher{}
	ctrl := New(domain.DefaultCatalog(), store, nil, notes, pub, nil)

	// "negotiating" renders under negotiation; moving it there changes nothing.
	item := dealItem("negotiating")
	got, err := ctrl.RequestTransition(context.Background(), "acct-1", item, "negotiation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != item.Status {
		t.Fatalf("item changed on no-op: %v", got.Status)
	}
	if store.callCount() != 0 {
		t.Fatalf("mutation issued on no-op: %d calls", store.callCount())
	}
	if len(notes.notes) != 0 || len(pub.events) != 0 {
		t.Fatalf("no-op raised notifications (%d) or events (%d)", len(notes.notes), len(pub.events))
	}
}

func TestRequestTransitionSuccess(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{items: []domain.Item{dealItem("negotiating")}, hasItems: true}
	pub := &fakePublisher{}
	ctrl := New(domain.DefaultCatalog(), store, cache, &fakeNotifier{}, pub, nil)

	got, err := ctrl.RequestTransition(context.Background(), "acct-1", dealItem("negotiating"), "booked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "won" {
		t.Fatalf("confirmed status = %q, want canonical write-back %q", got.Status, "won")
	}
	if store.callCount() != 1 {
		t.Fatalf("mutation calls = %d, want exactly 1", store.callCount())
	}
	if len(cache.patches) != 1 || cache.patches[0] != "won" {
		t.Fatalf("optimistic patch = %v, want one patch to won", cache.patches)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events published = %d, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != domain.EventItemMoved || ev.From != "negotiation" || ev.To != "booked" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRequestTransitionFailureRollsBack(t *testing.T) {
	declined := errors.New("precondition failed")
	store := &fakeStore{err: declined}
	before := []domain.Item{dealItem("negotiating")}
	cache := &fakeCache{items: append([]domain.Item(nil), before...), hasItems: true}
	notes := &fakeNotifier{}
	pub := &fakePublisher{}
	ctrl := New(domain.DefaultCatalog(), store, cache, notes, pub, nil)

	item := dealItem("negotiating")
	got, err := ctrl.RequestTransition(context.Background(), "acct-1", item, "booked")
	if !errors.Is(err, declined) {
		t.Fatalf("error = %v, want %v", err, declined)
	}
	// Displayed stage settles back to its pre-transition value.
	if got.Status != item.Status {
		t.Fatalf("settled status = %q, want %q", got.Status, item.Status)
	}
	if len(cache.restored) != 1 {
		t.Fatalf("snapshot restores = %d, want 1", len(cache.restored))
	}
	if cache.items[0].Status != "negotiating" {
		t.Fatalf("cached status after rollback = %q, want negotiating", cache.items[0].Status)
	}
	if len(notes.notes) != 1 {
		t.Fatalf("failure notifications = %d, want exactly 1", len(notes.notes))
	}
	if notes.notes[0].Level != "error" || notes.notes[0].ItemID != "d1" {
		t.Fatalf("unexpected notification: %+v", notes.notes[0])
	}
	if len(pub.events) != 0 {
		t.Fatalf("events published on failure: %d", len(pub.events))
	}
}

func TestRequestTransitionFailureWithoutSnapshotInvalidates(t *testing.T) {
	store := &fakeStore{err: errors.New("boom")}
	cache := &fakeCache{hasItems: false}
	ctrl := New(domain.DefaultCatalog(), store, cache, &fakeNotifier{}, nil, nil)

	if _, err := ctrl.RequestTransition(context.Background(), "acct-1", dealItem("new"), "booked"); err == nil {
		t.Fatal("expected error")
	}
	if cache.evictions != 1 {
		t.Fatalf("evictions = %d, want 1", cache.evictions)
	}
}

func TestRequestTransitionRejectsConcurrentMove(t *testing.T) {
	store := &fakeStore{pending: make(chan struct{}), release: make(chan struct{})}
	ctrl := New(domain.DefaultCatalog(), store, nil, nil, nil, nil)

	item := dealItem("new")
	done := make(chan error, 1)
	go func() {
		_, err := ctrl.RequestTransition(context.Background(), "acct-1", item, "booked")
		done <- err
	}()
	<-store.pending // first move is now in flight

	if _, err := ctrl.RequestTransition(context.Background(), "acct-1", item, "completed"); !errors.Is(err, ErrTransitionInFlight) {
		t.Fatalf("second move error = %v, want ErrTransitionInFlight", err)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first move failed: %v", err)
	}

	// Marker cleared after settling: a new move is accepted again.
	store.pending, store.release = nil, nil
	moved := item
	moved.Status = "won"
	if _, err := ctrl.RequestTransition(context.Background(), "acct-1", moved, "completed"); err != nil {
		t.Fatalf("move after settle failed: %v", err)
	}
}

func TestRequestTransitionUnknownStage(t *testing.T) {
	store := &fakeStore{}
	ctrl := New(domain.DefaultCatalog(), store, nil, nil, nil, nil)

	if _, err := ctrl.RequestTransition(context.Background(), "acct-1", dealItem("new"), "parked"); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("error = %v, want ErrUnknownStage", err)
	}
	if store.callCount() != 0 {
		t.Fatal("mutation issued for unknown stage")
	}
}
