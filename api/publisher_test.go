package api

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"boardflow-api/domain"
)

type captureSink struct {
	mu        sync.Mutex
	delivered []domain.BoardEventEnvelope
	blockOn   chan struct{}
	blocked   bool
}

func (s *captureSink) PublishEvent(ctx context.Context, accountID string, ev domain.BoardEvent) error {
	s.mu.Lock()
	block := s.blockOn != nil && !s.blocked
	if block {
		s.blocked = true
	}
	s.mu.Unlock()
	if block {
		<-s.blockOn
	}
	s.mu.Lock()
	s.delivered = append(s.delivered, domain.BoardEventEnvelope{AccountID: accountID, Event: ev})
	s.mu.Unlock()
	return nil
}

func (s *captureSink) snapshot() []domain.BoardEventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BoardEventEnvelope(nil), s.delivered...)
}

func TestEventPublisherDeliversToQueueAndChannel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := client.Subscribe(ctx, "board-events")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink := &captureSink{}
	pub := NewEventPublisher(sink, client, "board-events", nil)

	ev := domain.BoardEvent{
		Type:   domain.EventItemMoved,
		Board:  domain.BoardDeals,
		ItemID: "d1",
		From:   "negotiation",
		To:     "booked",
		At:     time.Now().UTC(),
	}
	pub.Publish("acct-1", ev)
	pub.Close()

	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("queue deliveries = %d, want 1", len(got))
	}
	if got[0].AccountID != "acct-1" || got[0].Event.ItemID != "d1" {
		t.Fatalf("unexpected envelope: %+v", got[0])
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive channel message: %v", err)
	}
	var env domain.BoardEventEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		t.Fatalf("decode channel payload: %v", err)
	}
	if env.AccountID != "acct-1" || env.Event.Type != domain.EventItemMoved || env.Event.To != "booked" {
		t.Fatalf("unexpected channel envelope: %+v", env)
	}
}

func TestEventPublisherInlineFallbackWhenSaturated(t *testing.T) {
	t.Setenv("EVENTS_WORKERS", "1")
	t.Setenv("EVENTS_BUFFER", "1")
	t.Setenv("EVENTS_HANDOFF_TIMEOUT", "1ms")

	release := make(chan struct{})
	sink := &captureSink{blockOn: release}
	pub := NewEventPublisher(sink, nil, "", nil)

	at := time.Now().UTC()
	first := domain.BoardEvent{Type: domain.EventItemCreated, Board: domain.BoardTasks, ItemID: "t1", At: at}
	pub.Publish("acct-1", first)
	// Wait for the single worker to pick the first event up and block, so
	// the next publish lands in the buffer.
	deadline := time.Now().Add(time.Second)
	for len(pub.jobs) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}

	pub.Publish("acct-1", domain.BoardEvent{Type: domain.EventItemCreated, Board: domain.BoardTasks, ItemID: "t2", At: at})

	// Worker busy, buffer full: the third publish must deliver inline
	// before returning.
	pub.Publish("acct-1", domain.BoardEvent{Type: domain.EventItemCreated, Board: domain.BoardTasks, ItemID: "t3", At: at})
	got := sink.snapshot()
	if len(got) != 1 || got[0].Event.ItemID != "t3" {
		t.Fatalf("inline delivery not observed, delivered: %+v", got)
	}

	close(release)
	pub.Close()
	if got := sink.snapshot(); len(got) != 3 {
		t.Fatalf("total deliveries = %d, want 3", len(got))
	}
}

func TestEventPublisherCloseIsIdempotent(t *testing.T) {
	pub := NewEventPublisher(&captureSink{}, nil, "", nil)
	pub.Close()
	pub.Close()
}
