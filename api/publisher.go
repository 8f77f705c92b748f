package api

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardflow-api/domain"
)

// EventSink delivers a board event to durable storage (the events queue).
type EventSink interface {
	PublishEvent(ctx context.Context, accountID string, ev domain.BoardEvent) error
}

// EventPublisher fans committed board mutations out to the events queue
// and to the Redis pub/sub channel live board streams listen on. Delivery
// runs on a bounded worker pool so a slow queue never stalls the request
// path; when the buffer is saturated the event is published inline after a
// short handoff wait. Delivery is best effort: a failed publish is logged
// and dropped, never retried against the caller.
type EventPublisher struct {
	sink    EventSink
	redis   *redis.Client
	channel string
	log     *log.Logger

	jobs           chan domain.BoardEventEnvelope
	wg             sync.WaitGroup
	publishTimeout time.Duration
	handoffTimeout time.Duration
	closeOnce      sync.Once
}

// NewEventPublisher starts the worker pool. Pool sizing comes from
// EVENTS_WORKERS, EVENTS_BUFFER, EVENTS_TIMEOUT and EVENTS_HANDOFF_TIMEOUT.
func NewEventPublisher(sink EventSink, rc *redis.Client, channel string, logger *log.Logger) *EventPublisher {
	p := &EventPublisher{
		sink:           sink,
		redis:          rc,
		channel:        channel,
		log:            logger,
		publishTimeout: envDur("EVENTS_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("EVENTS_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
	workers := envInt("EVENTS_WORKERS", 8)
	p.jobs = make(chan domain.BoardEventEnvelope, envInt("EVENTS_BUFFER", 1024))
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	if logger != nil {
		logger.Infof("event publisher started, workers: %d, buffer: %d", workers, cap(p.jobs))
	}
	return p
}

// Publish hands the event to the pool, falling back to inline delivery
// when the buffer is saturated.
func (p *EventPublisher) Publish(accountID string, ev domain.BoardEvent) {
	env := domain.BoardEventEnvelope{AccountID: accountID, Event: ev}

	select {
	case p.jobs <- env:
		return
	default:
	}

	if p.handoffTimeout > 0 {
		timer := time.NewTimer(p.handoffTimeout)
		defer timer.Stop()
		select {
		case p.jobs <- env:
			return
		case <-timer.C:
		}
	}

	if p.log != nil {
		p.log.Warn("event buffer saturated; publishing inline")
	}
	p.deliver(env)
}

// Close drains the pool. Publish must not be called afterwards.
func (p *EventPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

func (p *EventPublisher) worker() {
	defer p.wg.Done()
	for env := range p.jobs {
		p.deliver(env)
	}
}

func (p *EventPublisher) deliver(env domain.BoardEventEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()

	if p.sink != nil {
		if err := p.sink.PublishEvent(ctx, env.AccountID, env.Event); err != nil && p.log != nil {
			p.log.Errorf("publish event to queue failed: %v, account: %s, item: %s", err, env.AccountID, env.Event.ItemID)
		}
	}
	if p.redis != nil {
		data, err := json.Marshal(env)
		if err != nil {
			return
		}
		if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil && p.log != nil {
			p.log.Errorf("publish event to channel failed: %v, account: %s", err, env.AccountID)
		}
	}
}

func envInt(name string, def int) int {
	if raw := os.Getenv(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(name string, def time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return def
}
