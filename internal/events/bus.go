// Package events provides the fund engine's outbox event bus. Publishing
// is decoupled from ledger mutation: events are queued and dispatched on a
// separate goroutine, so a slow or failing subscriber can never corrupt
// pool state or block an actor.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventPoolCreated         EventType = "POOL_CREATED"
	EventStakeCreated        EventType = "STAKE_CREATED"
	EventStakePaused         EventType = "STAKE_PAUSED"
	EventStakeResumed        EventType = "STAKE_RESUMED"
	EventSharesIssued        EventType = "SHARES_ISSUED"
	EventDecisionLogged      EventType = "DECISION_LOGGED"
	EventTradeExecuted       EventType = "TRADE_EXECUTED"
	EventTradeRejected       EventType = "TRADE_REJECTED"
	EventTradeUnexecuted     EventType = "TRADE_UNEXECUTED"
	EventTradeSettled        EventType = "TRADE_SETTLED"
	EventPnlDistributed      EventType = "PNL_DISTRIBUTED"
	EventNavMarked           EventType = "NAV_MARKED"
	EventGateTripped         EventType = "GATE_TRIPPED"
	EventRedemptionRequested EventType = "REDEMPTION_REQUESTED"
	EventRedemptionCompleted EventType = "REDEMPTION_COMPLETED"
	EventDailySettled        EventType = "DAILY_SETTLED"
	EventError               EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	PoolID    string                 `json:"pool_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

const outboxSize = 1024

// Bus manages event publishing and subscriptions through an outbox queue
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber

	outbox chan Event
	quit   chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

// NewBus creates an event bus and starts its dispatcher
func NewBus(logger zerolog.Logger) *Bus {
	b := &Bus{
		subscribers: make(map[EventType][]Subscriber),
		outbox:      make(chan Event, outboxSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.With().Str("component", "event_bus").Logger(),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish queues an event for dispatch. Never blocks the caller: when the
// outbox is full the event is dropped and counted, which is preferable to
// stalling a pool actor.
func (b *Bus) Publish(eventType EventType, poolID string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		PoolID:    poolID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	select {
	case b.outbox <- event:
	default:
		b.logger.Warn().Str("type", string(eventType)).Msg("outbox full, event dropped")
	}
}

// Close stops the dispatcher after draining queued events
func (b *Bus) Close() {
	close(b.quit)
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		select {
		case event := <-b.outbox:
			b.deliver(event)
		case <-b.quit:
			for {
				select {
				case event := <-b.outbox:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().Str("type", string(event.Type)).Interface("panic", r).
						Msg("subscriber panicked")
				}
			}()
			sub(event)
		}()
	}
}
