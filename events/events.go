/*
Package events is the outbound, fire-and-forget event queue.

PURPOSE:
  The settlement path must never block on, or roll back for, a
  downstream consumer (push notifications, gamification). Emit enqueues
  and returns; a background goroutine delivers to consumers and swallows
  their failures with a log line.

DELIVERY GUARANTEE:
  None, deliberately. The queue is bounded; if it is full the event is
  dropped and logged. Consumers needing durability must read the ledger
  and ride tables, which are the source of truth.
*/
package events

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/uma/settlement-engine/ledger"
)

// =============================================================================
// EVENTS
// =============================================================================

type Kind string

const (
	// KindRideCompleted fires after a successful handshake commit.
	KindRideCompleted Kind = "ride_completed"

	// KindStrike fires when the sweep expires a rider's pending ride.
	KindStrike Kind = "strike"

	// KindBanThreshold fires when a rider's strike count reaches the
	// ban threshold.
	KindBanThreshold Kind = "ban_threshold"
)

type Event struct {
	Kind        Kind
	AccountID   ledger.AccountID
	MerchantID  ledger.AccountID
	RideID      string
	Amount      ledger.Money
	StrikeCount int
	At          time.Time
}

// Consumer receives events. Errors are logged, never propagated.
type Consumer interface {
	Deliver(e Event) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(e Event) error

func (f ConsumerFunc) Deliver(e Event) error { return f(e) }

// =============================================================================
// DISPATCHER
// =============================================================================

type Dispatcher struct {
	ch        chan Event
	consumers []Consumer
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func NewDispatcher(buffer int, consumers ...Consumer) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		ch:        make(chan Event, buffer),
		consumers: consumers,
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range d.ch {
			for _, c := range d.consumers {
				if err := c.Deliver(e); err != nil {
					log.WithFields(log.Fields{
						"kind":    e.Kind,
						"account": e.AccountID,
						"ride":    e.RideID,
					}).WithError(err).Warn("event delivery failed")
				}
			}
		}
	}()
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.started = false
	close(d.ch)
	d.wg.Wait()
}

// Emit enqueues without blocking. A full queue drops the event: the
// settlement has already committed and must not wait here. Emitting
// after Stop is a no-op.
func (d *Dispatcher) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	select {
	case d.ch <- e:
	default:
		log.WithFields(log.Fields{
			"kind": e.Kind, "account": e.AccountID,
		}).Warn("event queue full, dropping event")
	}
}
