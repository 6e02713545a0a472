// Package notify hands SOS and safety events to out-of-band delivery.
// Delivery itself (push, SMS) happens downstream of the stream or broker.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-trailmates/internal/logger"

	"go.uber.org/zap"
)

const (
	KindSOSTriggered = "sos.triggered"
	KindSOSResolved  = "sos.resolved"
	KindSafetyAlert  = "safety.alert"
)

type Event struct {
	Kind       string    `json:"kind"`
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id"`
	Recipients []string  `json:"recipients,omitempty"`
	Payload    any       `json:"payload"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

const defaultTimeout = 5 * time.Second

// Dispatcher publishes in the background so callers never wait on a broker.
type Dispatcher struct {
	pub     Publisher
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(pub Publisher, log *zap.Logger) *Dispatcher {
	if pub == nil {
		pub = Nop{}
	}
	return &Dispatcher{pub: pub, logger: logger.OrNop(log), timeout: defaultTimeout}
}

// Dispatch is safe to call on a nil Dispatcher.
func (d *Dispatcher) Dispatch(ev Event) {
	if d == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.pub.Publish(ctx, ev); err != nil {
			d.logger.Warn("notification not published",
				zap.String("kind", ev.Kind),
				zap.String("activity_id", ev.ActivityID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
