package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier closed")
)

// Async queues events for a single background worker so a slow or failing
// notifier never holds back the request that produced them. The queue is
// bounded; events that do not fit are rejected and logged by the caller.
type Async struct {
	next    Notifier
	logger  *logrus.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewAsync(next Notifier, logger *logrus.Logger, size int, timeout time.Duration) *Async {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Async{
		next:    next,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Notify(ctx, ev)
		cancel()
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"module":   "notify",
				"funcName": "Async.run",
				"kind":     ev.Kind,
				"audit_id": ev.AuditID,
				"batch_id": ev.BatchID,
			}).Warn(err.Error())
		}
	}
}

// Notify enqueues ev without waiting for delivery.
func (a *Async) Notify(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("%s: %w", ev.Kind, ErrClosed)
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		return fmt.Errorf("%s: %w", ev.Kind, ErrQueueFull)
	}
}

// Close stops accepting events and waits for the queued ones to be delivered
// or for ctx to expire.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}
