// Package notify delivers lifecycle notifications after a transaction has
// committed. Delivery is best effort and never changes a request's outcome.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

type Kind string

const (
	AuditSubmitted        Kind = "audit_submitted"
	AuditReviewed         Kind = "audit_reviewed"
	AuditChangesRequested Kind = "audit_changes_requested"
	SyncBatchFailed       Kind = "sync_batch_failed"
)

type Audience string

const (
	Administrators Audience = "administrators"
	Author         Audience = "author"
	Operators      Audience = "operators"
)

type Event struct {
	Kind        Kind                   `json:"kind"`
	Audience    Audience               `json:"audience"`
	RecipientID *int64                 `json:"recipient_id,omitempty"`
	AuditID     int64                  `json:"audit_id,omitempty"`
	BatchID     int64                  `json:"batch_id,omitempty"`
	ActorID     int64                  `json:"actor_id"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the service log. It is the fallback when no
// broker is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.WithFields(logrus.Fields{
		"kind":         ev.Kind,
		"audience":     ev.Audience,
		"audit_id":     ev.AuditID,
		"batch_id":     ev.BatchID,
		"recipient_id": ev.RecipientID,
	}).Info("notification")
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch sends events and logs failures instead of returning them.
func Dispatch(ctx context.Context, n Notifier, logger *logrus.Logger, events ...Event) {
	for _, ev := range events {
		if err := n.Notify(ctx, ev); err != nil {
			logger.WithFields(logrus.Fields{
				"module":   "notify",
				"funcName": "Dispatch",
				"kind":     ev.Kind,
				"audit_id": ev.AuditID,
				"batch_id": ev.BatchID,
			}).Warn(err.Error())
		}
	}
}
