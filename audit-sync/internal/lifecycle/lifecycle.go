// Package lifecycle holds the audit status rules: which transitions are
// legal and how the phase timestamps follow the status.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

var next = map[models.AuditStatus]models.AuditStatus{
	models.StatusDraft:      models.StatusInProgress,
	models.StatusInProgress: models.StatusSubmitted,
	models.StatusSubmitted:  models.StatusReviewed,
}

var rank = map[models.AuditStatus]int{
	models.StatusDraft:      0,
	models.StatusInProgress: 1,
	models.StatusSubmitted:  2,
	models.StatusReviewed:   3,
}

// CanTransition allows staying in place or taking exactly one step forward.
func CanTransition(from, to models.AuditStatus) bool {
	if from == to {
		return true
	}
	return next[from] == to
}

func ValidateTransition(from, to models.AuditStatus) error {
	if !to.Valid() {
		return apperr.Invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	if !CanTransition(from, to) {
		return apperr.Invalid("status", fmt.Sprintf("cannot change status from %s to %s", from, to))
	}
	return nil
}

// ValidateInitial checks the status a new audit may be created with. Field
// clients can finish an audit offline, so anything up to submitted is
// accepted; review is reserved for existing audits.
func ValidateInitial(status models.AuditStatus) error {
	if !status.Valid() {
		return apperr.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	if status == models.StatusReviewed {
		return apperr.Invalid("status", "a new audit cannot be created as reviewed")
	}
	return nil
}

func RequiresStart(s models.AuditStatus) bool { return rank[s] >= rank[models.StatusInProgress] }

func RequiresFinish(s models.AuditStatus) bool { return rank[s] >= rank[models.StatusSubmitted] }

type Timestamps struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Stamp settles the phase timestamps for an audit moving to status. Fields
// left empty by the caller fall back to the recorded ones, so replays never
// shift history and a step back keeps the recorded finish time. A required
// timestamp that is still empty is stamped with now.
func Stamp(status models.AuditStatus, incoming, recorded Timestamps, now time.Time) (Timestamps, error) {
	out := incoming
	if out.StartedAt == nil {
		out.StartedAt = recorded.StartedAt
	}
	if out.FinishedAt == nil {
		out.FinishedAt = recorded.FinishedAt
	}
	if RequiresStart(status) && out.StartedAt == nil {
		t := now
		out.StartedAt = &t
	}
	if RequiresFinish(status) && out.FinishedAt == nil {
		t := now
		out.FinishedAt = &t
	}
	if out.StartedAt != nil && out.FinishedAt != nil && out.FinishedAt.Before(*out.StartedAt) {
		return Timestamps{}, apperr.Invalid("finished_at", "finish time cannot precede start time")
	}
	return out, nil
}
