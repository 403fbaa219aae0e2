// Package governor enforces attachment quotas before a file is persisted.
package governor

import (
	"context"
	"fmt"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
)

// Limits are independent; a zero value disables that limit.
type Limits struct {
	MaxFileBytes   int64
	MaxPerResponse int
	MaxPerAudit    int
}

// Counter reports how many attachments exist, ignoring excludeID so that an
// attachment being re-validated does not count against itself.
type Counter interface {
	CountResponseAttachments(ctx context.Context, responseID, excludeID int64) (int, error)
	CountAuditAttachments(ctx context.Context, auditID, excludeID int64) (int, error)
}

type Candidate struct {
	ID         int64
	ResponseID int64
	AuditID    int64
	SizeBytes  int64
}

type Governor struct {
	limits Limits
}

func New(limits Limits) *Governor {
	return &Governor{limits: limits}
}

func (g *Governor) Limits() Limits { return g.limits }

func (g *Governor) CheckSize(size int64) error {
	if g.limits.MaxFileBytes > 0 && size > g.limits.MaxFileBytes {
		return apperr.Invalid("file", fmt.Sprintf("file size %d exceeds the limit of %d bytes", size, g.limits.MaxFileBytes))
	}
	return nil
}

// Check evaluates all quotas for c against the current state seen by counter.
func (g *Governor) Check(ctx context.Context, counter Counter, c Candidate) error {
	verr := &apperr.ValidationError{Code: apperr.CodeValidation}
	if g.limits.MaxFileBytes > 0 && c.SizeBytes > g.limits.MaxFileBytes {
		verr.Add("file", fmt.Sprintf("file size %d exceeds the limit of %d bytes", c.SizeBytes, g.limits.MaxFileBytes))
	}
	if g.limits.MaxPerResponse > 0 {
		n, err := counter.CountResponseAttachments(ctx, c.ResponseID, c.ID)
		if err != nil {
			return fmt.Errorf("count response attachments: %w", err)
		}
		if n >= g.limits.MaxPerResponse {
			verr.Add("response_id", fmt.Sprintf("a response may have at most %d attachments", g.limits.MaxPerResponse))
		}
	}
	if g.limits.MaxPerAudit > 0 {
		n, err := counter.CountAuditAttachments(ctx, c.AuditID, c.ID)
		if err != nil {
			return fmt.Errorf("count audit attachments: %w", err)
		}
		if n >= g.limits.MaxPerAudit {
			verr.Add("audit", fmt.Sprintf("an audit may have at most %d attachments", g.limits.MaxPerAudit))
		}
	}
	return verr.OrNil()
}
