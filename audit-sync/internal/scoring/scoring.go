package scoring

import (
	"context"
	"fmt"
)

// Total sums the present scores. Unanswered questions contribute nothing.
func Total(scores []*int) int {
	total := 0
	for _, s := range scores {
		if s != nil {
			total += *s
		}
	}
	return total
}

// Source is the slice of storage the aggregator reads from and writes to.
type Source interface {
	ListResponseScores(ctx context.Context, auditID int64) ([]*int, error)
	SetAuditScore(ctx context.Context, auditID int64, total int) error
}

// Recompute derives an audit's total from its current responses and stores
// it. The stored total is never edited any other way.
func Recompute(ctx context.Context, src Source, auditID int64) (int, error) {
	scores, err := src.ListResponseScores(ctx, auditID)
	if err != nil {
		return 0, fmt.Errorf("list response scores: %w", err)
	}
	total := Total(scores)
	if err := src.SetAuditScore(ctx, auditID, total); err != nil {
		return 0, fmt.Errorf("set audit score: %w", err)
	}
	return total, nil
}
