// Package integrity reconciles attachment rows with the objects held in the
// blob store.
package integrity

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/blob"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/logging"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

const (
	ReasonEmptyKey    = "empty-key"
	ReasonMissingFile = "missing-file"
	ReasonStorage     = "storage-error"
)

type Options struct {
	FixSizes      bool
	DeleteOrphans bool
}

type Missing struct {
	ID      int64  `json:"id"`
	Reason  string `json:"reason"`
	Key     string `json:"path,omitempty"`
	Details string `json:"details,omitempty"`
}

type SizeMismatch struct {
	ID         int64  `json:"id"`
	Key        string `json:"path"`
	StoredSize int64  `json:"stored_size"`
	ActualSize int64  `json:"actual_size"`
}

type Report struct {
	Checked        int            `json:"checked"`
	MissingFiles   []Missing      `json:"missing_files"`
	SizeMismatches []SizeMismatch `json:"size_mismatches"`
	Orphans        []string       `json:"orphans"`
	FixedSizes     []SizeMismatch `json:"fixed_sizes"`
	DeletedOrphans []string       `json:"deleted_orphans"`
	Status         string         `json:"status"`
}

// Issues counts the problems that were found and not repaired.
func (r Report) Issues() int {
	return len(r.MissingFiles) + len(r.SizeMismatches) + len(r.Orphans)
}

func (r Report) status() string {
	switch {
	case r.Issues() > 0:
		return "failed"
	case len(r.FixedSizes) > 0 || len(r.DeletedOrphans) > 0:
		return "modified"
	default:
		return "ok"
	}
}

type Checker struct {
	store  store.Store
	blobs  blob.Store
	logger *logrus.Logger
}

func NewChecker(st store.Store, blobs blob.Store, logger *logrus.Logger) *Checker {
	return &Checker{store: st, blobs: blobs, logger: logger}
}

// Run walks every attachment row, then every object under the attachment
// prefix. Objects no row references are orphans. Signature images live
// under a different prefix and are never considered.
func (c *Checker) Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{
		MissingFiles:   []Missing{},
		SizeMismatches: []SizeMismatch{},
		Orphans:        []string{},
		FixedSizes:     []SizeMismatch{},
		DeletedOrphans: []string{},
	}

	attachments, err := c.store.ListAttachments(ctx)
	if err != nil {
		return report, fmt.Errorf("list attachments: %w", err)
	}

	referenced := make(map[string]struct{}, len(attachments))
	for _, att := range attachments {
		report.Checked++
		if att.StorageKey == "" {
			report.MissingFiles = append(report.MissingFiles, Missing{ID: att.ID, Reason: ReasonEmptyKey})
			continue
		}
		referenced[att.StorageKey] = struct{}{}

		size, err := c.blobs.Stat(ctx, att.StorageKey)
		if errors.Is(err, blob.ErrNotExist) {
			report.MissingFiles = append(report.MissingFiles, Missing{ID: att.ID, Reason: ReasonMissingFile, Key: att.StorageKey})
			continue
		}
		if err != nil {
			report.MissingFiles = append(report.MissingFiles, Missing{ID: att.ID, Reason: ReasonStorage, Key: att.StorageKey, Details: err.Error()})
			continue
		}
		if size == att.SizeBytes {
			continue
		}

		mismatch := SizeMismatch{ID: att.ID, Key: att.StorageKey, StoredSize: att.SizeBytes, ActualSize: size}
		if !opts.FixSizes {
			report.SizeMismatches = append(report.SizeMismatches, mismatch)
			continue
		}
		if err := c.store.SetAttachmentSize(ctx, att.ID, size); err != nil {
			return report, fmt.Errorf("fix size of attachment %d: %w", att.ID, err)
		}
		report.FixedSizes = append(report.FixedSizes, mismatch)
	}

	objects, err := c.blobs.List(ctx, blob.AttachmentPrefix)
	if err != nil {
		return report, fmt.Errorf("list blobs: %w", err)
	}
	for _, obj := range objects {
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if !opts.DeleteOrphans {
			report.Orphans = append(report.Orphans, obj.Key)
			continue
		}
		if err := c.blobs.Delete(ctx, obj.Key); err != nil && !errors.Is(err, blob.ErrNotExist) {
			logging.LogError(c.logger, "integrity", "Run", "delete orphan", map[string]interface{}{"key": obj.Key}, err)
			report.Orphans = append(report.Orphans, obj.Key)
			continue
		}
		report.DeletedOrphans = append(report.DeletedOrphans, obj.Key)
	}

	report.Status = report.status()
	return report, nil
}
