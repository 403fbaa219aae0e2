package integrity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/blob"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/logging"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

type fixture struct {
	store *store.MemoryStore
	blobs *blob.FSStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return &fixture{store: store.NewMemoryStore(), blobs: blobs}
}

func (f *fixture) put(t *testing.T, key, body string) {
	t.Helper()
	require.NoError(t, f.blobs.Put(context.Background(), key, strings.NewReader(body), "application/octet-stream"))
}

// attach inserts an attachment row for a fresh audit and response.
func (f *fixture) attach(t *testing.T, key string, size int64) models.AuditAttachment {
	t.Helper()
	ctx := context.Background()
	question := f.store.SeedQuestion("Ropes")
	elevator := f.store.SeedElevator(3)
	var att models.AuditAttachment
	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()
		audit, err := tx.InsertAudit(ctx, models.Audit{ElevatorID: elevator.ID, CreatedBy: 3, Status: models.StatusDraft,
			ObjectInfo: map[string]interface{}{}, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return err
		}
		resp, err := tx.InsertResponse(ctx, models.AuditResponse{AuditID: audit.ID, QuestionID: question, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return err
		}
		att, err = tx.InsertAttachment(ctx, models.AuditAttachment{ResponseID: resp.ID, AuditID: audit.ID,
			StorageKey: key, SizeBytes: size, UploadedAt: now})
		return err
	}))
	return att
}

func TestCleanStoreIsOK(t *testing.T) {
	f := newFixture(t)
	f.put(t, "audits/1/1/a.jpg", "abcd")
	f.attach(t, "audits/1/1/a.jpg", 4)

	report, err := NewChecker(f.store, f.blobs, logging.Discard()).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, "ok", report.Status)
	assert.Zero(t, report.Issues())
}

func TestReportsProblems(t *testing.T) {
	f := newFixture(t)
	f.put(t, "audits/1/1/a.jpg", "abcdef")
	f.put(t, "audits/9/9/orphan.jpg", "x")
	f.put(t, "signatures/1/sig.png", "s")
	mismatched := f.attach(t, "audits/1/1/a.jpg", 4)
	missing := f.attach(t, "audits/2/2/gone.jpg", 10)

	report, err := NewChecker(f.store, f.blobs, logging.Discard()).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "failed", report.Status)
	assert.Equal(t, 3, report.Issues())
	require.Len(t, report.MissingFiles, 1)
	assert.Equal(t, missing.ID, report.MissingFiles[0].ID)
	assert.Equal(t, ReasonMissingFile, report.MissingFiles[0].Reason)
	require.Len(t, report.SizeMismatches, 1)
	assert.Equal(t, SizeMismatch{ID: mismatched.ID, Key: "audits/1/1/a.jpg", StoredSize: 4, ActualSize: 6}, report.SizeMismatches[0])
	assert.Equal(t, []string{"audits/9/9/orphan.jpg"}, report.Orphans)
}

func TestFixesSizesAndDeletesOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "audits/1/1/a.jpg", "abcdef")
	f.put(t, "audits/9/9/orphan.jpg", "x")
	att := f.attach(t, "audits/1/1/a.jpg", 4)

	report, err := NewChecker(f.store, f.blobs, logging.Discard()).Run(ctx, Options{FixSizes: true, DeleteOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, "modified", report.Status)
	assert.Zero(t, report.Issues())
	require.Len(t, report.FixedSizes, 1)
	assert.Equal(t, []string{"audits/9/9/orphan.jpg"}, report.DeletedOrphans)

	rows, err := f.store.ListAttachments(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, att.ID, rows[0].ID)
	assert.Equal(t, int64(6), rows[0].SizeBytes)

	_, err = f.blobs.Stat(ctx, "audits/9/9/orphan.jpg")
	assert.ErrorIs(t, err, blob.ErrNotExist)

	again, err := NewChecker(f.store, f.blobs, logging.Discard()).Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", again.Status)
}
