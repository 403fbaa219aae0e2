package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

func TestMemoryTxDiscardsWritesOnError(t *testing.T) {
	st := NewMemoryStore()
	el := st.SeedElevator(1)
	boom := errors.New("abort")

	err := st.WithTx(context.Background(), func(tx Tx) error {
		if _, err := tx.InsertAudit(context.Background(), models.Audit{ElevatorID: el.ID, CreatedBy: 1, Status: models.StatusDraft}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, st.Counts()["audits"])
}

func TestMemoryResponseUniquePerQuestion(t *testing.T) {
	st := NewMemoryStore()
	el := st.SeedElevator(1)
	q := st.SeedQuestion("door gap")

	err := st.WithTx(context.Background(), func(tx Tx) error {
		a, err := tx.InsertAudit(context.Background(), models.Audit{ElevatorID: el.ID, CreatedBy: 1, Status: models.StatusDraft})
		require.NoError(t, err)
		_, err = tx.InsertResponse(context.Background(), models.AuditResponse{AuditID: a.ID, QuestionID: q})
		require.NoError(t, err)
		_, err = tx.InsertResponse(context.Background(), models.AuditResponse{AuditID: a.ID, QuestionID: q})
		return err
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryBatchFinalizedOnce(t *testing.T) {
	st := NewMemoryStore()
	var id int64
	require.NoError(t, st.WithTx(context.Background(), func(tx Tx) error {
		b, err := tx.InsertBatch(context.Background(), models.OfflineSyncBatch{UserID: 1, DeviceID: "d", Status: models.BatchPending})
		id = b.ID
		return err
	}))
	finalize := func() error {
		return st.WithTx(context.Background(), func(tx Tx) error {
			_, err := tx.FinalizeBatch(context.Background(), models.OfflineSyncBatch{ID: id, Status: models.BatchApplied, ResponseStatus: 200})
			return err
		})
	}
	require.NoError(t, finalize())
	assert.ErrorIs(t, finalize(), ErrNotFound)

	b, err := st.GetBatch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BatchApplied, b.Status)
}

func TestMemoryClientRefsAreUnique(t *testing.T) {
	st := NewMemoryStore()
	ref := ClientRef{UserID: 1, DeviceID: "tab-1", Kind: KindAudit, ClientID: "a-1"}
	err := st.WithTx(context.Background(), func(tx Tx) error {
		require.NoError(t, tx.SaveClientRef(context.Background(), ref, 10))
		id, err := tx.LookupClientRef(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, int64(10), id)

		_, err = tx.LookupClientRef(context.Background(), ClientRef{UserID: 2, DeviceID: "tab-1", Kind: KindAudit, ClientID: "a-1"})
		assert.ErrorIs(t, err, ErrNotFound)
		return tx.SaveClientRef(context.Background(), ref, 11)
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryLogFilter(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, st.WithTx(context.Background(), func(tx Tx) error {
		for _, e := range []models.AuditLogEntry{
			{Action: models.ActionAuditCreated, EntityType: models.EntityAudit, EntityID: "1"},
			{Action: models.ActionResponseCreated, EntityType: models.EntityResponse, EntityID: "1"},
			{Action: models.ActionAuditUpdated, EntityType: models.EntityAudit, EntityID: "1"},
		} {
			if _, err := tx.AppendLogEntry(context.Background(), e); err != nil {
				return err
			}
		}
		return nil
	}))
	out, err := st.ListLogEntries(context.Background(), LogFilter{EntityType: models.EntityAudit, EntityID: "1"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.ActionAuditUpdated, out[1].Action)
}
