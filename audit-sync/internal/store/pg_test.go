package store

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

var auditCols = []string{"id", "elevator_id", "created_by", "object_info", "planned_date", "started_at",
	"finished_at", "status", "total_score", "created_at", "updated_at"}

var attachmentCols = []string{"id", "response_id", "audit_id", "storage_key", "caption", "offline_uuid",
	"size_bytes", "uploaded_by", "uploaded_at"}

func newMock(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, elevator_id .* FROM audits WHERE id=\$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow(7, 3, 42, []byte(`{"floors":9}`), nil, now, nil, "in_progress", 5, now, now))
	mock.ExpectCommit()

	var got models.Audit
	err := st.WithTx(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.GetAuditForUpdate(context.Background(), 7)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, 9.0, got.ObjectInfo["floors"])
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("validation failed")
	err := st.WithTx(context.Background(), func(tx Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingAuditIsNotFound(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(`FROM audits WHERE id=\$1`).WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(auditCols))

	_, err := st.GetAudit(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUniqueViolationBecomesConflict(t *testing.T) {
	st, mock := newMock(t)
	u := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audit_attachments`).
		WithArgs(int64(1), int64(2), "audits/2/1/x.jpg", "", &u, int64(10), nil).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "audit_attachments_offline_uuid_key"})
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.InsertAttachment(context.Background(), models.AuditAttachment{
			ResponseID: 1, AuditID: 2, StorageKey: "audits/2/1/x.jpg", OfflineUUID: &u, SizeBytes: 10,
		})
		return err
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "audit_attachments_offline_uuid_key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListResponseScoresKeepsNulls(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT score FROM audit_responses WHERE audit_id=\$1`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"score"}).AddRow(5).AddRow(nil).AddRow(2))
	mock.ExpectExec(`UPDATE audits SET total_score=\$1 WHERE id=\$2`).
		WithArgs(7, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		scores, err := tx.ListResponseScores(context.Background(), 4)
		if err != nil {
			return err
		}
		require.Len(t, scores, 3)
		assert.Nil(t, scores[1])
		return tx.SetAuditScore(context.Background(), 4, *scores[0]+*scores[2])
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountExcludesCandidate(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_attachments WHERE audit_id=\$1 AND id<>\$2`).
		WithArgs(int64(8), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		n, err := tx.CountAuditAttachments(context.Background(), 8, 3)
		assert.Equal(t, 2, n)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeBatchOnlyFromPending(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE offline_sync_batches .* WHERE id=\$5 AND status='pending'`).
		WithArgs("applied", nil, sqlmock.AnyArg(), 200, int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "device_id", "payload", "payload_hash", "status",
			"error_details", "response_payload", "response_status", "created_at", "updated_at"}))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.FinalizeBatch(context.Background(), models.OfflineSyncBatch{
			ID: 12, Status: models.BatchApplied, ResponseStatus: 200,
			ResponsePayload: map[string]interface{}{"status": "ok"},
		})
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLogEntry(t *testing.T) {
	st, mock := newMock(t)
	actor := int64(42)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audit_log_entries`).
		WithArgs(&actor, "audit_created", "audit", "9", []byte(`{"status":"draft"}`), at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Tx) error {
		e, err := tx.AppendLogEntry(context.Background(), models.AuditLogEntry{
			ActorID: &actor, Action: models.ActionAuditCreated, EntityType: "audit", EntityID: "9",
			Payload: map[string]interface{}{"status": "draft"}, CreatedAt: at,
		})
		assert.Equal(t, int64(77), e.ID)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListLogEntriesBuildsFilter(t *testing.T) {
	st, mock := newMock(t)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM audit_log_entries WHERE entity_type=\$1 AND action=\$2 AND created_at >= \$3 ORDER BY created_at, id LIMIT \$4`).
		WithArgs("audit", "audit_reviewed", since, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor_id", "action", "entity_type", "entity_id", "payload", "created_at"}).
			AddRow(1, nil, "audit_reviewed", "audit", "9", []byte(`{"status":"reviewed"}`), since))

	entries, err := st.ListLogEntries(context.Background(), LogFilter{
		EntityType: "audit", Action: models.ActionAuditReviewed, Since: &since,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ActorID)
	assert.Equal(t, "reviewed", entries[0].Payload["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAttachmentsScansNullables(t *testing.T) {
	st, mock := newMock(t)
	u := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM audit_attachments ORDER BY id`).
		WillReturnRows(sqlmock.NewRows(attachmentCols).
			AddRow(1, 2, 3, "audits/3/2/a.jpg", "", u.String(), 100, nil, now).
			AddRow(2, 2, 3, "audits/3/2/b.jpg", "door", nil, 50, 42, now))

	out, err := st.ListAttachments(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].OfflineUUID)
	assert.Equal(t, u, *out[0].OfflineUUID)
	assert.Nil(t, out[0].UploadedBy)
	assert.Nil(t, out[1].OfflineUUID)
	require.NotNil(t, out[1].UploadedBy)
	assert.Equal(t, int64(42), *out[1].UploadedBy)
}
