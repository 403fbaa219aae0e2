package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

const uniqueViolation = "23505"

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// queryer is the subset shared by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *PGStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// classify converts driver errors into the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

func encodeJSON(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func encodeOptionalJSON(v map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeJSON(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) GetAudit(ctx context.Context, id int64) (models.Audit, error) {
	a, err := scanAudit(s.db.QueryRowContext(ctx, selectAudit+` WHERE id=$1`, id))
	if err != nil {
		return models.Audit{}, fmt.Errorf("get audit %d: %w", id, classify(err))
	}
	return a, nil
}

func (s *PGStore) ListResponses(ctx context.Context, auditID int64) ([]models.AuditResponse, error) {
	rows, err := s.db.QueryContext(ctx, selectResponse+` WHERE audit_id=$1 ORDER BY id`, auditID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	var out []models.AuditResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) GetBatch(ctx context.Context, id int64) (models.OfflineSyncBatch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx, selectBatch+` WHERE id=$1`, id))
	if err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("get batch %d: %w", id, classify(err))
	}
	return b, nil
}

func (s *PGStore) ListAttachments(ctx context.Context) ([]models.AuditAttachment, error) {
	return listAttachments(ctx, s.db, selectAttachment+` ORDER BY id`)
}

func (s *PGStore) SetAttachmentSize(ctx context.Context, id int64, size int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE audit_attachments SET size_bytes=$1 WHERE id=$2`, size, id)
	if err != nil {
		return fmt.Errorf("set attachment size: %w", err)
	}
	return expectOne(res)
}

func (s *PGStore) ListLogEntries(ctx context.Context, f LogFilter) ([]models.AuditLogEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.EntityType != "" {
		add("entity_type=$%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id=$%d", f.EntityID)
	}
	if f.Action != "" {
		add("action=$%d", string(f.Action))
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at < $%d", *f.Until)
	}
	query := `SELECT id, actor_id, action, entity_type, entity_id, payload, created_at FROM audit_log_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()
	var out []models.AuditLogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func listAttachments(ctx context.Context, q queryer, query string, args ...interface{}) ([]models.AuditAttachment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	var out []models.AuditAttachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const (
	selectAudit = `SELECT id, elevator_id, created_by, object_info, planned_date, started_at, finished_at,
		status, total_score, created_at, updated_at FROM audits`
	selectResponse = `SELECT id, audit_id, question_id, score, comment, is_flagged, is_offline_cached,
		created_at, updated_at FROM audit_responses`
	selectAttachment = `SELECT id, response_id, audit_id, storage_key, caption, offline_uuid, size_bytes,
		uploaded_by, uploaded_at FROM audit_attachments`
	selectSignature = `SELECT id, audit_id, signed_by, signer_name, image_key, signed_at FROM audit_signatures`
	selectBatch     = `SELECT id, user_id, device_id, payload, payload_hash, status, error_details,
		response_payload, response_status, created_at, updated_at FROM offline_sync_batches`
)

func scanAudit(row rowScanner) (models.Audit, error) {
	var (
		a        models.Audit
		info     []byte
		planned  sql.NullTime
		started  sql.NullTime
		finished sql.NullTime
		status   string
	)
	if err := row.Scan(&a.ID, &a.ElevatorID, &a.CreatedBy, &info, &planned, &started, &finished,
		&status, &a.TotalScore, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Audit{}, err
	}
	decoded, err := decodeJSON(info)
	if err != nil {
		return models.Audit{}, fmt.Errorf("decode object_info: %w", err)
	}
	if decoded == nil {
		decoded = map[string]interface{}{}
	}
	a.ObjectInfo = decoded
	a.PlannedDate = nullTime(planned)
	a.StartedAt = nullTime(started)
	a.FinishedAt = nullTime(finished)
	a.Status = models.AuditStatus(status)
	return a, nil
}

func scanResponse(row rowScanner) (models.AuditResponse, error) {
	var (
		r     models.AuditResponse
		score sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.AuditID, &r.QuestionID, &score, &r.Comment, &r.IsFlagged,
		&r.IsOfflineCached, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return models.AuditResponse{}, err
	}
	if score.Valid {
		v := int(score.Int64)
		r.Score = &v
	}
	return r, nil
}

func scanAttachment(row rowScanner) (models.AuditAttachment, error) {
	var (
		a        models.AuditAttachment
		offline  uuid.NullUUID
		uploader sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.ResponseID, &a.AuditID, &a.StorageKey, &a.Caption, &offline,
		&a.SizeBytes, &uploader, &a.UploadedAt); err != nil {
		return models.AuditAttachment{}, err
	}
	if offline.Valid {
		u := offline.UUID
		a.OfflineUUID = &u
	}
	if uploader.Valid {
		v := uploader.Int64
		a.UploadedBy = &v
	}
	return a, nil
}

func scanSignature(row rowScanner) (models.AuditSignature, error) {
	var s models.AuditSignature
	if err := row.Scan(&s.ID, &s.AuditID, &s.SignedBy, &s.SignerName, &s.ImageKey, &s.SignedAt); err != nil {
		return models.AuditSignature{}, err
	}
	return s, nil
}

func scanBatch(row rowScanner) (models.OfflineSyncBatch, error) {
	var (
		b          models.OfflineSyncBatch
		payload    []byte
		errDetails []byte
		response   []byte
		status     string
		respStatus sql.NullInt64
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.DeviceID, &payload, &b.PayloadHash, &status, &errDetails,
		&response, &respStatus, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return models.OfflineSyncBatch{}, err
	}
	var err error
	if b.Payload, err = decodeJSON(payload); err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("decode payload: %w", err)
	}
	if b.ErrorDetails, err = decodeJSON(errDetails); err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("decode error_details: %w", err)
	}
	if b.ResponsePayload, err = decodeJSON(response); err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("decode response_payload: %w", err)
	}
	b.Status = models.BatchStatus(status)
	if respStatus.Valid {
		b.ResponseStatus = int(respStatus.Int64)
	}
	return b, nil
}

func scanLogEntry(row rowScanner) (models.AuditLogEntry, error) {
	var (
		e       models.AuditLogEntry
		actor   sql.NullInt64
		action  string
		payload []byte
	)
	if err := row.Scan(&e.ID, &actor, &action, &e.EntityType, &e.EntityID, &payload, &e.CreatedAt); err != nil {
		return models.AuditLogEntry{}, err
	}
	if actor.Valid {
		v := actor.Int64
		e.ActorID = &v
	}
	e.Action = models.LogAction(action)
	decoded, err := decodeJSON(payload)
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("decode payload: %w", err)
	}
	e.Payload = decoded
	return e, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
