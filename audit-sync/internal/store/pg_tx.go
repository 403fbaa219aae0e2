package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

type pgTx struct {
	q queryer
}

func (t *pgTx) CreateBuilding(ctx context.Context, b models.Building) (models.Building, error) {
	const query = `
		INSERT INTO buildings (address, entrance, notes, review_status, created_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`
	if err := t.q.QueryRowContext(ctx, query, b.Address, b.Entrance, b.Notes, string(b.ReviewStatus), b.CreatedBy).
		Scan(&b.ID, &b.CreatedAt); err != nil {
		return models.Building{}, fmt.Errorf("insert building: %w", classify(err))
	}
	return b, nil
}

func (t *pgTx) CreateElevator(ctx context.Context, e models.Elevator) (models.Elevator, error) {
	const query = `
		INSERT INTO elevators (building_id, identifier, description, status, review_status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at
	`
	if err := t.q.QueryRowContext(ctx, query, e.BuildingID, e.Identifier, e.Description, string(e.Status),
		string(e.ReviewStatus), e.CreatedBy).Scan(&e.ID, &e.CreatedAt); err != nil {
		return models.Elevator{}, fmt.Errorf("insert elevator: %w", classify(err))
	}
	return e, nil
}

func (t *pgTx) exists(ctx context.Context, table string, id int64) (bool, error) {
	var ok bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id=$1)`, table)
	if err := t.q.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return ok, nil
}

func (t *pgTx) BuildingExists(ctx context.Context, id int64) (bool, error) {
	return t.exists(ctx, "buildings", id)
}

func (t *pgTx) ElevatorExists(ctx context.Context, id int64) (bool, error) {
	return t.exists(ctx, "elevators", id)
}

func (t *pgTx) QuestionExists(ctx context.Context, id int64) (bool, error) {
	return t.exists(ctx, "checklist_questions", id)
}

func (t *pgTx) LookupClientRef(ctx context.Context, ref ClientRef) (int64, error) {
	const query = `
		SELECT server_id FROM sync_client_refs
		WHERE user_id=$1 AND device_id=$2 AND kind=$3 AND client_id=$4
	`
	var id int64
	if err := t.q.QueryRowContext(ctx, query, ref.UserID, ref.DeviceID, ref.Kind, ref.ClientID).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup client ref: %w", classify(err))
	}
	return id, nil
}

func (t *pgTx) SaveClientRef(ctx context.Context, ref ClientRef, serverID int64) error {
	const query = `
		INSERT INTO sync_client_refs (user_id, device_id, kind, client_id, server_id)
		VALUES ($1,$2,$3,$4,$5)
	`
	if _, err := t.q.ExecContext(ctx, query, ref.UserID, ref.DeviceID, ref.Kind, ref.ClientID, serverID); err != nil {
		return fmt.Errorf("save client ref: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetAuditForUpdate(ctx context.Context, id int64) (models.Audit, error) {
	a, err := scanAudit(t.q.QueryRowContext(ctx, selectAudit+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return models.Audit{}, fmt.Errorf("lock audit %d: %w", id, classify(err))
	}
	return a, nil
}

func (t *pgTx) AuditStatus(ctx context.Context, id int64) (models.AuditStatus, error) {
	var status string
	if err := t.q.QueryRowContext(ctx, `SELECT status FROM audits WHERE id=$1`, id).Scan(&status); err != nil {
		return "", fmt.Errorf("read audit status: %w", classify(err))
	}
	return models.AuditStatus(status), nil
}

func (t *pgTx) InsertAudit(ctx context.Context, a models.Audit) (models.Audit, error) {
	info, err := encodeJSON(a.ObjectInfo)
	if err != nil {
		return models.Audit{}, fmt.Errorf("encode object_info: %w", err)
	}
	const query = `
		INSERT INTO audits (elevator_id, created_by, object_info, planned_date, started_at, finished_at, status, total_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, elevator_id, created_by, object_info, planned_date, started_at, finished_at,
			status, total_score, created_at, updated_at
	`
	out, err := scanAudit(t.q.QueryRowContext(ctx, query, a.ElevatorID, a.CreatedBy, info, a.PlannedDate,
		a.StartedAt, a.FinishedAt, string(a.Status), a.TotalScore))
	if err != nil {
		return models.Audit{}, fmt.Errorf("insert audit: %w", classify(err))
	}
	return out, nil
}

func (t *pgTx) UpdateAudit(ctx context.Context, a models.Audit) (models.Audit, error) {
	info, err := encodeJSON(a.ObjectInfo)
	if err != nil {
		return models.Audit{}, fmt.Errorf("encode object_info: %w", err)
	}
	const query = `
		UPDATE audits SET elevator_id=$1, object_info=$2, planned_date=$3, started_at=$4, finished_at=$5,
			status=$6, updated_at=$7
		WHERE id=$8
		RETURNING id, elevator_id, created_by, object_info, planned_date, started_at, finished_at,
			status, total_score, created_at, updated_at
	`
	out, err := scanAudit(t.q.QueryRowContext(ctx, query, a.ElevatorID, info, a.PlannedDate, a.StartedAt,
		a.FinishedAt, string(a.Status), a.UpdatedAt, a.ID))
	if err != nil {
		return models.Audit{}, fmt.Errorf("update audit %d: %w", a.ID, classify(err))
	}
	return out, nil
}

func (t *pgTx) ListResponseScores(ctx context.Context, auditID int64) ([]*int, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT score FROM audit_responses WHERE audit_id=$1`, auditID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()
	var out []*int
	for rows.Next() {
		var score sql.NullInt64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if !score.Valid {
			out = append(out, nil)
			continue
		}
		v := int(score.Int64)
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (t *pgTx) SetAuditScore(ctx context.Context, auditID int64, total int) error {
	res, err := t.q.ExecContext(ctx, `UPDATE audits SET total_score=$1 WHERE id=$2`, total, auditID)
	if err != nil {
		return fmt.Errorf("set audit score: %w", err)
	}
	return expectOne(res)
}

func (t *pgTx) GetResponse(ctx context.Context, id int64) (models.AuditResponse, error) {
	r, err := scanResponse(t.q.QueryRowContext(ctx, selectResponse+` WHERE id=$1`, id))
	if err != nil {
		return models.AuditResponse{}, fmt.Errorf("get response %d: %w", id, classify(err))
	}
	return r, nil
}

func (t *pgTx) GetResponseForUpdate(ctx context.Context, id int64) (models.AuditResponse, error) {
	r, err := scanResponse(t.q.QueryRowContext(ctx, selectResponse+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return models.AuditResponse{}, fmt.Errorf("lock response %d: %w", id, classify(err))
	}
	return r, nil
}

func (t *pgTx) FindResponseForUpdate(ctx context.Context, auditID, questionID int64) (models.AuditResponse, error) {
	r, err := scanResponse(t.q.QueryRowContext(ctx, selectResponse+` WHERE audit_id=$1 AND question_id=$2 FOR UPDATE`, auditID, questionID))
	if err != nil {
		return models.AuditResponse{}, fmt.Errorf("find response: %w", classify(err))
	}
	return r, nil
}

func (t *pgTx) InsertResponse(ctx context.Context, r models.AuditResponse) (models.AuditResponse, error) {
	const query = `
		INSERT INTO audit_responses (audit_id, question_id, score, comment, is_flagged, is_offline_cached)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, audit_id, question_id, score, comment, is_flagged, is_offline_cached, created_at, updated_at
	`
	out, err := scanResponse(t.q.QueryRowContext(ctx, query, r.AuditID, r.QuestionID, r.Score, r.Comment,
		r.IsFlagged, r.IsOfflineCached))
	if err != nil {
		return models.AuditResponse{}, fmt.Errorf("insert response: %w", classify(err))
	}
	return out, nil
}

func (t *pgTx) UpdateResponse(ctx context.Context, r models.AuditResponse) (models.AuditResponse, error) {
	const query = `
		UPDATE audit_responses SET audit_id=$1, question_id=$2, score=$3, comment=$4, is_flagged=$5,
			is_offline_cached=$6, updated_at=now()
		WHERE id=$7
		RETURNING id, audit_id, question_id, score, comment, is_flagged, is_offline_cached, created_at, updated_at
	`
	out, err := scanResponse(t.q.QueryRowContext(ctx, query, r.AuditID, r.QuestionID, r.Score, r.Comment,
		r.IsFlagged, r.IsOfflineCached, r.ID))
	if err != nil {
		return models.AuditResponse{}, fmt.Errorf("update response %d: %w", r.ID, classify(err))
	}
	return out, nil
}

func (t *pgTx) DeleteResponse(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM audit_responses WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete response %d: %w", id, classify(err))
	}
	return expectOne(res)
}

func (t *pgTx) GetAttachment(ctx context.Context, id int64) (models.AuditAttachment, error) {
	a, err := scanAttachment(t.q.QueryRowContext(ctx, selectAttachment+` WHERE id=$1`, id))
	if err != nil {
		return models.AuditAttachment{}, fmt.Errorf("get attachment %d: %w", id, classify(err))
	}
	return a, nil
}

func (t *pgTx) GetAttachmentForUpdate(ctx context.Context, id int64) (models.AuditAttachment, error) {
	a, err := scanAttachment(t.q.QueryRowContext(ctx, selectAttachment+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return models.AuditAttachment{}, fmt.Errorf("lock attachment %d: %w", id, classify(err))
	}
	return a, nil
}

func (t *pgTx) FindAttachmentByUUID(ctx context.Context, offlineUUID uuid.UUID) (models.AuditAttachment, error) {
	a, err := scanAttachment(t.q.QueryRowContext(ctx, selectAttachment+` WHERE offline_uuid=$1`, offlineUUID))
	if err != nil {
		return models.AuditAttachment{}, fmt.Errorf("find attachment by uuid: %w", classify(err))
	}
	return a, nil
}

func (t *pgTx) ListResponseAttachments(ctx context.Context, responseID int64) ([]models.AuditAttachment, error) {
	return listAttachments(ctx, t.q, selectAttachment+` WHERE response_id=$1 ORDER BY id`, responseID)
}

func (t *pgTx) count(ctx context.Context, column string, id, excludeID int64) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM audit_attachments WHERE %s=$1 AND id<>$2`, column)
	if err := t.q.QueryRowContext(ctx, query, id, excludeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attachments by %s: %w", column, err)
	}
	return n, nil
}

func (t *pgTx) CountResponseAttachments(ctx context.Context, responseID, excludeID int64) (int, error) {
	return t.count(ctx, "response_id", responseID, excludeID)
}

func (t *pgTx) CountAuditAttachments(ctx context.Context, auditID, excludeID int64) (int, error) {
	return t.count(ctx, "audit_id", auditID, excludeID)
}

func (t *pgTx) InsertAttachment(ctx context.Context, a models.AuditAttachment) (models.AuditAttachment, error) {
	const query = `
		INSERT INTO audit_attachments (response_id, audit_id, storage_key, caption, offline_uuid, size_bytes, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, response_id, audit_id, storage_key, caption, offline_uuid, size_bytes, uploaded_by, uploaded_at
	`
	out, err := scanAttachment(t.q.QueryRowContext(ctx, query, a.ResponseID, a.AuditID, a.StorageKey, a.Caption,
		a.OfflineUUID, a.SizeBytes, a.UploadedBy))
	if err != nil {
		return models.AuditAttachment{}, fmt.Errorf("insert attachment: %w", classify(err))
	}
	return out, nil
}

func (t *pgTx) UpdateAttachment(ctx context.Context, a models.AuditAttachment) (models.AuditAttachment, error) {
	const query = `
		UPDATE audit_attachments SET caption=$1, size_bytes=$2 WHERE id=$3
		RETURNING id, response_id, audit_id, storage_key, caption, offline_uuid, size_bytes, uploaded_by, uploaded_at
	`
	out, err := scanAttachment(t.q.QueryRowContext(ctx, query, a.Caption, a.SizeBytes, a.ID))
	if err != nil {
		return models.AuditAttachment{}, fmt.Errorf("update attachment %d: %w", a.ID, classify(err))
	}
	return out, nil
}

func (t *pgTx) DeleteAttachment(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM audit_attachments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment %d: %w", id, err)
	}
	return expectOne(res)
}

func (t *pgTx) GetSignatureForUpdate(ctx context.Context, auditID int64) (models.AuditSignature, error) {
	s, err := scanSignature(t.q.QueryRowContext(ctx, selectSignature+` WHERE audit_id=$1 FOR UPDATE`, auditID))
	if err != nil {
		return models.AuditSignature{}, fmt.Errorf("lock signature: %w", classify(err))
	}
	return s, nil
}

func (t *pgTx) InsertSignature(ctx context.Context, s models.AuditSignature) (models.AuditSignature, error) {
	const query = `
		INSERT INTO audit_signatures (audit_id, signed_by, signer_name, image_key, signed_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, audit_id, signed_by, signer_name, image_key, signed_at
	`
	out, err := scanSignature(t.q.QueryRowContext(ctx, query, s.AuditID, s.SignedBy, s.SignerName, s.ImageKey, s.SignedAt))
	if err != nil {
		return models.AuditSignature{}, fmt.Errorf("insert signature: %w", classify(err))
	}
	return out, nil
}

func (t *pgTx) UpdateSignature(ctx context.Context, s models.AuditSignature) (models.AuditSignature, error) {
	const query = `
		UPDATE audit_signatures SET signed_by=$1, signer_name=$2, image_key=$3, signed_at=$4 WHERE id=$5
		RETURNING id, audit_id, signed_by, signer_name, image_key, signed_at
	`
	out, err := scanSignature(t.q.QueryRowContext(ctx, query, s.SignedBy, s.SignerName, s.ImageKey, s.SignedAt, s.ID))
	if err != nil {
		return models.AuditSignature{}, fmt.Errorf("update signature %d: %w", s.ID, classify(err))
	}
	return out, nil
}

func (t *pgTx) DeleteSignature(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM audit_signatures WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete signature %d: %w", id, err)
	}
	return expectOne(res)
}

func (t *pgTx) InsertBatch(ctx context.Context, b models.OfflineSyncBatch) (models.OfflineSyncBatch, error) {
	payload, err := encodeJSON(b.Payload)
	if err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("encode batch payload: %w", err)
	}
	const query = `
		INSERT INTO offline_sync_batches (user_id, device_id, payload, payload_hash, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, user_id, device_id, payload, payload_hash, status, error_details,
			response_payload, response_status, created_at, updated_at
	`
	out, err := scanBatch(t.q.QueryRowContext(ctx, query, b.UserID, b.DeviceID, payload, b.PayloadHash, string(b.Status)))
	if err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("insert batch: %w", classify(err))
	}
	return out, nil
}

func (t *pgTx) FinalizeBatch(ctx context.Context, b models.OfflineSyncBatch) (models.OfflineSyncBatch, error) {
	details, err := encodeOptionalJSON(b.ErrorDetails)
	if err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("encode error details: %w", err)
	}
	response, err := encodeOptionalJSON(b.ResponsePayload)
	if err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("encode response payload: %w", err)
	}
	const query = `
		UPDATE offline_sync_batches
		SET status=$1, error_details=$2, response_payload=$3, response_status=$4, updated_at=now()
		WHERE id=$5 AND status='pending'
		RETURNING id, user_id, device_id, payload, payload_hash, status, error_details,
			response_payload, response_status, created_at, updated_at
	`
	out, err := scanBatch(t.q.QueryRowContext(ctx, query, string(b.Status), details, response, b.ResponseStatus, b.ID))
	if err != nil {
		return models.OfflineSyncBatch{}, fmt.Errorf("finalize batch %d: %w", b.ID, classify(err))
	}
	return out, nil
}

func (t *pgTx) AppendLogEntry(ctx context.Context, e models.AuditLogEntry) (models.AuditLogEntry, error) {
	payload, err := encodeJSON(e.Payload)
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("encode log payload: %w", err)
	}
	const query = `
		INSERT INTO audit_log_entries (actor_id, action, entity_type, entity_id, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`
	if err := t.q.QueryRowContext(ctx, query, e.ActorID, string(e.Action), e.EntityType, e.EntityID, payload, e.CreatedAt).
		Scan(&e.ID); err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("insert log entry: %w", err)
	}
	return e, nil
}
