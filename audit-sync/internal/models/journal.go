package models

import (
	"strconv"
	"time"
)

type LogAction string

const (
	ActionAuditCreated          LogAction = "audit_created"
	ActionAuditUpdated          LogAction = "audit_updated"
	ActionAuditStatusChanged    LogAction = "audit_status_changed"
	ActionAuditChangesRequested LogAction = "audit_changes_requested"
	ActionAuditReviewed         LogAction = "audit_reviewed"
	ActionResponseCreated       LogAction = "response_created"
	ActionResponseUpdated       LogAction = "response_updated"
	ActionResponseDeleted       LogAction = "response_deleted"
	ActionAttachmentCreated     LogAction = "attachment_created"
	ActionAttachmentUpdated     LogAction = "attachment_updated"
	ActionAttachmentDeleted     LogAction = "attachment_deleted"
	ActionSignatureCreated      LogAction = "signature_created"
	ActionSignatureUpdated      LogAction = "signature_updated"
	ActionSignatureDeleted      LogAction = "signature_deleted"
	ActionBatchCreated          LogAction = "offline_batch_created"
	ActionBatchApplied          LogAction = "offline_batch_applied"
	ActionBatchError            LogAction = "offline_batch_error"
)

const (
	EntityAudit      = "audit"
	EntityResponse   = "audit_response"
	EntityAttachment = "audit_attachment"
	EntitySignature  = "audit_signature"
	EntityBatch      = "offline_sync_batch"
)

// AuditLogEntry is never updated once written. EntityID is a string so the
// entry outlives the row it describes.
type AuditLogEntry struct {
	ID         int64                  `json:"id"`
	ActorID    *int64                 `json:"actor_id"`
	Action     LogAction              `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"created_at"`
}

type EntityRef struct {
	Type string
	ID   string
}

func Ref(entityType string, id int64) EntityRef {
	return EntityRef{Type: entityType, ID: strconv.FormatInt(id, 10)}
}

// Entity is implemented by everything the journal can describe.
type Entity interface {
	LogRef() EntityRef
	LogSnapshot() map[string]interface{}
}

func (a Audit) LogRef() EntityRef { return Ref(EntityAudit, a.ID) }

func (a Audit) LogSnapshot() map[string]interface{} {
	info := map[string]interface{}{}
	for k, v := range a.ObjectInfo {
		info[k] = v
	}
	return map[string]interface{}{
		"id":           a.ID,
		"elevator_id":  a.ElevatorID,
		"created_by":   a.CreatedBy,
		"object_info":  info,
		"planned_date": formatDate(a.PlannedDate),
		"started_at":   formatTime(a.StartedAt),
		"finished_at":  formatTime(a.FinishedAt),
		"status":       string(a.Status),
		"total_score":  a.TotalScore,
	}
}

func (r AuditResponse) LogRef() EntityRef { return Ref(EntityResponse, r.ID) }

func (r AuditResponse) LogSnapshot() map[string]interface{} {
	var score interface{}
	if r.Score != nil {
		score = *r.Score
	}
	return map[string]interface{}{
		"id":                r.ID,
		"audit_id":          r.AuditID,
		"question_id":       r.QuestionID,
		"score":             score,
		"comment":           r.Comment,
		"is_flagged":        r.IsFlagged,
		"is_offline_cached": r.IsOfflineCached,
	}
}

func (a AuditAttachment) LogRef() EntityRef { return Ref(EntityAttachment, a.ID) }

func (a AuditAttachment) LogSnapshot() map[string]interface{} {
	var offline interface{}
	if a.OfflineUUID != nil {
		offline = a.OfflineUUID.String()
	}
	return map[string]interface{}{
		"id":           a.ID,
		"response_id":  a.ResponseID,
		"audit_id":     a.AuditID,
		"storage_key":  a.StorageKey,
		"caption":      a.Caption,
		"offline_uuid": offline,
		"size_bytes":   a.SizeBytes,
	}
}

func (s AuditSignature) LogRef() EntityRef { return Ref(EntitySignature, s.ID) }

func (s AuditSignature) LogSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"id":          s.ID,
		"audit_id":    s.AuditID,
		"signed_by":   s.SignedBy,
		"signer_name": s.SignerName,
		"image_key":   s.ImageKey,
		"signed_at":   formatTime(&s.SignedAt),
	}
}

func (b OfflineSyncBatch) LogRef() EntityRef { return Ref(EntityBatch, b.ID) }

func (b OfflineSyncBatch) LogSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"id":           b.ID,
		"device_id":    b.DeviceID,
		"payload_hash": b.PayloadHash,
		"status":       string(b.Status),
	}
}

func formatTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(DateLayout)
}

const DateLayout = "2006-01-02"
