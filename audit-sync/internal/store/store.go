package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

var (
	ErrNotFound = apperr.ErrNotFound
	ErrConflict = apperr.ErrConflict
)

// Store is the entry point to persistence. All domain mutations go through
// WithTx so a batch commits or rolls back as one unit.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetAudit(ctx context.Context, id int64) (models.Audit, error)
	ListResponses(ctx context.Context, auditID int64) ([]models.AuditResponse, error)
	GetBatch(ctx context.Context, id int64) (models.OfflineSyncBatch, error)
	ListAttachments(ctx context.Context) ([]models.AuditAttachment, error)
	SetAttachmentSize(ctx context.Context, id int64, size int64) error
	ListLogEntries(ctx context.Context, filter LogFilter) ([]models.AuditLogEntry, error)
	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside one transaction. Methods
// suffixed ForUpdate take a row lock held until the transaction ends.
type Tx interface {
	CreateBuilding(ctx context.Context, b models.Building) (models.Building, error)
	CreateElevator(ctx context.Context, e models.Elevator) (models.Elevator, error)
	BuildingExists(ctx context.Context, id int64) (bool, error)
	ElevatorExists(ctx context.Context, id int64) (bool, error)
	QuestionExists(ctx context.Context, id int64) (bool, error)

	LookupClientRef(ctx context.Context, ref ClientRef) (int64, error)
	SaveClientRef(ctx context.Context, ref ClientRef, serverID int64) error

	GetAuditForUpdate(ctx context.Context, id int64) (models.Audit, error)
	AuditStatus(ctx context.Context, id int64) (models.AuditStatus, error)
	InsertAudit(ctx context.Context, a models.Audit) (models.Audit, error)
	UpdateAudit(ctx context.Context, a models.Audit) (models.Audit, error)
	ListResponseScores(ctx context.Context, auditID int64) ([]*int, error)
	SetAuditScore(ctx context.Context, auditID int64, total int) error

	GetResponse(ctx context.Context, id int64) (models.AuditResponse, error)
	GetResponseForUpdate(ctx context.Context, id int64) (models.AuditResponse, error)
	FindResponseForUpdate(ctx context.Context, auditID, questionID int64) (models.AuditResponse, error)
	InsertResponse(ctx context.Context, r models.AuditResponse) (models.AuditResponse, error)
	UpdateResponse(ctx context.Context, r models.AuditResponse) (models.AuditResponse, error)
	DeleteResponse(ctx context.Context, id int64) error

	GetAttachment(ctx context.Context, id int64) (models.AuditAttachment, error)
	GetAttachmentForUpdate(ctx context.Context, id int64) (models.AuditAttachment, error)
	FindAttachmentByUUID(ctx context.Context, offlineUUID uuid.UUID) (models.AuditAttachment, error)
	ListResponseAttachments(ctx context.Context, responseID int64) ([]models.AuditAttachment, error)
	CountResponseAttachments(ctx context.Context, responseID, excludeID int64) (int, error)
	CountAuditAttachments(ctx context.Context, auditID, excludeID int64) (int, error)
	InsertAttachment(ctx context.Context, a models.AuditAttachment) (models.AuditAttachment, error)
	UpdateAttachment(ctx context.Context, a models.AuditAttachment) (models.AuditAttachment, error)
	DeleteAttachment(ctx context.Context, id int64) error

	GetSignatureForUpdate(ctx context.Context, auditID int64) (models.AuditSignature, error)
	InsertSignature(ctx context.Context, s models.AuditSignature) (models.AuditSignature, error)
	UpdateSignature(ctx context.Context, s models.AuditSignature) (models.AuditSignature, error)
	DeleteSignature(ctx context.Context, id int64) error

	InsertBatch(ctx context.Context, b models.OfflineSyncBatch) (models.OfflineSyncBatch, error)
	FinalizeBatch(ctx context.Context, b models.OfflineSyncBatch) (models.OfflineSyncBatch, error)

	AppendLogEntry(ctx context.Context, e models.AuditLogEntry) (models.AuditLogEntry, error)
}

// ClientRef identifies a row created from a client chosen id. The same
// (user, device, kind, client id) always resolves to the same server row.
type ClientRef struct {
	UserID   int64
	DeviceID string
	Kind     string
	ClientID string
}

const (
	KindBuilding = "building"
	KindElevator = "elevator"
	KindAudit    = "audit"
)

type LogFilter struct {
	EntityType string
	EntityID   string
	Action     models.LogAction
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

const defaultLogLimit = 100

func (f LogFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultLogLimit
	}
	return f.Limit
}

func (f LogFilter) matches(e models.AuditLogEntry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
		return false
	}
	return true
}
