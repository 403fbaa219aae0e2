package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditStatus string

const (
	StatusDraft      AuditStatus = "draft"
	StatusInProgress AuditStatus = "in_progress"
	StatusSubmitted  AuditStatus = "submitted"
	StatusReviewed   AuditStatus = "reviewed"
)

func (s AuditStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusSubmitted, StatusReviewed:
		return true
	}
	return false
}

// ReviewStatus is the moderation state of catalog entries created in the field.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

type ElevatorStatus string

const (
	ElevatorInService        ElevatorStatus = "in_service"
	ElevatorOutOfService     ElevatorStatus = "out_of_service"
	ElevatorUnderMaintenance ElevatorStatus = "under_maintenance"
	ElevatorDecommissioned   ElevatorStatus = "decommissioned"
)

func (s ElevatorStatus) Valid() bool {
	switch s {
	case ElevatorInService, ElevatorOutOfService, ElevatorUnderMaintenance, ElevatorDecommissioned:
		return true
	}
	return false
}

type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchApplied BatchStatus = "applied"
	BatchError   BatchStatus = "error"
)

type Building struct {
	ID           int64        `json:"id"`
	Address      string       `json:"address"`
	Entrance     string       `json:"entrance"`
	Notes        string       `json:"notes"`
	ReviewStatus ReviewStatus `json:"review_status"`
	CreatedBy    int64        `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
}

type Elevator struct {
	ID           int64          `json:"id"`
	BuildingID   int64          `json:"building_id"`
	Identifier   string         `json:"identifier"`
	Description  string         `json:"description"`
	Status       ElevatorStatus `json:"status"`
	ReviewStatus ReviewStatus   `json:"review_status"`
	CreatedBy    int64          `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Audit struct {
	ID          int64                  `json:"id"`
	ElevatorID  int64                  `json:"elevator_id"`
	CreatedBy   int64                  `json:"created_by"`
	ObjectInfo  map[string]interface{} `json:"object_info"`
	PlannedDate *time.Time             `json:"planned_date,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	Status      AuditStatus            `json:"status"`
	TotalScore  int                    `json:"total_score"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

type AuditResponse struct {
	ID              int64     `json:"id"`
	AuditID         int64     `json:"audit_id"`
	QuestionID      int64     `json:"question_id"`
	Score           *int      `json:"score"`
	Comment         string    `json:"comment"`
	IsFlagged       bool      `json:"is_flagged"`
	IsOfflineCached bool      `json:"is_offline_cached"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AuditAttachment carries AuditID denormalized from its response so per-audit
// quotas can be counted without a join.
type AuditAttachment struct {
	ID          int64      `json:"id"`
	ResponseID  int64      `json:"response_id"`
	AuditID     int64      `json:"audit_id"`
	StorageKey  string     `json:"storage_key"`
	Caption     string     `json:"caption"`
	OfflineUUID *uuid.UUID `json:"offline_uuid"`
	SizeBytes   int64      `json:"size_bytes"`
	UploadedBy  *int64     `json:"uploaded_by,omitempty"`
	UploadedAt  time.Time  `json:"uploaded_at"`
}

type AuditSignature struct {
	ID         int64     `json:"id"`
	AuditID    int64     `json:"audit_id"`
	SignedBy   int64     `json:"signed_by"`
	SignerName string    `json:"signer_name"`
	ImageKey   string    `json:"image_key"`
	SignedAt   time.Time `json:"signed_at"`
}

type OfflineSyncBatch struct {
	ID              int64                  `json:"id"`
	UserID          int64                  `json:"user_id"`
	DeviceID        string                 `json:"device_id"`
	Payload         map[string]interface{} `json:"payload"`
	PayloadHash     string                 `json:"payload_hash"`
	Status          BatchStatus            `json:"status"`
	ErrorDetails    map[string]interface{} `json:"error_details,omitempty"`
	ResponsePayload map[string]interface{} `json:"response_payload,omitempty"`
	ResponseStatus  int                    `json:"response_status,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}
