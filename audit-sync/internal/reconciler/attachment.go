package reconciler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/canonical"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/logging"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/service"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

// File is the binary part of an attachment sync request.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// SyncAttachment stores one file described by payload. A repeated upload with
// an offline uuid already applied to the same response returns the existing
// attachment with duplicate set and leaves no new ledger row.
func (r *Reconciler) SyncAttachment(ctx context.Context, actor models.Actor, payload []byte, file *File) Outcome {
	if len(payload) == 0 {
		return r.reject(apperr.Malformed("payload", "the payload field is required"))
	}
	if _, _, err := envelope(payload); err != nil {
		return r.reject(err)
	}
	var req attachmentRequest
	if err := decodeInto(payload, &req); err != nil {
		return r.reject(err)
	}
	if err := r.validate.Struct(req); err != nil {
		verr := validationFields(err)
		if v, ok := verr.(*apperr.ValidationError); ok {
			v.Code = apperr.CodeInvalidPayload
		}
		return r.reject(verr)
	}
	if file == nil || file.Body == nil {
		return r.reject(apperr.Malformed("file", "the file part is required"))
	}
	deviceID := req.DeviceID.String()
	responseID := *req.Attachment.ResponseID
	var offline *uuid.UUID
	if req.Attachment.OfflineUUID != "" {
		id, err := uuid.Parse(req.Attachment.OfflineUUID.String())
		if err != nil {
			return r.reject(apperr.Malformed("attachment.offline_uuid", "must be a valid UUID"))
		}
		offline = &id
	}

	existing, err := r.precheck(ctx, actor, responseID, offline)
	if err != nil {
		if apperr.Describe(err).Status >= http.StatusInternalServerError {
			logging.LogError(r.logger, "reconciler", "SyncAttachment", "precheck", map[string]interface{}{"response_id": responseID}, err)
		}
		return r.reject(err)
	}
	if existing != nil {
		return Outcome{Status: http.StatusOK, Body: newAttachmentResult(deviceID, *existing, true)}
	}

	ledger := map[string]interface{}{
		"kind":         "attachment",
		"response_id":  responseID,
		"offline_uuid": nil,
	}
	if offline != nil {
		ledger["offline_uuid"] = offline.String()
	}
	batch, err := r.openBatch(ctx, actor, deviceID, ledger, canonical.HashRaw(payload))
	if err != nil {
		logging.LogError(r.logger, "reconciler", "SyncAttachment", "open ledger", map[string]interface{}{"device_id": deviceID}, err)
		return r.reject(err)
	}

	var (
		att       models.AuditAttachment
		duplicate bool
	)
	err = r.svc.Do(ctx, func(tx store.Tx, fx *service.Effects) error {
		var err error
		att, duplicate, err = r.svc.Mutator().AddAttachment(ctx, tx, fx, actor, service.AttachmentInput{
			ResponseID:   responseID,
			Caption:      req.Attachment.Caption.String(),
			OfflineUUID:  offline,
			Filename:     file.Name,
			ContentType:  file.ContentType,
			DeclaredSize: file.Size,
			Body:         file.Body,
		}, false)
		return err
	})
	if errors.Is(err, apperr.ErrConflict) && offline != nil {
		// A concurrent upload of the same uuid won the insert. Postgres
		// aborts a transaction after a failed statement, so look again in a
		// fresh one.
		var found *models.AuditAttachment
		found, err = r.precheck(ctx, actor, responseID, offline)
		if err == nil && found != nil {
			att, duplicate = *found, true
		} else if err == nil {
			err = apperr.Invalid("offline_uuid", "this identifier is already used by another attachment")
		}
	}
	if err != nil {
		return r.finish(ctx, actor, batch, Outcome{}, err)
	}
	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	return r.finish(ctx, actor, batch, Outcome{Status: status, Body: newAttachmentResult(deviceID, att, duplicate)}, nil)
}

// precheck confirms the response belongs to actor and returns the attachment
// already stored under offline for it, if any.
func (r *Reconciler) precheck(ctx context.Context, actor models.Actor, responseID int64, offline *uuid.UUID) (*models.AuditAttachment, error) {
	var found *models.AuditAttachment
	err := r.svc.Store().WithTx(ctx, func(tx store.Tx) error {
		resp, err := tx.GetResponse(ctx, responseID)
		if err != nil {
			return err
		}
		if _, err := r.svc.Mutator().LockAudit(ctx, tx, actor, resp.AuditID, false); err != nil {
			return err
		}
		if offline == nil {
			return nil
		}
		att, err := tx.FindAttachmentByUUID(ctx, *offline)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if att.ResponseID == resp.ID {
			found = &att
		}
		return nil
	})
	return found, err
}
