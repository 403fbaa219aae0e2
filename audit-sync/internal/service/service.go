package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/blob"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/notify"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

type Service struct {
	store    store.Store
	mutator  *Mutator
	notifier notify.Notifier
	blobs    blob.Store
	logger   *logrus.Logger
}

func New(st store.Store, mutator *Mutator, notifier notify.Notifier, blobs blob.Store, logger *logrus.Logger) *Service {
	return &Service{
		store:    st,
		mutator:  mutator,
		notifier: notifier,
		blobs:    blobs,
		logger:   logger,
	}
}

func (s *Service) Store() store.Store     { return s.store }
func (s *Service) Mutator() *Mutator      { return s.mutator }
func (s *Service) Logger() *logrus.Logger { return s.logger }

// Do runs fn in one transaction and then settles its effects. Follow-up work
// runs detached from ctx so a client hanging up after commit does not leave
// notifications unsent or files behind.
func (s *Service) Do(ctx context.Context, fn func(tx store.Tx, fx *Effects) error) error {
	fx := &Effects{}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return fn(tx, fx)
	})
	s.settle(context.WithoutCancel(ctx), fx, err == nil)
	return err
}

func (s *Service) settle(ctx context.Context, fx *Effects, committed bool) {
	drop := fx.uploaded
	if committed {
		drop = fx.stale
	}
	for _, key := range drop {
		if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotExist) {
			s.logger.WithFields(logrus.Fields{
				"module":   "service",
				"funcName": "settle",
				"key":      key,
			}).Warn(err.Error())
		}
	}
	if committed {
		notify.Dispatch(ctx, s.notifier, s.logger, fx.events...)
	}
}

// Notify delivers events that are not tied to a transaction.
func (s *Service) Notify(ctx context.Context, events ...notify.Event) {
	notify.Dispatch(context.WithoutCancel(ctx), s.notifier, s.logger, events...)
}

func (s *Service) GetAudit(ctx context.Context, actor models.Actor, id int64) (models.Audit, []models.AuditResponse, error) {
	a, err := s.store.GetAudit(ctx, id)
	if err != nil {
		return models.Audit{}, nil, err
	}
	if !actor.Owns(a.CreatedBy, true) {
		return models.Audit{}, nil, fmt.Errorf("audit %d: %w", id, apperr.ErrNotFound)
	}
	responses, err := s.store.ListResponses(ctx, id)
	if err != nil {
		return models.Audit{}, nil, err
	}
	return a, responses, nil
}

func (s *Service) Start(ctx context.Context, actor models.Actor, id int64) (models.Audit, error) {
	return s.transition(ctx, actor, id, models.StatusInProgress)
}

func (s *Service) Submit(ctx context.Context, actor models.Actor, id int64) (models.Audit, error) {
	return s.transition(ctx, actor, id, models.StatusSubmitted)
}

func (s *Service) transition(ctx context.Context, actor models.Actor, id int64, target models.AuditStatus) (models.Audit, error) {
	var out models.Audit
	err := s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		var err error
		out, _, err = s.mutator.Transition(ctx, tx, fx, actor, id, target, true)
		return err
	})
	return out, err
}

func (s *Service) MarkReviewed(ctx context.Context, actor models.Actor, id int64) (models.Audit, error) {
	if !actor.IsAdmin() {
		return models.Audit{}, apperr.ErrForbidden
	}
	var out models.Audit
	err := s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		var err error
		out, err = s.mutator.MarkReviewed(ctx, tx, fx, actor, id)
		return err
	})
	return out, err
}

type RequestChangesRequest struct {
	Message string `json:"message"`
}

func (s *Service) RequestChanges(ctx context.Context, actor models.Actor, id int64, req RequestChangesRequest) (models.Audit, error) {
	if !actor.IsAdmin() {
		return models.Audit{}, apperr.ErrForbidden
	}
	var out models.Audit
	err := s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		var err error
		out, err = s.mutator.RequestChanges(ctx, tx, fx, actor, id, req.Message)
		return err
	})
	return out, err
}

func (s *Service) UpdateResponse(ctx context.Context, actor models.Actor, id int64, patch ResponsePatch) (models.AuditResponse, error) {
	var out models.AuditResponse
	err := s.Do(ctx, func(tx store.Tx, _ *Effects) error {
		var err error
		out, err = s.mutator.UpdateResponse(ctx, tx, actor, id, patch)
		return err
	})
	return out, err
}

func (s *Service) DeleteResponse(ctx context.Context, actor models.Actor, id int64) error {
	return s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		return s.mutator.DeleteResponse(ctx, tx, fx, actor, id)
	})
}

func (s *Service) UploadAttachment(ctx context.Context, actor models.Actor, in AttachmentInput) (models.AuditAttachment, error) {
	if in.OfflineUUID != nil {
		return models.AuditAttachment{}, apperr.Invalid("offline_uuid", "offline identifiers are only accepted through sync")
	}
	var out models.AuditAttachment
	err := s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		var err error
		out, _, err = s.mutator.AddAttachment(ctx, tx, fx, actor, in, true)
		return err
	})
	return out, err
}

type AttachmentUpdateRequest struct {
	Caption string `json:"caption"`
}

func (s *Service) UpdateAttachment(ctx context.Context, actor models.Actor, id int64, req AttachmentUpdateRequest) (models.AuditAttachment, error) {
	var out models.AuditAttachment
	err := s.Do(ctx, func(tx store.Tx, _ *Effects) error {
		var err error
		out, err = s.mutator.UpdateAttachmentCaption(ctx, tx, actor, id, req.Caption)
		return err
	})
	return out, err
}

func (s *Service) DeleteAttachment(ctx context.Context, actor models.Actor, id int64) error {
	return s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		return s.mutator.DeleteAttachment(ctx, tx, fx, actor, id)
	})
}

func (s *Service) SaveSignature(ctx context.Context, actor models.Actor, auditID int64, signerName, filename, contentType string, body io.Reader) (models.AuditSignature, error) {
	var out models.AuditSignature
	err := s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		var err error
		out, err = s.mutator.SaveSignature(ctx, tx, fx, actor, auditID, SignatureInput{
			SignerName:  signerName,
			Filename:    filename,
			ContentType: contentType,
			Body:        body,
		})
		return err
	})
	return out, err
}

func (s *Service) DeleteSignature(ctx context.Context, actor models.Actor, auditID int64) error {
	return s.Do(ctx, func(tx store.Tx, fx *Effects) error {
		return s.mutator.DeleteSignature(ctx, tx, fx, actor, auditID)
	})
}

// AuditLog returns journal entries. Only administrators may read the journal.
func (s *Service) AuditLog(ctx context.Context, actor models.Actor, filter store.LogFilter) ([]models.AuditLogEntry, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	return s.store.ListLogEntries(ctx, filter)
}

func (s *Service) GetBatch(ctx context.Context, actor models.Actor, id int64) (models.OfflineSyncBatch, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return models.OfflineSyncBatch{}, err
	}
	if !actor.Owns(b.UserID, true) {
		return models.OfflineSyncBatch{}, fmt.Errorf("batch %d: %w", id, apperr.ErrNotFound)
	}
	return b, nil
}
