package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/blob"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/governor"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/journal"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/lifecycle"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/notify"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/scoring"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

// Mutator performs audit mutations inside a caller supplied transaction. It
// is shared by the interactive endpoints and the offline reconciler so both
// paths apply the same lifecycle, scoring, quota and journal rules.
type Mutator struct {
	journal  *journal.Journal
	governor *governor.Governor
	blobs    blob.Store
	now      func() time.Time
}

func NewMutator(j *journal.Journal, g *governor.Governor, blobs blob.Store, now func() time.Time) *Mutator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Mutator{journal: j, governor: g, blobs: blobs, now: now}
}

func (m *Mutator) Journal() *journal.Journal { return m.journal }

type AuditPatch struct {
	ObjectInfo  Field[map[string]interface{}]
	PlannedDate Field[*time.Time]
	StartedAt   Field[*time.Time]
	FinishedAt  Field[*time.Time]
	Status      Field[models.AuditStatus]
}

func (p AuditPatch) touchesLifecycle() bool {
	return p.Status.Set || p.StartedAt.Set || p.FinishedAt.Set
}

func (p AuditPatch) apply(a *models.Audit) {
	if p.ObjectInfo.Set {
		a.ObjectInfo = p.ObjectInfo.Value
		if a.ObjectInfo == nil {
			a.ObjectInfo = map[string]interface{}{}
		}
	}
	if p.PlannedDate.Set {
		a.PlannedDate = p.PlannedDate.Value
	}
	if p.StartedAt.Set {
		a.StartedAt = p.StartedAt.Value
	}
	if p.FinishedAt.Set {
		a.FinishedAt = p.FinishedAt.Value
	}
	if p.Status.Set {
		a.Status = p.Status.Value
	}
}

// LockAudit locks an audit the actor may act on. Audits owned by someone
// else are reported as missing so their existence is not revealed.
func (m *Mutator) LockAudit(ctx context.Context, tx store.Tx, actor models.Actor, id int64, allowAdmin bool) (models.Audit, error) {
	a, err := tx.GetAuditForUpdate(ctx, id)
	if err != nil {
		return models.Audit{}, err
	}
	if !actor.Owns(a.CreatedBy, allowAdmin) {
		return models.Audit{}, fmt.Errorf("audit %d: %w", id, apperr.ErrNotFound)
	}
	return a, nil
}

func (m *Mutator) CreateAudit(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, elevatorID int64, patch AuditPatch) (models.Audit, error) {
	a := models.Audit{
		ElevatorID: elevatorID,
		CreatedBy:  actor.ID,
		ObjectInfo: map[string]interface{}{},
		Status:     models.StatusDraft,
	}
	patch.apply(&a)
	if err := lifecycle.ValidateInitial(a.Status); err != nil {
		return models.Audit{}, err
	}
	ts, err := lifecycle.Stamp(a.Status, lifecycle.Timestamps{StartedAt: a.StartedAt, FinishedAt: a.FinishedAt}, lifecycle.Timestamps{}, m.now())
	if err != nil {
		return models.Audit{}, err
	}
	a.StartedAt, a.FinishedAt = ts.StartedAt, ts.FinishedAt

	created, err := tx.InsertAudit(ctx, a)
	if err != nil {
		return models.Audit{}, err
	}
	if _, err := m.journal.Record(ctx, tx, models.ActionAuditCreated, created, &actor, created.LogSnapshot()); err != nil {
		return models.Audit{}, err
	}
	m.announce(fx, actor, created, models.StatusDraft)
	return created, nil
}

// UpdateAudit applies patch to a locked audit. Transitions are validated
// against the status read from storage just before the write; edits that
// leave status and timestamps alone skip that check.
func (m *Mutator) UpdateAudit(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, current models.Audit, patch AuditPatch) (models.Audit, error) {
	next := current
	patch.apply(&next)
	from := current.Status

	if patch.touchesLifecycle() {
		stored, err := tx.AuditStatus(ctx, current.ID)
		if err != nil {
			return models.Audit{}, err
		}
		if err := lifecycle.ValidateTransition(stored, next.Status); err != nil {
			return models.Audit{}, err
		}
		ts, err := lifecycle.Stamp(next.Status,
			lifecycle.Timestamps{StartedAt: next.StartedAt, FinishedAt: next.FinishedAt},
			lifecycle.Timestamps{StartedAt: current.StartedAt, FinishedAt: current.FinishedAt},
			m.now())
		if err != nil {
			return models.Audit{}, err
		}
		next.StartedAt, next.FinishedAt = ts.StartedAt, ts.FinishedAt
		from = stored
	}

	changes := journal.Changes(current.LogSnapshot(), next.LogSnapshot(), "total_score")
	if len(changes) == 0 {
		return current, nil
	}
	next.UpdatedAt = m.now()
	saved, err := tx.UpdateAudit(ctx, next)
	if err != nil {
		return models.Audit{}, err
	}

	if saved.Status != from {
		_, err = m.journal.Record(ctx, tx, models.ActionAuditStatusChanged, saved, &actor, map[string]interface{}{
			"from":    string(from),
			"to":      string(saved.Status),
			"changes": changes,
		})
	} else {
		_, err = m.journal.Record(ctx, tx, models.ActionAuditUpdated, saved, &actor, map[string]interface{}{
			"changes": changes,
		})
	}
	if err != nil {
		return models.Audit{}, err
	}
	m.announce(fx, actor, saved, from)
	return saved, nil
}

func (m *Mutator) announce(fx *Effects, actor models.Actor, a models.Audit, from models.AuditStatus) {
	if a.Status == from {
		return
	}
	author := a.CreatedBy
	switch a.Status {
	case models.StatusSubmitted:
		fx.notify(notify.Event{Kind: notify.AuditSubmitted, Audience: notify.Administrators, AuditID: a.ID, ActorID: actor.ID, OccurredAt: m.now()})
	case models.StatusReviewed:
		fx.notify(notify.Event{Kind: notify.AuditReviewed, Audience: notify.Author, RecipientID: &author, AuditID: a.ID, ActorID: actor.ID, OccurredAt: m.now()})
	}
}

// Transition moves a locked-by-id audit to target. The returned flag reports
// whether the status actually changed.
func (m *Mutator) Transition(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, auditID int64, target models.AuditStatus, allowAdmin bool) (models.Audit, bool, error) {
	current, err := m.LockAudit(ctx, tx, actor, auditID, allowAdmin)
	if err != nil {
		return models.Audit{}, false, err
	}
	saved, err := m.UpdateAudit(ctx, tx, fx, actor, current, AuditPatch{Status: Some(target)})
	if err != nil {
		return models.Audit{}, false, err
	}
	return saved, saved.Status != current.Status, nil
}

// MarkReviewed logs a separate review entry only when the audit actually
// moved to reviewed, so repeated marks do not add noise.
func (m *Mutator) MarkReviewed(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, auditID int64) (models.Audit, error) {
	saved, changed, err := m.Transition(ctx, tx, fx, actor, auditID, models.StatusReviewed, true)
	if err != nil || !changed {
		return saved, err
	}
	_, err = m.journal.Record(ctx, tx, models.ActionAuditReviewed, saved, &actor, map[string]interface{}{
		"status":      string(saved.Status),
		"reviewed_at": saved.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return models.Audit{}, err
	}
	return saved, nil
}

// RequestChanges leaves the status at submitted, refreshes updated_at and
// notifies the author.
func (m *Mutator) RequestChanges(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, auditID int64, message string) (models.Audit, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.Audit{}, apperr.Invalid("message", "a message is required")
	}
	current, err := m.LockAudit(ctx, tx, actor, auditID, true)
	if err != nil {
		return models.Audit{}, err
	}
	stored, err := tx.AuditStatus(ctx, auditID)
	if err != nil {
		return models.Audit{}, err
	}
	if stored != models.StatusSubmitted {
		return models.Audit{}, apperr.Invalid("status", fmt.Sprintf("changes can only be requested for submitted audits, audit is %s", stored))
	}
	current.UpdatedAt = m.now()
	saved, err := tx.UpdateAudit(ctx, current)
	if err != nil {
		return models.Audit{}, err
	}
	if _, err := m.journal.Record(ctx, tx, models.ActionAuditChangesRequested, saved, &actor, map[string]interface{}{
		"status":  string(stored),
		"message": message,
	}); err != nil {
		return models.Audit{}, err
	}
	author := saved.CreatedBy
	fx.notify(notify.Event{
		Kind: notify.AuditChangesRequested, Audience: notify.Author, RecipientID: &author,
		AuditID: saved.ID, ActorID: actor.ID, Message: message, OccurredAt: m.now(),
	})
	return saved, nil
}

// ResponseInput is a full answer as sent by a field client. Either ID targets
// an existing response of the audit, or the response is found or created by
// (audit, question).
type ResponseInput struct {
	ID            *int64
	QuestionID    int64
	Score         *int
	Comment       *string
	IsFlagged     *bool
	OfflineCached bool
}

func (m *Mutator) UpsertResponse(ctx context.Context, tx store.Tx, actor models.Actor, audit models.Audit, in ResponseInput) (models.AuditResponse, error) {
	ok, err := tx.QuestionExists(ctx, in.QuestionID)
	if err != nil {
		return models.AuditResponse{}, err
	}
	if !ok {
		return models.AuditResponse{}, apperr.Invalid("question_id", fmt.Sprintf("question %d does not exist", in.QuestionID))
	}

	var (
		current models.AuditResponse
		found   bool
	)
	if in.ID != nil {
		current, err = tx.GetResponseForUpdate(ctx, *in.ID)
		if err != nil {
			return models.AuditResponse{}, err
		}
		if current.AuditID != audit.ID {
			return models.AuditResponse{}, fmt.Errorf("response %d: %w", *in.ID, apperr.ErrNotFound)
		}
		found = true
	} else {
		current, err = tx.FindResponseForUpdate(ctx, audit.ID, in.QuestionID)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, apperr.ErrNotFound):
			return models.AuditResponse{}, err
		}
	}

	next := current
	if !found {
		next = models.AuditResponse{AuditID: audit.ID}
	}
	next.QuestionID = in.QuestionID
	next.Score = in.Score
	if in.Comment != nil {
		next.Comment = *in.Comment
	}
	if in.IsFlagged != nil {
		next.IsFlagged = *in.IsFlagged
	}
	if in.OfflineCached {
		next.IsOfflineCached = true
	}
	if !found {
		return m.insertResponse(ctx, tx, actor, next)
	}
	return m.saveResponse(ctx, tx, actor, current, next)
}

func (m *Mutator) insertResponse(ctx context.Context, tx store.Tx, actor models.Actor, r models.AuditResponse) (models.AuditResponse, error) {
	created, err := tx.InsertResponse(ctx, r)
	if errors.Is(err, apperr.ErrConflict) {
		return models.AuditResponse{}, apperr.Invalid("question_id", "this question already has a response in the audit")
	}
	if err != nil {
		return models.AuditResponse{}, err
	}
	if _, err := m.journal.Record(ctx, tx, models.ActionResponseCreated, created, &actor, created.LogSnapshot()); err != nil {
		return models.AuditResponse{}, err
	}
	if _, err := scoring.Recompute(ctx, tx, created.AuditID); err != nil {
		return models.AuditResponse{}, err
	}
	return created, nil
}

func (m *Mutator) saveResponse(ctx context.Context, tx store.Tx, actor models.Actor, current, next models.AuditResponse) (models.AuditResponse, error) {
	changes := journal.Changes(current.LogSnapshot(), next.LogSnapshot())
	if len(changes) == 0 {
		return current, nil
	}
	saved, err := tx.UpdateResponse(ctx, next)
	if errors.Is(err, apperr.ErrConflict) {
		return models.AuditResponse{}, apperr.Invalid("question_id", "this question already has a response in the audit")
	}
	if err != nil {
		return models.AuditResponse{}, err
	}
	if _, err := m.journal.Record(ctx, tx, models.ActionResponseUpdated, saved, &actor, map[string]interface{}{
		"changes": changes,
	}); err != nil {
		return models.AuditResponse{}, err
	}
	if _, err := scoring.Recompute(ctx, tx, saved.AuditID); err != nil {
		return models.AuditResponse{}, err
	}
	if current.AuditID != saved.AuditID {
		if _, err := scoring.Recompute(ctx, tx, current.AuditID); err != nil {
			return models.AuditResponse{}, err
		}
	}
	return saved, nil
}

type ResponsePatch struct {
	AuditID   Field[int64]
	Score     Field[*int]
	Comment   Field[string]
	IsFlagged Field[bool]
}

// lockResponse locks the parent audit before the response so every path
// takes row locks in the same order.
func (m *Mutator) lockResponse(ctx context.Context, tx store.Tx, actor models.Actor, id int64) (models.Audit, models.AuditResponse, error) {
	peek, err := tx.GetResponse(ctx, id)
	if err != nil {
		return models.Audit{}, models.AuditResponse{}, err
	}
	audit, err := m.LockAudit(ctx, tx, actor, peek.AuditID, true)
	if err != nil {
		return models.Audit{}, models.AuditResponse{}, err
	}
	r, err := tx.GetResponseForUpdate(ctx, id)
	if err != nil {
		return models.Audit{}, models.AuditResponse{}, err
	}
	if r.AuditID != audit.ID {
		return models.Audit{}, models.AuditResponse{}, fmt.Errorf("response %d moved concurrently: %w", id, apperr.ErrNotFound)
	}
	return audit, r, nil
}

func (m *Mutator) UpdateResponse(ctx context.Context, tx store.Tx, actor models.Actor, id int64, patch ResponsePatch) (models.AuditResponse, error) {
	_, current, err := m.lockResponse(ctx, tx, actor, id)
	if err != nil {
		return models.AuditResponse{}, err
	}
	next := current
	if patch.Score.Set {
		next.Score = patch.Score.Value
	}
	if patch.Comment.Set {
		next.Comment = patch.Comment.Value
	}
	if patch.IsFlagged.Set {
		next.IsFlagged = patch.IsFlagged.Value
	}
	if patch.AuditID.Set && patch.AuditID.Value != current.AuditID {
		target, err := m.LockAudit(ctx, tx, actor, patch.AuditID.Value, true)
		if err != nil {
			return models.AuditResponse{}, err
		}
		n, err := tx.CountResponseAttachments(ctx, current.ID, 0)
		if err != nil {
			return models.AuditResponse{}, err
		}
		if n > 0 {
			return models.AuditResponse{}, apperr.Invalid("audit_id", "a response with attachments cannot be moved to another audit")
		}
		next.AuditID = target.ID
	}
	return m.saveResponse(ctx, tx, actor, current, next)
}

func (m *Mutator) DeleteResponse(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, id int64) error {
	audit, current, err := m.lockResponse(ctx, tx, actor, id)
	if err != nil {
		return err
	}
	attachments, err := tx.ListResponseAttachments(ctx, id)
	if err != nil {
		return err
	}
	for _, att := range attachments {
		if err := m.removeAttachment(ctx, tx, fx, actor, att); err != nil {
			return err
		}
	}
	if err := tx.DeleteResponse(ctx, id); err != nil {
		return err
	}
	if _, err := m.journal.RecordRef(ctx, tx, models.ActionResponseDeleted, current.LogRef(), &actor, current.LogSnapshot()); err != nil {
		return err
	}
	_, err = scoring.Recompute(ctx, tx, audit.ID)
	return err
}

type AttachmentInput struct {
	ResponseID  int64
	Caption     string
	OfflineUUID *uuid.UUID
	Filename    string
	ContentType string
	// DeclaredSize comes from the transport and is only used to reject
	// oversized uploads early; the stored size is measured after writing.
	DeclaredSize int64
	Body         io.Reader
}

// AddAttachment stores a file for a response. When OfflineUUID was already
// used for this response the existing attachment is returned with
// duplicate set and nothing is written.
func (m *Mutator) AddAttachment(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, in AttachmentInput, allowAdmin bool) (att models.AuditAttachment, duplicate bool, err error) {
	resp, err := tx.GetResponse(ctx, in.ResponseID)
	if err != nil {
		return models.AuditAttachment{}, false, err
	}
	// The audit row lock serializes quota checks for concurrent uploads.
	audit, err := m.LockAudit(ctx, tx, actor, resp.AuditID, allowAdmin)
	if err != nil {
		return models.AuditAttachment{}, false, err
	}
	if in.OfflineUUID != nil {
		existing, err := tx.FindAttachmentByUUID(ctx, *in.OfflineUUID)
		switch {
		case err == nil && existing.ResponseID == resp.ID:
			return existing, true, nil
		case err == nil:
			return models.AuditAttachment{}, false, apperr.Invalid("offline_uuid", "this identifier is already used by another attachment")
		case !errors.Is(err, apperr.ErrNotFound):
			return models.AuditAttachment{}, false, err
		}
	}
	if err := m.governor.Check(ctx, tx, governor.Candidate{ResponseID: resp.ID, AuditID: audit.ID, SizeBytes: in.DeclaredSize}); err != nil {
		return models.AuditAttachment{}, false, err
	}

	key := blob.AttachmentKey(audit.ID, resp.ID, in.Filename)
	size, err := m.putBlob(ctx, fx, key, in.Body, in.ContentType)
	if err != nil {
		return models.AuditAttachment{}, false, err
	}
	uploader := actor.ID
	created, err := tx.InsertAttachment(ctx, models.AuditAttachment{
		ResponseID:  resp.ID,
		AuditID:     audit.ID,
		StorageKey:  key,
		Caption:     strings.TrimSpace(in.Caption),
		OfflineUUID: in.OfflineUUID,
		SizeBytes:   size,
		UploadedBy:  &uploader,
	})
	if err != nil {
		return models.AuditAttachment{}, false, err
	}
	if _, err := m.journal.Record(ctx, tx, models.ActionAttachmentCreated, created, &actor, created.LogSnapshot()); err != nil {
		return models.AuditAttachment{}, false, err
	}
	return created, false, nil
}

// putBlob writes body and returns the size actually stored. Reading stops one
// byte past the size limit so oversized bodies are rejected without being
// stored in full.
func (m *Mutator) putBlob(ctx context.Context, fx *Effects, key string, body io.Reader, contentType string) (int64, error) {
	if limit := m.governor.Limits().MaxFileBytes; limit > 0 {
		body = io.LimitReader(body, limit+1)
	}
	fx.dropOnRollback(key)
	if err := m.blobs.Put(ctx, key, body, contentType); err != nil {
		return 0, fmt.Errorf("store file: %w", err)
	}
	size, err := m.blobs.Stat(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("measure stored file: %w", err)
	}
	if err := m.governor.CheckSize(size); err != nil {
		return 0, err
	}
	return size, nil
}

func (m *Mutator) lockAttachment(ctx context.Context, tx store.Tx, actor models.Actor, id int64) (models.Audit, models.AuditAttachment, error) {
	peek, err := tx.GetAttachment(ctx, id)
	if err != nil {
		return models.Audit{}, models.AuditAttachment{}, err
	}
	audit, err := m.LockAudit(ctx, tx, actor, peek.AuditID, true)
	if err != nil {
		return models.Audit{}, models.AuditAttachment{}, err
	}
	att, err := tx.GetAttachmentForUpdate(ctx, id)
	if err != nil {
		return models.Audit{}, models.AuditAttachment{}, err
	}
	return audit, att, nil
}

func (m *Mutator) UpdateAttachmentCaption(ctx context.Context, tx store.Tx, actor models.Actor, id int64, caption string) (models.AuditAttachment, error) {
	audit, current, err := m.lockAttachment(ctx, tx, actor, id)
	if err != nil {
		return models.AuditAttachment{}, err
	}
	next := current
	next.Caption = strings.TrimSpace(caption)
	if err := m.governor.Check(ctx, tx, governor.Candidate{ID: current.ID, ResponseID: current.ResponseID, AuditID: audit.ID, SizeBytes: current.SizeBytes}); err != nil {
		return models.AuditAttachment{}, err
	}
	changes := journal.Changes(current.LogSnapshot(), next.LogSnapshot())
	if len(changes) == 0 {
		return current, nil
	}
	saved, err := tx.UpdateAttachment(ctx, next)
	if err != nil {
		return models.AuditAttachment{}, err
	}
	if _, err := m.journal.Record(ctx, tx, models.ActionAttachmentUpdated, saved, &actor, map[string]interface{}{
		"changes": changes,
	}); err != nil {
		return models.AuditAttachment{}, err
	}
	return saved, nil
}

func (m *Mutator) DeleteAttachment(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, id int64) error {
	_, att, err := m.lockAttachment(ctx, tx, actor, id)
	if err != nil {
		return err
	}
	return m.removeAttachment(ctx, tx, fx, actor, att)
}

func (m *Mutator) removeAttachment(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, att models.AuditAttachment) error {
	if err := tx.DeleteAttachment(ctx, att.ID); err != nil {
		return err
	}
	if _, err := m.journal.RecordRef(ctx, tx, models.ActionAttachmentDeleted, att.LogRef(), &actor, att.LogSnapshot()); err != nil {
		return err
	}
	fx.dropAfterCommit(att.StorageKey)
	return nil
}

type SignatureInput struct {
	SignerName  string
	Filename    string
	ContentType string
	Body        io.Reader
}

// SaveSignature creates or replaces the audit's signature image.
func (m *Mutator) SaveSignature(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, auditID int64, in SignatureInput) (models.AuditSignature, error) {
	audit, err := m.LockAudit(ctx, tx, actor, auditID, true)
	if err != nil {
		return models.AuditSignature{}, err
	}
	key := blob.SignatureKey(audit.ID, in.Filename)
	if _, err := m.putBlob(ctx, fx, key, in.Body, in.ContentType); err != nil {
		return models.AuditSignature{}, err
	}
	next := models.AuditSignature{
		AuditID:    audit.ID,
		SignedBy:   actor.ID,
		SignerName: strings.TrimSpace(in.SignerName),
		ImageKey:   key,
		SignedAt:   m.now(),
	}

	current, err := tx.GetSignatureForUpdate(ctx, audit.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		created, err := tx.InsertSignature(ctx, next)
		if err != nil {
			return models.AuditSignature{}, err
		}
		if _, err := m.journal.Record(ctx, tx, models.ActionSignatureCreated, created, &actor, created.LogSnapshot()); err != nil {
			return models.AuditSignature{}, err
		}
		return created, nil
	case err != nil:
		return models.AuditSignature{}, err
	}

	next.ID = current.ID
	saved, err := tx.UpdateSignature(ctx, next)
	if err != nil {
		return models.AuditSignature{}, err
	}
	if _, err := m.journal.Record(ctx, tx, models.ActionSignatureUpdated, saved, &actor, map[string]interface{}{
		"changes": journal.Changes(current.LogSnapshot(), saved.LogSnapshot()),
	}); err != nil {
		return models.AuditSignature{}, err
	}
	fx.dropAfterCommit(current.ImageKey)
	return saved, nil
}

func (m *Mutator) DeleteSignature(ctx context.Context, tx store.Tx, fx *Effects, actor models.Actor, auditID int64) error {
	if _, err := m.LockAudit(ctx, tx, actor, auditID, true); err != nil {
		return err
	}
	current, err := tx.GetSignatureForUpdate(ctx, auditID)
	if err != nil {
		return err
	}
	if err := tx.DeleteSignature(ctx, current.ID); err != nil {
		return err
	}
	if _, err := m.journal.RecordRef(ctx, tx, models.ActionSignatureDeleted, current.LogRef(), &actor, current.LogSnapshot()); err != nil {
		return err
	}
	fx.dropAfterCommit(current.ImageKey)
	return nil
}
