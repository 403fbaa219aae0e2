// Package reconciler applies batches recorded by disconnected field clients.
// Every attempt is recorded in the sync ledger; the domain writes of a batch
// commit together or not at all.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/canonical"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/logging"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/notify"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/service"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

// Outcome is what the caller should send back: an HTTP status and a JSON
// body. Failures are already folded into it, so callers never see raw errors.
type Outcome struct {
	Status int
	Body   interface{}
}

type Reconciler struct {
	svc      *service.Service
	validate *validator.Validate
	logger   *logrus.Logger
	now      func() time.Time
}

func New(svc *service.Service, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		svc:      svc,
		validate: newValidator(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SyncBatch applies one data batch on behalf of actor. Only the owner of an
// audit may touch it through sync; foreign audits look missing.
func (r *Reconciler) SyncBatch(ctx context.Context, actor models.Actor, raw []byte) Outcome {
	tree, deviceID, err := envelope(raw)
	if err != nil {
		return r.reject(err)
	}
	batch, err := r.openBatch(ctx, actor, deviceID, compact(tree), canonical.HashRaw(raw))
	if err != nil {
		logging.LogError(r.logger, "reconciler", "SyncBatch", "open ledger", map[string]interface{}{"device_id": deviceID}, err)
		return r.reject(err)
	}

	var req batchRequest
	if err := decodeInto(raw, &req); err != nil {
		return r.finish(ctx, actor, batch, Outcome{}, err)
	}
	if err := r.validate.Struct(req); err != nil {
		return r.finish(ctx, actor, batch, Outcome{}, validationFields(err))
	}

	var result batchResult
	err = r.svc.Do(ctx, func(tx store.Tx, fx *service.Effects) error {
		var err error
		result, err = r.apply(ctx, tx, fx, actor, req)
		return err
	})
	if err != nil {
		return r.finish(ctx, actor, batch, Outcome{}, err)
	}
	return r.finish(ctx, actor, batch, Outcome{Status: http.StatusOK, Body: result}, nil)
}

// refs resolves client ids to server ids: first those created earlier in the
// same batch, then those remembered from previous batches of the device.
type refs struct {
	tx       store.Tx
	userID   int64
	deviceID string
	seen     map[string]map[string]int64
}

func (rs *refs) key(kind, clientID string) store.ClientRef {
	return store.ClientRef{UserID: rs.userID, DeviceID: rs.deviceID, Kind: kind, ClientID: clientID}
}

func (rs *refs) lookup(ctx context.Context, kind, clientID string) (int64, bool, error) {
	if id, ok := rs.seen[kind][clientID]; ok {
		return id, true, nil
	}
	id, err := rs.tx.LookupClientRef(ctx, rs.key(kind, clientID))
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	rs.remember(kind, clientID, id)
	return id, true, nil
}

func (rs *refs) remember(kind, clientID string, id int64) {
	if rs.seen[kind] == nil {
		rs.seen[kind] = map[string]int64{}
	}
	rs.seen[kind][clientID] = id
}

func (rs *refs) save(ctx context.Context, kind, clientID string, id int64) error {
	if err := rs.tx.SaveClientRef(ctx, rs.key(kind, clientID), id); err != nil {
		return err
	}
	rs.remember(kind, clientID, id)
	return nil
}

func (r *Reconciler) apply(ctx context.Context, tx store.Tx, fx *service.Effects, actor models.Actor, req batchRequest) (batchResult, error) {
	result := newBatchResult(req.DeviceID.String())
	rs := &refs{tx: tx, userID: actor.ID, deviceID: req.DeviceID.String(), seen: map[string]map[string]int64{}}

	if req.Catalog != nil {
		for i, entry := range req.Catalog.Buildings {
			id, err := r.createBuilding(ctx, tx, rs, actor, entry)
			if err != nil {
				return batchResult{}, apperr.Within(fmt.Sprintf("catalog.buildings[%d]", i), err)
			}
			result.Catalog.Buildings = append(result.Catalog.Buildings, idMapping{ClientID: entry.ClientID.String(), ID: id})
		}
		for i, entry := range req.Catalog.Elevators {
			id, err := r.createElevator(ctx, tx, rs, actor, entry)
			if err != nil {
				return batchResult{}, apperr.Within(fmt.Sprintf("catalog.elevators[%d]", i), err)
			}
			result.Catalog.Elevators = append(result.Catalog.Elevators, idMapping{ClientID: entry.ClientID.String(), ID: id})
		}
	}

	for i, entry := range req.Audits {
		mapping, err := r.applyAudit(ctx, tx, fx, rs, actor, i, entry)
		if err != nil {
			return batchResult{}, err
		}
		result.Audits = append(result.Audits, mapping)
	}
	return result, nil
}

func (r *Reconciler) createBuilding(ctx context.Context, tx store.Tx, rs *refs, actor models.Actor, e buildingEntry) (int64, error) {
	if id, ok, err := rs.lookup(ctx, store.KindBuilding, e.ClientID.String()); err != nil || ok {
		return id, err
	}
	b, err := tx.CreateBuilding(ctx, models.Building{
		Address:      e.Address.String(),
		Entrance:     e.Entrance.String(),
		Notes:        e.Notes.String(),
		ReviewStatus: models.ReviewPending,
		CreatedBy:    actor.ID,
	})
	if err != nil {
		return 0, err
	}
	return b.ID, rs.save(ctx, store.KindBuilding, e.ClientID.String(), b.ID)
}

func (r *Reconciler) createElevator(ctx context.Context, tx store.Tx, rs *refs, actor models.Actor, e elevatorEntry) (int64, error) {
	if id, ok, err := rs.lookup(ctx, store.KindElevator, e.ClientID.String()); err != nil || ok {
		return id, err
	}
	buildingID, err := r.resolve(ctx, rs, store.KindBuilding, e.BuildingID, e.BuildingClientID, "building_client_id", tx.BuildingExists)
	if err != nil {
		return 0, err
	}
	status := models.ElevatorStatus(e.Status)
	if status == "" {
		status = models.ElevatorInService
	}
	el, err := tx.CreateElevator(ctx, models.Elevator{
		BuildingID:   buildingID,
		Identifier:   e.Identifier.String(),
		Description:  e.Description.String(),
		Status:       status,
		ReviewStatus: models.ReviewPending,
		CreatedBy:    actor.ID,
	})
	if err != nil {
		return 0, err
	}
	return el.ID, rs.save(ctx, store.KindElevator, e.ClientID.String(), el.ID)
}

// resolve turns either a server id or a client id into a server id. Unknown
// server ids are reported as missing; unknown client ids are input errors.
func (r *Reconciler) resolve(ctx context.Context, rs *refs, kind string, serverID *int64, clientID text, clientField string, exists func(context.Context, int64) (bool, error)) (int64, error) {
	if serverID != nil {
		ok, err := exists(ctx, *serverID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%s %d: %w", kind, *serverID, apperr.ErrNotFound)
		}
		return *serverID, nil
	}
	id, ok, err := rs.lookup(ctx, kind, clientID.String())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperr.Invalid(clientField, fmt.Sprintf("unknown %s client id %q", kind, clientID))
	}
	return id, nil
}

func (r *Reconciler) applyAudit(ctx context.Context, tx store.Tx, fx *service.Effects, rs *refs, actor models.Actor, i int, e auditEntry) (auditMapping, error) {
	path := fmt.Sprintf("audits[%d]", i)
	m := r.svc.Mutator()

	patch, err := auditPatch(e)
	if err != nil {
		return auditMapping{}, apperr.Within(path, err)
	}

	var audit models.Audit
	existingID := e.ID
	if existingID == nil {
		id, ok, err := rs.lookup(ctx, store.KindAudit, e.ClientID.String())
		if err != nil {
			return auditMapping{}, err
		}
		if ok {
			existingID = &id
		}
	}

	if existingID != nil {
		current, err := m.LockAudit(ctx, tx, actor, *existingID, false)
		if err != nil {
			return auditMapping{}, err
		}
		audit, err = m.UpdateAudit(ctx, tx, fx, actor, current, patch)
		if err != nil {
			return auditMapping{}, apperr.Within(path, err)
		}
	} else {
		elevatorID, err := r.resolve(ctx, rs, store.KindElevator, e.ElevatorID, e.ElevatorClientID, "elevator_client_id", tx.ElevatorExists)
		if err != nil {
			return auditMapping{}, apperr.Within(path, err)
		}
		audit, err = m.CreateAudit(ctx, tx, fx, actor, elevatorID, patch)
		if err != nil {
			return auditMapping{}, apperr.Within(path, err)
		}
		if err := rs.save(ctx, store.KindAudit, e.ClientID.String(), audit.ID); err != nil {
			return auditMapping{}, err
		}
	}

	mapping := auditMapping{ClientID: e.ClientID.String(), ID: audit.ID, Responses: []idMapping{}}
	for j, re := range e.Responses {
		comment := re.Comment.String()
		flagged := re.IsFlagged
		resp, err := m.UpsertResponse(ctx, tx, actor, audit, service.ResponseInput{
			ID:            re.ID,
			QuestionID:    *re.QuestionID,
			Score:         re.Score,
			Comment:       &comment,
			IsFlagged:     &flagged,
			OfflineCached: true,
		})
		if err != nil {
			return auditMapping{}, apperr.Within(fmt.Sprintf("%s.responses[%d]", path, j), err)
		}
		mapping.Responses = append(mapping.Responses, idMapping{ClientID: re.ClientID.String(), ID: resp.ID})
	}
	return mapping, nil
}

func auditPatch(e auditEntry) (service.AuditPatch, error) {
	var patch service.AuditPatch
	if e.ObjectInfo.Set {
		info := map[string]interface{}{}
		if e.ObjectInfo.Value != nil {
			info = *e.ObjectInfo.Value
		}
		patch.ObjectInfo = service.Some(info)
	}
	if e.PlannedDate.Set {
		d, err := parseDate("planned_date", e.PlannedDate.Value)
		if err != nil {
			return patch, err
		}
		patch.PlannedDate = service.Some(d)
	}
	if e.StartedAt.Set {
		t, err := parseDateTime("started_at", e.StartedAt.Value)
		if err != nil {
			return patch, err
		}
		patch.StartedAt = service.Some(t)
	}
	if e.FinishedAt.Set {
		t, err := parseDateTime("finished_at", e.FinishedAt.Value)
		if err != nil {
			return patch, err
		}
		patch.FinishedAt = service.Some(t)
	}
	if e.Status.Set {
		if e.Status.Value == nil {
			return patch, apperr.Invalid("status", "status cannot be null")
		}
		status := models.AuditStatus(*e.Status.Value)
		if !status.Valid() {
			return patch, apperr.Invalid("status", fmt.Sprintf("unknown status %q", status))
		}
		patch.Status = service.Some(status)
	}
	return patch, nil
}

// openBatch records the attempt in its own transaction so it survives a
// rollback of the domain writes.
func (r *Reconciler) openBatch(ctx context.Context, actor models.Actor, deviceID string, payload map[string]interface{}, hash string) (models.OfflineSyncBatch, error) {
	var out models.OfflineSyncBatch
	err := r.svc.Store().WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.InsertBatch(ctx, models.OfflineSyncBatch{
			UserID:      actor.ID,
			DeviceID:    deviceID,
			Payload:     payload,
			PayloadHash: hash,
			Status:      models.BatchPending,
		})
		if err != nil {
			return err
		}
		if _, err := r.svc.Mutator().Journal().Record(ctx, tx, models.ActionBatchCreated, b, &actor, b.LogSnapshot()); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// finish settles the ledger row for a batch. When cause is set the outcome is
// derived from it; otherwise ok is recorded as applied.
func (r *Reconciler) finish(ctx context.Context, actor models.Actor, batch models.OfflineSyncBatch, ok Outcome, cause error) Outcome {
	ctx = context.WithoutCancel(ctx)
	out := ok
	update := models.OfflineSyncBatch{ID: batch.ID, Status: models.BatchApplied}
	action := models.ActionBatchApplied
	if cause != nil {
		problem := apperr.Describe(cause)
		if problem.Status >= http.StatusInternalServerError {
			logging.LogError(r.logger, "reconciler", "finish", "apply batch", map[string]interface{}{"batch_id": batch.ID, "device_id": batch.DeviceID}, cause)
		}
		out = Outcome{Status: problem.Status, Body: problem.Body()}
		update.Status = models.BatchError
		update.ErrorDetails = errorDetails(problem, cause)
		action = models.ActionBatchError
	}
	update.ResponseStatus = out.Status
	body, err := toMap(out.Body)
	if err != nil {
		logging.LogError(r.logger, "reconciler", "finish", "encode response", nil, err)
	}
	update.ResponsePayload = body

	err = r.svc.Store().WithTx(ctx, func(tx store.Tx) error {
		saved, err := tx.FinalizeBatch(ctx, update)
		if err != nil {
			return err
		}
		payload := map[string]interface{}{"status": string(saved.Status), "response_status": saved.ResponseStatus}
		if saved.ErrorDetails != nil {
			payload["error_details"] = saved.ErrorDetails
		}
		_, err = r.svc.Mutator().Journal().Record(ctx, tx, action, saved, &actor, payload)
		return err
	})
	if err != nil {
		logging.LogError(r.logger, "reconciler", "finish", "finalize ledger", map[string]interface{}{"batch_id": batch.ID}, err)
	}

	if cause != nil {
		r.svc.Notify(ctx, notify.Event{
			Kind:       notify.SyncBatchFailed,
			Audience:   notify.Operators,
			BatchID:    batch.ID,
			ActorID:    actor.ID,
			Message:    apperr.Describe(cause).Message,
			Details:    update.ErrorDetails,
			OccurredAt: r.now(),
		})
	}
	return out
}

// reject renders failures that happen before a ledger row exists.
func (r *Reconciler) reject(err error) Outcome {
	problem := apperr.Describe(err)
	return Outcome{Status: problem.Status, Body: problem.Body()}
}

func errorDetails(p apperr.Problem, cause error) map[string]interface{} {
	if len(p.Fields) > 0 {
		out := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			out[k] = v
		}
		return out
	}
	return map[string]interface{}{
		"code":    p.Code,
		"message": cause.Error(),
	}
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
