// Package journal appends audit log entries. It only ever inserts; nothing in
// the service updates or deletes an entry once written.
package journal

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/canonical"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

// Appender is satisfied by a store transaction so entries commit or roll back
// together with the mutation they describe.
type Appender interface {
	AppendLogEntry(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error)
}

type Journal struct {
	now func() time.Time
}

func New(now func() time.Time) *Journal {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Journal{now: now}
}

// Record logs action against a live entity.
func (j *Journal) Record(ctx context.Context, a Appender, action models.LogAction, entity models.Entity, actor *models.Actor, payload map[string]interface{}) (models.AuditLogEntry, error) {
	return j.RecordRef(ctx, a, action, entity.LogRef(), actor, payload)
}

// RecordRef logs action against an explicit reference, for subjects that no
// longer exist such as a just deleted row.
func (j *Journal) RecordRef(ctx context.Context, a Appender, action models.LogAction, ref models.EntityRef, actor *models.Actor, payload map[string]interface{}) (models.AuditLogEntry, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	entry := models.AuditLogEntry{
		Action:     action,
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Payload:    payload,
		CreatedAt:  j.now(),
	}
	if actor != nil {
		id := actor.ID
		entry.ActorID = &id
	}
	stored, err := a.AppendLogEntry(ctx, entry)
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("append %s for %s/%s: %w", action, ref.Type, ref.ID, err)
	}
	return stored, nil
}

// Changes returns {field: {"from": old, "to": new}} for every field whose
// value differs between the two snapshots.
func Changes(before, after map[string]interface{}, ignore ...string) map[string]interface{} {
	skip := make(map[string]bool, len(ignore))
	for _, f := range ignore {
		skip[f] = true
	}
	out := map[string]interface{}{}
	for k, v := range after {
		if skip[k] {
			continue
		}
		if old, ok := before[k]; !ok || !same(old, v) {
			out[k] = map[string]interface{}{"from": before[k], "to": v}
		}
	}
	for k, v := range before {
		if _, ok := after[k]; !ok && !skip[k] {
			out[k] = map[string]interface{}{"from": v, "to": nil}
		}
	}
	return out
}

func same(a, b interface{}) bool {
	ab, errA := canonical.Marshal(a)
	bb, errB := canonical.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
