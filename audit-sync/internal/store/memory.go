package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

// MemoryStore keeps everything in process. Transactions run one at a time
// against a copy of the state that replaces the original on commit, which
// gives the same all-or-nothing behaviour as the database.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	seq         map[string]int64
	buildings   map[int64]models.Building
	elevators   map[int64]models.Elevator
	questions   map[int64]string
	audits      map[int64]models.Audit
	responses   map[int64]models.AuditResponse
	attachments map[int64]models.AuditAttachment
	signatures  map[int64]models.AuditSignature
	batches     map[int64]models.OfflineSyncBatch
	refs        map[ClientRef]int64
	log         []models.AuditLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			seq:         map[string]int64{},
			buildings:   map[int64]models.Building{},
			elevators:   map[int64]models.Elevator{},
			questions:   map[int64]string{},
			audits:      map[int64]models.Audit{},
			responses:   map[int64]models.AuditResponse{},
			attachments: map[int64]models.AuditAttachment{},
			signatures:  map[int64]models.AuditSignature{},
			batches:     map[int64]models.OfflineSyncBatch{},
			refs:        map[ClientRef]int64{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		seq:         copyMap(s.seq),
		buildings:   copyMap(s.buildings),
		elevators:   copyMap(s.elevators),
		questions:   copyMap(s.questions),
		audits:      copyMap(s.audits),
		responses:   copyMap(s.responses),
		attachments: copyMap(s.attachments),
		signatures:  copyMap(s.signatures),
		batches:     copyMap(s.batches),
		refs:        copyMap(s.refs),
		log:         append([]models.AuditLogEntry(nil), s.log...),
	}
}

func (s *memState) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(&memTx{s: work, now: m.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	m.state = work
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) GetAudit(ctx context.Context, id int64) (models.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.audits[id]
	if !ok {
		return models.Audit{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListResponses(ctx context.Context, auditID int64) ([]models.AuditResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditResponse
	for _, r := range m.state.responses {
		if r.AuditID == auditID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, id int64) (models.OfflineSyncBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.batches[id]
	if !ok {
		return models.OfflineSyncBatch{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) ListAttachments(ctx context.Context) ([]models.AuditAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedAttachments(m.state.attachments, func(models.AuditAttachment) bool { return true }), nil
}

func (m *MemoryStore) SetAttachmentSize(ctx context.Context, id int64, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.attachments[id]
	if !ok {
		return ErrNotFound
	}
	a.SizeBytes = size
	m.state.attachments[id] = a
	return nil
}

func (m *MemoryStore) ListLogEntries(ctx context.Context, f LogFilter) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLogEntry
	for _, e := range m.state.log {
		if f.matches(e) {
			out = append(out, e)
		}
		if len(out) == f.limit() {
			break
		}
	}
	return out, nil
}

// SeedQuestion registers a checklist question and returns its id.
func (m *MemoryStore) SeedQuestion(text string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.state.next("questions")
	m.state.questions[id] = text
	return id
}

// SeedElevator creates an approved building and elevator owned by createdBy.
func (m *MemoryStore) SeedElevator(createdBy int64) models.Elevator {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	b := models.Building{ID: m.state.next("buildings"), Address: "seed", ReviewStatus: models.ReviewApproved, CreatedBy: createdBy, CreatedAt: now}
	m.state.buildings[b.ID] = b
	e := models.Elevator{ID: m.state.next("elevators"), BuildingID: b.ID, Identifier: fmt.Sprintf("EL-%d", b.ID),
		Status: models.ElevatorInService, ReviewStatus: models.ReviewApproved, CreatedBy: createdBy, CreatedAt: now}
	m.state.elevators[e.ID] = e
	return e
}

// Counts reports row totals per table, for assertions in tests.
func (m *MemoryStore) Counts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"buildings":   len(m.state.buildings),
		"elevators":   len(m.state.elevators),
		"audits":      len(m.state.audits),
		"responses":   len(m.state.responses),
		"attachments": len(m.state.attachments),
		"signatures":  len(m.state.signatures),
		"batches":     len(m.state.batches),
		"log":         len(m.state.log),
	}
}

func sortedAttachments(in map[int64]models.AuditAttachment, keep func(models.AuditAttachment) bool) []models.AuditAttachment {
	var out []models.AuditAttachment
	for _, a := range in {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) CreateBuilding(ctx context.Context, b models.Building) (models.Building, error) {
	b.ID = t.s.next("buildings")
	b.CreatedAt = t.now()
	t.s.buildings[b.ID] = b
	return b, nil
}

func (t *memTx) CreateElevator(ctx context.Context, e models.Elevator) (models.Elevator, error) {
	if _, ok := t.s.buildings[e.BuildingID]; !ok {
		return models.Elevator{}, fmt.Errorf("insert elevator: building %d missing", e.BuildingID)
	}
	e.ID = t.s.next("elevators")
	e.CreatedAt = t.now()
	t.s.elevators[e.ID] = e
	return e, nil
}

func (t *memTx) BuildingExists(ctx context.Context, id int64) (bool, error) {
	_, ok := t.s.buildings[id]
	return ok, nil
}

func (t *memTx) ElevatorExists(ctx context.Context, id int64) (bool, error) {
	_, ok := t.s.elevators[id]
	return ok, nil
}

func (t *memTx) QuestionExists(ctx context.Context, id int64) (bool, error) {
	_, ok := t.s.questions[id]
	return ok, nil
}

func (t *memTx) LookupClientRef(ctx context.Context, ref ClientRef) (int64, error) {
	id, ok := t.s.refs[ref]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (t *memTx) SaveClientRef(ctx context.Context, ref ClientRef, serverID int64) error {
	if _, ok := t.s.refs[ref]; ok {
		return fmt.Errorf("save client ref: %w", ErrConflict)
	}
	t.s.refs[ref] = serverID
	return nil
}

func (t *memTx) GetAuditForUpdate(ctx context.Context, id int64) (models.Audit, error) {
	a, ok := t.s.audits[id]
	if !ok {
		return models.Audit{}, fmt.Errorf("lock audit %d: %w", id, ErrNotFound)
	}
	return a, nil
}

func (t *memTx) AuditStatus(ctx context.Context, id int64) (models.AuditStatus, error) {
	a, ok := t.s.audits[id]
	if !ok {
		return "", ErrNotFound
	}
	return a.Status, nil
}

func copyInfo(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (t *memTx) InsertAudit(ctx context.Context, a models.Audit) (models.Audit, error) {
	if _, ok := t.s.elevators[a.ElevatorID]; !ok {
		return models.Audit{}, fmt.Errorf("insert audit: elevator %d missing", a.ElevatorID)
	}
	now := t.now()
	a.ID = t.s.next("audits")
	a.ObjectInfo = copyInfo(a.ObjectInfo)
	a.CreatedAt, a.UpdatedAt = now, now
	t.s.audits[a.ID] = a
	return a, nil
}

func (t *memTx) UpdateAudit(ctx context.Context, a models.Audit) (models.Audit, error) {
	cur, ok := t.s.audits[a.ID]
	if !ok {
		return models.Audit{}, fmt.Errorf("update audit %d: %w", a.ID, ErrNotFound)
	}
	a.CreatedBy, a.CreatedAt, a.TotalScore = cur.CreatedBy, cur.CreatedAt, cur.TotalScore
	a.ObjectInfo = copyInfo(a.ObjectInfo)
	t.s.audits[a.ID] = a
	return a, nil
}

func (t *memTx) ListResponseScores(ctx context.Context, auditID int64) ([]*int, error) {
	var out []*int
	for _, r := range t.s.responses {
		if r.AuditID == auditID {
			out = append(out, r.Score)
		}
	}
	return out, nil
}

func (t *memTx) SetAuditScore(ctx context.Context, auditID int64, total int) error {
	a, ok := t.s.audits[auditID]
	if !ok {
		return ErrNotFound
	}
	a.TotalScore = total
	t.s.audits[auditID] = a
	return nil
}

func (t *memTx) GetResponse(ctx context.Context, id int64) (models.AuditResponse, error) {
	r, ok := t.s.responses[id]
	if !ok {
		return models.AuditResponse{}, fmt.Errorf("get response %d: %w", id, ErrNotFound)
	}
	return r, nil
}

func (t *memTx) GetResponseForUpdate(ctx context.Context, id int64) (models.AuditResponse, error) {
	return t.GetResponse(ctx, id)
}

func (t *memTx) FindResponseForUpdate(ctx context.Context, auditID, questionID int64) (models.AuditResponse, error) {
	for _, r := range t.s.responses {
		if r.AuditID == auditID && r.QuestionID == questionID {
			return r, nil
		}
	}
	return models.AuditResponse{}, ErrNotFound
}

func (t *memTx) uniqueResponse(r models.AuditResponse) error {
	for _, other := range t.s.responses {
		if other.ID != r.ID && other.AuditID == r.AuditID && other.QuestionID == r.QuestionID {
			return fmt.Errorf("%w: audit_responses_audit_question_key", ErrConflict)
		}
	}
	return nil
}

func (t *memTx) InsertResponse(ctx context.Context, r models.AuditResponse) (models.AuditResponse, error) {
	if err := t.uniqueResponse(r); err != nil {
		return models.AuditResponse{}, fmt.Errorf("insert response: %w", err)
	}
	now := t.now()
	r.ID = t.s.next("responses")
	r.CreatedAt, r.UpdatedAt = now, now
	t.s.responses[r.ID] = r
	return r, nil
}

func (t *memTx) UpdateResponse(ctx context.Context, r models.AuditResponse) (models.AuditResponse, error) {
	cur, ok := t.s.responses[r.ID]
	if !ok {
		return models.AuditResponse{}, fmt.Errorf("update response %d: %w", r.ID, ErrNotFound)
	}
	if err := t.uniqueResponse(r); err != nil {
		return models.AuditResponse{}, fmt.Errorf("update response %d: %w", r.ID, err)
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = t.now()
	t.s.responses[r.ID] = r
	return r, nil
}

func (t *memTx) DeleteResponse(ctx context.Context, id int64) error {
	if _, ok := t.s.responses[id]; !ok {
		return ErrNotFound
	}
	for _, a := range t.s.attachments {
		if a.ResponseID == id {
			return fmt.Errorf("delete response %d: attachments still reference it", id)
		}
	}
	delete(t.s.responses, id)
	return nil
}

func (t *memTx) GetAttachment(ctx context.Context, id int64) (models.AuditAttachment, error) {
	a, ok := t.s.attachments[id]
	if !ok {
		return models.AuditAttachment{}, fmt.Errorf("get attachment %d: %w", id, ErrNotFound)
	}
	return a, nil
}

func (t *memTx) GetAttachmentForUpdate(ctx context.Context, id int64) (models.AuditAttachment, error) {
	a, ok := t.s.attachments[id]
	if !ok {
		return models.AuditAttachment{}, fmt.Errorf("lock attachment %d: %w", id, ErrNotFound)
	}
	return a, nil
}

func (t *memTx) FindAttachmentByUUID(ctx context.Context, offlineUUID uuid.UUID) (models.AuditAttachment, error) {
	for _, a := range t.s.attachments {
		if a.OfflineUUID != nil && *a.OfflineUUID == offlineUUID {
			return a, nil
		}
	}
	return models.AuditAttachment{}, ErrNotFound
}

func (t *memTx) ListResponseAttachments(ctx context.Context, responseID int64) ([]models.AuditAttachment, error) {
	return sortedAttachments(t.s.attachments, func(a models.AuditAttachment) bool { return a.ResponseID == responseID }), nil
}

func (t *memTx) CountResponseAttachments(ctx context.Context, responseID, excludeID int64) (int, error) {
	n := 0
	for _, a := range t.s.attachments {
		if a.ResponseID == responseID && a.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CountAuditAttachments(ctx context.Context, auditID, excludeID int64) (int, error) {
	n := 0
	for _, a := range t.s.attachments {
		if a.AuditID == auditID && a.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertAttachment(ctx context.Context, a models.AuditAttachment) (models.AuditAttachment, error) {
	if a.OfflineUUID != nil {
		if _, err := t.FindAttachmentByUUID(ctx, *a.OfflineUUID); err == nil {
			return models.AuditAttachment{}, fmt.Errorf("insert attachment: %w: audit_attachments_offline_uuid_key", ErrConflict)
		}
	}
	a.ID = t.s.next("attachments")
	a.UploadedAt = t.now()
	t.s.attachments[a.ID] = a
	return a, nil
}

func (t *memTx) UpdateAttachment(ctx context.Context, a models.AuditAttachment) (models.AuditAttachment, error) {
	cur, ok := t.s.attachments[a.ID]
	if !ok {
		return models.AuditAttachment{}, fmt.Errorf("update attachment %d: %w", a.ID, ErrNotFound)
	}
	cur.Caption = a.Caption
	cur.SizeBytes = a.SizeBytes
	t.s.attachments[a.ID] = cur
	return cur, nil
}

func (t *memTx) DeleteAttachment(ctx context.Context, id int64) error {
	if _, ok := t.s.attachments[id]; !ok {
		return ErrNotFound
	}
	delete(t.s.attachments, id)
	return nil
}

func (t *memTx) GetSignatureForUpdate(ctx context.Context, auditID int64) (models.AuditSignature, error) {
	for _, s := range t.s.signatures {
		if s.AuditID == auditID {
			return s, nil
		}
	}
	return models.AuditSignature{}, ErrNotFound
}

func (t *memTx) InsertSignature(ctx context.Context, s models.AuditSignature) (models.AuditSignature, error) {
	if _, err := t.GetSignatureForUpdate(ctx, s.AuditID); err == nil {
		return models.AuditSignature{}, fmt.Errorf("insert signature: %w", ErrConflict)
	}
	s.ID = t.s.next("signatures")
	t.s.signatures[s.ID] = s
	return s, nil
}

func (t *memTx) UpdateSignature(ctx context.Context, s models.AuditSignature) (models.AuditSignature, error) {
	if _, ok := t.s.signatures[s.ID]; !ok {
		return models.AuditSignature{}, fmt.Errorf("update signature %d: %w", s.ID, ErrNotFound)
	}
	t.s.signatures[s.ID] = s
	return s, nil
}

func (t *memTx) DeleteSignature(ctx context.Context, id int64) error {
	if _, ok := t.s.signatures[id]; !ok {
		return ErrNotFound
	}
	delete(t.s.signatures, id)
	return nil
}

func (t *memTx) InsertBatch(ctx context.Context, b models.OfflineSyncBatch) (models.OfflineSyncBatch, error) {
	now := t.now()
	b.ID = t.s.next("batches")
	b.CreatedAt, b.UpdatedAt = now, now
	t.s.batches[b.ID] = b
	return b, nil
}

func (t *memTx) FinalizeBatch(ctx context.Context, b models.OfflineSyncBatch) (models.OfflineSyncBatch, error) {
	cur, ok := t.s.batches[b.ID]
	if !ok || cur.Status != models.BatchPending {
		return models.OfflineSyncBatch{}, fmt.Errorf("finalize batch %d: %w", b.ID, ErrNotFound)
	}
	cur.Status = b.Status
	cur.ErrorDetails = b.ErrorDetails
	cur.ResponsePayload = b.ResponsePayload
	cur.ResponseStatus = b.ResponseStatus
	cur.UpdatedAt = t.now()
	t.s.batches[b.ID] = cur
	return cur, nil
}

func (t *memTx) AppendLogEntry(ctx context.Context, e models.AuditLogEntry) (models.AuditLogEntry, error) {
	e.ID = t.s.next("log")
	t.s.log = append(t.s.log, e)
	return e, nil
}
