package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/auth"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/blob"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/config"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/governor"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/journal"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/logging"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/notify"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/reconciler"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/service"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

var secret = []byte("test-secret")

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Event) error { return nil }

type testServer struct {
	handler  http.Handler
	store    *store.MemoryStore
	question int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	logger := logging.Discard()
	now := func() time.Time { return time.Now().UTC() }
	svc := service.New(st, service.NewMutator(journal.New(now), governor.New(governor.Limits{}), blobs, now), nopNotifier{}, blobs, logger)
	cfg := config.Config{RequestTimeout: 5 * time.Second, MaxUploadMemory: 1 << 20}
	srv := New(cfg, svc, reconciler.New(svc, logger), auth.NewHMACVerifier(secret, "liftcheck"), logger)
	question := st.SeedQuestion("Doors close smoothly")
	st.SeedElevator(1)
	return &testServer{handler: srv.Router(), store: st, question: question}
}

func token(t *testing.T, id int64, roles ...string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "liftcheck",
		"sub":   strconv.FormatInt(id, 10),
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	return s
}

func (ts *testServer) do(t *testing.T, method, path, bearer, contentType string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

// syncAudit creates one audit with one response and returns their ids.
func (ts *testServer) syncAudit(t *testing.T, bearer string) (int64, int64) {
	t.Helper()
	payload := fmt.Sprintf(`{
		"device_id": "tablet-7",
		"audits": [{
			"client_id": "a-1",
			"elevator_id": 1,
			"responses": [{"client_id": "r-1", "question_id": %d, "score": 4}]
		}]
	}`, ts.question)
	rec, body := ts.do(t, http.MethodPost, "/api/sync", bearer, "application/json", []byte(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	audit := body["audits"].([]interface{})[0].(map[string]interface{})
	response := audit["responses"].([]interface{})[0].(map[string]interface{})
	return int64(audit["id"].(float64)), int64(response["id"].(float64))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, http.MethodPost, "/api/sync", "", "application/json", []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/sync", token(t, 5, "viewer"), "application/json", []byte(`{}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSyncRejectsUnknownContentType(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodPost, "/api/sync", token(t, 5, models.RoleFieldAuditor), "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "unsupported_media_type", body["code"])
	assert.Equal(t, 0, ts.store.Counts()["batches"])
}

func TestSyncInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodPost, "/api/sync", token(t, 5, models.RoleFieldAuditor), "application/json; charset=utf-8", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", body["code"])
}

func TestInteractiveLifecycle(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	admin := token(t, 1, models.RoleAdmin)
	auditID, responseID := ts.syncAudit(t, owner)

	rec, body := ts.do(t, http.MethodPatch, fmt.Sprintf("/api/responses/%d", responseID), owner, "application/json", []byte(`{"score": 2, "comment": "worn"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), body["score"])
	assert.Equal(t, "worn", body["comment"])

	rec, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/audits/%d", auditID), owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["audit"].(map[string]interface{})["total_score"])
	assert.Len(t, body["responses"], 1)

	rec, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/audits/%d/submit", auditID), owner, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "draft cannot skip to submitted")
	assert.Equal(t, "validation_error", body["code"])

	for _, step := range []string{"start", "submit"} {
		rec, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/audits/%d/%s", auditID, step), owner, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, step)
	}

	rec, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/audits/%d/review", auditID), owner, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/audits/%d/request-changes", auditID), admin, "application/json", []byte(`{"message": "retake photos"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.StatusSubmitted), body["status"])

	rec, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/audits/%d/review", auditID), admin, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.StatusReviewed), body["status"])
}

func TestUpdateResponseClearsScore(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	auditID, responseID := ts.syncAudit(t, owner)

	rec, body := ts.do(t, http.MethodPatch, fmt.Sprintf("/api/responses/%d", responseID), owner, "application/json", []byte(`{"score": null}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, body["score"])

	audit, err := ts.store.GetAudit(context.Background(), auditID)
	require.NoError(t, err)
	assert.Equal(t, 0, audit.TotalScore)

	rec, body = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/responses/%d", responseID), owner, "application/json", []byte(`{"is_flagged": "yes"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payload", body["code"])
}

func TestForeignAuditIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	auditID, _ := ts.syncAudit(t, token(t, 5, models.RoleFieldAuditor))

	rec, _ := ts.do(t, http.MethodGet, fmt.Sprintf("/api/audits/%d", auditID), token(t, 6, models.RoleFieldAuditor), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/audits/abc", token(t, 6, models.RoleFieldAuditor), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncAttachmentMultipart(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	_, responseID := ts.syncAudit(t, owner)

	offline := uuid.NewString()
	payload := fmt.Sprintf(`{"device_id": "tablet-7", "attachment": {"response_id": %d, "offline_uuid": %q, "caption": "Cab"}}`, responseID, offline)
	body, contentType := multipartBody(t, map[string]string{"payload": payload}, "cab.jpg", []byte("jpeg-bytes"))

	rec, out := ts.do(t, http.MethodPost, "/api/sync", owner, contentType, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, offline, out["attachment"].(map[string]interface{})["offline_uuid"])

	body, contentType = multipartBody(t, map[string]string{"payload": payload}, "cab.jpg", []byte("jpeg-bytes"))
	rec, out = ts.do(t, http.MethodPost, "/api/sync", owner, contentType, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["duplicate"])
	assert.Equal(t, 1, ts.store.Counts()["attachments"])
}

func TestSyncAttachmentMissingFile(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	_, responseID := ts.syncAudit(t, owner)

	payload := fmt.Sprintf(`{"device_id": "tablet-7", "attachment": {"response_id": %d}}`, responseID)
	body, contentType := multipartBody(t, map[string]string{"payload": payload}, "", nil)
	rec, out := ts.do(t, http.MethodPost, "/api/sync", owner, contentType, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payload", out["code"])
}

func TestUploadAndDeleteAttachment(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	_, responseID := ts.syncAudit(t, owner)

	body, contentType := multipartBody(t, map[string]string{"caption": "Pit"}, "pit.png", []byte("png-bytes"))
	rec, out := ts.do(t, http.MethodPost, fmt.Sprintf("/api/responses/%d/attachments", responseID), owner, contentType, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Pit", out["caption"])
	assert.Equal(t, float64(len("png-bytes")), out["size_bytes"])
	attachmentID := int64(out["id"].(float64))

	rec, out = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/attachments/%d", attachmentID), owner, "application/json", []byte(`{"caption": "Pit floor"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pit floor", out["caption"])

	rec, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/attachments/%d", attachmentID), owner, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, ts.store.Counts()["attachments"])
}

func TestSignatureRoutes(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	auditID, _ := ts.syncAudit(t, owner)

	body, contentType := multipartBody(t, map[string]string{"signer_name": "P. Petrov"}, "sig.png", []byte("sig"))
	rec, out := ts.do(t, http.MethodPut, fmt.Sprintf("/api/audits/%d/signature", auditID), owner, contentType, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "P. Petrov", out["signer_name"])

	rec, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/audits/%d/signature", auditID), owner, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuditLogIsAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	ts.syncAudit(t, owner)

	rec, _ := ts.do(t, http.MethodGet, "/api/audit-log", owner, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := token(t, 1, models.RoleAdmin)
	rec, out := ts.do(t, http.MethodGet, "/api/audit-log?entity_type="+models.EntityBatch, admin, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, out["entries"], 2)

	rec, out = ts.do(t, http.MethodGet, "/api/audit-log?since=yesterday&limit=0", admin, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := out["errors"].(map[string]interface{})
	assert.Contains(t, fields, "since")
	assert.Contains(t, fields, "limit")
}

func TestGetBatch(t *testing.T) {
	ts := newTestServer(t)
	owner := token(t, 5, models.RoleFieldAuditor)
	ts.syncAudit(t, owner)

	rec, out := ts.do(t, http.MethodGet, "/api/sync/batches/1", owner, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.BatchApplied), out["status"])
	assert.Equal(t, "tablet-7", out["device_id"])

	rec, _ = ts.do(t, http.MethodGet, "/api/sync/batches/1", token(t, 6, models.RoleFieldAuditor), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
