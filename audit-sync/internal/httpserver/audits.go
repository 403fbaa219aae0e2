package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/service"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

type auditView struct {
	Audit     models.Audit           `json:"audit"`
	Responses []models.AuditResponse `json:"responses"`
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	audit, responses, err := s.service.GetAudit(r.Context(), actorFrom(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if responses == nil {
		responses = []models.AuditResponse{}
	}
	respondJSON(w, http.StatusOK, auditView{Audit: audit, Responses: responses})
}

type auditAction func(r *http.Request, actor models.Actor, id int64) (models.Audit, error)

func (s *Server) auditHandler(action auditAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		audit, err := action(r, actorFrom(r), id)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, audit)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.auditHandler(func(r *http.Request, actor models.Actor, id int64) (models.Audit, error) {
		return s.service.Start(r.Context(), actor, id)
	})(w, r)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.auditHandler(func(r *http.Request, actor models.Actor, id int64) (models.Audit, error) {
		return s.service.Submit(r.Context(), actor, id)
	})(w, r)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	s.auditHandler(func(r *http.Request, actor models.Actor, id int64) (models.Audit, error) {
		return s.service.MarkReviewed(r.Context(), actor, id)
	})(w, r)
}

func (s *Server) handleRequestChanges(w http.ResponseWriter, r *http.Request) {
	s.auditHandler(func(r *http.Request, actor models.Actor, id int64) (models.Audit, error) {
		var req service.RequestChangesRequest
		if err := decodeJSON(r, &req); err != nil {
			return models.Audit{}, err
		}
		return s.service.RequestChanges(r.Context(), actor, id, req)
	})(w, r)
}

func (s *Server) handleUpdateResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body map[string]json.RawMessage
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	patch, err := responsePatch(body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp, err := s.service.UpdateResponse(r.Context(), actorFrom(r), id, patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// responsePatch keeps only the keys present in the body so absent fields
// are left untouched and an explicit null score clears it.
func responsePatch(body map[string]json.RawMessage) (service.ResponsePatch, error) {
	var patch service.ResponsePatch
	if raw, ok := body["audit_id"]; ok {
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return patch, apperr.Malformed("audit_id", "must be an integer")
		}
		patch.AuditID = service.Some(v)
	}
	if raw, ok := body["score"]; ok {
		var v *int
		if err := json.Unmarshal(raw, &v); err != nil {
			return patch, apperr.Malformed("score", "must be an integer or null")
		}
		patch.Score = service.Some(v)
	}
	if raw, ok := body["comment"]; ok {
		var v *string
		if err := json.Unmarshal(raw, &v); err != nil {
			return patch, apperr.Malformed("comment", "must be a string")
		}
		comment := ""
		if v != nil {
			comment = *v
		}
		patch.Comment = service.Some(comment)
	}
	if raw, ok := body["is_flagged"]; ok {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return patch, apperr.Malformed("is_flagged", "must be a boolean")
		}
		patch.IsFlagged = service.Some(v)
	}
	return patch, nil
}

func (s *Server) handleDeleteResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteResponse(r.Context(), actorFrom(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(s.maxMemory()); err != nil {
		s.respondError(w, r, apperr.Malformed("file", "multipart body could not be read"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, err := s.formFile(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if file == nil {
		s.respondError(w, r, apperr.Invalid("file", "is required"))
		return
	}
	defer file.close()

	att, err := s.service.UploadAttachment(r.Context(), actorFrom(r), service.AttachmentInput{
		ResponseID:   id,
		Caption:      r.FormValue("caption"),
		Filename:     file.Name,
		ContentType:  file.ContentType,
		DeclaredSize: file.Size,
		Body:         file.Body,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, att)
}

func (s *Server) handleUpdateAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req service.AttachmentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	att, err := s.service.UpdateAttachment(r.Context(), actorFrom(r), id, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, att)
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteAttachment(r.Context(), actorFrom(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveSignature(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(s.maxMemory()); err != nil {
		s.respondError(w, r, apperr.Malformed("file", "multipart body could not be read"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, err := s.formFile(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if file == nil {
		s.respondError(w, r, apperr.Invalid("file", "is required"))
		return
	}
	defer file.close()

	sig, err := s.service.SaveSignature(r.Context(), actorFrom(r), id,
		r.FormValue("signer_name"), file.Name, file.ContentType, file.Body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sig)
}

func (s *Server) handleDeleteSignature(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteSignature(r.Context(), actorFrom(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilter(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	entries, err := s.service.AuditLog(r.Context(), actorFrom(r), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func logFilter(r *http.Request) (store.LogFilter, error) {
	q := r.URL.Query()
	filter := store.LogFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Action:     models.LogAction(q.Get("action")),
	}
	bad := &apperr.ValidationError{Code: apperr.CodeValidation}
	for _, bound := range []struct {
		key string
		dst **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		raw := q.Get(bound.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			bad.Add(bound.key, "must be an RFC 3339 timestamp")
			continue
		}
		t = t.UTC()
		*bound.dst = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			bad.Add("limit", fmt.Sprintf("must be a positive integer, got %q", raw))
		} else {
			filter.Limit = n
		}
	}
	return filter, bad.OrNil()
}
