package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/reconciler"
)

// handleSync dispatches on content type: JSON bodies are data batches,
// multipart bodies carry one attachment.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	actor := actorFrom(r)

	switch mediaType {
	case "application/json":
		defer r.Body.Close()
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody()))
		if err != nil {
			s.respondError(w, r, apperr.Malformed("payload", "request body is too large or unreadable"))
			return
		}
		out := s.reconciler.SyncBatch(r.Context(), actor, raw)
		respondJSON(w, out.Status, out.Body)

	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.maxMemory()); err != nil {
			s.respondError(w, r, apperr.Malformed("payload", "multipart body could not be read"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, err := s.formFile(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if file != nil {
			defer file.close()
		}
		var part *reconciler.File
		if file != nil {
			part = &file.File
		}
		out := s.reconciler.SyncAttachment(r.Context(), actor, []byte(r.FormValue("payload")), part)
		respondJSON(w, out.Status, out.Body)

	default:
		s.respondError(w, r, fmt.Errorf("%w: %q", apperr.ErrUnsupportedMedia, mediaType))
	}
}

type uploadedFile struct {
	reconciler.File
	close func() error
}

// formFile opens the "file" part. A missing part is returned as nil so the
// caller can report it in its own terms.
func (s *Server) formFile(r *http.Request) (*uploadedFile, error) {
	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Malformed("file", "file part could not be read")
	}
	return &uploadedFile{
		File: reconciler.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        f,
		},
		close: f.Close,
	}, nil
}

func (s *Server) maxMemory() int64 {
	if s.cfg.MaxUploadMemory > 0 {
		return s.cfg.MaxUploadMemory
	}
	return 16 << 20
}

// maxBody bounds JSON batches. Batches carry no binaries, so the upload
// memory budget is a generous ceiling.
func (s *Server) maxBody() int64 {
	return s.maxMemory()
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	batch, err := s.service.GetBatch(r.Context(), actorFrom(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, batch)
}
