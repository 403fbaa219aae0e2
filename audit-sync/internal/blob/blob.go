// Package blob stores attachment and signature files.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrNotExist = errors.New("blob: object does not exist")

type Object struct {
	Key  string
	Size int64
}

// Store persists opaque objects by key. Stat reports the size actually held,
// which is what callers record; sizes declared by uploaders are not trusted.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Stat(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

const AttachmentPrefix = "audits/"

// AttachmentKey lays attachments out as audits/<audit>/<response>/<uuid><ext>.
func AttachmentKey(auditID, responseID int64, filename string) string {
	return path.Join("audits", fmt.Sprint(auditID), fmt.Sprint(responseID), uuid.NewString()+extension(filename))
}

func SignatureKey(auditID int64, filename string) string {
	return path.Join("signatures", fmt.Sprint(auditID), uuid.NewString()+extension(filename))
}

func extension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		return ""
	}
	return ext
}
