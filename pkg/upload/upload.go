// Package upload stores chat attachments on local disk and hands back the
// reference a client embeds in a later chat-message envelope. The messaging
// core treats this as an external collaborator; nothing here touches rooms
// or the message log.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/mahaj/placement-chat/pkg/model"
)

var (
	ErrTooLarge        = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Images, PDFs and Word documents, matching what the web chat widget has
// always accepted.
var allowedPrefixes = []string{
	"image/",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

type Service struct {
	dir      string
	maxBytes int64
	log      *slog.Logger
}

func NewService(dir string, maxBytes int64, log *slog.Logger) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Service{dir: dir, maxBytes: maxBytes, log: log}, nil
}

// Save streams the file to disk under a fresh uuid name, sniffing the actual
// content type rather than trusting the client's. Rejected files are removed.
func (s *Service) Save(originalName string, r io.Reader) (model.Attachment, error) {
	storedName := uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(s.dir, storedName)

	f, err := os.Create(path)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("create upload file: %w", err)
	}

	// Count exactly one byte past the limit so oversized uploads stop early.
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return model.Attachment{}, fmt.Errorf("write upload: %w", err)
	}
	if n > s.maxBytes {
		os.Remove(path)
		return model.Attachment{}, ErrTooLarge
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		os.Remove(path)
		return model.Attachment{}, fmt.Errorf("detect type: %w", err)
	}
	if !allowed(mtype.String()) {
		os.Remove(path)
		return model.Attachment{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	s.log.Info("stored attachment", "stored", storedName, "original", originalName,
		"type", mtype.String(), "bytes", n)
	return model.Attachment{
		StoredName:   storedName,
		OriginalName: originalName,
		MimeType:     mtype.String(),
		SizeBytes:    n,
	}, nil
}

// Dir is the directory uploads are served from.
func (s *Service) Dir() string {
	return s.dir
}

func allowed(mime string) bool {
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}
