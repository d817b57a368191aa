package email

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSender writes emails to disk instead of sending them. For local
// development and integration tests.
type FileSender struct {
	dir string
}

func NewFileSender(dir string) *FileSender {
	return &FileSender{dir: dir}
}

func (s *FileSender) Send(_ context.Context, params SendParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToSend, err)
	}

	name := fmt.Sprintf("%s_%s.html",
		time.Now().UTC().Format("20060102_150405.000"),
		sanitizeFilename(params.Subject),
	)
	body := fmt.Sprintf("<!-- to: %s | subject: %s | tag: %s -->\n%s",
		params.To, params.Subject, params.Tag, params.BodyHTML)

	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(body), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToSend, err)
	}
	return nil
}

func sanitizeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "email"
	}
	return b.String()
}
