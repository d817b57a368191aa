package email_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/email"
	"github.com/safedocs-io/safedocs/pkg/notify"
)

func TestSendParamsValidate(t *testing.T) {
	t.Parallel()

	valid := email.SendParams{To: "user@example.com", Subject: "Hi", BodyHTML: "<p>hi</p>"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*email.SendParams)
	}{
		{"bad recipient", func(p *email.SendParams) { p.To = "not-an-email" }},
		{"empty subject", func(p *email.SendParams) { p.Subject = "" }},
		{"empty body", func(p *email.SendParams) { p.BodyHTML = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
		})
	}
}

func TestNewPostmarkSender_ConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := email.NewPostmarkSender(email.Config{
		SenderEmail:  "noreply@example.com",
		SupportEmail: "support@example.com",
	})
	assert.ErrorIs(t, err, email.ErrInvalidConfig)

	_, err = email.NewPostmarkSender(email.Config{
		PostmarkServerToken:  "srv",
		PostmarkAccountToken: "acc",
		SenderEmail:          "broken",
		SupportEmail:         "support@example.com",
	})
	assert.ErrorIs(t, err, email.ErrInvalidConfig)

	_, err = email.NewPostmarkSender(email.Config{
		PostmarkServerToken:  "srv",
		PostmarkAccountToken: "acc",
		SenderEmail:          "noreply@example.com",
		SupportEmail:         "support@example.com",
	})
	assert.NoError(t, err)
}

func TestFileSender(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sender := email.NewFileSender(filepath.Join(dir, "outbox"))

	err := sender.Send(context.Background(), email.SendParams{
		To:       "user@example.com",
		Subject:  "Plan upgraded",
		BodyHTML: "<p>welcome to pro</p>",
		Tag:      "account-notification",
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "outbox"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "plan_upgraded")

	raw, err := os.ReadFile(filepath.Join(dir, "outbox", entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "user@example.com")
	assert.Contains(t, string(raw), "welcome to pro")
}

type captureSender struct {
	last email.SendParams
}

func (s *captureSender) Send(_ context.Context, p email.SendParams) error {
	s.last = p
	return nil
}

func TestNotificationDeliverer(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sender := &captureSender{}
	deliverer := email.NewNotificationDeliverer(sender, func(_ context.Context, id uuid.UUID) (string, error) {
		if id != userID {
			return "", errors.New("unknown user")
		}
		return "user@example.com", nil
	})

	err := deliverer.Deliver(context.Background(), notify.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      notify.TypeSuccess,
		Title:     "Plan upgraded",
		Message:   "Your plan changed from Free to Pro.",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", sender.last.To)
	assert.Equal(t, "Plan upgraded", sender.last.Subject)
	assert.Contains(t, sender.last.BodyHTML, "Free to Pro")

	err = deliverer.Deliver(context.Background(), notify.Notification{UserID: uuid.New(), Title: "x", Message: "y"})
	assert.Error(t, err, "unresolvable recipients fail delivery, storage is unaffected")
}
