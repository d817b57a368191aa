// Package email sends transactional mail through Postmark, with a
// file-based sender for local development.
package email

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrFailedToSend  = errors.New("failed to send email")
	ErrInvalidConfig = errors.New("invalid email configuration")
	ErrInvalidParams = errors.New("invalid email parameters")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Config holds the outbound mail settings. The Postmark tokens are optional
// so development environments can run on the file sender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL,required"`
	SupportEmail         string `env:"SUPPORT_EMAIL,required"`
}

// Sender sends one transactional email.
type Sender interface {
	Send(ctx context.Context, params SendParams) error
}

// SendParams describes one outbound message.
type SendParams struct {
	To       string
	Subject  string
	BodyHTML string
	Tag      string // Postmark message stream tag, optional
}

// Validate checks the parameters before any network call.
func (p SendParams) Validate() error {
	if !emailRegex.MatchString(p.To) {
		return fmt.Errorf("%w: recipient %q is not a valid address", ErrInvalidParams, p.To)
	}
	if p.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidParams)
	}
	if p.BodyHTML == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidParams)
	}
	return nil
}
