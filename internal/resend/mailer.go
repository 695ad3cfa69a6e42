// Package resend delivers digest emails through the Resend API.
package resend

import (
	"context"
	"errors"
	"fmt"

	resendsdk "github.com/resendlabs/resend-go"

	"github.com/ignite/insight-digest/internal/pkg/logger"
	"github.com/ignite/insight-digest/internal/service/notify"
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("resend: api key is required")

// EmailAPI is the subset of the Resend client used for sending.
type EmailAPI interface {
	Send(params *resendsdk.SendEmailRequest) (*resendsdk.SendEmailResponse, error)
}

// Mailer implements notify.Mailer on Resend.
type Mailer struct {
	emails EmailAPI
	from   string
}

// NewMailer creates a Resend-backed mailer.
func NewMailer(apiKey, fromEmail, fromName string) (*Mailer, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return NewMailerWithAPI(sdkEmails{resendsdk.NewClient(apiKey).Emails}, fromEmail, fromName), nil
}

// sdkEmails adapts the SDK's EmailsSvc, which returns the response by value,
// to EmailAPI.
type sdkEmails struct {
	svc resendsdk.EmailsSvc
}

func (s sdkEmails) Send(params *resendsdk.SendEmailRequest) (*resendsdk.SendEmailResponse, error) {
	resp, err := s.svc.Send(params)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// NewMailerWithAPI builds a mailer on an existing emails client.
func NewMailerWithAPI(emails EmailAPI, fromEmail, fromName string) *Mailer {
	from := fromEmail
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromEmail)
	}
	return &Mailer{emails: emails, from: from}
}

// Send delivers msg. The Resend client has no context support, so ctx is
// only checked before the call.
func (m *Mailer) Send(ctx context.Context, msg notify.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.To == "" {
		return "", errors.New("resend: empty recipient")
	}

	resp, err := m.emails.Send(&resendsdk.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email via Resend: %w", err)
	}

	id := ""
	if resp != nil {
		id = resp.Id
	}
	logger.Debug("resend email accepted", "recipient", msg.To, "message_id", id)
	return id, nil
}
