// Package notify sends the end-of-run summary email.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.sendgrid.com"

// Notifier dispatches a plain-text summary with an optional attachment.
type Notifier interface {
	Send(ctx context.Context, subject, body, attachmentPath string) error
}

// SendGrid implements Notifier against the SendGrid v3 mail API.
type SendGrid struct {
	apiKey  string
	from    string
	to      []string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a SendGrid notifier.
type Option func(*SendGrid)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(s *SendGrid) { s.baseURL = u }
}

// WithLogger sets the notifier logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SendGrid) { s.logger = l }
}

// NewSendGrid creates a notifier sending from the given address to the
// given recipients.
func NewSendGrid(apiKey, from string, to []string, opts ...Option) *SendGrid {
	s := &SendGrid{
		apiKey:  apiKey,
		from:    from,
		to:      to,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type mailAddress struct {
	Email string `json:"email"`
}

type mailPayload struct {
	Personalizations []struct {
		To []mailAddress `json:"to"`
	} `json:"personalizations"`
	From    mailAddress `json:"from"`
	Subject string      `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
	Attachments []mailAttachment `json:"attachments,omitempty"`
}

type mailAttachment struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

// Send dispatches the summary. attachmentPath may be empty; when set, the
// file (the run's log) is base64-attached as plain text.
func (s *SendGrid) Send(ctx context.Context, subject, body, attachmentPath string) error {
	payload := mailPayload{
		From:    mailAddress{Email: s.from},
		Subject: subject,
	}
	payload.Personalizations = make([]struct {
		To []mailAddress `json:"to"`
	}, 1)
	for _, addr := range s.to {
		payload.Personalizations[0].To = append(payload.Personalizations[0].To, mailAddress{Email: addr})
	}
	payload.Content = []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{{Type: "text/plain", Value: body}}

	if attachmentPath != "" {
		content, err := os.ReadFile(attachmentPath)
		if err != nil {
			return eris.Wrap(err, "notify: read attachment")
		}
		payload.Attachments = append(payload.Attachments, mailAttachment{
			Content:  base64.StdEncoding.EncodeToString(content),
			Type:     "text/plain",
			Filename: filepath.Base(attachmentPath),
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(raw))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: send mail")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: mail API returned status %d", resp.StatusCode)
	}

	s.logger.Info("notify: summary sent",
		zap.String("subject", subject),
		zap.Int("recipients", len(s.to)),
	)
	return nil
}
