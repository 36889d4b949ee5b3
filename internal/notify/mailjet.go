// Package notify holds the outbound collaborators: transactional email via
// the Mailjet REST API and operational push notifications via an Apprise
// gateway. Both are best-effort; callers log failures and carry on.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MailjetConfig holds Mailjet API settings.
type MailjetConfig struct {
	URL         string
	APIKey      string
	APISecret   string
	SenderEmail string
	SenderName  string
}

// MailjetClient sends transactional email through the Mailjet v3.1 send API.
type MailjetClient struct {
	cfg    MailjetConfig
	client *http.Client
}

// NewMailjetClient builds the client. Credentials may be empty: sends then
// fail with a "not configured" error that callers treat as non-fatal.
func NewMailjetClient(cfg MailjetConfig) *MailjetClient {
	if cfg.URL == "" {
		cfg.URL = "https://api.mailjet.com/v3.1/send"
	}
	return &MailjetClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type mailjetMessage struct {
	From     mailjetAddress   `json:"From"`
	To       []mailjetAddress `json:"To"`
	Subject  string           `json:"Subject"`
	TextPart string           `json:"TextPart"`
}

type mailjetAddress struct {
	Email string `json:"Email"`
	Name  string `json:"Name,omitempty"`
}

type mailjetPayload struct {
	Messages []mailjetMessage `json:"Messages"`
}

// SendEmail delivers one plain-text message.
func (c *MailjetClient) SendEmail(to, subject, body string) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("mailjet API keys are not set, email not sent")
	}
	payload := mailjetPayload{Messages: []mailjetMessage{{
		From:     mailjetAddress{Email: c.cfg.SenderEmail, Name: c.cfg.SenderName},
		To:       []mailjetAddress{{Email: to}},
		Subject:  subject,
		TextPart: body,
	}}}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mailjet payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build mailjet request: %w", err)
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("mailjet error: %d %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
