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

// AppriseConfig holds the Apprise gateway and ntfy target settings.
type AppriseConfig struct {
	URL       string
	Token     string
	NtfyHost  string
	NtfyTopic string
	NtfyToken string
}

// AppriseClient pushes operational notifications through an Apprise gateway
// to an ntfy topic.
type AppriseClient struct {
	cfg    AppriseConfig
	client *http.Client
}

// NewAppriseClient builds the client. Missing settings surface as a
// "not configured" send error that callers treat as non-fatal.
func NewAppriseClient(cfg AppriseConfig) *AppriseClient {
	return &AppriseClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type apprisePayload struct {
	URLs  []string `json:"urls"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tag   string   `json:"tag"`
}

// SendNotification delivers one notification. Priority runs 1 (min) to
// 5 (urgent); tags are ntfy emoji tags.
func (c *AppriseClient) SendNotification(title, message string, priority int, tags []string) error {
	if c.cfg.URL == "" || c.cfg.NtfyHost == "" || c.cfg.NtfyTopic == "" {
		return errors.New("apprise gateway is not configured, notification not sent")
	}
	ntfyURL := fmt.Sprintf(
		"ntfy://%s/%s?token=%s&priority=%d&format=markdown",
		c.cfg.NtfyHost, c.cfg.NtfyTopic, c.cfg.NtfyToken, priority,
	)
	payload := apprisePayload{
		URLs:  []string{ntfyURL},
		Title: title,
		Body:  message,
		Tag:   strings.Join(tags, ","),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode apprise payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build apprise request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("apprise error: %d %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}
