package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/grantwatch/internal/privacy"
)

const (
	DefaultUsername = "公募情報"
	DefaultTimeout  = 30 * time.Second
)

// Discord posts payloads to a Discord webhook.
type Discord struct {
	url      string
	username string
	client   *http.Client
}

type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// NewDiscord returns a webhook sink. The webhook URL is a credential and
// never appears in returned errors.
func NewDiscord(webhookURL, username string, timeout time.Duration) (*Discord, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("webhook url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Discord{
		url:      webhookURL,
		username: username,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Deliver implements Sink. Only 200 and 204 count as success.
func (d *Discord) Deliver(ctx context.Context, payload string) error {
	body, err := json.Marshal(discordMessage{Content: payload, Username: d.username})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: privacy.ScrubError(fmt.Errorf("create request: %w", err), d.url)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: privacy.ScrubError(err, d.url)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	de := &DeliveryError{Status: resp.StatusCode}
	if s := strings.TrimSpace(string(msg)); s != "" {
		de.Err = errors.New(privacy.ScrubWebhooks(s, d.url))
	}
	return de
}
