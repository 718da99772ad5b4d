package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// FinishedMessage renders the notification for a completed download.
func FinishedMessage(key, path string, size int64, took time.Duration) string {
	return fmt.Sprintf("Download finished: %s (%s in %s)\n`%s`",
		key, humanize.Bytes(uint64(size)), took.Round(time.Second), path)
}

// FailedMessage renders the notification for a failed or cancelled download.
func FailedMessage(key, reason string, downloaded int64, err error) string {
	msg := fmt.Sprintf("Download %s: %s after %s", reason, key, humanize.Bytes(uint64(downloaded)))
	if err != nil {
		msg += "\n" + err.Error()
	}

	return msg
}
