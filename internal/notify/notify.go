// Package notify fans conflict reports out to configured channels. Delivery
// is always best-effort: a failing channel is logged and never blocks the
// others or the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/planwell/plangraph/internal/conflict"
)

// Channel delivers a batch of conflict reports somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, reports []conflict.Report) error
}

// Notifier dispatches reports to every configured channel.
type Notifier struct {
	channels []Channel
	logger   *slog.Logger
}

// New creates a Notifier over the given channels.
func New(logger *slog.Logger, channels ...Channel) *Notifier {
	return &Notifier{channels: channels, logger: logger}
}

// Notify sends reports to each channel independently. Empty input is a
// no-op. Channel failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, reports []conflict.Report) {
	if len(reports) == 0 {
		return
	}
	for _, ch := range n.channels {
		if err := ch.Send(ctx, reports); err != nil {
			n.logger.Warn("Notification channel failed",
				"channel", ch.Name(),
				"reports", len(reports),
				"error", err)
		}
	}
}

// LogChannel writes one log line per report.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a channel that logs each report.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, reports []conflict.Report) error {
	for _, r := range reports {
		c.logger.Warn("Conflict detected",
			"id", r.ID,
			"type", r.Type,
			"severity", string(r.Severity),
			"message", r.Message)
	}
	return nil
}

// FileChannel appends one timestamped JSON line per report.
type FileChannel struct {
	path string
}

// NewFileChannel creates a channel that appends reports to path as JSON lines.
func NewFileChannel(path string) *FileChannel {
	return &FileChannel{path: path}
}

func (c *FileChannel) Name() string { return "file" }

func (c *FileChannel) Send(_ context.Context, reports []conflict.Report) error {
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range reports {
		line := struct {
			Timestamp time.Time       `json:"timestamp"`
			Report    conflict.Report `json:"report"`
		}{
			Timestamp: time.Now().UTC(),
			Report:    r,
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

// WebhookChannel delivers the whole batch as a single POST.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a channel that POSTs report batches to url.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, reports []conflict.Report) error {
	payload := struct {
		Reports   []conflict.Report `json:"reports"`
		Count     int               `json:"count"`
		Timestamp time.Time         `json:"timestamp"`
	}{
		Reports:   reports,
		Count:     len(reports),
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
