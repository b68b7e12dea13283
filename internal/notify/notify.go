// Package notify delivers operator notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Slack posts to an incoming webhook, at most rps messages per second.
type Slack struct {
	webhook *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

func NewSlack(webhookURL string, rps float64) (*Slack, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("slack webhook url needs a scheme and a host")
	}
	if rps <= 0 {
		rps = 1
	}
	return &Slack{
		webhook: u,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (s *Slack) Notify(ctx context.Context, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for slack rate limit: %w", err)
	}
	raw, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack webhook status: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Log only logs, used when no webhook is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, text string) error {
	slog.InfoContext(ctx, "notification", "text", text)
	return nil
}

// Quiet wraps a Notifier and logs instead of returning delivery errors.
// Notifications never change the outcome of a job.
func Quiet(n Notifier) func(ctx context.Context, text string) {
	return func(ctx context.Context, text string) {
		if err := n.Notify(ctx, text); err != nil {
			slog.WarnContext(ctx, "notification not delivered", "error", err)
		}
	}
}
