// Package trigger enqueues supervisor jobs on a schedule or from S3 objects.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/queue"
)

// Enqueue submits one supervisor job and returns its id.
type Enqueue func(ctx context.Context, req model.SupervisorJobRequest) (string, error)

// QueueEnqueue submits to the supervisor queue without waiting for the job.
func QueueEnqueue(q *queue.Queue[model.SupervisorJobRequest, string]) Enqueue {
	return func(ctx context.Context, req model.SupervisorJobRequest) (string, error) {
		h, err := q.Submit(ctx, req)
		if err != nil {
			return "", err
		}
		return h.ID(), nil
	}
}

// ParseOrgList reads either a JSON array of strings or one organization per
// line. Blank lines and lines starting with # are skipped.
func ParseOrgList(data []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var orgs []string
		if err := json.Unmarshal([]byte(trimmed), &orgs); err != nil {
			return nil, fmt.Errorf("parsing organization list: %w", err)
		}
		return compact(orgs), nil
	}
	var orgs []string
	for line := range strings.Lines(trimmed) {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		orgs = append(orgs, line)
	}
	return compact(orgs), nil
}

func compact(orgs []string) []string {
	out := make([]string, 0, len(orgs))
	for _, o := range orgs {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
