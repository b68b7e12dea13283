// Package platform hands a scraper job to a remote execution platform.
package platform

import (
	"context"
	"maps"
	"slices"

	"github.com/rivernews/slack-middleware-server/internal/model"
)

const (
	NameCI      = "ci"
	NameCluster = "cluster"
)

// Submitter launches one worker execution for req. It returns once the
// platform accepted the work, not when the worker finished.
type Submitter interface {
	Submit(ctx context.Context, req model.ScraperJobRequest) error
}

// sortedEnv returns the keys of env in a stable order.
func sortedEnv(env map[string]string) []string {
	return slices.Sorted(maps.Keys(env))
}
