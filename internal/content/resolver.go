// Package content resolves a topic into an ordered list of YouTube video ids.
package content

import (
	"context"
	"net/http"
	"time"
)

// DefaultMaxResults caps how many ids a resolver returns
const DefaultMaxResults = 20

// Resolver turns a topic into an ordered list of video ids
type Resolver interface {
	Resolve(ctx context.Context, topic string) ([]string, error)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// dedupe keeps the first occurrence of each id and stops at limit.
func dedupe(ids []string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
