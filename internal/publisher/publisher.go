// Package publisher defines the outbound delivery boundary: one Publisher
// per platform, looked up through a Registry at publish time.
//
// Errors returned by a Publisher are classified: wrap with Permanent for
// failures that retrying cannot fix, and with RetryAfter to carry an
// explicit delay hint. Anything else is treated as transient.
package publisher

import (
	"context"
	"fmt"
	"sort"

	"postpilot/internal/catalog"
)

// Request carries everything a platform adapter needs to deliver one post.
type Request struct {
	PostID        string
	Platform      string
	DestinationID string
	Caption       string
	Media         []catalog.MediaRef
}

// Result is the outcome of a successful delivery.
type Result struct {
	// URL points at the published post on the platform, when the platform
	// reports one.
	URL string
}

type Publisher interface {
	Publish(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Publisher interface.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Publish(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// Registry maps platform names to their publisher. It is built once at
// startup and read-only afterwards, so no locking.
type Registry struct {
	byPlatform map[string]Publisher
}

func NewRegistry() *Registry {
	return &Registry{byPlatform: map[string]Publisher{}}
}

func (r *Registry) Register(platform string, p Publisher) {
	r.byPlatform[platform] = p
}

// Lookup returns the publisher for platform, or ErrUnknownPlatform. An
// unknown platform is a configuration problem, not a transient condition,
// so the error is marked permanent.
func (r *Registry) Lookup(platform string) (Publisher, error) {
	p, ok := r.byPlatform[platform]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %q", ErrUnknownPlatform, platform))
	}
	return p, nil
}

// Platforms lists registered platform names, sorted.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.byPlatform))
	for k := range r.byPlatform {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
