package catalog

import "context"

// ContentSource is the read-only provider of content items.
// The planner depends on this interface, never on a concrete backend.
type ContentSource interface {
	ListContent(ctx context.Context) ([]ContentItem, error)
}

// DestinationDirectory is the read-only provider of destination profiles.
type DestinationDirectory interface {
	ListDestinations(ctx context.Context) ([]DestinationProfile, error)
}

// Static adapts in-memory slices to both provider interfaces.
// Used by tests and by the file provider after load.
type Static struct {
	Content      []ContentItem
	Destinations []DestinationProfile
}

func (s *Static) ListContent(ctx context.Context) ([]ContentItem, error) {
	out := make([]ContentItem, len(s.Content))
	copy(out, s.Content)
	return out, nil
}

func (s *Static) ListDestinations(ctx context.Context) ([]DestinationProfile, error) {
	out := make([]DestinationProfile, len(s.Destinations))
	copy(out, s.Destinations)
	return out, nil
}
