package catalog

import (
	"fmt"
	"strings"
)

// ContentType classifies what a content item carries.
type ContentType string

const (
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentText  ContentType = "text"
)

// ParseContentType normalizes and validates a content type string.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentImage:
		return ContentImage, nil
	case ContentVideo:
		return ContentVideo, nil
	case ContentText:
		return ContentText, nil
	default:
		return "", fmt.Errorf("unknown content type %q", s)
	}
}

// MediaRef points at a media asset attached to a content item.
type MediaRef struct {
	URL  string `json:"url" yaml:"url"`
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"` // "image" | "video"
}

// ContentItem is a schedulable piece of content.
// The engine only reads it; items are immutable once scheduled.
type ContentItem struct {
	ID      string      `json:"id" yaml:"id"`
	Tags    []string    `json:"tags" yaml:"tags"`
	Type    ContentType `json:"type" yaml:"type"`
	Caption string      `json:"caption" yaml:"caption"`
	Media   []MediaRef  `json:"media,omitempty" yaml:"media,omitempty"`
}

// DestinationProfile describes a fanpage/destination content can be
// published to.
//
// Weight is an engagement-like signal (e.g. follower count) consumed by the
// weighted and smart distribution modes. Zero means "no signal".
type DestinationProfile struct {
	ID            string   `json:"id" yaml:"id"`
	Platform      string   `json:"platform" yaml:"platform"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	PreferredTags []string `json:"preferred_tags" yaml:"preferred_tags"`
	ExcludedTags  []string `json:"excluded_tags,omitempty" yaml:"excluded_tags,omitempty"`
	Weight        int      `json:"weight,omitempty" yaml:"weight,omitempty"`
}
