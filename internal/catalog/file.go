package catalog

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// fileDoc is the on-disk shape of a catalog file.
type fileDoc struct {
	Content      []ContentItem        `yaml:"content"`
	Destinations []DestinationProfile `yaml:"destinations"`
}

// LoadFile reads content items and destination profiles from a YAML file.
//
// The file stands in for an external CMS / page directory so the binary runs
// end-to-end without one. IDs must be unique within each section.
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	seen := map[string]bool{}
	for i, c := range doc.Content {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog %s: content[%d] missing id", path, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog %s: duplicate content id %q", path, id)
		}
		seen[id] = true
		if _, err := ParseContentType(string(c.Type)); err != nil {
			return nil, fmt.Errorf("catalog %s: content %q: %w", path, id, err)
		}
	}

	seen = map[string]bool{}
	for i, d := range doc.Destinations {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog %s: destinations[%d] missing id", path, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog %s: duplicate destination id %q", path, id)
		}
		seen[id] = true
		if strings.TrimSpace(d.Platform) == "" {
			return nil, fmt.Errorf("catalog %s: destination %q missing platform", path, id)
		}
	}

	return &Static{Content: doc.Content, Destinations: doc.Destinations}, nil
}
