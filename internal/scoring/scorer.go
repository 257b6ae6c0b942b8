// Package scoring computes tag-affinity between content and destinations.
//
// Score is a pure function: no state, safe to call concurrently, and
// deterministic for a given (content, destination, selectedTags) triple.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"postpilot/internal/catalog"
)

// Result is the outcome of scoring one (content, destination) pair.
//
// Eligible is false when the content carries a tag the destination excludes;
// such pairs must never be assigned, regardless of score.
type Result struct {
	Score    int
	Reasons  []string
	Eligible bool
}

// Score rates how well content fits a destination given the campaign's
// selected tags.
//
// The score is the percentage of selected tags the destination prefers,
// rounded to the nearest integer: 0..100. Reasons are ordered by tag so the
// output is reproducible.
func Score(content catalog.ContentItem, dest catalog.DestinationProfile, selectedTags []string) Result {
	excluded := intersect(content.Tags, dest.ExcludedTags)
	if len(excluded) > 0 {
		sort.Strings(excluded)
		reasons := make([]string, 0, len(excluded))
		for _, t := range excluded {
			reasons = append(reasons, fmt.Sprintf("content tag %q is excluded by destination %s", t, dest.ID))
		}
		return Result{Score: 0, Reasons: reasons, Eligible: false}
	}

	matching := intersect(selectedTags, dest.PreferredTags)
	sort.Strings(matching)

	denom := len(selectedTags)
	if denom < 1 {
		denom = 1
	}
	score := int(math.Round(100 * float64(len(matching)) / float64(denom)))

	reasons := make([]string, 0, len(matching))
	for _, t := range matching {
		reasons = append(reasons, fmt.Sprintf("destination %s prefers tag %q", dest.ID, t))
	}
	return Result{Score: score, Reasons: reasons, Eligible: true}
}

// intersect returns the members of a that also appear in b, deduplicated,
// in a's order.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, t := range a {
		if set[t] && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
