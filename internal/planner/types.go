package planner

import (
	"time"

	"postpilot/internal/catalog"
	"postpilot/internal/scoring"
)

// Mode selects the strategy used to allocate scheduling slots across
// destinations.
type Mode string

const (
	ModeEven     Mode = "even"
	ModeWeighted Mode = "weighted"
	ModeSmart    Mode = "smart"
)

// Period bounds a plan in time. Dates are "YYYY-MM-DD" (inclusive on both
// ends); TimeSlots are "HH:MM" times of day in the order the operator
// configured them.
type Period struct {
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	TimeSlots []string `json:"timeSlots"`
}

// Config is the high-level scheduling request consumed by Plan.
//
// SelectedDestinations may be empty: the planner then auto-selects every
// destination whose preferred tags intersect the selected tags.
// Empty ContentTypes means all types are allowed.
type Config struct {
	SelectedTags         []string `json:"selectedTags"`
	SelectedDestinations []string `json:"selectedDestinations"`
	ContentTypes         []string `json:"contentTypes"`
	IncludingText        bool     `json:"includingText"`
	SchedulingPeriod     Period   `json:"schedulingPeriod"`
	DistributionMode     Mode     `json:"distributionMode"`
	PostsPerDay          int      `json:"postsPerDay"`
}

// Match is one proposed (content, destination, time) assignment.
// It lives only for the duration of a planning call; commit turns matches
// into scheduled posts.
type Match struct {
	ContentID     string    `json:"contentId"`
	DestinationID string    `json:"destinationId"`
	Score         int       `json:"score"`
	Reasons       []string  `json:"reasons"`
	ScheduledTime time.Time `json:"scheduledTime"`
}

// Plan is the planning output. An empty Matches with Diagnostics set is a
// valid "nothing to schedule" outcome, not an error.
type Plan struct {
	Matches     []Match  `json:"matches"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// CommitSummary is returned after a plan is persisted.
type CommitSummary struct {
	TotalPosts       int `json:"totalPosts"`
	DestinationCount int `json:"destinationCount"`
}

// candidate is a destination plus the content it may legally receive,
// sorted by content id, with a rotation pointer so content repeats only
// after the pool is exhausted (and then restarts from the beginning).
type candidate struct {
	profile  catalog.DestinationProfile
	eligible []scoredContent
	next     int
}

type scoredContent struct {
	content catalog.ContentItem
	result  scoring.Result
}

// take returns the next content in this destination's rotation.
func (c *candidate) take() scoredContent {
	sc := c.eligible[c.next%len(c.eligible)]
	c.next++
	return sc
}
