package planner

import (
	"fmt"
	"sort"
	"time"
)

// slotGrid enumerates the absolute timestamps a plan may fill, in
// chronological order, capped at postsPerDay slots per calendar day.
//
// When postsPerDay exceeds the number of distinct configured slots, the
// excess is dropped with a diagnostic: slots are never double-booked onto
// the same timestamp.
func slotGrid(cfg Config) ([]time.Time, []string) {
	var diags []string

	// Deduplicate while preserving configured order, then cap.
	seen := map[string]bool{}
	var daySlots []string
	for _, s := range cfg.SchedulingPeriod.TimeSlots {
		if seen[s] {
			diags = append(diags, fmt.Sprintf("duplicate time slot %q ignored", s))
			continue
		}
		seen[s] = true
		daySlots = append(daySlots, s)
	}
	if cfg.PostsPerDay > len(daySlots) {
		diags = append(diags, fmt.Sprintf(
			"postsPerDay=%d exceeds %d configured time slots; scheduling %d posts per day",
			cfg.PostsPerDay, len(daySlots), len(daySlots)))
	}
	if cfg.PostsPerDay < len(daySlots) {
		daySlots = daySlots[:cfg.PostsPerDay]
	}

	// Within a day, slots run in clock order regardless of configured order.
	type hm struct{ h, m int }
	times := make([]hm, 0, len(daySlots))
	for _, s := range daySlots {
		h, m, _ := parseSlot(s) // validated earlier
		times = append(times, hm{h, m})
	}
	sort.Slice(times, func(i, j int) bool {
		if times[i].h != times[j].h {
			return times[i].h < times[j].h
		}
		return times[i].m < times[j].m
	})

	start, _ := time.ParseInLocation(dateLayout, cfg.SchedulingPeriod.StartDate, time.UTC)
	end, _ := time.ParseInLocation(dateLayout, cfg.SchedulingPeriod.EndDate, time.UTC)

	var grid []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, t := range times {
			grid = append(grid, time.Date(day.Year(), day.Month(), day.Day(), t.h, t.m, 0, 0, time.UTC))
		}
	}
	return grid, diags
}
