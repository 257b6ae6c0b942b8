package planner

import (
	"sort"
	"time"
)

// assign fills every grid slot with exactly one (content, destination)
// match according to the configured distribution mode. Candidates arrive
// sorted by destination id and each carries its eligible content sorted by
// content id, so the output is deterministic for a given input.
func assign(cfg Config, cands []*candidate, grid []time.Time) []Match {
	if len(grid) == 0 || len(cands) == 0 {
		return nil
	}
	switch cfg.DistributionMode {
	case ModeWeighted:
		return assignWeighted(cands, grid)
	case ModeSmart:
		return assignSmart(cands, grid)
	default:
		return assignEven(cands, grid)
	}
}

func match(c *candidate, sc scoredContent, at time.Time) Match {
	return Match{
		ContentID:     sc.content.ID,
		DestinationID: c.profile.ID,
		Score:         sc.result.Score,
		Reasons:       sc.result.Reasons,
		ScheduledTime: at,
	}
}

// assignEven cycles destinations in id order over the slot grid, so slot
// counts per destination differ by at most one.
func assignEven(cands []*candidate, grid []time.Time) []Match {
	matches := make([]Match, 0, len(grid))
	for i, at := range grid {
		c := cands[i%len(cands)]
		matches = append(matches, match(c, c.take(), at))
	}
	return matches
}

// assignWeighted gives each destination floor(slots * weight / totalWeight)
// slots, then hands the remainder out one at a time starting with the
// heaviest destination (ties by id). Negative weights count as zero; if
// every weight is zero the split degrades to even.
func assignWeighted(cands []*candidate, grid []time.Time) []Match {
	total := len(grid)
	sum := 0
	for _, c := range cands {
		if c.profile.Weight > 0 {
			sum += c.profile.Weight
		}
	}
	if sum == 0 {
		return assignEven(cands, grid)
	}

	quota := make([]int, len(cands))
	assigned := 0
	for i, c := range cands {
		w := c.profile.Weight
		if w < 0 {
			w = 0
		}
		quota[i] = total * w / sum
		assigned += quota[i]
	}

	// Distribute the rounding remainder, heaviest first.
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		wa, wb := cands[order[a]].profile.Weight, cands[order[b]].profile.Weight
		if wa != wb {
			return wa > wb
		}
		return cands[order[a]].profile.ID < cands[order[b]].profile.ID
	})
	for i := 0; assigned < total; i = (i + 1) % len(order) {
		quota[order[i]]++
		assigned++
	}

	matches := make([]Match, 0, total)
	idx := 0
	for _, at := range grid {
		for quota[idx] == 0 {
			idx = (idx + 1) % len(cands)
		}
		c := cands[idx]
		quota[idx]--
		matches = append(matches, match(c, c.take(), at))
		idx = (idx + 1) % len(cands)
	}
	return matches
}

// assignSmart ranks every eligible (destination, content) pair by affinity
// score and fills each slot with the best pair not yet used in this run.
// Ties break by destination weight (heavier first), then content id, then
// destination id. When every pair has been used the run starts over from
// the top of the ranking.
func assignSmart(cands []*candidate, grid []time.Time) []Match {
	type pair struct {
		cand *candidate
		sc   scoredContent
	}
	var pairs []pair
	for _, c := range cands {
		for _, sc := range c.eligible {
			pairs = append(pairs, pair{cand: c, sc: sc})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.sc.result.Score != pb.sc.result.Score {
			return pa.sc.result.Score > pb.sc.result.Score
		}
		if pa.cand.profile.Weight != pb.cand.profile.Weight {
			return pa.cand.profile.Weight > pb.cand.profile.Weight
		}
		if pa.sc.content.ID != pb.sc.content.ID {
			return pa.sc.content.ID < pb.sc.content.ID
		}
		return pa.cand.profile.ID < pb.cand.profile.ID
	})

	used := make([]bool, len(pairs))
	remaining := len(pairs)
	matches := make([]Match, 0, len(grid))
	for _, at := range grid {
		if remaining == 0 {
			for i := range used {
				used[i] = false
			}
			remaining = len(pairs)
		}
		for i, p := range pairs {
			if used[i] {
				continue
			}
			used[i] = true
			remaining--
			matches = append(matches, match(p.cand, p.sc, at))
			break
		}
	}
	return matches
}
