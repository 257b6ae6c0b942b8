package planner

import (
	"fmt"
	"time"

	"postpilot/internal/catalog"
)

const dateLayout = "2006-01-02"

// validate normalizes cfg in place and rejects requests the planner cannot
// act on. Soft conditions (no candidates, slot shortfall) are not handled
// here; they surface as plan diagnostics.
func validate(cfg *Config) error {
	if len(cfg.SelectedTags) == 0 {
		return &ConfigError{Field: "selectedTags", Reason: "at least one tag is required"}
	}
	if cfg.PostsPerDay < 1 {
		return &ConfigError{Field: "postsPerDay", Reason: "must be >= 1"}
	}

	start, err := time.ParseInLocation(dateLayout, cfg.SchedulingPeriod.StartDate, time.UTC)
	if err != nil {
		return &ConfigError{Field: "schedulingPeriod.startDate", Reason: fmt.Sprintf("invalid date %q", cfg.SchedulingPeriod.StartDate)}
	}
	end, err := time.ParseInLocation(dateLayout, cfg.SchedulingPeriod.EndDate, time.UTC)
	if err != nil {
		return &ConfigError{Field: "schedulingPeriod.endDate", Reason: fmt.Sprintf("invalid date %q", cfg.SchedulingPeriod.EndDate)}
	}
	if start.After(end) {
		return &ConfigError{Field: "schedulingPeriod", Reason: "startDate is after endDate"}
	}

	if len(cfg.SchedulingPeriod.TimeSlots) == 0 {
		return &ConfigError{Field: "schedulingPeriod.timeSlots", Reason: "at least one time slot is required"}
	}
	for _, s := range cfg.SchedulingPeriod.TimeSlots {
		if _, _, err := parseSlot(s); err != nil {
			return &ConfigError{Field: "schedulingPeriod.timeSlots", Reason: err.Error()}
		}
	}

	switch cfg.DistributionMode {
	case ModeEven, ModeWeighted, ModeSmart:
	case "":
		cfg.DistributionMode = ModeEven
	default:
		return &ConfigError{Field: "distributionMode", Reason: fmt.Sprintf("unknown mode %q", cfg.DistributionMode)}
	}

	for _, ct := range cfg.ContentTypes {
		if _, err := catalog.ParseContentType(ct); err != nil {
			return &ConfigError{Field: "contentTypes", Reason: err.Error()}
		}
	}
	return nil
}

func parseSlot(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("invalid time slot %q (use HH:MM)", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("invalid time slot %q (use HH:MM)", s)
		}
	}
	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	minute = int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time slot %q (out of range)", s)
	}
	return hour, minute, nil
}
