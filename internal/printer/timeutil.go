package printer

import (
	"fmt"
	"time"

	"github.com/slok/wavemig/internal/model"
)

// TimeAgo returns a human-readable relative time string in UTC.
// Examples: "5 seconds ago (UTC)", "2 minutes ago (UTC)", "3 hours ago (UTC)".
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	units := []struct {
		name string
		size time.Duration
		max  time.Duration
	}{
		{name: "second", size: time.Second, max: time.Minute},
		{name: "minute", size: time.Minute, max: time.Hour},
		{name: "hour", size: time.Hour, max: 24 * time.Hour},
		{name: "day", size: 24 * time.Hour},
	}
	for _, u := range units {
		if u.max != 0 && diff >= u.max {
			continue
		}
		n := int(diff / u.size)
		if n == 1 {
			return fmt.Sprintf("1 %s ago (UTC)", u.name)
		}
		return fmt.Sprintf("%d %ss ago (UTC)", n, u.name)
	}

	return ""
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// FormatProgress returns the wave progress as "completed/total", with the failures when any.
// Examples: "2/5", "3/5 (1 failed)".
func FormatProgress(p model.WaveProgress) string {
	if p.Failed == 0 {
		return fmt.Sprintf("%d/%d", p.Completed, p.Total)
	}
	return fmt.Sprintf("%d/%d (%d failed)", p.Completed, p.Total, p.Failed)
}

// FormatAge returns a compact age for the seconds, "-" when unknown.
// Examples: "-", "45s", "3m12s", "2h5m".
func FormatAge(seconds *int) string {
	if seconds == nil {
		return "-"
	}

	d := time.Duration(*seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", *seconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), *seconds%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
