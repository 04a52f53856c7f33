// Package timeutil formats server timestamps for terminal display.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// LocalTimeFormat is the layout for local times in command output.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatTime renders an RFC3339 timestamp in local time. Unparseable input
// is passed through untouched so raw server values still show.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format(LocalTimeFormat)
}

// FormatUptime renders a Go duration string ("72h30m15s") as "3d 0h 30m 15s",
// omitting leading units that are zero. Unparseable input passes through.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	secs := int64(d.Seconds())
	days, secs := secs/86400, secs%86400
	hours, secs := secs/3600, secs%3600
	mins, secs := secs/60, secs%60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if days > 0 || hours > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	if days > 0 || hours > 0 || mins > 0 {
		fmt.Fprintf(&b, "%dm ", mins)
	}
	fmt.Fprintf(&b, "%ds", secs)
	return b.String()
}
