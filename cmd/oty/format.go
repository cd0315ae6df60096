package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/workorder"
)

// truncate shortens s to max runes, appending "..." when cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}

// parseTime accepts RFC3339, "2006-01-02 15:04" in UTC, or a signed offset
// from now such as "-90m" or "+4h".
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time offset %q: %w", s, err)
		}
		return now.Add(d), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339, YYYY-MM-DD HH:MM or an offset like -2h", s)
}

// optTime parses a flag value when it was set.
func optTime(cmd *cobra.Command, flag, value string, now time.Time) (*time.Time, error) {
	if !cmd.Flags().Changed(flag) {
		return nil, nil
	}
	t, err := parseTime(value, now)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &t, nil
}

func optUint(cmd *cobra.Command, flag string, v uint) *uint {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}

func optInt(cmd *cobra.Command, flag string, v int) *int {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// formatMinutes renders a minute count as "2h05m".
func formatMinutes(m int) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// describeError adds the actionable detail of a lifecycle error.
func describeError(err error) error {
	e, ok := workorder.AsError(err)
	if !ok {
		return err
	}
	var b strings.Builder
	b.WriteString(e.Error())
	if e.DowntimeLogID != nil {
		fmt.Fprintf(&b, "\n  downtime log %d is still open; run: oty wo confirm-rtp %d", *e.DowntimeLogID, e.ID)
	} else if e.Reason == workorder.ReasonNotConfirmed {
		fmt.Fprintf(&b, "\n  run: oty wo confirm-rtp %d", e.ID)
	}
	return errors.New(b.String())
}
