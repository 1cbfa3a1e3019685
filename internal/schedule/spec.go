package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Normalize turns a schedule string into a cron spec. Accepted forms:
//   - cron: "0 3 * * *", "*/5 * * * *", "@daily", "@every 1m"
//   - Go duration: "90s", "2h30m"
//   - HH:MM interval: "01:30"
//
// A "cron:" or "every:" prefix forces the interpretation.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return validCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return "", err
		}
		return every(d), nil
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return validCron(s)
	}

	d, err := parseInterval(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '0 3 * * *', HH:MM like '02:30', or a duration like '55m')", raw)
	}
	return every(d), nil
}

func every(d time.Duration) string { return "@every " + d.String() }

func validCron(expr string) (string, error) {
	if expr == "" {
		return "", fmt.Errorf("cron expression required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return expr, nil
}

func parseInterval(v string) (time.Duration, error) {
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
