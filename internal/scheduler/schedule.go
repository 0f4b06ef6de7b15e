package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// PollKind is the shape of a poll schedule.
type PollKind int

const (
	PollInterval PollKind = iota
	PollCron
)

// Poll says when the loop wakes up to check the clock.
//
// Accepted forms:
//   - Go duration: "30s", "2m"
//   - HH:MM interval: "00:01" (one minute)
//   - cron, seconds optional: "*/30 * * * * *", "@every 30s", "@hourly"
//
// "cron:" and "every:" prefixes force the interpretation.
type Poll struct {
	Kind   PollKind
	Every  time.Duration
	Expr   string
	Source string // duration | hhmm | cron

	sched cron.Schedule
}

// DefaultPoll matches the reference board's 30 second check.
const DefaultPoll = "30s"

var (
	reHHMM     = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParsePoll parses a poll schedule.
func ParsePoll(raw string) (Poll, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Poll{}, fmt.Errorf("poll schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	p, err := parseEvery(s)
	if err != nil {
		return Poll{}, fmt.Errorf("invalid poll schedule %q (use a duration like '30s', HH:MM like '00:01', or cron like '*/30 * * * * *')", raw)
	}
	return p, nil
}

func parseCron(expr string) (Poll, error) {
	if expr == "" {
		return Poll{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Poll{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Poll{Kind: PollCron, Expr: expr, Source: "cron", sched: sched}, nil
}

func parseEvery(v string) (Poll, error) {
	if v == "" {
		return Poll{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Poll{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Poll{}, fmt.Errorf("interval must be > 0")
		}
		return Poll{Kind: PollInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Poll{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Poll{}, fmt.Errorf("interval must be > 0")
	}
	return Poll{Kind: PollInterval, Every: d, Source: "duration"}, nil
}

// Next returns the first wake-up strictly after from.
func (p Poll) Next(from time.Time) time.Time {
	if p.Kind == PollCron && p.sched != nil {
		return p.sched.Next(from)
	}
	every := p.Every
	if every <= 0 {
		every = 30 * time.Second
	}
	return from.Add(every)
}

func (p Poll) String() string {
	if p.Kind == PollCron {
		return p.Expr
	}
	return p.Every.String()
}
