// Package cron parses the five-field schedule expressions used for
// scheduled jobs (spec §6) and finds the next run time after a given
// instant. Cron parsing itself is named as an out-of-scope external
// collaborator whose interface is specified but whose grammar isn't tied
// to any one library, so this hand-rolls robfig/cron's expression
// grammar rather than importing it, to match the exact alias set and
// day-of-month/day-of-week union semantics spec.md documents.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldBounds is [min,max] inclusive for each of the five fields.
var fieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week, 0 = Sunday
}

var monthAliases = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var weekdayAliases = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// scheduleAliases maps the documented @-shorthands to their five-field
// expansions.
var scheduleAliases = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

// maxSearchHorizon bounds NextRun's search, per spec.md's 4-year cap, so a
// schedule that can never match (e.g. Feb 30) fails fast instead of
// spinning forever.
const maxSearchHorizon = 4 * 365 * 24 * time.Hour

// Schedule is a parsed five-field cron expression. Each field is the set
// of values it matches; an empty set field never happens post-parse
// (every field matches at least one value).
type Schedule struct {
	expr    string
	minute  fieldSet
	hour    fieldSet
	dom     fieldSet
	month   fieldSet
	dow     fieldSet
	domStar bool // dom field was "*" in the source expression
	dowStar bool // dow field was "*" in the source expression
}

type fieldSet map[int]bool

// Parse compiles a five-field cron expression or one of the documented
// @-aliases into a Schedule.
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expanded, ok := scheduleAliases[strings.ToLower(expr)]; ok {
		expr = expanded
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(fields), expr)
	}

	s := &Schedule{expr: expr, domStar: fields[2] == "*", dowStar: fields[4] == "*"}

	var err error
	if s.minute, err = parseField(fields[0], fieldBounds[0], nil); err != nil {
		return nil, fmt.Errorf("cron: minute field: %w", err)
	}
	if s.hour, err = parseField(fields[1], fieldBounds[1], nil); err != nil {
		return nil, fmt.Errorf("cron: hour field: %w", err)
	}
	if s.dom, err = parseField(fields[2], fieldBounds[2], nil); err != nil {
		return nil, fmt.Errorf("cron: day-of-month field: %w", err)
	}
	if s.month, err = parseField(fields[3], fieldBounds[3], monthAliases); err != nil {
		return nil, fmt.Errorf("cron: month field: %w", err)
	}
	if s.dow, err = parseField(fields[4], fieldBounds[4], weekdayAliases); err != nil {
		return nil, fmt.Errorf("cron: day-of-week field: %w", err)
	}
	return s, nil
}

// parseField handles one comma-separated list of *, N, N-M, N/S, */S or
// N-M/S terms, with optional name aliases (month/weekday names).
func parseField(raw string, bounds [2]int, aliases map[string]int) (fieldSet, error) {
	set := make(fieldSet)
	for _, term := range strings.Split(raw, ",") {
		if err := parseTerm(term, bounds, aliases, set); err != nil {
			return nil, err
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("empty field %q", raw)
	}
	return set, nil
}

func parseTerm(term string, bounds [2]int, aliases map[string]int, out fieldSet) error {
	step := 1
	rangePart := term
	if idx := strings.Index(term, "/"); idx >= 0 {
		rangePart = term[:idx]
		parsedStep, err := strconv.Atoi(term[idx+1:])
		if err != nil || parsedStep <= 0 {
			return fmt.Errorf("invalid step in %q", term)
		}
		step = parsedStep
	}

	lo, hi := bounds[0], bounds[1]
	switch {
	case rangePart == "*":
		// lo, hi already the full field range.
	case strings.Contains(rangePart, "-"):
		parts := strings.SplitN(rangePart, "-", 2)
		start, err := resolveValue(parts[0], aliases)
		if err != nil {
			return err
		}
		end, err := resolveValue(parts[1], aliases)
		if err != nil {
			return err
		}
		lo, hi = start, end
	default:
		v, err := resolveValue(rangePart, aliases)
		if err != nil {
			return err
		}
		lo, hi = v, v
	}

	if lo < bounds[0] || hi > bounds[1] || lo > hi {
		return fmt.Errorf("value out of range in %q (valid %d-%d)", term, bounds[0], bounds[1])
	}
	for v := lo; v <= hi; v += step {
		out[v] = true
	}
	return nil
}

func resolveValue(token string, aliases map[string]int) (int, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if aliases != nil {
		if v, ok := aliases[token]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", token)
	}
	return v, nil
}

// NextRun returns the first instant strictly after from that matches s,
// evaluated in from's own location (spec.md's local-time semantics).
// Search is bounded to four years out; a schedule that can never match
// (a fixed day-of-month past what any month has, paired with a
// restrictive month field) returns an error rather than looping forever.
func (s *Schedule) NextRun(from time.Time) (time.Time, error) {
	loc := from.Location()
	candidate := from.Truncate(time.Minute).Add(time.Minute).In(loc)
	deadline := from.Add(maxSearchHorizon)

	for candidate.Before(deadline) {
		if !s.month[int(candidate.Month())] {
			candidate = startOfNextMonth(candidate)
			continue
		}
		if !s.matchesDay(candidate) {
			candidate = candidate.Add(24 * time.Hour)
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 0, 0, 0, 0, loc)
			continue
		}
		if !s.hour[candidate.Hour()] {
			candidate = candidate.Add(time.Hour)
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour(), 0, 0, 0, loc)
			continue
		}
		if !s.minute[candidate.Minute()] {
			candidate = candidate.Add(time.Minute)
			continue
		}
		return candidate, nil
	}
	return time.Time{}, fmt.Errorf("cron: no run of %q found within %s of %s", s.expr, maxSearchHorizon, from)
}

// matchesDay applies the documented day-of-month/day-of-week union: when
// both fields are restricted (neither is the literal "*"), a day matches
// if it satisfies either one.
func (s *Schedule) matchesDay(t time.Time) bool {
	domMatch := s.dom[t.Day()]
	dowMatch := s.dow[int(t.Weekday())]
	if s.domStar && s.dowStar {
		return true
	}
	if s.domStar {
		return dowMatch
	}
	if s.dowStar {
		return domMatch
	}
	return domMatch || dowMatch
}

func startOfNextMonth(t time.Time) time.Time {
	firstOfThisMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return firstOfThisMonth.AddDate(0, 1, 0)
}

// String returns the normalized (alias-expanded) five-field expression.
func (s *Schedule) String() string {
	return s.expr
}
