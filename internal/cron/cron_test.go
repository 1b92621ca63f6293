package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTripsCanonicalForms(t *testing.T) {
	cases := []string{
		"* * * * *",
		"0 0 * * *",
		"*/15 * * * *",
		"0 9-17 * * 1-5",
		"0 0 1,15 * *",
		"30 2 * jan,jul *",
		"0 0 * * sun",
	}
	for _, expr := range cases {
		s, err := Parse(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, expr, s.String())
	}
}

func TestParseAliasesExpandToDocumentedEquivalents(t *testing.T) {
	cases := map[string]string{
		"@hourly":   "0 * * * *",
		"@daily":    "0 0 * * *",
		"@midnight": "0 0 * * *",
		"@weekly":   "0 0 * * 0",
		"@monthly":  "0 0 1 * *",
		"@yearly":   "0 0 1 1 *",
		"@annually": "0 0 1 1 *",
	}
	for alias, expanded := range cases {
		aliasSchedule, err := Parse(alias)
		require.NoError(t, err)
		expandedSchedule, err := Parse(expanded)
		require.NoError(t, err)
		assert.Equal(t, expandedSchedule.minute, aliasSchedule.minute)
		assert.Equal(t, expandedSchedule.hour, aliasSchedule.hour)
		assert.Equal(t, expandedSchedule.dom, aliasSchedule.dom)
		assert.Equal(t, expandedSchedule.month, aliasSchedule.month)
		assert.Equal(t, expandedSchedule.dow, aliasSchedule.dow)
	}
}

func TestParseRejectsMalformedExpressions(t *testing.T) {
	cases := []string{"", "* * * *", "60 * * * *", "* * * * 8", "x * * * *"}
	for _, expr := range cases {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestNextRunStrictlyAdvances(t *testing.T) {
	s, err := Parse("*/15 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 29, 10, 7, 0, 0, time.UTC)
	next, err := s.NextRun(from)
	require.NoError(t, err)
	assert.True(t, next.After(from))
	assert.Equal(t, time.Date(2026, 7, 29, 10, 15, 0, 0, time.UTC), next)
}

func TestNextRunUnionsDayOfMonthAndDayOfWeekWhenBothRestricted(t *testing.T) {
	// The 1st of the month OR a Monday, whichever comes first.
	s, err := Parse("0 0 1 * mon")
	require.NoError(t, err)

	from := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC) // a Wednesday
	next, err := s.NextRun(from)
	require.NoError(t, err)
	assert.True(t, next.Weekday() == time.Monday || next.Day() == 1)
}

func TestNextRunWithOnlyDayOfMonthRestrictedIgnoresWeekday(t *testing.T) {
	s, err := Parse("0 0 15 * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	next, err := s.NextRun(from)
	require.NoError(t, err)
	assert.Equal(t, 15, next.Day())
	assert.Equal(t, time.July, next.Month())
}

func TestNextRunUsesFromsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	s, err := Parse("0 12 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 29, 0, 0, 0, 0, loc)
	next, err := s.NextRun(from)
	require.NoError(t, err)
	assert.Equal(t, loc, next.Location())
	assert.Equal(t, 12, next.Hour())
}
