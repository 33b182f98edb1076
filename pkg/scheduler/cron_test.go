package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", value)
	require.NoError(t, err)
	return ts
}

func TestParseCronEveryMinute(t *testing.T) {
	cron, err := ParseCron("* * * * *")
	require.NoError(t, err)

	next, err := cron.NextAfter(mustTime(t, "2026-03-01 10:30"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-03-01 10:31"), next)
}

func TestParseCronSecondsTruncated(t *testing.T) {
	cron, err := ParseCron("* * * * *")
	require.NoError(t, err)

	after, err := time.Parse(time.RFC3339, "2026-03-01T10:30:45Z")
	require.NoError(t, err)
	next, err := cron.NextAfter(after)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T10:31:00Z", next.Format(time.RFC3339))
}

func TestCronWorkdayBusinessHours(t *testing.T) {
	// Every 5 minutes, 09:00-17:59, Monday through Friday.
	cron, err := ParseCron("*/5 9-17 * * 1-5")
	require.NoError(t, err)

	// Friday 17:55 matches; the next slot after it is Monday 09:00.
	friday := mustTime(t, "2026-03-06 17:55")
	assert.True(t, cron.Matches(friday))

	next, err := cron.NextAfter(friday)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-03-09 09:00"), next)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestCronSundayAliases(t *testing.T) {
	seven, err := ParseCron("0 0 * * 7")
	require.NoError(t, err)
	zero, err := ParseCron("0 0 * * 0")
	require.NoError(t, err)

	sunday := mustTime(t, "2026-03-08 00:00")
	require.Equal(t, time.Sunday, sunday.Weekday())
	assert.True(t, seven.Matches(sunday))
	assert.True(t, zero.Matches(sunday))
	assert.False(t, seven.Matches(sunday.Add(24*time.Hour)))
}

func TestCronListsAndRanges(t *testing.T) {
	cron, err := ParseCron("0,30 8,20 1-15 * *")
	require.NoError(t, err)

	assert.True(t, cron.Matches(mustTime(t, "2026-03-15 08:30")))
	assert.True(t, cron.Matches(mustTime(t, "2026-03-01 20:00")))
	assert.False(t, cron.Matches(mustTime(t, "2026-03-16 08:30")))
	assert.False(t, cron.Matches(mustTime(t, "2026-03-15 08:15")))
}

func TestCronStepWithStart(t *testing.T) {
	// "10/15" in the minute field: 10, 25, 40, 55.
	cron, err := ParseCron("10/15 * * * *")
	require.NoError(t, err)

	assert.True(t, cron.Matches(mustTime(t, "2026-03-01 10:25")))
	assert.False(t, cron.Matches(mustTime(t, "2026-03-01 10:15")))
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"5-1 * * * *",
		"*/0 * * * *",
		"abc * * * *",
	} {
		_, err := ParseCron(expr)
		require.Error(t, err, "expr %q", expr)
		var cronErr *CronError
		assert.True(t, errors.As(err, &cronErr), "expr %q should yield CronError", expr)
	}
}

func TestNextAfterUnsatisfiable(t *testing.T) {
	// February 30th never exists.
	cron, err := ParseCron("0 0 30 2 *")
	require.NoError(t, err)

	_, err = cron.NextAfter(mustTime(t, "2026-03-01 00:00"))
	require.Error(t, err)
	var cronErr *CronError
	assert.True(t, errors.As(err, &cronErr))
}
