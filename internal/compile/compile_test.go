package compile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/followupd/internal/compile"
	"github.com/oarkflow/followupd/internal/model"
)

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm.UTC()
}

func TestCompile_Once_FutureUnchanged(t *testing.T) {
	now := mustUTC(t, "2026-07-31T10:00:00Z")
	rule := model.ScheduleRule{
		Repeat:    model.RepeatOnce,
		StartDate: "2026-08-01",
		SendTime:  "09:00",
	}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, mustUTC(t, "2026-08-01T09:00:00Z"), got)
}

func TestCompile_Once_PastClampedToNowPlus10s(t *testing.T) {
	now := mustUTC(t, "2026-08-01T10:00:00Z")
	rule := model.ScheduleRule{
		Repeat:    model.RepeatOnce,
		StartDate: "2026-08-01",
		SendTime:  "09:00",
	}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Second), got)
}

func TestCompile_Daily_RollsToNextDayWhenPassed(t *testing.T) {
	now := mustUTC(t, "2026-07-31T10:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatDaily, SendTime: "09:00"}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, mustUTC(t, "2026-08-01T09:00:00Z"), got)
}

func TestCompile_Daily_RespectsStartDateFloor(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatDaily, SendTime: "09:00", StartDate: "2026-08-05"}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, mustUTC(t, "2026-08-05T09:00:00Z"), got)
}

func TestCompile_TwiceDaily_PicksEarlierSlotToday(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatTwiceDaily, SendTime: "09:00", SendTime2: "15:00"}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, mustUTC(t, "2026-07-31T09:00:00Z"), got)
}

func TestCompile_TwiceDaily_RequiresSendTime2(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatTwiceDaily, SendTime: "09:00"}
	_, err := compile.Compile(rule, now, "UTC")
	require.Error(t, err)
}

func TestCompile_TwiceDaily_RollsToNextDayWhenBothPassed(t *testing.T) {
	now := mustUTC(t, "2026-07-31T20:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatTwiceDaily, SendTime: "09:00", SendTime2: "15:00"}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, mustUTC(t, "2026-08-01T09:00:00Z"), got)
}

func TestCompile_Weekly_RequiresStartDate(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatWeekly, SendTime: "09:00"}
	_, err := compile.Compile(rule, now, "UTC")
	require.Error(t, err)
}

func TestCompile_Weekly_NextOccurrenceOfStartWeekday(t *testing.T) {
	// 2026-07-27 is a Monday.
	now := mustUTC(t, "2026-07-31T08:00:00Z") // Friday
	rule := model.ScheduleRule{Repeat: model.RepeatWeekly, SendTime: "09:00", StartDate: "2026-07-27"}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, got.Weekday())
	assert.True(t, got.After(now))
}

func TestCompile_EveryNDays_JumpsForwardFromPastStart(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatEveryNDays, SendTime: "09:00", StartDate: "2026-07-01", Interval: 3}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.True(t, got.After(now))
	// Must land on a day that is start_date + k*interval.
	start := mustUTC(t, "2026-07-01T00:00:00Z")
	diffDays := int(got.Sub(start).Hours() / 24)
	assert.Zero(t, diffDays%3)
}

func TestCompile_Weekday_FindsNextMatchingDay(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z") // Friday
	rule := model.ScheduleRule{Repeat: model.RepeatWeekday, SendTime: "09:00", ByWeekday: "MO,WE"}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Contains(t, []time.Weekday{time.Monday, time.Wednesday}, got.Weekday())
	assert.True(t, got.After(now))
}

func TestCompile_Weekday_RejectsUnknownCode(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatWeekday, SendTime: "09:00", ByWeekday: "XX"}
	_, err := compile.Compile(rule, now, "UTC")
	require.Error(t, err)
}

func TestCompile_Relative_AddsUnitToNow(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatRelative, RelValue: 30, RelUnit: model.RelMinutes}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), got)
}

func TestCompile_Relative_DefaultsToOneHour(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatRelative}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), got)
}

func TestCompile_UnsupportedRepeat(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: "monthly"}
	_, err := compile.Compile(rule, now, "UTC")
	require.Error(t, err)
}

func TestCompile_InvalidTimezone(t *testing.T) {
	now := mustUTC(t, "2026-07-31T08:00:00Z")
	rule := model.ScheduleRule{Repeat: model.RepeatDaily, SendTime: "09:00"}
	_, err := compile.Compile(rule, now, "Nowhere/Fake")
	require.Error(t, err)
}

func TestCompile_NeverReturnsPastOrNow(t *testing.T) {
	now := mustUTC(t, "2026-07-31T23:59:55Z")
	rule := model.ScheduleRule{Repeat: model.RepeatRelative, RelValue: 1, RelUnit: model.RelMinutes}
	got, err := compile.Compile(rule, now, "UTC")
	require.NoError(t, err)
	assert.True(t, got.After(now))
}
