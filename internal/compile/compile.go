// Package compile implements the pure schedule compiler: given a
// ScheduleRule and the current instant, it derives the next UTC send time.
// It never touches the store, the clock is passed in explicitly.
package compile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/followupd/internal/model"
)

var weekdayMap = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// clampFloor is the minimum lead time a computed instant is allowed to have
// over "now": anything at or before now is pulled forward to now+clampFloor.
const clampFloor = 10 * time.Second

// Compile returns the next UTC instant at which rule should fire, given the
// current instant now (UTC) and the IANA zone the rule's local times are
// expressed in. It is a pure function: same inputs, same output.
func Compile(rule model.ScheduleRule, now time.Time, tzName string) (time.Time, error) {
	now = now.UTC()

	if rule.Repeat == model.RepeatRelative {
		return compileRelative(rule, now)
	}

	loc, err := time.LoadLocation(zoneOrUTC(tzName))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid_rule: unknown timezone %q: %w", tzName, err)
	}
	nowLocal := now.In(loc)

	var startDay *time.Time
	if s := strings.TrimSpace(rule.StartDate); s != "" {
		d, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid_rule: start_date must be YYYY-MM-DD, got %q", rule.StartDate)
		}
		startDay = &d
	}
	minDay := dateOnly(nowLocal, loc)
	if startDay != nil && startDay.After(minDay) {
		minDay = *startDay
	}

	switch rule.Repeat {
	case model.RepeatOnce:
		dt, err := parseStartDatetime(rule.StartDate, rule.SendTime, loc)
		if err != nil {
			return time.Time{}, err
		}
		return clamp(dt.UTC(), now), nil

	case model.RepeatDaily:
		hh, mm, err := parseHHMM(rule.SendTime, 9, 0)
		if err != nil {
			return time.Time{}, err
		}
		cand := atTime(minDay, hh, mm, loc)
		if !cand.After(nowLocal) {
			cand = cand.AddDate(0, 0, 1)
		}
		return clamp(cand.UTC(), now), nil

	case model.RepeatTwiceDaily:
		hh1, mm1, err := parseHHMM(rule.SendTime, 9, 0)
		if err != nil {
			return time.Time{}, err
		}
		if strings.TrimSpace(rule.SendTime2) == "" {
			return time.Time{}, fmt.Errorf("invalid_rule: twice_daily requires send_time_2")
		}
		hh2, mm2, err := parseHHMM(rule.SendTime2, 15, 0)
		if err != nil {
			return time.Time{}, err
		}
		cand1 := atTime(minDay, hh1, mm1, loc)
		cand2 := atTime(minDay, hh2, mm2, loc)
		first, second := cand1, cand2
		if second.Before(first) {
			first, second = second, first
		}
		if first.After(nowLocal) {
			return clamp(first.UTC(), now), nil
		}
		if second.After(nowLocal) {
			return clamp(second.UTC(), now), nil
		}
		tomorrow := atTime(minDay.AddDate(0, 0, 1), hh1, mm1, loc)
		return clamp(tomorrow.UTC(), now), nil

	case model.RepeatWeekly:
		if strings.TrimSpace(rule.StartDate) == "" {
			return time.Time{}, fmt.Errorf("invalid_rule: weekly requires start_date")
		}
		hh, mm, err := parseHHMM(rule.SendTime, 9, 0)
		if err != nil {
			return time.Time{}, err
		}
		startD := *startDay
		targetWd := startD.Weekday()
		baseDay := dateOnly(nowLocal, loc)
		if startD.After(baseDay) {
			baseDay = startD
		}
		daysAhead := (int(targetWd) - int(baseDay.Weekday()) + 7) % 7
		candidateDay := baseDay.AddDate(0, 0, daysAhead)
		cand := atTime(candidateDay, hh, mm, loc)
		if !cand.After(nowLocal) {
			candidateDay = candidateDay.AddDate(0, 0, 7)
			cand = atTime(candidateDay, hh, mm, loc)
		}
		return clamp(cand.UTC(), now), nil

	case model.RepeatEveryNDays:
		if strings.TrimSpace(rule.StartDate) == "" {
			return time.Time{}, fmt.Errorf("invalid_rule: every_n_days requires start_date")
		}
		n := rule.Interval
		if n < 1 {
			n = 1
		}
		hh, mm, err := parseHHMM(rule.SendTime, 9, 0)
		if err != nil {
			return time.Time{}, err
		}
		day := *startDay
		today := dateOnly(nowLocal, loc)
		if day.Before(today) {
			diffDays := int(today.Sub(day).Hours() / 24)
			jumps := diffDays / n
			day = day.AddDate(0, 0, jumps*n)
			if day.Before(today) {
				day = day.AddDate(0, 0, n)
			}
		}
		cand := atTime(day, hh, mm, loc)
		if !cand.After(nowLocal) {
			day = day.AddDate(0, 0, n)
			cand = atTime(day, hh, mm, loc)
		}
		return clamp(cand.UTC(), now), nil

	case model.RepeatWeekday:
		hh, mm, err := parseHHMM(rule.SendTime, 9, 0)
		if err != nil {
			return time.Time{}, err
		}
		wanted, err := parseByWeekday(rule.ByWeekday)
		if err != nil {
			return time.Time{}, err
		}
		for i := 0; i < 21; i++ {
			day := minDay.AddDate(0, 0, i)
			if !wanted[day.Weekday()] {
				continue
			}
			cand := atTime(day, hh, mm, loc)
			if cand.After(nowLocal) {
				return clamp(cand.UTC(), now), nil
			}
		}
		day := minDay.AddDate(0, 0, 7)
		cand := atTime(day, hh, mm, loc)
		return clamp(cand.UTC(), now), nil
	}

	return time.Time{}, fmt.Errorf("invalid_rule: unsupported repeat %q", rule.Repeat)
}

func compileRelative(rule model.ScheduleRule, now time.Time) (time.Time, error) {
	v := rule.RelValue
	if v <= 0 {
		v = 1
	}
	unit, err := parseUnit(string(rule.RelUnit))
	if err != nil {
		return time.Time{}, err
	}
	var dt time.Time
	switch unit {
	case model.RelMinutes:
		dt = now.Add(time.Duration(v) * time.Minute)
	case model.RelDays:
		dt = now.AddDate(0, 0, v)
	default:
		dt = now.Add(time.Duration(v) * time.Hour)
	}
	return clamp(dt, now), nil
}

func parseUnit(unit string) (model.RelUnit, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "hr", "hrs", "hour", "hours":
		return model.RelHours, nil
	case "min", "mins", "minute", "minutes":
		return model.RelMinutes, nil
	case "day", "days":
		return model.RelDays, nil
	default:
		return "", fmt.Errorf("invalid_rule: unsupported rel_unit %q", unit)
	}
}

func parseHHMM(s string, defHH, defMM int) (int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defHH, defMM, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid_rule: bad time format %q (expected HH:MM)", s)
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid_rule: bad time format %q (expected HH:MM)", s)
	}
	return hh, mm, nil
}

func parseStartDatetime(startDate, sendTime string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(startDate) == "" || strings.TrimSpace(sendTime) == "" {
		return time.Time{}, fmt.Errorf("invalid_rule: start_date and send_time are required for once schedules")
	}
	hh, mm, err := parseHHMM(sendTime, 9, 0)
	if err != nil {
		return time.Time{}, err
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(startDate), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid_rule: start_date must be YYYY-MM-DD, got %q", startDate)
	}
	return atTime(day, hh, mm, loc), nil
}

func parseByWeekday(raw string) (map[time.Weekday]bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("invalid_rule: weekday requires byweekday (e.g. 'MO,TU,FR')")
	}
	wanted := map[time.Weekday]bool{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		wd, ok := weekdayMap[p]
		if !ok {
			return nil, fmt.Errorf("invalid_rule: invalid weekday %q (use MO..SU)", p)
		}
		wanted[wd] = true
	}
	return wanted, nil
}

func dateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func atTime(day time.Time, hh, mm int, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func clamp(dt, now time.Time) time.Time {
	if !dt.After(now) {
		return now.Add(clampFloor)
	}
	return dt
}

func zoneOrUTC(tz string) string {
	if strings.TrimSpace(tz) == "" {
		return "UTC"
	}
	return tz
}
