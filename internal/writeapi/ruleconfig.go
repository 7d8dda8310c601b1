package writeapi

import "strings"

// configEntry and normalizedConfig are adapted from the teacher's
// oarkflow-email/config.go fuzzy field-normalization helper. The teacher
// used it to pull many aliased names (from/sender/from_email/...) for a
// single EmailConfig bag out of arbitrary JSON. BulkSetScheduleRule faces
// the same shape of problem from its CSV-like callers: a caller may send
// "repeat", "frequency", or "recurrence" for the same ScheduleRule field,
// so the normalization machinery is kept verbatim and re-pointed at
// scheduleFieldAliases instead of the teacher's transport field aliases.
type configEntry struct {
	original  string
	sanitized string
	value     any
	used      bool
}

type normalizedConfig struct {
	entries map[string][]*configEntry
}

func newNormalizedConfig(raw map[string]any) *normalizedConfig {
	entries := make(map[string][]*configEntry)
	for key, value := range raw {
		sanitized := sanitizeKey(key)
		e := &configEntry{original: key, sanitized: sanitized, value: value}
		entries[sanitized] = append(entries[sanitized], e)
	}
	return &normalizedConfig{entries: entries}
}

func (n *normalizedConfig) pullValue(canonical string) (any, bool) {
	if canonical == "" {
		return nil, false
	}
	if aliases, ok := scheduleFieldAliases[canonical]; ok {
		if val, ok := n.consumeAliases(aliases); ok {
			return val, true
		}
	}
	if val, ok := n.consumeExact(canonical); ok {
		return val, true
	}
	return n.consumeFuzzy(canonical)
}

func (n *normalizedConfig) consumeAliases(aliases []string) (any, bool) {
	for _, alias := range aliases {
		if val, ok := n.consumeExact(alias); ok {
			return val, true
		}
	}
	return nil, false
}

func (n *normalizedConfig) consumeExact(key string) (any, bool) {
	sanitized := sanitizeKey(key)
	if entries, ok := n.entries[sanitized]; ok {
		for _, entry := range entries {
			if entry.used {
				continue
			}
			entry.used = true
			return entry.value, true
		}
	}
	return nil, false
}

func (n *normalizedConfig) consumeFuzzy(target string) (any, bool) {
	token := sanitizeKey(target)
	if len(token) < 4 {
		return nil, false
	}
	for key, entries := range n.entries {
		if len(key) < 4 {
			continue
		}
		if !strings.Contains(key, token) && !strings.Contains(token, key) {
			continue
		}
		for _, entry := range entries {
			if entry.used {
				continue
			}
			entry.used = true
			return entry.value, true
		}
	}
	return nil, false
}

// scheduleFieldAliases maps each ScheduleRule field to the aliases a
// CSV/import caller might use instead.
var scheduleFieldAliases = map[string][]string{
	"repeat":     {"repeat", "frequency", "recurrence", "mode", "schedule_mode"},
	"start_date": {"start_date", "startdate", "begin_date", "from_date"},
	"end_date":   {"end_date", "enddate", "until", "stop_date"},
	"send_time":  {"send_time", "time", "send_at", "hour"},
	"send_time_2": {"send_time_2", "time2", "second_time", "send_at_2"},
	"interval":   {"interval", "every", "every_n_days", "n_days"},
	"byweekday":  {"byweekday", "weekdays", "days_of_week", "week_days"},
	"rel_value":  {"rel_value", "offset", "offset_value", "relative_value"},
	"rel_unit":   {"rel_unit", "offset_unit", "relative_unit", "unit"},
}

func sanitizeKey(key string) string {
	lower := strings.ToLower(key)
	var b strings.Builder
	for _, r := range lower {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func getStringField(norm *normalizedConfig, canonical string) string {
	val, ok := norm.pullValue(canonical)
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func getIntField(norm *normalizedConfig, canonical string, def int) int {
	val, ok := norm.pullValue(canonical)
	if !ok || val == nil {
		return def
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// RuleFromBag builds a RuleInput out of an arbitrary string-keyed
// bag (e.g. one CSV row decoded to JSON), tolerating whatever aliased
// column names the caller's source data happens to use.
func RuleFromBag(raw map[string]any) RuleInput {
	norm := newNormalizedConfig(raw)
	return RuleInput{
		Repeat:     getStringField(norm, "repeat"),
		StartDate:  getStringField(norm, "start_date"),
		EndDate:    getStringField(norm, "end_date"),
		SendTime:   getStringField(norm, "send_time"),
		SendTime2:  getStringField(norm, "send_time_2"),
		Interval:   getIntField(norm, "interval", 1),
		ByWeekday:  getStringField(norm, "byweekday"),
		RelValue:   getIntField(norm, "rel_value", 0),
		RelUnit:    getStringField(norm, "rel_unit"),
	}
}
