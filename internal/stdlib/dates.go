package stdlib

import (
	"fmt"
	"strings"
	"time"
)

// DatesLib provides date formatting and arithmetic. Inputs are accepted as
// ISO-8601 strings, epoch milliseconds, or JS Date objects (which the
// engine exports as time.Time); results are returned as ISO-8601 strings
// in UTC so they survive the trip back into JS unchanged.
type DatesLib struct{}

// formatTokens are substituted longest-first so that e.g. "yyyy" is
// consumed before "yy" and "MM" before "M" equivalents can overlap.
var formatTokens = []struct {
	token  string
	layout string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MM", "01"},
	{"dd", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// Format renders a date using yyyy/MM/dd/HH/mm/ss style tokens.
func (d *DatesLib) Format(date any, layout string) (string, error) {
	t, err := coerceTime(date)
	if err != nil {
		return "", err
	}
	out := layout
	for _, ft := range formatTokens {
		out = strings.ReplaceAll(out, ft.token, t.Format(ft.layout))
	}
	return out, nil
}

// TimeAgo renders the coarsest applicable relative-time phrase:
// years > months > days > hours > minutes > "just now".
func (d *DatesLib) TimeAgo(date any) (string, error) {
	t, err := coerceTime(date)
	if err != nil {
		return "", err
	}
	elapsed := time.Since(t)
	switch {
	case elapsed >= 365*24*time.Hour:
		return agoPhrase(int(elapsed/(365*24*time.Hour)), "year"), nil
	case elapsed >= 30*24*time.Hour:
		return agoPhrase(int(elapsed/(30*24*time.Hour)), "month"), nil
	case elapsed >= 24*time.Hour:
		return agoPhrase(int(elapsed/(24*time.Hour)), "day"), nil
	case elapsed >= time.Hour:
		return agoPhrase(int(elapsed/time.Hour), "hour"), nil
	case elapsed >= time.Minute:
		return agoPhrase(int(elapsed/time.Minute), "minute"), nil
	default:
		return "just now", nil
	}
}

func agoPhrase(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// AddDays shifts the date by n days (negative to subtract).
func (d *DatesLib) AddDays(date any, n int64) (string, error) {
	return shift(date, time.Duration(n)*24*time.Hour)
}

// AddHours shifts the date by n hours.
func (d *DatesLib) AddHours(date any, n int64) (string, error) {
	return shift(date, time.Duration(n)*time.Hour)
}

// AddMinutes shifts the date by n minutes.
func (d *DatesLib) AddMinutes(date any, n int64) (string, error) {
	return shift(date, time.Duration(n)*time.Minute)
}

// StartOfDay truncates to 00:00:00.000 UTC.
func (d *DatesLib) StartOfDay(date any) (string, error) {
	t, err := coerceTime(date)
	if err != nil {
		return "", err
	}
	t = t.UTC()
	return iso(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)), nil
}

// EndOfDay advances to 23:59:59.999 UTC.
func (d *DatesLib) EndOfDay(date any) (string, error) {
	t, err := coerceTime(date)
	if err != nil {
		return "", err
	}
	t = t.UTC()
	return iso(time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999_000_000, time.UTC)), nil
}

// IsBefore reports whether a is strictly before b.
func (d *DatesLib) IsBefore(a, b any) (bool, error) {
	ta, err := coerceTime(a)
	if err != nil {
		return false, err
	}
	tb, err := coerceTime(b)
	if err != nil {
		return false, err
	}
	return ta.Before(tb), nil
}

// IsAfter reports whether a is strictly after b.
func (d *DatesLib) IsAfter(a, b any) (bool, error) {
	before, err := d.IsBefore(b, a)
	return before, err
}

// IsToday reports whether the date falls on the current UTC day.
func (d *DatesLib) IsToday(date any) (bool, error) {
	t, err := coerceTime(date)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	t = t.UTC()
	return t.Year() == now.Year() && t.YearDay() == now.YearDay(), nil
}

func shift(date any, delta time.Duration) (string, error) {
	t, err := coerceTime(date)
	if err != nil {
		return "", err
	}
	return iso(t.Add(delta)), nil
}

func iso(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// coerceTime accepts the date representations sandboxed code can produce.
func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date string %q", t)
	case int64:
		return time.UnixMilli(t), nil
	case float64:
		return time.UnixMilli(int64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date value of type %T", v)
	}
}
