package countdown

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EndedLabel is shown once the deadline has passed.
const EndedLabel = "ended"

// ErrInvalidDeadline is returned when a deadline cannot be parsed.
var ErrInvalidDeadline = errors.New("invalid deadline")

var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseDeadline turns whatever the upstream source delivered into a time.
// Numbers (and numeric strings) are Unix milliseconds.
func ParseDeadline(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case *time.Time:
		if d == nil {
			return time.Time{}, fmt.Errorf("%w: nil time", ErrInvalidDeadline)
		}
		return *d, nil
	case int:
		return time.UnixMilli(int64(d)), nil
	case int64:
		return time.UnixMilli(d), nil
	case float64:
		return time.UnixMilli(int64(d)), nil
	case json.Number:
		return parseDeadlineString(d.String())
	case string:
		return parseDeadlineString(d)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDeadline, v)
	}
}

func parseDeadlineString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrInvalidDeadline)
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.UnixMilli(int64(f)), nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDeadline, s)
}

// Format renders the time left until deadline using the two or three most
// significant units.
func Format(deadline, now time.Time) string {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return EndedLabel
	}

	days := int64(remaining / (24 * time.Hour))
	hours := int64((remaining % (24 * time.Hour)) / time.Hour)
	minutes := int64((remaining % time.Hour) / time.Minute)
	seconds := int64((remaining % time.Minute) / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
