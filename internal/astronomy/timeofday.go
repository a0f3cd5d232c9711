package astronomy

import (
	"fmt"
	"time"

	"cloudeng.io/datetime"
)

// TimeOfDay is a wall-clock time. It shares datetime.TimeOfDay's packed
// representation, so integer ordering matches clock ordering, but prints
// and marshals at minute resolution.
type TimeOfDay datetime.TimeOfDay

// NewTimeOfDay creates a TimeOfDay from the specified hour, minute and second.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(datetime.NewTimeOfDay(hour, minute, second))
}

// TimeOfDayFromTime returns the wall-clock time of t in t's location.
func TimeOfDayFromTime(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second())
}

func (t TimeOfDay) Hour() int   { return datetime.TimeOfDay(t).Hour() }
func (t TimeOfDay) Minute() int { return datetime.TimeOfDay(t).Minute() }
func (t TimeOfDay) Second() int { return datetime.TimeOfDay(t).Second() }

// Minutes returns the number of whole minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour()*60 + t.Minute()
}

// Duration returns the time elapsed since midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Phase is the part of the day that should currently be active.
type Phase string

const (
	Day   Phase = "day"
	Night Phase = "night"
)

// ParsePhase accepts "day" or "night".
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case Day, Night:
		return Phase(s), nil
	}
	return "", fmt.Errorf("invalid phase %q, expected day or night", s)
}

// PhaseAt reports whether at falls between sunrise (inclusive) and sunset
// (exclusive). Polar results select the phase the sun stays in all day.
func PhaseAt(at TimeOfDay, r Result) Phase {
	switch r.Condition {
	case Normal:
		day := r.Sunrise <= at && at < r.Sunset
		if r.Sunset < r.Sunrise {
			// Sunset wrapped past local midnight.
			day = at >= r.Sunrise || at < r.Sunset
		}
		if day {
			return Day
		}
		return Night
	case ContinuousDay:
		return Day
	default:
		return Night
	}
}
