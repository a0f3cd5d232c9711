// Package astronomy computes local sunrise and sunset times using the
// NOAA solar position approximation (after Jean Meeus).
//
// The calculation is a pure function of the instant and the observer's
// location; callers always pass the instant in.
package astronomy

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

const (
	unixEpochJulianDay = 2440587.5
	j2000JulianDay     = 2451545.0
	daysPerCentury     = 36525.0
	secondsPerDay      = 86400.0
	minutesPerDay      = 1440.0

	// Solar zenith at apparent sunrise/sunset, including standard
	// refraction and the radius of the solar disk.
	zenithDeg = 90.833
)

var (
	ErrContinuousDay   = errors.New("sun does not set today (continuous day)")
	ErrContinuousNight = errors.New("sun does not rise today (continuous night)")
	ErrUndefined       = errors.New("sun times undefined for non-finite input")
)

// Location is an observer on the earth's surface. UTCOffset is in hours
// and may be fractional.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	UTCOffset float64 `json:"utc_offset"`
}

// Condition tags a Result.
type Condition int

const (
	Normal Condition = iota
	ContinuousDay
	ContinuousNight
	Undefined
)

func (c Condition) String() string {
	switch c {
	case Normal:
		return "normal"
	case ContinuousDay:
		return "continuous_day"
	case ContinuousNight:
		return "continuous_night"
	default:
		return "undefined"
	}
}

func (c Condition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Result holds the local sunrise, solar noon and sunset. Sunrise and
// Sunset are only meaningful when Condition is Normal.
type Result struct {
	Sunrise   TimeOfDay `json:"sunrise"`
	Noon      TimeOfDay `json:"noon"`
	Sunset    TimeOfDay `json:"sunset"`
	Condition Condition `json:"condition"`
}

// MarshalJSON omits sunrise and sunset unless the result is Normal.
func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Sunrise   *TimeOfDay `json:"sunrise,omitempty"`
		Noon      TimeOfDay  `json:"noon"`
		Sunset    *TimeOfDay `json:"sunset,omitempty"`
		Condition Condition  `json:"condition"`
	}{Noon: r.Noon, Condition: r.Condition}
	if r.Condition == Normal {
		out.Sunrise, out.Sunset = &r.Sunrise, &r.Sunset
	}
	return json.Marshal(out)
}

// Err returns nil for a Normal result and the matching sentinel error
// otherwise.
func (r Result) Err() error {
	switch r.Condition {
	case Normal:
		return nil
	case ContinuousDay:
		return ErrContinuousDay
	case ContinuousNight:
		return ErrContinuousNight
	default:
		return ErrUndefined
	}
}

// Compute returns the sun times for the day containing now at loc.
func Compute(now time.Time, loc Location) Result {
	return ComputeUnix(float64(now.Unix()), loc)
}

// ComputeUnix is Compute for an instant given in seconds since the UNIX
// epoch.
func ComputeUnix(seconds float64, loc Location) Result {
	julianDay := seconds/secondsPerDay + unixEpochJulianDay
	jc := (julianDay - j2000JulianDay) / daysPerCentury

	meanAnomaly := 357.52911 + jc*(35999.05029-0.0001537*jc)
	meanAnomalyRad := DegToRad(meanAnomaly)

	meanLongitude := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360)
	meanLongitudeRad := DegToRad(meanLongitude)

	meanObliquity := 23.0 + (26.0+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60.0)/60.0

	// Nutation term, shared by the obliquity and apparent longitude.
	omegaRad := DegToRad(125.04 - 1934.136*jc)

	obliquity := meanObliquity + 0.00256*math.Cos(omegaRad)
	obliquityRad := DegToRad(obliquity)

	y := math.Tan(obliquityRad / 2)
	y *= y

	e := 0.016708634 - jc*(0.000042037+0.0000001267*jc)

	eqTime := 4 * RadToDeg(
		y*math.Sin(2*meanLongitudeRad)-
			2*e*math.Sin(meanAnomalyRad)+
			4*e*y*math.Sin(meanAnomalyRad)*math.Cos(2*meanAnomalyRad)-
			0.5*y*y*math.Sin(4*meanLongitudeRad)-
			1.25*e*e*math.Sin(2*meanLongitudeRad))

	noon := (720 - 4*loc.Longitude - eqTime + loc.UTCOffset*60) / minutesPerDay

	center := math.Sin(meanAnomalyRad)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*meanAnomalyRad)*(0.019993-0.000101*jc) +
		math.Sin(3*meanAnomalyRad)*0.000289

	trueLongitude := meanLongitude + center
	apparentLongitude := trueLongitude - 0.00569 - 0.00478*math.Sin(omegaRad)
	apparentLongitudeRad := DegToRad(apparentLongitude)

	declination := RadToDeg(math.Asin(math.Sin(obliquityRad) * math.Sin(apparentLongitudeRad)))
	declinationRad := DegToRad(declination)

	latRad := DegToRad(loc.Latitude)
	cosHA := math.Cos(DegToRad(zenithDeg))/(math.Cos(latRad)*math.Cos(declinationRad)) -
		math.Tan(latRad)*math.Tan(declinationRad)

	res := Result{Noon: dayFractionToTimeOfDay(noon)}
	switch {
	case math.IsNaN(cosHA) || math.IsNaN(noon):
		res.Condition = Undefined
		return res
	case cosHA > 1:
		res.Condition = ContinuousNight
		return res
	case cosHA < -1:
		res.Condition = ContinuousDay
		return res
	}

	ha := RadToDeg(math.Acos(cosHA))
	res.Sunrise = dayFractionToTimeOfDay((noon*minutesPerDay - ha*4) / minutesPerDay)
	res.Sunset = dayFractionToTimeOfDay((noon*minutesPerDay + ha*4) / minutesPerDay)
	return res
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * 2 * math.Pi / 360
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 360 / (2 * math.Pi)
}

// dayFractionToTimeOfDay rounds to the second, floors the hour and rounds
// the minute. Seconds are always zero in the result.
func dayFractionToTimeOfDay(fraction float64) TimeOfDay {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return 0
	}
	seconds := math.Round(fraction * secondsPerDay)
	hours := math.Floor(seconds / 3600)
	minutes := math.Round((seconds/3600 - hours) * 60)
	total := (int64(hours)*60 + int64(minutes)) % minutesPerDay
	if total < 0 {
		total += minutesPerDay
	}
	return NewTimeOfDay(int(total/60), int(total%60), 0)
}
