package astronomy

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/sixdouglas/suncalc"
)

// Reference is a sunrise/sunset pair produced by an independent library,
// expressed in the observer's offset zone.
type Reference struct {
	Source  string    `json:"source"`
	Sunrise time.Time `json:"sunrise"`
	Sunset  time.Time `json:"sunset"`
}

// Zone returns a fixed zone for the location's UTC offset.
func (l Location) Zone() *time.Location {
	return time.FixedZone("", int(l.UTCOffset*3600))
}

// References computes the sun times for the local date of now at loc with
// go-sunrise and suncalc. It is used to cross-check Compute.
func References(now time.Time, loc Location) []Reference {
	zone := loc.Zone()
	local := now.In(zone)

	rise, set := sunrise.SunriseSunset(loc.Latitude, loc.Longitude, local.Year(), local.Month(), local.Day())

	// suncalc works from the instant's UTC date; anchor at local noon.
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, zone)
	times := suncalc.GetTimes(noon, loc.Latitude, loc.Longitude)

	return []Reference{
		{Source: "go-sunrise", Sunrise: rise.In(zone), Sunset: set.In(zone)},
		{Source: "suncalc", Sunrise: times["sunrise"].Value.In(zone), Sunset: times["sunset"].Value.In(zone)},
	}
}
