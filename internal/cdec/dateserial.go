package cdec

import (
	"math"
	"time"
)

// unixEpochSerial is the date serial of 1970-01-01 00:00 when 0000-01-01 is day 1
const unixEpochSerial = 719529

const secondsPerDay = 86400

// DateSerial converts t to a day count where 0000-01-01 is day 1 and the
// fractional part is the time of day. The wall clock is used as-is; no zone
// conversion is applied.
func DateSerial(t time.Time) float64 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	secs := float64(wall.Unix()) + float64(wall.Nanosecond())/1e9
	return unixEpochSerial + secs/secondsPerDay
}

// FromDateSerial is the inverse of DateSerial, rounded to the nearest second
func FromDateSerial(d float64) time.Time {
	secs := math.Round((d - unixEpochSerial) * secondsPerDay)
	return time.Unix(int64(secs), 0).UTC()
}
