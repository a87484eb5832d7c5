package domain

import "time"

// DataRange is the span of readings the vendor currently reports as
// available for the account. It moves forward as new readings arrive.
type DataRange struct {
	Earliest time.Time
	Latest   time.Time
}

// Window is a half-open time range [Start, End) queried in one request.
type Window struct {
	Start time.Time
	End   time.Time
}

// TimeLayout is the second-resolution layout used by the vendor API for
// query parameters and by the persisted cursor.
const TimeLayout = "2006-01-02T15:04:05"
