package domain

import "time"

// Reading is one estimated glucose value (EGV) as returned by the vendor.
type Reading struct {
	SystemTime    time.Time
	DisplayTime   time.Time
	RealtimeValue *float64
	SmoothedValue *float64
	TrendRate     *float64
	Unit          string
	RateUnit      string

	// Extra holds vendor fields not modelled above, keyed by their JSON name.
	Extra map[string]any
}
