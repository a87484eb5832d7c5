package domain

import "time"

// Document is a Reading reshaped for the sink. ID is stable for a given
// target and system time so sinks can upsert.
type Document struct {
	ID            string
	Target        string
	Timestamp     time.Time
	DisplayTime   time.Time
	Value         *float64
	SmoothedValue *float64
	TrendRate     *float64
	Unit          string
	RateUnit      string
	Extra         map[string]any
}

// canonicalFields are the keys Source assigns itself.
var canonicalFields = map[string]bool{
	"@timestamp":     true,
	"display_time":   true,
	"value":          true,
	"smoothed_value": true,
	"trend_rate":     true,
	"unit":           true,
	"rate_unit":      true,
}

// Source returns the document body as stored by schemaless sinks.
// Extra fields keep their vendor names; one that collides with a
// canonical key is stored as "vendor_<name>".
func (d Document) Source() map[string]any {
	src := make(map[string]any, len(d.Extra)+len(canonicalFields))
	for k, v := range d.Extra {
		if canonicalFields[k] {
			k = "vendor_" + k
		}
		src[k] = v
	}
	src["@timestamp"] = d.Timestamp.UTC().Format(time.RFC3339)
	if !d.DisplayTime.IsZero() {
		src["display_time"] = d.DisplayTime.Format(TimeLayout)
	}
	if d.Value != nil {
		src["value"] = *d.Value
	}
	if d.SmoothedValue != nil {
		src["smoothed_value"] = *d.SmoothedValue
	}
	if d.TrendRate != nil {
		src["trend_rate"] = *d.TrendRate
	}
	if d.Unit != "" {
		src["unit"] = d.Unit
	}
	if d.RateUnit != "" {
		src["rate_unit"] = d.RateUnit
	}
	return src
}
