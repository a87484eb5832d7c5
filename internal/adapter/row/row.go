// Package row flattens documents into the column values shared by the SQL
// sinks.
package row

import (
	"encoding/json"
	"time"

	"dexcom-ingest/internal/domain"
)

// Columns lists the egv_readings columns in the order Values returns them.
var Columns = []string{
	"id", "target", "system_time", "display_time",
	"value", "smoothed_value", "trend_rate",
	"unit", "rate_unit", "extra",
}

// Values returns d's column values. Missing optional values are nil so
// they are stored as NULL. Extra is encoded as a JSON object string.
func Values(d domain.Document) ([]any, error) {
	var display any
	if !d.DisplayTime.IsZero() {
		display = d.DisplayTime.UTC()
	}
	var extra any
	if len(d.Extra) > 0 {
		b, err := json.Marshal(d.Extra)
		if err != nil {
			return nil, err
		}
		extra = string(b)
	}
	return []any{
		d.ID,
		d.Target,
		d.Timestamp.UTC(),
		display,
		floatOrNil(d.Value),
		floatOrNil(d.SmoothedValue),
		floatOrNil(d.TrendRate),
		d.Unit,
		d.RateUnit,
		extra,
	}, nil
}

// TextTimes rewrites the time values in vals as RFC 3339 strings, for
// drivers that store timestamps as text.
func TextTimes(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		if t, ok := v.(time.Time); ok {
			out[i] = t.Format(time.RFC3339)
			continue
		}
		out[i] = v
	}
	return out
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
