// Package normalize reshapes vendor readings into sink documents.
//
// Known fields are renamed; fields the vendor adds that are not modelled
// in domain.Reading are carried through unchanged in Document.Extra, so a
// vendor schema change never silently drops data.
package normalize

import (
	"github.com/google/uuid"

	"dexcom-ingest/internal/domain"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dexcom-ingest/egv"))

// DocumentID returns the stable id of the reading taken at systemTime and
// written to target.
func DocumentID(target string, r domain.Reading) string {
	key := target + "|" + r.SystemTime.UTC().Format(domain.TimeLayout)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// EGV converts one reading. It is pure: equal inputs give equal outputs.
func EGV(r domain.Reading, target string) domain.Document {
	var extra map[string]any
	if len(r.Extra) > 0 {
		extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
	}
	return domain.Document{
		ID:            DocumentID(target, r),
		Target:        target,
		Timestamp:     r.SystemTime.UTC(),
		DisplayTime:   r.DisplayTime,
		Value:         copyFloat(r.RealtimeValue),
		SmoothedValue: copyFloat(r.SmoothedValue),
		TrendRate:     copyFloat(r.TrendRate),
		Unit:          r.Unit,
		RateUnit:      r.RateUnit,
		Extra:         extra,
	}
}

// Batch converts readings in order.
func Batch(readings []domain.Reading, target string) []domain.Document {
	docs := make([]domain.Document, 0, len(readings))
	for _, r := range readings {
		docs = append(docs, EGV(r, target))
	}
	return docs
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
