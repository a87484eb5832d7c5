package normalize

import (
	"reflect"
	"testing"
	"time"

	"dexcom-ingest/internal/domain"
)

func f64(v float64) *float64 { return &v }

func sampleReading() domain.Reading {
	return domain.Reading{
		SystemTime:    time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
		DisplayTime:   time.Date(2024, 3, 1, 11, 15, 0, 0, time.UTC),
		RealtimeValue: f64(112),
		SmoothedValue: f64(110),
		TrendRate:     f64(-0.5),
		Unit:          "mg/dL",
		RateUnit:      "mg/dL/min",
		Extra:         map[string]any{"status": "ok", "trend": "flat"},
	}
}

func TestEGVIsDeterministic(t *testing.T) {
	r := sampleReading()
	a := EGV(r, "dexcom")
	b := EGV(r, "dexcom")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("normalize not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestEGVMapsFields(t *testing.T) {
	r := sampleReading()
	d := EGV(r, "glucose")

	if d.Target != "glucose" {
		t.Fatalf("target = %q", d.Target)
	}
	if !d.Timestamp.Equal(r.SystemTime) {
		t.Fatalf("timestamp = %v", d.Timestamp)
	}
	if *d.Value != 112 || *d.SmoothedValue != 110 || *d.TrendRate != -0.5 {
		t.Fatalf("values = %v %v %v", *d.Value, *d.SmoothedValue, *d.TrendRate)
	}

	src := d.Source()
	want := map[string]any{
		"@timestamp":     "2024-03-01T10:15:00Z",
		"display_time":   "2024-03-01T11:15:00",
		"value":          112.0,
		"smoothed_value": 110.0,
		"trend_rate":     -0.5,
		"unit":           "mg/dL",
		"rate_unit":      "mg/dL/min",
		"status":         "ok",
		"trend":          "flat",
	}
	if !reflect.DeepEqual(src, want) {
		t.Fatalf("source = %#v", src)
	}
}

func TestEGVDoesNotAliasInput(t *testing.T) {
	r := sampleReading()
	d := EGV(r, "dexcom")
	*r.RealtimeValue = 1
	r.Extra["status"] = "changed"
	if *d.Value != 112 || d.Extra["status"] != "ok" {
		t.Fatalf("document shares memory with reading: %+v", d)
	}
}

func TestDocumentIDDependsOnTargetAndTime(t *testing.T) {
	r := sampleReading()
	if DocumentID("a", r) == DocumentID("b", r) {
		t.Fatal("id ignores target")
	}
	later := r
	later.SystemTime = r.SystemTime.Add(5 * time.Minute)
	if DocumentID("a", r) == DocumentID("a", later) {
		t.Fatal("id ignores system time")
	}
}

func TestExtraNeverShadowsCanonicalFields(t *testing.T) {
	r := sampleReading()
	r.Extra["value"] = 113.0
	src := EGV(r, "dexcom").Source()
	if got := src["value"]; got != 112.0 {
		t.Fatalf("value = %v", got)
	}
	if got := src["vendor_value"]; got != 113.0 {
		t.Fatalf("vendor_value = %v", got)
	}
}
