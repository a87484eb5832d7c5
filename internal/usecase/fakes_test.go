package usecase

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"dexcom-ingest/internal/clock"
	"dexcom-ingest/internal/domain"
)

// callLog records the order in which collaborators are invoked.
type callLog struct{ calls []string }

func (c *callLog) add(s string) { c.calls = append(c.calls, s) }

func (c *callLog) count(s string) int {
	n := 0
	for _, v := range c.calls {
		if v == s {
			n++
		}
	}
	return n
}

type fakeAuth struct {
	log        *callLog
	issued     domain.Credential
	refreshErr error
	authErr    error
}

func (f *fakeAuth) AuthorizeInteractive(ctx context.Context) (domain.Credential, error) {
	f.log.add("authorize")
	if f.authErr != nil {
		return domain.Credential{}, f.authErr
	}
	return f.issued, nil
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	f.log.add("refresh")
	if f.refreshErr != nil {
		return domain.Credential{}, f.refreshErr
	}
	return f.issued, nil
}

// fakeDexcom serves readings from memory. Errors queued in rangeErrs and
// windowErrs are returned, one per call, before any data is served.
type fakeDexcom struct {
	log        *callLog
	rng        domain.DataRange
	readings   []domain.Reading
	rangeErrs  []error
	windowErrs []error
	windows    []domain.Window
}

func (f *fakeDexcom) FetchRange(ctx context.Context, cred domain.Credential) (domain.DataRange, error) {
	f.log.add("range")
	if len(f.rangeErrs) > 0 {
		err := f.rangeErrs[0]
		f.rangeErrs = f.rangeErrs[1:]
		return domain.DataRange{}, err
	}
	return f.rng, nil
}

func (f *fakeDexcom) FetchWindow(ctx context.Context, cred domain.Credential, w domain.Window) ([]domain.Reading, error) {
	f.log.add("window")
	f.windows = append(f.windows, w)
	if len(f.windowErrs) > 0 {
		err := f.windowErrs[0]
		f.windowErrs = f.windowErrs[1:]
		return nil, err
	}
	var out []domain.Reading
	for _, r := range f.readings {
		if !r.SystemTime.Before(w.Start) && r.SystemTime.Before(w.End) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SystemTime.After(out[j].SystemTime) })
	return out, nil
}

type memTokens struct {
	cred domain.Credential
	ok   bool
}

func (m *memTokens) Load() (domain.Credential, bool) { return m.cred, m.ok }

func (m *memTokens) Save(c domain.Credential) error {
	m.cred, m.ok = c, true
	return nil
}

type memCursor struct {
	initial time.Time
	saves   []time.Time
	saveErr error
}

func (m *memCursor) Load() time.Time {
	if len(m.saves) > 0 {
		return m.saves[len(m.saves)-1]
	}
	if m.initial.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return m.initial
}

func (m *memCursor) Save(t time.Time) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, t)
	return nil
}

type fakeSink struct {
	log     *callLog
	batches [][]domain.Document
	err     error
}

func (f *fakeSink) Bulk(ctx context.Context, docs []domain.Document) error {
	f.log.add("bulk")
	f.batches = append(f.batches, docs)
	return f.err
}

type harness struct {
	log    *callLog
	auth   *fakeAuth
	tokens *memTokens
	dexcom *fakeDexcom
	cursor *memCursor
	sink   *fakeSink
	clock  *clock.Fake
	loop   *PollLoop
}

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newHarness() *harness {
	log := &callLog{}
	clk := clock.NewFake(day.Add(48 * time.Hour))
	validCred := domain.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: clk.Now().Add(2 * time.Hour)}
	h := &harness{
		log:    log,
		auth:   &fakeAuth{log: log, issued: validCred},
		tokens: &memTokens{cred: validCred, ok: true},
		dexcom: &fakeDexcom{log: log},
		cursor: &memCursor{},
		sink:   &fakeSink{log: log},
		clock:  clk,
	}
	h.loop = &PollLoop{
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Auth:    h.auth,
		Tokens:  h.tokens,
		Dexcom:  h.dexcom,
		Cursors: h.cursor,
		Sink:    h.sink,
		Target:  "dexcom",
		Policy:  DefaultPolicy(),
		Clock:   clk,
	}
	return h
}

func reading(t time.Time, v float64) domain.Reading {
	return domain.Reading{SystemTime: t, RealtimeValue: &v, Unit: "mg/dL"}
}
