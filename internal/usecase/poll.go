package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dexcom-ingest/internal/clock"
	"dexcom-ingest/internal/domain"
	"dexcom-ingest/internal/metrics"
	"dexcom-ingest/internal/normalize"
	"dexcom-ingest/internal/ports"
)

// Policy holds the loop's scheduling parameters.
type Policy struct {
	Window         time.Duration // length of each fetch window
	RetryDelay     time.Duration // after a transient fetch error
	ExhaustedDelay time.Duration // when the cursor is past the newest available reading
	IdleDelay      time.Duration // between successful iterations
}

func DefaultPolicy() Policy {
	return Policy{
		Window:         time.Hour,
		RetryDelay:     5 * time.Second,
		ExhaustedDelay: 5 * time.Minute,
		IdleDelay:      100 * time.Millisecond,
	}
}

// PollLoop walks one account's EGV history forward in fixed windows and
// flushes each window to the sink. It owns the credential, the cursor and
// the cached data range; nothing else mutates them.
//
// The cursor marks the point before which every reading has been handed to
// the sink. It never moves backwards and is persisted after every advance,
// so a crash re-processes at most one window.
type PollLoop struct {
	Log     *slog.Logger
	Auth    ports.Authenticator
	Tokens  ports.CredentialStore
	Dexcom  ports.DexcomClient
	Cursors ports.CursorStore
	Sink    ports.Sink
	Target  string
	Policy  Policy
	Clock   clock.Clock
	Metrics *metrics.Collector

	cred      domain.Credential
	cursor    time.Time
	rng       domain.DataRange
	haveRange bool

	// consecutive fetches rejected with ErrAuth
	authFailures int
}

// Run loads persisted state and iterates until ctx is cancelled or a fatal
// error occurs. It returns ctx.Err() on cancellation.
func (l *PollLoop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	l.Log.Info("poll loop started",
		slog.String("cursor", l.cursor.Format(domain.TimeLayout)),
		slog.Time("token_expires_at", l.cred.ExpiresAt),
	)
	for {
		delay, err := l.Step(ctx)
		if err != nil {
			return err
		}
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Start loads the credential and cursor. Without a usable stored
// credential it runs interactive authorization.
func (l *PollLoop) Start(ctx context.Context) error {
	if l.Tokens == nil || l.Auth == nil || l.Dexcom == nil || l.Cursors == nil || l.Sink == nil {
		return errors.New("poll loop not initialized: missing dependencies")
	}
	l.defaults()

	cred, ok := l.Tokens.Load()
	if !ok {
		l.Log.Info("no stored credential, starting interactive authorization")
		var err error
		cred, err = l.Auth.AuthorizeInteractive(ctx)
		if err != nil {
			return fmt.Errorf("authorizing: %w", err)
		}
	}
	l.cred = cred
	l.cursor = l.Cursors.Load()
	l.haveRange = false
	l.authFailures = 0
	l.Metrics.SetCursor(l.cursor)
	return nil
}

// Step runs one iteration and returns how long to wait before the next.
// A non-nil error is fatal.
func (l *PollLoop) Step(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if l.cred.Expired(l.Clock.Now()) {
		cred, err := l.Auth.Refresh(ctx, l.cred.RefreshToken)
		if err != nil {
			return 0, fmt.Errorf("refreshing token: %w", err)
		}
		l.cred = cred
		l.Metrics.TokenRefreshed()
	}

	if !l.haveRange || l.cursor.After(l.rng.Latest) {
		rng, err := l.Dexcom.FetchRange(ctx, l.cred)
		if err != nil {
			return l.fetchFailed(ctx, "data range", err)
		}
		l.rng = rng
		l.haveRange = true
		l.Metrics.RangeQueried()
		l.Metrics.SetLatest(rng.Latest)
		l.Log.Debug("data range refreshed",
			slog.String("earliest", rng.Earliest.Format(domain.TimeLayout)),
			slog.String("latest", rng.Latest.Format(domain.TimeLayout)),
		)
	}

	if l.rng.Earliest.After(l.cursor) {
		l.Log.Info("cursor behind earliest available reading, jumping forward",
			slog.String("from", l.cursor.Format(domain.TimeLayout)),
			slog.String("to", l.rng.Earliest.Format(domain.TimeLayout)),
		)
		l.advance(l.rng.Earliest)
	} else if l.cursor.After(l.rng.Latest) {
		l.Log.Debug("no new data, backing off", slog.Duration("sleep", l.Policy.ExhaustedDelay))
		return l.Policy.ExhaustedDelay, nil
	}

	w := domain.Window{Start: l.cursor, End: l.cursor.Add(l.Policy.Window)}
	readings, err := l.Dexcom.FetchWindow(ctx, l.cred, w)
	if err != nil {
		return l.fetchFailed(ctx, "window", err)
	}
	l.authFailures = 0
	l.Metrics.WindowFetched()
	l.Metrics.ReadingsFetched(len(readings))

	var next time.Time
	switch {
	case len(readings) > 0:
		docs := normalize.Batch(readings, l.Target)
		if err := l.Sink.Bulk(ctx, docs); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			l.Metrics.FlushFailed()
			l.Log.Error("bulk flush failed, advancing cursor anyway",
				slog.Int("count", len(docs)),
				slog.String("window_start", w.Start.Format(domain.TimeLayout)),
				slog.String("error", err.Error()),
			)
		} else {
			l.Metrics.DocumentsFlushed(len(docs), l.Clock.Now())
			l.Log.Debug("flushed window", slog.Int("count", len(docs)))
		}
		next = newest(readings).Add(time.Second)
	case !w.End.After(l.rng.Latest):
		l.Metrics.WindowSkipped()
		l.Log.Info("empty window not past latest reading, skipping",
			slog.String("start", w.Start.Format(domain.TimeLayout)),
			slog.String("end", w.End.Format(domain.TimeLayout)),
		)
		next = w.End
	default:
		// The range says data exists here but the window came back empty.
		// Re-query the range after backing off rather than hammering the
		// same window.
		l.haveRange = false
		l.Log.Debug("empty window at end of range, backing off", slog.Duration("sleep", l.Policy.ExhaustedDelay))
		return l.Policy.ExhaustedDelay, nil
	}

	l.advance(next)
	return l.Policy.IdleDelay, nil
}

// Cursor returns the current in-memory cursor.
func (l *PollLoop) Cursor() time.Time { return l.cursor }

// advance moves the cursor to t if that is forward, then persists it.
func (l *PollLoop) advance(t time.Time) {
	if t.After(l.cursor) {
		l.cursor = t
	}
	l.Metrics.SetCursor(l.cursor)
	if err := l.Cursors.Save(l.cursor); err != nil {
		l.Log.Warn("unable to save cursor", slog.String("error", err.Error()))
	}
}

func (l *PollLoop) fetchFailed(ctx context.Context, what string, err error) (time.Duration, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if errors.Is(err, domain.ErrAuth) {
		l.authFailures++
		if l.authFailures > 1 {
			return 0, fmt.Errorf("fetching %s after token refresh: %w", what, err)
		}
		l.Log.Warn("token rejected, forcing refresh", slog.String("fetch", what), slog.String("error", err.Error()))
		l.cred.ExpiresAt = time.Time{}
		return 0, nil
	}
	l.Metrics.TransientError()
	l.Log.Warn("fetch failed, retrying",
		slog.String("fetch", what),
		slog.Duration("sleep", l.Policy.RetryDelay),
		slog.String("error", err.Error()),
	)
	return l.Policy.RetryDelay, nil
}

func (l *PollLoop) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.Clock.After(d):
		return nil
	}
}

func (l *PollLoop) defaults() {
	if l.Log == nil {
		l.Log = slog.New(slog.DiscardHandler)
	}
	if l.Clock == nil {
		l.Clock = clock.Real()
	}
	if l.Metrics == nil {
		l.Metrics = metrics.NewCollector()
	}
	def := DefaultPolicy()
	if l.Policy.Window <= 0 {
		l.Policy.Window = def.Window
	}
	if l.Policy.RetryDelay <= 0 {
		l.Policy.RetryDelay = def.RetryDelay
	}
	if l.Policy.ExhaustedDelay <= 0 {
		l.Policy.ExhaustedDelay = def.ExhaustedDelay
	}
	if l.Policy.IdleDelay <= 0 {
		l.Policy.IdleDelay = def.IdleDelay
	}
}

// newest returns the latest system time in readings. The vendor sends
// newest first, but nothing here depends on that.
func newest(readings []domain.Reading) time.Time {
	var latest time.Time
	for _, r := range readings {
		if r.SystemTime.After(latest) {
			latest = r.SystemTime
		}
	}
	return latest
}
