//go:build e2e

package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dexcom-ingest/internal/adapter/elastic"
	"dexcom-ingest/internal/adapter/filestore"
	msql "dexcom-ingest/internal/adapter/mysql"
	"dexcom-ingest/internal/adapter/postgres"
	"dexcom-ingest/internal/clock"
	"dexcom-ingest/internal/domain"
	"dexcom-ingest/internal/migrate"
	"dexcom-ingest/internal/ports"
	"dexcom-ingest/internal/usecase"
)

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeDexcom serves one reading every five minutes for three hours.
type fakeDexcom struct{ readings []domain.Reading }

func newFakeDexcom() fakeDexcom {
	var f fakeDexcom
	for ts := day; ts.Before(day.Add(3 * time.Hour)); ts = ts.Add(5 * time.Minute) {
		v := 100 + float64(ts.Minute())
		f.readings = append(f.readings, domain.Reading{
			SystemTime:    ts,
			DisplayTime:   ts.Add(time.Hour),
			RealtimeValue: &v,
			Unit:          "mg/dL",
			RateUnit:      "mg/dL/min",
			Extra:         map[string]any{"status": "ok"},
		})
	}
	return f
}

func (f fakeDexcom) FetchRange(ctx context.Context, cred domain.Credential) (domain.DataRange, error) {
	return domain.DataRange{Earliest: f.readings[0].SystemTime, Latest: f.readings[len(f.readings)-1].SystemTime}, nil
}

func (f fakeDexcom) FetchWindow(ctx context.Context, cred domain.Credential, w domain.Window) ([]domain.Reading, error) {
	var out []domain.Reading
	for i := len(f.readings) - 1; i >= 0; i-- {
		r := f.readings[i]
		if !r.SystemTime.Before(w.Start) && r.SystemTime.Before(w.End) {
			out = append(out, r)
		}
	}
	return out, nil
}

type staticAuth struct{}

func (staticAuth) AuthorizeInteractive(ctx context.Context) (domain.Credential, error) {
	return domain.Credential{}, fmt.Errorf("%w: not expected", domain.ErrAuth)
}

func (staticAuth) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	return domain.NewCredential("at", refreshToken, 2*time.Hour, time.Now()), nil
}

// runToEnd drives a fresh loop until the cursor passes the newest reading.
// cursorFile is shared between runs so the second run resumes.
func runToEnd(t *testing.T, ctx context.Context, sink ports.Sink, dir string, resetCursor bool) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	tokens := filestore.NewTokenStore(filepath.Join(dir, "tokens.json"))
	if err := tokens.Save(domain.NewCredential("at", "rt", 24*time.Hour, day)); err != nil {
		t.Fatalf("save tokens: %v", err)
	}
	cursorPath := filepath.Join(dir, "cursor.txt")
	if resetCursor {
		_ = os.Remove(cursorPath)
	}
	fake := newFakeDexcom()
	loop := &usecase.PollLoop{
		Log:     logger,
		Auth:    staticAuth{},
		Tokens:  tokens,
		Dexcom:  fake,
		Cursors: filestore.NewCursorStore(cursorPath),
		Sink:    sink,
		Target:  "dexcom",
		Policy:  usecase.DefaultPolicy(),
		Clock:   clock.NewFake(day),
	}
	if err := loop.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	latest := fake.readings[len(fake.readings)-1].SystemTime
	for i := 0; i < 50 && !loop.Cursor().After(latest); i++ {
		if _, err := loop.Step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if !loop.Cursor().After(latest) {
		t.Fatalf("cursor %s did not pass %s", loop.Cursor().Format(domain.TimeLayout), latest.Format(domain.TimeLayout))
	}
}

func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (string, string) {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Port()
}

func TestPollToMySQL_UpsertsReadings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	host, port := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      "testdb",
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_USER":          "test",
			"MYSQL_PASSWORD":      "pass",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}, "3306/tcp")
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true", "test", "pass", host, port, "testdb")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := migrate.Run(ctx, dsn, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sink, err := msql.NewClient(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("mysql client: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	defer db.Close()
	count := func() int {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM egv_readings WHERE target = ?", "dexcom").Scan(&n); err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}

	dir := t.TempDir()
	runToEnd(t, ctx, sink, dir, false)
	if n := count(); n != 36 {
		t.Fatalf("expected 36 rows, got %d", n)
	}

	// Replay from scratch to assert idempotency (upsert)
	runToEnd(t, ctx, sink, dir, true)
	if n := count(); n != 36 {
		t.Fatalf("expected 36 rows after replay, got %d", n)
	}

	migrations, err := migrate.Status(ctx, dsn)
	if err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	for _, m := range migrations {
		if !m.Applied {
			t.Fatalf("migration %s not applied", m.File)
		}
	}
}

func TestPollToPostgres_UpsertsReadings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	host, port := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "pass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}, "5432/tcp")
	dsn := fmt.Sprintf("postgres://test:pass@%s:%s/testdb?sslmode=disable", host, port)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink, err := postgres.NewClient(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("postgres client: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	count := func() int {
		var n int
		if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM egv_readings WHERE target = $1", "dexcom").Scan(&n); err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}

	dir := t.TempDir()
	runToEnd(t, ctx, sink, dir, false)
	if n := count(); n != 36 {
		t.Fatalf("expected 36 rows, got %d", n)
	}
	runToEnd(t, ctx, sink, dir, true)
	if n := count(); n != 36 {
		t.Fatalf("expected 36 rows after replay, got %d", n)
	}
}

func TestPollToElasticsearch_IndexesReadings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	host, port := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "docker.elastic.co/elasticsearch/elasticsearch:8.17.0",
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health").WithPort("9200/tcp").WithStartupTimeout(180 * time.Second),
	}, "9200/tcp")
	base := fmt.Sprintf("http://%s:%s", host, port)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink, err := elastic.NewClient(elastic.Config{Addresses: []string{base}}, logger)
	if err != nil {
		t.Fatalf("elastic client: %v", err)
	}

	count := func() int {
		resp, err := http.Post(base+"/dexcom/_refresh", "application/json", nil)
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
		resp.Body.Close()
		resp, err = http.Get(base + "/dexcom/_count")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode count: %v", err)
		}
		return body.Count
	}

	dir := t.TempDir()
	runToEnd(t, ctx, sink, dir, false)
	if n := count(); n != 36 {
		t.Fatalf("expected 36 documents, got %d", n)
	}
	runToEnd(t, ctx, sink, dir, true)
	if n := count(); n != 36 {
		t.Fatalf("expected 36 documents after replay, got %d", n)
	}
}
