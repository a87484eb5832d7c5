package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"dexcom-ingest/internal/adapter/dexcom"
	"dexcom-ingest/internal/adapter/elastic"
	"dexcom-ingest/internal/adapter/filestore"
	"dexcom-ingest/internal/adapter/mqtt"
	msql "dexcom-ingest/internal/adapter/mysql"
	"dexcom-ingest/internal/adapter/postgres"
	"dexcom-ingest/internal/adapter/sqlite"
	"dexcom-ingest/internal/clock"
	"dexcom-ingest/internal/config"
	"dexcom-ingest/internal/metrics"
	"dexcom-ingest/internal/migrate"
	"dexcom-ingest/internal/ports"
	"dexcom-ingest/internal/usecase"
)

// App wires adapters and use cases.
type App struct {
	log     *slog.Logger
	cfg     config.Config
	metrics *metrics.Collector
	tokens  *filestore.TokenStore
	cursors *filestore.CursorStore
	auth    *dexcom.OAuthClient
	dexcom  *dexcom.Client

	closers []func()
}

// New builds the stores and Dexcom clients. Sinks are opened by Run.
func New(log *slog.Logger, cfg config.Config) *App {
	return NewWithPrompter(log, cfg, dexcom.TerminalPrompter{In: os.Stdin, Out: os.Stdout})
}

// NewWithPrompter is New with a custom source for the pasted redirect URL.
func NewWithPrompter(log *slog.Logger, cfg config.Config, prompter dexcom.Prompter) *App {
	tokens := filestore.NewTokenStore(cfg.State.TokensFile)
	return &App{
		log:     log,
		cfg:     cfg,
		metrics: metrics.NewCollector(),
		tokens:  tokens,
		cursors: filestore.NewCursorStore(cfg.State.CursorFile),
		auth: dexcom.NewOAuthClient(dexcom.OAuthOptions{
			BaseURL:      cfg.Dexcom.BaseURL,
			ClientID:     cfg.Dexcom.ClientID,
			ClientSecret: cfg.Dexcom.ClientSecret,
			RedirectURI:  cfg.Dexcom.RedirectURI,
			Timeout:      cfg.Dexcom.HTTPTimeout,
			Store:        tokens,
			Prompter:     prompter,
			Log:          log,
		}),
		dexcom: dexcom.NewClient(cfg.Dexcom.BaseURL, cfg.Dexcom.HTTPTimeout, log),
	}
}

// Metrics exposes the collector shared by the poll loop and the status server.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Login runs the interactive authorization and stores the credential.
func (a *App) Login(ctx context.Context) error {
	if _, err := a.auth.AuthorizeInteractive(ctx); err != nil {
		return err
	}
	a.log.Info("credential stored", slog.String("path", a.tokens.Path()))
	return nil
}

// Run opens the configured sink and polls until ctx is cancelled or a
// fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	sink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	loop := &usecase.PollLoop{
		Log:     a.log,
		Auth:    a.auth,
		Tokens:  a.tokens,
		Dexcom:  a.dexcom,
		Cursors: a.cursors,
		Sink:    sink,
		Target:  a.cfg.Sink.Target,
		Policy: usecase.Policy{
			Window:         a.cfg.Poll.Window,
			RetryDelay:     a.cfg.Poll.RetryDelay,
			ExhaustedDelay: a.cfg.Poll.ExhaustedDelay,
			IdleDelay:      a.cfg.Poll.IdleDelay,
		},
		Clock:   clock.Real(),
		Metrics: a.metrics,
	}
	return loop.Run(ctx)
}

// Close releases sink connections opened by Run.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openSink(ctx context.Context) (ports.Sink, error) {
	var sink ports.Sink
	switch a.cfg.Sink.Kind {
	case config.SinkMySQL:
		// Run migrations before opening the sink for use
		if err := migrate.Run(ctx, a.cfg.MySQL.DSN, a.log); err != nil {
			return nil, err
		}
		c, err := msql.NewClient(ctx, a.cfg.MySQL.DSN, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		sink = c
	case config.SinkPostgres:
		c, err := postgres.NewClient(ctx, a.cfg.Postgres.DSN, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		sink = c
	case config.SinkSQLite:
		c, err := sqlite.NewClient(a.cfg.SQLite.Path, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		sink = c
	case config.SinkElasticsearch:
		c, err := elastic.NewClient(elastic.Config{
			Addresses: a.cfg.Elasticsearch.Addresses,
			Username:  a.cfg.Elasticsearch.Username,
			Password:  a.cfg.Elasticsearch.Password,
		}, a.log)
		if err != nil {
			return nil, err
		}
		sink = c
	default:
		return nil, fmt.Errorf("unknown sink %q", a.cfg.Sink.Kind)
	}
	a.log.Info("sink opened", slog.String("kind", a.cfg.Sink.Kind), slog.String("target", a.cfg.Sink.Target))

	if a.cfg.MQTT.Broker == "" {
		return sink, nil
	}
	pub, err := mqtt.New(mqtt.Config{
		Broker:      a.cfg.MQTT.Broker,
		TopicPrefix: a.cfg.MQTT.TopicPrefix,
		Username:    a.cfg.MQTT.Username,
		Password:    a.cfg.MQTT.Password,
		ClientID:    a.cfg.MQTT.ClientID,
	}, sink, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)
	a.log.Info("publishing latest reading to MQTT", slog.String("broker", a.cfg.MQTT.Broker))
	return pub, nil
}
