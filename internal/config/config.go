package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink kinds.
const (
	SinkElasticsearch = "elasticsearch"
	SinkMySQL         = "mysql"
	SinkPostgres      = "postgres"
	SinkSQLite        = "sqlite"
)

// Config holds the connector configuration. Values come from an optional
// YAML file, then environment variables, which win.
type Config struct {
	Dexcom struct {
		ClientID     string        `yaml:"client_id"`
		ClientSecret string        `yaml:"client_secret"`
		RedirectURI  string        `yaml:"redirect_uri"`
		BaseURL      string        `yaml:"base_url"` // default: https://api.dexcom.com
		HTTPTimeout  time.Duration `yaml:"http_timeout"`
	} `yaml:"dexcom"`
	State struct {
		TokensFile string `yaml:"tokens_file"`
		CursorFile string `yaml:"cursor_file"`
	} `yaml:"state"`
	Poll struct {
		Window         time.Duration `yaml:"window"`
		RetryDelay     time.Duration `yaml:"retry_delay"`
		ExhaustedDelay time.Duration `yaml:"exhausted_delay"`
		IdleDelay      time.Duration `yaml:"idle_delay"`
	} `yaml:"poll"`
	Sink struct {
		Kind   string `yaml:"kind"`   // elasticsearch (default), mysql, postgres, sqlite
		Target string `yaml:"target"` // index or logical collection name
	} `yaml:"sink"`
	MySQL struct {
		DSN string `yaml:"dsn"` // e.g., user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
	} `yaml:"mysql"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Elasticsearch struct {
		Addresses []string `yaml:"addresses"`
		Username  string   `yaml:"username"`
		Password  string   `yaml:"password"`
	} `yaml:"elasticsearch"`
	MQTT struct {
		Broker      string `yaml:"broker"` // host:port; empty disables publishing
		TopicPrefix string `yaml:"topic_prefix"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"` // must be unique per broker; default: dexcom-ingest-<target>
	} `yaml:"mqtt"`
	HTTP struct {
		Addr string `yaml:"addr"` // status server, e.g. :8080; empty disables it
	} `yaml:"http"`
}

// Load reads configuration from the YAML file at path (if non-empty) and
// the environment, applies defaults and validates the result.
func Load(path string) (Config, error) {
	cfg, err := LoadState(path)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadState is like Load but skips validation, so offline commands work
// without client credentials.
func LoadState(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s must be a duration like 5s or 1h: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("DEXCOM_CLIENT_ID", &cfg.Dexcom.ClientID)
	str("DEXCOM_CLIENT_SECRET", &cfg.Dexcom.ClientSecret)
	str("DEXCOM_REDIRECT_URI", &cfg.Dexcom.RedirectURI)
	str("DEXCOM_BASE_URL", &cfg.Dexcom.BaseURL)
	str("TOKENS_FILE", &cfg.State.TokensFile)
	str("CURSOR_FILE", &cfg.State.CursorFile)
	str("SINK", &cfg.Sink.Kind)
	str("SINK_TARGET", &cfg.Sink.Target)
	str("MYSQL_DSN", &cfg.MySQL.DSN)
	str("POSTGRES_DSN", &cfg.Postgres.DSN)
	str("SQLITE_PATH", &cfg.SQLite.Path)
	str("ES_USERNAME", &cfg.Elasticsearch.Username)
	str("ES_PASSWORD", &cfg.Elasticsearch.Password)
	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)
	str("MQTT_USERNAME", &cfg.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Password)
	str("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	if v := os.Getenv("ES_ADDRESSES"); v != "" {
		cfg.Elasticsearch.Addresses = splitList(v)
	}

	for key, dst := range map[string]*time.Duration{
		"DEXCOM_HTTP_TIMEOUT":  &cfg.Dexcom.HTTPTimeout,
		"POLL_WINDOW":          &cfg.Poll.Window,
		"POLL_RETRY_DELAY":     &cfg.Poll.RetryDelay,
		"POLL_EXHAUSTED_DELAY": &cfg.Poll.ExhaustedDelay,
		"POLL_IDLE_DELAY":      &cfg.Poll.IdleDelay,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dexcom.BaseURL == "" {
		cfg.Dexcom.BaseURL = "https://api.dexcom.com"
	}
	if cfg.Dexcom.HTTPTimeout == 0 {
		cfg.Dexcom.HTTPTimeout = 30 * time.Second
	}
	if cfg.State.TokensFile == "" {
		cfg.State.TokensFile = "tokens.json"
	}
	if cfg.State.CursorFile == "" {
		cfg.State.CursorFile = "cursor.txt"
	}
	if cfg.Poll.Window == 0 {
		cfg.Poll.Window = time.Hour
	}
	if cfg.Poll.RetryDelay == 0 {
		cfg.Poll.RetryDelay = 5 * time.Second
	}
	if cfg.Poll.ExhaustedDelay == 0 {
		cfg.Poll.ExhaustedDelay = 5 * time.Minute
	}
	if cfg.Poll.IdleDelay == 0 {
		cfg.Poll.IdleDelay = 100 * time.Millisecond
	}
	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = SinkElasticsearch
	}
	if cfg.Sink.Target == "" {
		cfg.Sink.Target = "dexcom"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "dexcom-ingest-" + cfg.Sink.Target
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data.db"
	}
	if len(cfg.Elasticsearch.Addresses) == 0 {
		cfg.Elasticsearch.Addresses = []string{"http://localhost:9200"}
	}
}

// Validate reports the first missing or inconsistent setting.
func (c Config) Validate() error {
	if c.Dexcom.ClientID == "" {
		return errors.New("DEXCOM_CLIENT_ID is required")
	}
	if c.Dexcom.ClientSecret == "" {
		return errors.New("DEXCOM_CLIENT_SECRET is required")
	}
	if c.Dexcom.RedirectURI == "" {
		return errors.New("DEXCOM_REDIRECT_URI is required")
	}
	for name, d := range map[string]time.Duration{
		"DEXCOM_HTTP_TIMEOUT":  c.Dexcom.HTTPTimeout,
		"POLL_WINDOW":          c.Poll.Window,
		"POLL_RETRY_DELAY":     c.Poll.RetryDelay,
		"POLL_EXHAUSTED_DELAY": c.Poll.ExhaustedDelay,
		"POLL_IDLE_DELAY":      c.Poll.IdleDelay,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	switch c.Sink.Kind {
	case SinkElasticsearch:
	case SinkMySQL:
		if c.MySQL.DSN == "" {
			return errors.New("MYSQL_DSN is required when SINK=mysql")
		}
	case SinkPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("POSTGRES_DSN is required when SINK=postgres")
		}
	case SinkSQLite:
	default:
		return fmt.Errorf("unknown SINK %q (available: %s, %s, %s, %s)", c.Sink.Kind, SinkElasticsearch, SinkMySQL, SinkPostgres, SinkSQLite)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
