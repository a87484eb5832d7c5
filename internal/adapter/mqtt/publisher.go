package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"dexcom-ingest/internal/domain"
	"dexcom-ingest/internal/ports"
)

// Config holds MQTT broker settings.
type Config struct {
	Broker      string // host:port
	TopicPrefix string
	Username    string
	Password    string
	ClientID    string
}

// Publisher wraps a Sink and, after each successful flush, publishes the
// newest document of the batch as a retained message on
// <prefix>/<target>/latest. Publish failures are logged and never fail
// the flush.
type Publisher struct {
	inner   ports.Sink
	client  paho.Client
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

// New connects to the broker and wraps inner.
func New(cfg Config, inner ports.Sink, log *slog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "dexcom-ingest"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(15*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	return NewWithClient(client, cfg.TopicPrefix, inner, log), nil
}

// NewWithClient wraps inner using an already configured client.
func NewWithClient(client paho.Client, prefix string, inner ports.Sink, log *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "dexcom"
	}
	return &Publisher{
		inner:   inner,
		client:  client,
		prefix:  prefix,
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Message is the payload published for the newest reading.
type Message struct {
	Timestamp     string   `json:"timestamp"`
	Value         *float64 `json:"value,omitempty"`
	SmoothedValue *float64 `json:"smoothed_value,omitempty"`
	TrendRate     *float64 `json:"trend_rate,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	RateUnit      string   `json:"rate_unit,omitempty"`
}

func (p *Publisher) Bulk(ctx context.Context, docs []domain.Document) error {
	if err := p.inner.Bulk(ctx, docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	newest := docs[0]
	for _, d := range docs[1:] {
		if d.Timestamp.After(newest.Timestamp) {
			newest = d
		}
	}
	payload, err := json.Marshal(Message{
		Timestamp:     newest.Timestamp.UTC().Format(time.RFC3339),
		Value:         newest.Value,
		SmoothedValue: newest.SmoothedValue,
		TrendRate:     newest.TrendRate,
		Unit:          newest.Unit,
		RateUnit:      newest.RateUnit,
	})
	if err != nil {
		p.log.Warn("encoding mqtt payload", slog.String("error", err.Error()))
		return nil
	}

	topic := fmt.Sprintf("%s/%s/latest", p.prefix, newest.Target)
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(p.timeout) {
		p.log.Warn("mqtt publish timed out", slog.String("topic", topic))
		return nil
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", slog.String("topic", topic), slog.String("error", err.Error()))
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
