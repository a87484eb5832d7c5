package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"

	"dexcom-ingest/internal/domain"
)

// Config selects the cluster to index into.
type Config struct {
	Addresses []string
	Username  string
	Password  string
}

// Client implements ports.Sink with the Elasticsearch _bulk API. Each
// document is indexed into its target index under its stable id, so a
// re-sent window overwrites rather than duplicates.
type Client struct {
	es  *elasticsearch.Client
	log *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch: at least one address is required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: creating client: %w", err)
	}
	return &Client{es: es, log: log}, nil
}

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk sends docs in one _bulk request.
func (c *Client) Bulk(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	body, err := encodeBulk(docs)
	if err != nil {
		return err
	}

	res, err := c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch: bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("elasticsearch: bulk status %s: %s", res.Status(), string(b))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("elasticsearch: decoding bulk response: %w", err)
	}
	if br.Errors {
		failed := 0
		for _, item := range br.Items {
			for _, result := range item {
				if result.Error == nil {
					continue
				}
				if failed == 0 {
					c.log.Error("elasticsearch rejected document",
						slog.String("id", result.ID),
						slog.Int("status", result.Status),
						slog.String("type", result.Error.Type),
						slog.String("reason", result.Error.Reason),
					)
				}
				failed++
			}
		}
		return fmt.Errorf("elasticsearch: %d of %d documents rejected", failed, len(docs))
	}
	c.log.Info("elasticsearch sink indexed readings", slog.Int("count", len(docs)))
	return nil
}

// encodeBulk renders docs as the NDJSON body of a _bulk request.
func encodeBulk(docs []domain.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(bulkAction{Index: bulkMeta{Index: d.Target, ID: d.ID}}); err != nil {
			return nil, err
		}
		if err := enc.Encode(d.Source()); err != nil {
			return nil, fmt.Errorf("elasticsearch: encoding %s: %w", d.ID, err)
		}
	}
	return buf.Bytes(), nil
}
