package dexcom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"dexcom-ingest/internal/domain"
)

// DefaultBaseURL is the production API host. The sandbox lives at
// https://sandbox-api.dexcom.com.
const DefaultBaseURL = "https://api.dexcom.com"

// Client implements ports.DexcomClient against the Dexcom API v2.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// FetchRange returns the EGV bounds of the account.
// Dexcom v2: GET /v2/users/self/dataRange
func (c *Client) FetchRange(ctx context.Context, cred domain.Credential) (domain.DataRange, error) {
	var raw rawDataRange
	if err := c.get(ctx, cred, "/v2/users/self/dataRange", nil, &raw); err != nil {
		return domain.DataRange{}, err
	}
	if raw.EGVs == nil {
		return domain.DataRange{}, fmt.Errorf("%w: dexcom: data range response has no egvs bounds", domain.ErrTransient)
	}
	earliest, err := ParseTime(raw.EGVs.Start.SystemTime)
	if err != nil {
		return domain.DataRange{}, fmt.Errorf("%w: dexcom: data range start: %v", domain.ErrTransient, err)
	}
	latest, err := ParseTime(raw.EGVs.End.SystemTime)
	if err != nil {
		return domain.DataRange{}, fmt.Errorf("%w: dexcom: data range end: %v", domain.ErrTransient, err)
	}
	return domain.DataRange{Earliest: earliest, Latest: latest}, nil
}

// FetchWindow returns readings in [w.Start, w.End) in the order the API
// sends them, which is newest first.
// Dexcom v2: GET /v2/users/self/egvs?startDate=...&endDate=...
func (c *Client) FetchWindow(ctx context.Context, cred domain.Credential, w domain.Window) ([]domain.Reading, error) {
	q := url.Values{}
	q.Set("startDate", w.Start.UTC().Format(domain.TimeLayout))
	q.Set("endDate", w.End.UTC().Format(domain.TimeLayout))

	var raw rawEGVs
	if err := c.get(ctx, cred, "/v2/users/self/egvs", q, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.Reading, 0, len(raw.EGVs))
	for i, fields := range raw.EGVs {
		r, err := decodeReading(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: dexcom: egv %d: %v", domain.ErrTransient, i, err)
		}
		r.Unit = raw.Unit
		r.RateUnit = raw.RateUnit
		out = append(out, r)
	}
	c.log.Debug("dexcom window fetched",
		slog.String("start", w.Start.UTC().Format(domain.TimeLayout)),
		slog.String("end", w.End.UTC().Format(domain.TimeLayout)),
		slog.Int("count", len(out)),
	)
	return out, nil
}

func (c *Client) get(ctx context.Context, cred domain.Credential, path string, q url.Values, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	bearer(cred).SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: dexcom: GET %s: %w", domain.ErrTransient, path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: dexcom: GET %s: status %d: %s", domain.ErrAuth, path, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: dexcom: GET %s: unexpected status %d: %s", domain.ErrTransient, path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: dexcom: GET %s: decoding body: %v", domain.ErrTransient, path, err)
	}
	return nil
}

func bearer(cred domain.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.ExpiresAt,
	}
}

// ParseTime parses a vendor timestamp. Sub-second fractions and a trailing
// zone designator are dropped; the value is taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "Z")
	return time.ParseInLocation(domain.TimeLayout, s, time.UTC)
}

// rawDataRange mirrors the JSON from /dataRange. Calibration and event
// bounds are ignored.
type rawDataRange struct {
	EGVs *struct {
		Start rawTimePoint `json:"start"`
		End   rawTimePoint `json:"end"`
	} `json:"egvs"`
}

type rawTimePoint struct {
	SystemTime  string `json:"systemTime"`
	DisplayTime string `json:"displayTime"`
}

type rawEGVs struct {
	Unit     string                       `json:"unit"`
	RateUnit string                       `json:"rateUnit"`
	EGVs     []map[string]json.RawMessage `json:"egvs"`
}

// decodeReading maps the known EGV fields and keeps the rest in Extra.
func decodeReading(fields map[string]json.RawMessage) (domain.Reading, error) {
	var r domain.Reading

	var systemTime string
	if err := json.Unmarshal(fields["systemTime"], &systemTime); err != nil {
		return r, fmt.Errorf("systemTime: %v", err)
	}
	t, err := ParseTime(systemTime)
	if err != nil {
		return r, fmt.Errorf("systemTime: %v", err)
	}
	r.SystemTime = t

	if raw, ok := fields["displayTime"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			if dt, err := ParseTime(s); err == nil {
				r.DisplayTime = dt
			}
		}
	}
	if r.RealtimeValue, err = optionalFloat(fields, "realtimeValue"); err != nil {
		return r, err
	}
	if r.SmoothedValue, err = optionalFloat(fields, "smoothedValue"); err != nil {
		return r, err
	}
	if r.TrendRate, err = optionalFloat(fields, "trendRate"); err != nil {
		return r, err
	}

	for k, raw := range fields {
		switch k {
		case "systemTime", "displayTime", "realtimeValue", "smoothedValue", "trendRate":
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return r, fmt.Errorf("%s: %v", k, err)
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[k] = v
	}
	return r, nil
}

func optionalFloat(fields map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: %v", key, err)
	}
	return v, nil
}
