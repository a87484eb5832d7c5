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
	"dexcom-ingest/internal/ports"
)

// OAuthOptions configures an OAuthClient.
type OAuthOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration

	Store    ports.CredentialStore
	Prompter Prompter
	Log      *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// OAuthClient implements ports.Authenticator with the Dexcom
// authorization-code flow. Every successful exchange is saved to the
// credential store before it is returned.
type OAuthClient struct {
	conf     oauth2.Config
	http     *http.Client
	store    ports.CredentialStore
	prompter Prompter
	log      *slog.Logger
	now      func() time.Time
}

func NewOAuthClient(opts OAuthOptions) *OAuthClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &OAuthClient{
		conf: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       []string{"offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/v2/oauth2/login",
				TokenURL:  base + "/v2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:     &http.Client{Timeout: timeout},
		store:    opts.Store,
		prompter: opts.Prompter,
		log:      log,
		now:      now,
	}
}

// AuthURL is the login page the account holder has to visit.
func (c *OAuthClient) AuthURL() string {
	return c.conf.AuthCodeURL("")
}

// AuthorizeInteractive asks a human to log in and paste back the redirect
// URL, then exchanges the code it carries for tokens.
func (c *OAuthClient) AuthorizeInteractive(ctx context.Context) (domain.Credential, error) {
	if c.prompter == nil {
		return domain.Credential{}, fmt.Errorf("%w: no prompter configured for interactive authorization", domain.ErrAuth)
	}
	pasted, err := c.prompter.Prompt(ctx, c.AuthURL())
	if err != nil {
		return domain.Credential{}, err
	}
	code, err := ExtractCode(pasted)
	if err != nil {
		return domain.Credential{}, err
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return c.exchange(ctx, form)
}

// Refresh trades a refresh token for a new credential.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	if refreshToken == "" {
		return domain.Credential{}, fmt.Errorf("%w: empty refresh token", domain.ErrAuth)
	}
	c.log.Info("refreshing token")
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.exchange(ctx, form)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *OAuthClient) exchange(ctx context.Context, form url.Values) (domain.Credential, error) {
	form.Set("client_id", c.conf.ClientID)
	form.Set("client_secret", c.conf.ClientSecret)
	form.Set("redirect_uri", c.conf.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: dexcom: token request: %w", domain.ErrAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Credential{}, fmt.Errorf("%w: dexcom: token endpoint status %d: %s", domain.ErrAuth, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: dexcom: decoding token response: %v", domain.ErrAuth, err)
	}
	var missing []string
	if tr.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if tr.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if tr.ExpiresIn <= 0 {
		missing = append(missing, "expires_in")
	}
	if len(missing) > 0 {
		return domain.Credential{}, fmt.Errorf("%w: dexcom: token response missing %s", domain.ErrAuth, strings.Join(missing, ", "))
	}

	cred := domain.NewCredential(tr.AccessToken, tr.RefreshToken, time.Duration(tr.ExpiresIn)*time.Second, c.now())
	if c.store == nil {
		return cred, nil
	}
	if err := c.store.Save(cred); err != nil {
		c.log.Warn("unable to save tokens", slog.String("error", err.Error()))
	} else {
		c.log.Info("token fetch and save successful", slog.Time("expires_at", cred.ExpiresAt))
	}
	return cred, nil
}

// ExtractCode returns the authorization code from a pasted redirect URL:
// the text after "code=", up to the next "&", percent-decoded.
func ExtractCode(pasted string) (string, error) {
	_, after, found := strings.Cut(strings.TrimSpace(pasted), "code=")
	if !found {
		return "", fmt.Errorf("%w: no code= parameter in pasted URL", domain.ErrAuth)
	}
	raw, _, _ := strings.Cut(after, "&")
	code, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed authorization code: %v", domain.ErrAuth, err)
	}
	if code == "" {
		return "", fmt.Errorf("%w: empty authorization code", domain.ErrAuth)
	}
	return code, nil
}
