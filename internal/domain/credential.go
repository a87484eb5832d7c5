package domain

import "time"

// ExpiryMargin is subtracted from the vendor's stated token lifetime so a
// token is refreshed before the vendor starts rejecting it.
const ExpiryMargin = 10 * time.Second

// Credential is the OAuth token triple for one Dexcom account.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // already reduced by ExpiryMargin
}

// NewCredential builds a Credential from a token response received at now.
func NewCredential(accessToken, refreshToken string, expiresIn time.Duration, now time.Time) Credential {
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(expiresIn - ExpiryMargin),
	}
}

// Complete reports whether both tokens are present. An incomplete
// credential cannot be refreshed and requires interactive authorization.
func (c Credential) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Expired reports whether now has reached ExpiresAt.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
