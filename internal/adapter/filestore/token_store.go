package filestore

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"dexcom-ingest/internal/domain"
)

// TokenStore keeps the credential in a JSON file:
//
//	{"access_token": "...", "refresh_token": "...", "expires": 1700000000.5}
//
// where expires is an absolute Unix timestamp in seconds.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

type tokenFile struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	Expires      float64 `json:"expires"`
}

// Load reads the credential. Any read or parse failure, or a record
// missing either token, is reported as ok=false.
func (s *TokenStore) Load() (domain.Credential, bool) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Credential{}, false
	}
	var f tokenFile
	if err := json.Unmarshal(b, &f); err != nil {
		return domain.Credential{}, false
	}
	sec, frac := math.Modf(f.Expires)
	cred := domain.Credential{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		ExpiresAt:    time.Unix(int64(sec), int64(frac*1e9)).UTC(),
	}
	return cred, cred.Complete()
}

// Save replaces the file atomically. The file is private to the owner.
func (s *TokenStore) Save(cred domain.Credential) error {
	f := tokenFile{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expires:      float64(cred.ExpiresAt.UnixNano()) / 1e9,
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("%w: encoding tokens: %v", domain.ErrPersistence, err)
	}
	if err := writeFileAtomic(s.path, b, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrPersistence, s.path, err)
	}
	return nil
}

// Path returns the file the store reads and writes.
func (s *TokenStore) Path() string { return s.path }
