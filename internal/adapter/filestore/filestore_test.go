package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dexcom-ingest/internal/domain"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewTokenStore(path)

	if _, ok := s.Load(); ok {
		t.Fatal("Load on missing file reported ok")
	}

	want := domain.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := s.Load()
	if !ok {
		t.Fatal("Load after Save reported absent")
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Fatalf("tokens = %+v", got)
	}
	if d := got.ExpiresAt.Sub(want.ExpiresAt); d > time.Millisecond || d < -time.Millisecond {
		t.Fatalf("expires = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o", perm)
	}
}

func TestTokenStoreReadsLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	body := `{"access_token": "a", "refresh_token": "r", "expires": 1700000000.25}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	got, ok := NewTokenStore(path).Load()
	if !ok {
		t.Fatal("Load reported absent")
	}
	want := time.Unix(1700000000, 250_000_000).UTC()
	if !got.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %v, want %v", got.ExpiresAt, want)
	}
}

func TestTokenStoreTreatsBadFilesAsAbsent(t *testing.T) {
	cases := map[string]string{
		"garbage":         "not json",
		"missing refresh": `{"access_token": "a", "expires": 1}`,
		"empty object":    `{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tokens.json")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, ok := NewTokenStore(path).Load(); ok {
				t.Fatal("Load reported ok")
			}
		})
	}
}

func TestTokenStoreSaveFailureIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewTokenStore(filepath.Join(blocker, "tokens.json"))
	err := s.Save(domain.Credential{AccessToken: "a", RefreshToken: "r"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
}

func TestCursorStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.txt")
	s := NewCursorStore(path)

	if got := s.Load(); !got.Equal(time.Unix(0, 0)) {
		t.Fatalf("missing cursor = %v, want epoch", got)
	}

	c := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	if err := s.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := s.Load(); !got.Equal(c) {
		t.Fatalf("Load = %v, want %v", got, c)
	}

	if err := os.WriteFile(path, []byte("yesterday"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.Load(); !got.Equal(time.Unix(0, 0)) {
		t.Fatalf("unparsable cursor = %v, want epoch", got)
	}
}
