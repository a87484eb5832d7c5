package ports

import (
	"context"
	"time"

	"dexcom-ingest/internal/domain"
)

// Authenticator performs the OAuth exchanges against the vendor token
// endpoint. Both methods persist the new credential before returning.
type Authenticator interface {
	AuthorizeInteractive(ctx context.Context) (domain.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (domain.Credential, error)
}

// DexcomClient reads the account's EGV data.
type DexcomClient interface {
	// FetchRange returns the currently available data bounds.
	FetchRange(ctx context.Context, cred domain.Credential) (domain.DataRange, error)
	// FetchWindow returns the readings in [w.Start, w.End), newest first.
	FetchWindow(ctx context.Context, cred domain.Credential, w domain.Window) ([]domain.Reading, error)
}

// CredentialStore persists the credential. Load reports ok=false on any
// read or parse failure.
type CredentialStore interface {
	Load() (cred domain.Credential, ok bool)
	Save(cred domain.Credential) error
}

// CursorStore persists fetch progress. Load returns the zero Unix time
// when nothing usable is stored.
type CursorStore interface {
	Load() time.Time
	Save(cursor time.Time) error
}

// Sink receives normalized documents and persists them to a target system.
// One call is one bulk write; failure granularity below the batch is not
// reported.
type Sink interface {
	Bulk(ctx context.Context, docs []domain.Document) error
}
