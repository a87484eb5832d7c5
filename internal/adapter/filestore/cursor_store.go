package filestore

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dexcom-ingest/internal/domain"
)

// CursorStore keeps the fetch cursor as a single timestamp string in
// domain.TimeLayout, interpreted as UTC.
type CursorStore struct {
	path string
}

func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path}
}

// Load returns the stored cursor, or the Unix epoch if the file is
// missing or unparsable.
func (s *CursorStore) Load() time.Time {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	t, err := time.ParseInLocation(domain.TimeLayout, strings.TrimSpace(string(b)), time.UTC)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

func (s *CursorStore) Save(cursor time.Time) error {
	data := []byte(cursor.UTC().Format(domain.TimeLayout) + "\n")
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrPersistence, s.path, err)
	}
	return nil
}

// Path returns the file the store reads and writes.
func (s *CursorStore) Path() string { return s.path }
