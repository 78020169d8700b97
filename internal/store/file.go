package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	tokenFile      = "token.json"
	searchesSubdir = "searches"
)

// FileStore implements Store on flat JSON files under a state directory:
// token.json for the token record, searches/<name>.json for seen-id lists.
// The files are meant to be operator-readable; a rejected refresh leaves the
// provider's error payload in token.json for inspection.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, searchesSubdir), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// LoadToken reads the persisted token record. A missing file, an unreadable
// payload, or a payload carrying neither token is reported as absent.
func (s *FileStore) LoadToken(_ context.Context) (*TokenRecord, error) {
	data, err := os.ReadFile(s.tokenPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	rec, err := RecordFromPayload(data)
	if err != nil || (rec.AccessToken == "" && rec.RefreshToken == "") {
		// Structurally invalid state is recoverable: sign in again.
		return nil, nil
	}
	return rec, nil
}

// SaveToken replaces the persisted token record.
func (s *FileStore) SaveToken(_ context.Context, rec *TokenRecord) error {
	raw := rec.Raw
	if raw == nil {
		raw = map[string]any{
			"access_token":  rec.AccessToken,
			"refresh_token": rec.RefreshToken,
		}
	}
	data, err := json.MarshalIndent(raw, "", " ")
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}
	return s.writeAtomic(s.tokenPath(), data)
}

// LoadSeenIDs reads the seen-item ids for a saved search. A missing or
// malformed file is reported as absent: on the first poll every item is new.
func (s *FileStore) LoadSeenIDs(_ context.Context, search string) ([]string, error) {
	data, err := os.ReadFile(s.seenPath(search))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading seen ids for %q: %w", search, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, nil
	}
	return ids, nil
}

// SaveSeenIDs replaces the seen-item ids for a saved search. Replacement is
// deliberate: the set mirrors the most recent batch, it never accumulates.
func (s *FileStore) SaveSeenIDs(_ context.Context, search string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding seen ids for %q: %w", search, err)
	}
	return s.writeAtomic(s.seenPath(search), data)
}

func (s *FileStore) tokenPath() string {
	return filepath.Join(s.dir, tokenFile)
}

func (s *FileStore) seenPath(search string) string {
	return filepath.Join(s.dir, searchesSubdir, search+".json")
}

// writeAtomic writes to a temp file in the target directory and renames it
// over the destination, so a reader never observes a partial record.
func (s *FileStore) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
