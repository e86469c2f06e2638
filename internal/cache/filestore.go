package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const fileFormatVersion = 1

type fileDoc struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
	Entries   []Record  `json:"entries"`
}

// FileStore keeps one cache in a single JSON file. Writes go to a temp file
// that is renamed over the target. A sibling .lock file guards against
// concurrent writers from other processes.
type FileStore struct {
	path      string
	name      string
	lockWait  time.Duration
	lockRetry time.Duration
}

// NewFileStore returns a store writing to path.
func NewFileStore(path, name string) *FileStore {
	return &FileStore{path: path, name: name, lockWait: 5 * time.Second, lockRetry: 100 * time.Millisecond}
}

func (s *FileStore) Location() string { return s.path }

func (s *FileStore) Save(ctx context.Context, records []Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create cache dir %s: %w", dir, err)
	}
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := json.Marshal(fileDoc{
		Version:   fileFormatVersion,
		Name:      s.name,
		UpdatedAt: time.Now().UTC(),
		Entries:   records,
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot replace %s: %w", s.path, err)
	}
	return nil
}

// Load returns no records when the file does not exist yet.
func (s *FileStore) Load(ctx context.Context) ([]Record, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	unlock, err := s.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read %s: %w", s.path, err)
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("invalid cache file %s: %w", s.path, err)
	}
	if doc.Version != fileFormatVersion {
		return nil, fmt.Errorf("unsupported cache file version %d in %s", doc.Version, s.path)
	}
	return doc.Entries, nil
}

func (s *FileStore) lock(ctx context.Context, exclusive bool) (func(), error) {
	l := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = l.TryLockContext(ctx, s.lockRetry)
	} else {
		locked, err = l.TryRLockContext(ctx, s.lockRetry)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot acquire cache lock %s: %w", l.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("cache lock %s is held by another process", l.Path())
	}
	return func() { _ = l.Unlock() }, nil
}
