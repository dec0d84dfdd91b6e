package watermark

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileStore keeps the watermark in a local file, written atomically via a
// temp file and rename. Meant for development and tests; deployed pipelines
// use the Postgres store, which holds the compare-and-swap across processes.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Read(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (time.Time, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	mark, err := Parse(string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: corrupt watermark file %s: %v", ErrUnavailable, s.path, err)
	}
	return mark, nil
}

func (s *FileStore) Advance(ctx context.Context, prev, next time.Time) error {
	if err := checkMonotonic(prev, next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	switch {
	case err == nil:
		if prev.IsZero() || !current.Equal(prev) {
			return ErrConflict
		}
	case err == ErrNotFound:
		if !prev.IsZero() {
			return ErrConflict
		}
	default:
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(Format(next)+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
