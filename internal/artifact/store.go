package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrIO wraps filesystem failures while creating or reading artifacts.
var ErrIO = errors.New("artifact i/o failed")

const namePrefix = "speech-"

// Store creates and disposes of the temporary files a synthesis run
// exchanges with the external executable. Every path it hands out is unique.
type Store struct {
	dir       string
	log       *slog.Logger
	onFailure func(path string, err error)

	mu sync.Mutex
	// outstanding holds paths handed out and not yet released. The directory
	// may be shared with other instances, so shutdown only touches these.
	outstanding map[string]struct{}
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithReleaseFailureHook is called for every delete failure other than a
// missing file.
func WithReleaseFailureHook(fn func(path string, err error)) Option {
	return func(s *Store) { s.onFailure = fn }
}

// DefaultDir is used when no artifact directory is configured.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "voxbridge")
}

func NewStore(dir string, opts ...Option) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create artifact dir: %w", ErrIO, err)
	}
	s := &Store{dir: dir, log: slog.Default(), outstanding: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// AllocateTextFile writes content to a fresh file and returns its path.
func (s *Store) AllocateTextFile(content string) (string, error) {
	f, err := os.CreateTemp(s.dir, namePrefix+"*.txt")
	if err != nil {
		return "", fmt.Errorf("%w: create text artifact: %w", ErrIO, err)
	}
	path := f.Name()
	s.track(path)
	if _, err := f.WriteString(strings.ToValidUTF8(content, "�")); err != nil {
		_ = f.Close()
		s.Release(path)
		return "", fmt.Errorf("%w: write text artifact: %w", ErrIO, err)
	}
	if err := f.Close(); err != nil {
		s.Release(path)
		return "", fmt.Errorf("%w: close text artifact: %w", ErrIO, err)
	}
	return path, nil
}

// AllocateAudioPath reserves a path for the executable to write audio to.
// The file itself is not created.
func (s *Store) AllocateAudioPath() string {
	path := filepath.Join(s.dir, namePrefix+uuid.NewString()+".wav")
	s.track(path)
	return path
}

func (s *Store) track(path string) {
	s.mu.Lock()
	s.outstanding[path] = struct{}{}
	s.mu.Unlock()
}

// Outstanding reports how many handed-out paths have not been released.
func (s *Store) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}

// Read returns the artifact contents. A missing file keeps fs.ErrNotExist in
// the error chain.
func (s *Store) Read(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %w", ErrIO, err)
	}
	return b, nil
}

// Release deletes path. It never fails: a missing file is fine and anything
// else is logged.
func (s *Store) Release(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		delete(s.outstanding, path)
		s.mu.Unlock()
		return
	}
	s.log.Warn("artifact release failed", "path", path, "error", err)
	if s.onFailure != nil {
		s.onFailure(path, err)
	}
}

// ReleaseAll releases every path this store handed out that is still
// outstanding. Files other stores created in the same directory are left
// alone. It returns how many paths could not be removed.
func (s *Store) ReleaseAll() int {
	s.mu.Lock()
	paths := make([]string, 0, len(s.outstanding))
	for p := range s.outstanding {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	for _, p := range paths {
		s.Release(p)
	}
	return s.Outstanding()
}

// Sweep removes artifacts older than maxAge, typically left behind by a
// previous run that crashed mid-job.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: list artifact dir: %w", ErrIO, err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), namePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("artifact sweep failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// StartJanitor sweeps once immediately and then every interval until ctx ends.
func (s *Store) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	s.sweepAndLog(maxAge)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepAndLog(maxAge)
			}
		}
	}()
}

func (s *Store) sweepAndLog(maxAge time.Duration) {
	n, err := s.Sweep(maxAge)
	if err != nil {
		s.log.Warn("artifact sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("removed stale artifacts", "count", n, "dir", s.dir)
	}
}
