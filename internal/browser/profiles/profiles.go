// Package profiles manages persisted per-persona browser user data directories.
package profiles

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store hands out profile directories under a root, one persona at a time.
// A browser profile cannot be opened by two processes, so concurrent runs for
// the same persona queue on its lock.
type Store struct {
	root string
	fs   afero.Fs

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewStore creates a store rooted at root. A leading ~ is expanded.
func NewStore(root string, fs afero.Fs) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("profiles root cannot be empty")
	}
	expanded, err := homedir.Expand(root)
	if err != nil {
		return nil, fmt.Errorf("could not expand profiles root: %w", err)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{root: expanded, fs: fs, locks: make(map[string]chan struct{})}, nil
}

// Path returns the profile directory of persona without locking it.
func (s *Store) Path(persona string) string {
	name := unsafeChars.ReplaceAllString(persona, "_")
	if name == "" {
		name = "_default"
	}
	return filepath.Join(s.root, name)
}

// lockFor returns the lock of dir. Personas that sanitize to the same
// directory share it.
func (s *Store) lockFor(dir string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[dir]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[dir] = l
	}
	return l
}

// Acquire locks persona's profile, creating the directory on first use. The
// caller must call release exactly once when the browser using it is closed.
func (s *Store) Acquire(ctx context.Context, persona string) (dir string, release func(), err error) {
	dir = s.Path(persona)
	l := s.lockFor(dir)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return "", nil, fmt.Errorf("waiting for profile of persona %q: %w", persona, ctx.Err())
	}

	var once sync.Once
	release = func() { once.Do(func() { <-l }) }

	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		release()
		return "", nil, fmt.Errorf("could not create profile directory: %w", err)
	}
	return dir, release, nil
}
