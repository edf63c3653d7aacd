package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/al-bashkir/reachable/internal/portal"
)

const (
	appDir   = "Reachable"
	infoDir  = "ReachableInfo"
	fileName = "database.json"
)

// DefaultPath returns the shared database location under the user's
// configuration directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, appDir, infoDir, fileName), nil
}

// Store owns the persisted envelope and its in-memory mirror. Every
// mutation rewrites the whole file. Callers only ever see deep copies.
type Store struct {
	path string

	mu  sync.Mutex
	env Envelope
}

// Open loads the envelope at path. A missing or unreadable file yields an
// empty store.
func Open(path string) *Store {
	s := &Store{path: filepath.Clean(path)}
	s.env, _ = s.read()
	return s
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// read decodes the file without touching the mirror.
func (s *Store) read() (Envelope, Source) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read store", "path", s.path, "error", err)
		}
		return Envelope{}, SourceEmpty
	}

	env, src := Decode(data)
	if src != SourceFull {
		slog.Info("store decoded with fallback schema", "path", s.path, "schema", src.String())
	}
	return env, src
}

// Load re-reads the file, replaces the mirror and returns a copy of it.
func (s *Store) Load() Envelope {
	env, _ := s.read()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
	return s.env.Clone()
}

// Snapshot returns a copy of the in-memory envelope.
func (s *Store) Snapshot() Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Clone()
}

// Save replaces the envelope and rewrites the file. Write failures are
// logged and otherwise ignored; the in-memory envelope stays authoritative.
func (s *Store) Save(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env.Clone()
	s.persist()
}

// Update applies fn to the envelope under the store lock, rewrites the file
// and returns a copy of the result.
func (s *Store) Update(fn func(*Envelope)) Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.env.Clone()
	fn(&env)
	s.env = env
	s.persist()
	return s.env.Clone()
}

// persist writes the mirror. Must be called with mu held.
func (s *Store) persist() {
	data, err := Encode(s.env)
	if err != nil {
		slog.Error("failed to encode store", "error", err)
		return
	}
	if err := writeFile(s.path, data); err != nil {
		slog.Warn("failed to write store", "path", s.path, "error", err)
	}
}

// Session returns the stored session, if any.
func (s *Store) Session() (portal.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.env.Auth == nil {
		return portal.Session{}, false
	}
	return *s.env.Auth, true
}

// SetSession replaces the session. Data cached for a previous session is
// dropped.
func (s *Store) SetSession(sess portal.Session) {
	s.Update(func(e *Envelope) {
		if e.Auth == nil || e.Auth.BaseURL != sess.BaseURL || e.Auth.ContactID != sess.ContactID {
			e.SchoolConfig = nil
			e.UserContact = nil
		}
		e.Auth = &sess
	})
}

// ClearSession removes the session and the data cached for it.
// Preferences are kept.
func (s *Store) ClearSession() {
	s.Update(func(e *Envelope) {
		e.Auth = nil
		e.SchoolConfig = nil
		e.UserContact = nil
	})
}

// SetSchoolConfig caches the school configuration.
func (s *Store) SetSchoolConfig(cfg *portal.SchoolConfig) {
	s.Update(func(e *Envelope) {
		e.SchoolConfig = cfg
	})
}

// SetUserContact caches the signed-in user's contact.
func (s *Store) SetUserContact(c *portal.Contact) {
	s.Update(func(e *Envelope) {
		e.UserContact = c
	})
}

// ToggleFavorite adds or removes locationID from the favorites and reports
// whether it is now a favorite.
func (s *Store) ToggleFavorite(locationID int) bool {
	var now bool
	s.Update(func(e *Envelope) {
		favs := e.AppConfig.FavoriteLocations
		if i := slices.Index(favs, locationID); i >= 0 {
			e.AppConfig.FavoriteLocations = slices.Delete(favs, i, i+1)
			return
		}
		e.AppConfig.FavoriteLocations = append(favs, locationID)
		now = true
	})
	return now
}
