package micloud

import (
	"errors"
	"io/fs"
	"os"
	"sync"
)

// ErrNoStoredSession is returned by a SessionStore when no session has been
// saved yet.
var ErrNoStoredSession = errors.New("micloud: no stored session")

// SessionStore abstracts persistence of the serialized login session, so a
// process restart can skip the password login.
//
// All methods must be safe for concurrent use.
type SessionStore interface {
	// LoadSession returns the stored serialized session, or
	// ErrNoStoredSession when none exists.
	LoadSession() (string, error)

	// SaveSession stores or replaces the serialized session.
	SaveSession(serialized string) error

	// ClearSession removes the stored session. Clearing an empty store is
	// not an error.
	ClearSession() error
}

// MemorySessionStore is an in-memory SessionStore. Useful for testing and
// for callers that handle persistence themselves. Data is lost when the
// process exits.
type MemorySessionStore struct {
	mu         sync.RWMutex
	serialized string
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) LoadSession() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.serialized == "" {
		return "", ErrNoStoredSession
	}
	return m.serialized, nil
}

func (m *MemorySessionStore) SaveSession(serialized string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serialized = serialized
	return nil
}

func (m *MemorySessionStore) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serialized = ""
	return nil
}

// FileSessionStore persists the session to a single file. The session
// carries the bearer token, so the file is written owner-readable only.
type FileSessionStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSessionStore creates a session store backed by the given path.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (f *FileSessionStore) LoadSession() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoStoredSession
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *FileSessionStore) SaveSession(serialized string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return os.WriteFile(f.path, []byte(serialized), 0o600)
}

func (f *FileSessionStore) ClearSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
