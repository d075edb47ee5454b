// Package env abstracts the host environment behind a narrow provider
// interface so the pipeline core never touches ambient globals. Browser hosts
// supply an adapter over window/document/navigator; tests and server-side
// hosts supply Static.
package env

import (
	"errors"
	"sync"
)

// ErrStorageUnavailable signals that durable local storage cannot be used
// (disabled, quota exceeded, or not provided by the host).
var ErrStorageUnavailable = errors.New("local storage unavailable")

// Storage is a durable string key/value store with localStorage semantics.
type Storage interface {
	// Get returns the stored value and whether the key was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Environment exposes exactly the host signals the pipeline reads.
type Environment interface {
	URL() string
	Referrer() string
	UserAgent() string
	Language() string
	ScreenSize() (width, height int)
	DoNotTrack() bool
	Storage() Storage
}

// Static is a fixed-value Environment for tests and non-browser hosts.
type Static struct {
	PageURL      string
	PageReferrer string
	Agent        string
	Locale       string
	ScreenWidth  int
	ScreenHeight int
	DNT          bool
	Store        Storage
}

func (s *Static) URL() string            { return s.PageURL }
func (s *Static) Referrer() string       { return s.PageReferrer }
func (s *Static) UserAgent() string      { return s.Agent }
func (s *Static) Language() string       { return s.Locale }
func (s *Static) ScreenSize() (int, int) { return s.ScreenWidth, s.ScreenHeight }
func (s *Static) DoNotTrack() bool       { return s.DNT }

// Storage returns the configured store, or an always-failing one when absent.
func (s *Static) Storage() Storage {
	if s.Store == nil {
		return unavailableStorage{}
	}
	return s.Store
}

type unavailableStorage struct{}

func (unavailableStorage) Get(string) (string, bool, error) { return "", false, ErrStorageUnavailable }
func (unavailableStorage) Set(string, string) error         { return ErrStorageUnavailable }
func (unavailableStorage) Remove(string) error              { return ErrStorageUnavailable }

// MemoryStorage is an in-memory Storage for tests and ephemeral hosts.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage constructs an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
