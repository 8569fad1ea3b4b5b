// Package kvstore provides the durable key-value store that backs client-side
// state such as drafts. Values are opaque bytes; Namespace adds a versioned
// JSON envelope on top.
package kvstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/fcompose/internal/config"
)

// Store errors.
var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store closed")
	ErrEmptyKey = errors.New("key required")
)

// Store is a synchronous key-value store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error

	// Keys lists every stored key.
	Keys() ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// Open builds the store selected by cfg.Store.Backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return NewMemoryStore(), nil
	case config.StoreBackendFile:
		return NewFileStore(cfg.StorePath()), nil
	case config.StoreBackendSQLite:
		return OpenSQLite(cfg.StorePath(), time.Duration(cfg.Store.BusyTimeoutMs)*time.Millisecond)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
