package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// keyPrefix marks keys written through a Namespace so they can be told apart
// from raw keys sharing the same store.
const keyPrefix = "ls__"

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Namespace is a versioned JSON view over a Store. Values written with one
// schema version read back as absent under another; migrations between
// versions are the caller's concern.
type Namespace struct {
	store   Store
	version int
}

// NewNamespace wraps store with the given schema version.
func NewNamespace(store Store, version int) *Namespace {
	return &Namespace{store: store, version: version}
}

// Version returns the schema version.
func (n *Namespace) Version() int { return n.version }

// Load decodes the value stored under key into out. It reports false when
// the key was never written or was written under another schema version.
func (n *Namespace) Load(key string, out any) (bool, error) {
	raw, err := n.store.Get(keyPrefix + key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("decode %s envelope: %w", key, err)
	}
	if env.Version != n.version || len(env.Data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// LoadRaw returns the undecoded payload stored under key.
func (n *Namespace) LoadRaw(key string) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	ok, err := n.Load(key, &raw)
	return raw, ok, err
}

// Save encodes value and stores it under key with the namespace version.
func (n *Namespace) Save(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	payload, err := json.Marshal(envelope{Version: n.version, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", key, err)
	}
	return n.store.Set(keyPrefix+key, payload)
}

// Remove deletes key.
func (n *Namespace) Remove(key string) error {
	return n.store.Remove(keyPrefix + key)
}
