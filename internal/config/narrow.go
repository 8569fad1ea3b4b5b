package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Narrow is the persisted view the user is looking at: a channel, a channel
// topic, or a direct-message conversation. The draft list groups drafts
// relevant to it.
type Narrow struct {
	// StreamID is the selected channel (0 when none).
	StreamID int64 `json:"stream_id,omitempty" yaml:"stream_id,omitempty"`
	// StreamName is the channel name (for display).
	StreamName string `json:"stream_name,omitempty" yaml:"stream_name,omitempty"`
	// Topic is the selected topic within StreamID.
	Topic string `json:"topic,omitempty" yaml:"topic,omitempty"`
	// Recipients is the comma-joined direct-message recipient list.
	Recipients string `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	// Trigger records what caused the last narrow change.
	Trigger string `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	// UpdatedAt is when the narrow was last modified.
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if no narrow is set.
func (n *Narrow) IsEmpty() bool {
	return n.StreamID == 0 && n.Topic == "" && n.Recipients == ""
}

// IsDirect reports whether the narrow is a direct-message conversation.
func (n *Narrow) IsDirect() bool {
	return strings.TrimSpace(n.Recipients) != ""
}

// Clear removes the narrow.
func (n *Narrow) Clear() {
	n.StreamID = 0
	n.StreamName = ""
	n.Topic = ""
	n.Recipients = ""
	n.Trigger = ""
	n.UpdatedAt = time.Now()
}

// String returns a human-readable representation of the narrow.
func (n *Narrow) String() string {
	if n.IsEmpty() {
		return "(all messages)"
	}
	if n.IsDirect() {
		return fmt.Sprintf("dm:%s", n.Recipients)
	}
	name := n.StreamName
	if name == "" {
		name = fmt.Sprintf("#%d", n.StreamID)
	}
	if n.Topic == "" {
		return fmt.Sprintf("channel:%s", name)
	}
	return fmt.Sprintf("channel:%s topic:%s", name, n.Topic)
}

// NarrowStore manages loading and saving the current narrow.
type NarrowStore struct {
	path string
	mu   sync.RWMutex
}

// NewNarrowStore creates a new narrow store.
// If path is empty, uses the default path (~/.config/fcompose/narrow.yaml).
func NewNarrowStore(path string) *NarrowStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "fcompose", "narrow.yaml")
	}
	return &NarrowStore{path: path}
}

// Path returns the narrow file path.
func (s *NarrowStore) Path() string {
	return s.path
}

// Load reads the narrow from disk.
// Returns an empty narrow if the file doesn't exist.
func (s *NarrowStore) Load() (*Narrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := &Narrow{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return n, nil
		}
		return nil, fmt.Errorf("failed to read narrow file: %w", err)
	}

	if err := yaml.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("failed to parse narrow file: %w", err)
	}

	return n, nil
}

// Save writes the narrow to disk.
func (s *NarrowStore) Save(n *Narrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create narrow directory: %w", err)
	}

	data, err := yaml.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize narrow: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write narrow file: %w", err)
	}

	return nil
}

// Clear removes the narrow file.
func (s *NarrowStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove narrow file: %w", err)
	}
	return nil
}
