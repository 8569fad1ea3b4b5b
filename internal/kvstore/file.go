package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
)

// FileStore keeps all keys in a single JSON document. Every operation
// re-reads the file under an exclusive flock, so several processes can share
// one store; writes go through a temp file and rename.
type FileStore struct {
	path     string
	lockPath string

	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a store persisted at path. The file is created lazily.
func NewFileStore(path string) *FileStore {
	path = strings.TrimSpace(path)
	return &FileStore{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.withDocument(false, func(doc map[string]json.RawMessage) error {
		raw, ok := doc[key]
		if !ok {
			return ErrNotFound
		}
		var value []byte
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = value
		return nil
	})
	return out, err
}

func (s *FileStore) Set(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.withDocument(true, func(doc map[string]json.RawMessage) error {
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		doc[key] = encoded
		return nil
	})
}

func (s *FileStore) Remove(key string) error {
	return s.withDocument(true, func(doc map[string]json.RawMessage) error {
		delete(doc, key)
		return nil
	})
}

func (s *FileStore) Keys() ([]string, error) {
	var keys []string
	err := s.withDocument(false, func(doc map[string]json.RawMessage) error {
		keys = make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil
	})
	return keys, err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) withDocument(write bool, fn func(map[string]json.RawMessage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.path == "" {
		return fmt.Errorf("file store path required")
	}
	return withFileLock(s.lockPath, func() error {
		doc, err := readDocument(s.path)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		if !write {
			return nil
		}
		return writeAtomicJSON(s.path, doc)
	})
}

func readDocument(path string) (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, err
	}
	if len(payload) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func withFileLock(lockPath string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomicJSON(path string, doc map[string]json.RawMessage) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
