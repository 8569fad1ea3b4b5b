package upload

import (
	"strconv"
	"strings"
	"sync"
)

// ResumeEntry is what a finished or interrupted transfer left behind.
type ResumeEntry struct {
	// ResumeURL is the negotiated endpoint an interrupted transfer continues at.
	ResumeURL string
	// Result is set once the transfer completed.
	Result   Result
	Complete bool
	// Owner is the handle of the live transfer writing to ResumeURL, empty
	// once that transfer stopped.
	Owner string
}

// ResumeCache maps fingerprint::sequence to resume state. It lives only in
// memory for the life of the process and is never written to disk, so upload
// history does not outlive the session.
type ResumeCache struct {
	mu      sync.Mutex
	seq     int
	entries map[string]ResumeEntry
}

// NewResumeCache returns an empty cache.
func NewResumeCache() *ResumeCache {
	return &ResumeCache{entries: make(map[string]ResumeEntry)}
}

// Add records entry for fingerprint and returns its key.
func (c *ResumeCache) Add(fingerprint string, entry ResumeEntry) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	key := fingerprint + "::" + strconv.Itoa(c.seq)
	c.entries[key] = entry
	return key
}

// Update replaces the entry under key if it still exists.
func (c *ResumeCache) Update(key string, entry ResumeEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry
	}
}

// Find returns the best entry for fingerprint: a completed one if any,
// otherwise the most recently added.
func (c *ResumeCache) Find(fingerprint string) (string, ResumeEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.best(fingerprint, func(ResumeEntry) bool { return true })
}

// Claim is Find restricted to entries no live transfer holds. An interrupted
// entry it returns is handed to owner until Release or RemoveOwned.
func (c *ResumeCache) Claim(fingerprint, owner string) (string, ResumeEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, entry, ok := c.best(fingerprint, func(e ResumeEntry) bool {
		return e.Complete || e.Owner == ""
	})
	if ok && !entry.Complete {
		entry.Owner = owner
		c.entries[key] = entry
	}
	return key, entry, ok
}

// Release gives up owner's hold on key so a later transfer may resume it.
func (c *ResumeCache) Release(key, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && entry.Owner == owner {
		entry.Owner = ""
		c.entries[key] = entry
	}
}

// RemoveOwned deletes key unless another transfer holds it. It reports
// whether the entry was removed.
func (c *ResumeCache) RemoveOwned(key, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || (entry.Owner != "" && entry.Owner != owner) {
		return false
	}
	delete(c.entries, key)
	return true
}

func (c *ResumeCache) best(fingerprint string, eligible func(ResumeEntry) bool) (string, ResumeEntry, bool) {
	prefix := fingerprint + "::"
	var (
		bestKey string
		best    ResumeEntry
		bestSeq = -1
		found   bool
	)
	for key, entry := range c.entries {
		if !strings.HasPrefix(key, prefix) || !eligible(entry) {
			continue
		}
		seq, _ := strconv.Atoi(key[len(prefix):])
		better := !found ||
			(entry.Complete && !best.Complete) ||
			(entry.Complete == best.Complete && seq > bestSeq)
		if better {
			bestKey, best, bestSeq, found = key, entry, seq, true
		}
	}
	return bestKey, best, found
}

// Remove deletes key.
func (c *ResumeCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries.
func (c *ResumeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
