package drafts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/fcompose/internal/events"
	"github.com/tOgg1/fcompose/internal/kvstore"
	"github.com/tOgg1/fcompose/internal/logging"
)

const (
	// namespaceKey is the store key holding the whole draft collection.
	namespaceKey = "drafts"

	// schemaVersion is the envelope version of the draft collection.
	schemaVersion = 1

	// maxIDAttempts bounds retries when a generated id already exists.
	maxIDAttempts = 16
)

// IDGenerator produces a draft id for the given creation time.
type IDGenerator func(now time.Time) string

// Model is the draft collection stored in a versioned namespace. All
// read-modify-write sequences run under the model mutex.
type Model struct {
	mu        sync.Mutex
	ns        *kvstore.Namespace
	now       func() time.Time
	newID     IDGenerator
	publisher events.Publisher
	logger    zerolog.Logger
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) { m.now = now }
}

// WithIDGenerator overrides draft id generation.
func WithIDGenerator(gen IDGenerator) ModelOption {
	return func(m *Model) { m.newID = gen }
}

// WithPublisher sets where draft count and store warning events go.
func WithPublisher(pub events.Publisher) ModelOption {
	return func(m *Model) { m.publisher = pub }
}

// NewModel returns a draft model backed by store.
func NewModel(store kvstore.Store, opts ...ModelOption) *Model {
	m := &Model{
		ns:        kvstore.NewNamespace(store, schemaVersion),
		now:       time.Now,
		newID:     NewID,
		publisher: events.Discard,
		logger:    logging.Component("drafts"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewID returns hex(epoch ms) + "-" + hex(random).
func NewID(now time.Time) string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the
		// nanosecond clock so ids stay distinct.
		return fmt.Sprintf("%x-%x", now.UnixMilli(), now.UnixNano())
	}
	return fmt.Sprintf("%x-%s", now.UnixMilli(), hex.EncodeToString(buf[:]))
}

// WriteOption adjusts a single add or edit.
type WriteOption func(*writeOptions)

type writeOptions struct {
	updateCount     bool
	updateTimestamp bool
}

// WithoutCountUpdate skips the draft count notification.
func WithoutCountUpdate() WriteOption {
	return func(o *writeOptions) { o.updateCount = false }
}

// KeepTimestamp keeps the stored UpdatedAt on edit.
func KeepTimestamp() WriteOption {
	return func(o *writeOptions) { o.updateTimestamp = false }
}

func resolveWriteOptions(opts []WriteOption) writeOptions {
	o := writeOptions{updateCount: true, updateTimestamp: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get returns the full collection, or an empty map if nothing is stored or
// the store cannot be read.
func (m *Model) Get() map[string]Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, _ := m.load()
	return c.drafts
}

// GetDraft returns the draft with id. A miss reports false.
func (m *Model) GetDraft(id string) (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, _ := m.load()
	d, ok := c.drafts[id]
	return d, ok
}

// Count returns the number of stored drafts.
func (m *Model) Count() int {
	return len(m.Get())
}

// AddDraft stores draft under a fresh id, stamping UpdatedAt, and returns the
// id. It returns "" when the collection could not be read or written.
func (m *Model) AddDraft(draft Draft, opts ...WriteOption) string {
	o := resolveWriteOptions(opts)

	m.mu.Lock()
	c, err := m.load()
	if err != nil {
		m.mu.Unlock()
		return ""
	}
	now := m.now()
	id := m.newID(now)
	for attempt := 1; attempt < maxIDAttempts && c.has(id); attempt++ {
		id = m.newID(now)
	}
	if c.has(id) {
		id = NewID(now)
	}

	draft.UpdatedAt = now.UnixMilli()
	c.drafts[id] = draft
	if err := m.save("add", c); err != nil {
		m.mu.Unlock()
		return ""
	}
	count := len(c.drafts)
	m.mu.Unlock()

	lg := logging.WithDraft(m.logger, id)
	lg.Debug().Str("type", string(draft.Type)).Msg("draft added")
	if o.updateCount {
		m.publishCount(count)
	}
	return id
}

// EditDraft overwrites the draft with id. It returns false without writing
// when id is unknown; otherwise it writes and reports whether any field other
// than UpdatedAt changed. A failed write reports false.
func (m *Model) EditDraft(id string, draft Draft, opts ...WriteOption) bool {
	o := resolveWriteOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.load()
	if err != nil {
		return false
	}
	old, ok := c.drafts[id]
	if !ok {
		return false
	}

	changed := !old.sameContent(draft)
	if o.updateTimestamp {
		draft.UpdatedAt = m.now().UnixMilli()
	} else {
		draft.UpdatedAt = old.UpdatedAt
	}
	c.drafts[id] = draft
	if err := m.save("edit", c); err != nil {
		return false
	}
	return changed
}

// DeleteDraft removes the draft with id. Unknown ids are ignored.
func (m *Model) DeleteDraft(id string) {
	m.mu.Lock()
	c, err := m.load()
	if err != nil {
		m.mu.Unlock()
		return
	}
	if _, ok := c.drafts[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(c.drafts, id)
	err = m.save("delete", c)
	count := len(c.drafts)
	m.mu.Unlock()

	if err == nil {
		m.publishCount(count)
	}
}

// DeleteAll removes every draft, including records that could not be decoded.
func (m *Model) DeleteAll() {
	m.mu.Lock()
	err := m.save("delete_all", newCollection())
	m.mu.Unlock()

	if err == nil {
		m.publishCount(0)
	}
}

// rewriteRaw runs fn over the undecoded records and saves them when fn
// reports a change.
func (m *Model) rewriteRaw(fn func(map[string]map[string]json.RawMessage) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok, err := m.ns.LoadRaw(namespaceKey)
	if err != nil {
		m.warn("load", err)
		return
	}
	if !ok {
		return
	}

	records := make(map[string]map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &records); err != nil {
		m.warn("load", fmt.Errorf("decode drafts: %w", err))
		return
	}
	if !fn(records) {
		return
	}
	if err := m.ns.Save(namespaceKey, records); err != nil {
		m.warn("migrate", err)
	}
}

// collection is the decoded draft collection. Records that fail to decode
// stay in opaque and are written back untouched.
type collection struct {
	drafts map[string]Draft
	opaque map[string]json.RawMessage
}

func newCollection() collection {
	return collection{drafts: make(map[string]Draft), opaque: make(map[string]json.RawMessage)}
}

func (c collection) has(id string) bool {
	if _, ok := c.drafts[id]; ok {
		return true
	}
	_, ok := c.opaque[id]
	return ok
}

// load reads the collection. An error means nothing may be written back.
func (m *Model) load() (collection, error) {
	c := newCollection()
	raw, ok, err := m.ns.LoadRaw(namespaceKey)
	if err != nil {
		m.warn("load", err)
		return c, err
	}
	if !ok {
		return c, nil
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		err = fmt.Errorf("decode drafts: %w", err)
		m.warn("load", err)
		return newCollection(), err
	}
	for id, rec := range records {
		var d Draft
		if err := json.Unmarshal(rec, &d); err != nil {
			lg := logging.WithDraft(m.logger, id)
			lg.Warn().Err(err).Msg("keeping undecodable draft as is")
			c.opaque[id] = rec
			continue
		}
		c.drafts[id] = d
	}
	return c, nil
}

func (m *Model) save(op string, c collection) error {
	records := make(map[string]json.RawMessage, len(c.drafts)+len(c.opaque))
	for id, rec := range c.opaque {
		records[id] = rec
	}
	for id, d := range c.drafts {
		data, err := json.Marshal(d)
		if err != nil {
			m.warn(op, fmt.Errorf("encode draft %s: %w", id, err))
			return err
		}
		records[id] = data
	}
	if err := m.ns.Save(namespaceKey, records); err != nil {
		m.warn(op, err)
		return err
	}
	return nil
}

// warn reports a store failure without returning it to the caller.
func (m *Model) warn(op string, err error) {
	m.logger.Warn().Err(err).Str("op", op).Msg("draft store " + op + " failed")
	m.publisher.Publish(context.Background(), events.New(
		events.EventTypeStoreWarning,
		events.EntityTypeStore,
		namespaceKey,
		events.StoreWarning{Op: op, Err: err},
	))
}

func (m *Model) publishCount(count int) {
	m.publisher.Publish(context.Background(), events.New(
		events.EventTypeDraftCount,
		events.EntityTypeDraft,
		"",
		events.DraftCount{Count: count},
	))
}
