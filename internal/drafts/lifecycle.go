package drafts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tOgg1/fcompose/internal/events"
	"github.com/tOgg1/fcompose/internal/logging"
)

// ComposeState is what an open composer currently holds.
type ComposeState struct {
	Type       Type
	Content    string
	StreamID   int64
	Topic      string
	Recipients string
}

// ComposeArgs opens a composer pre-filled with a draft.
type ComposeArgs struct {
	Type       Type
	Content    string
	StreamID   int64
	StreamName string
	Topic      string
	// PrivateMessageRecipient is passed through unchanged for direct messages.
	PrivateMessageRecipient string
	DraftID                 string
}

// FullySpecified reports whether the args name a complete destination.
func (a ComposeArgs) FullySpecified() bool {
	if a.Type == TypePrivate {
		return strings.TrimSpace(a.PrivateMessageRecipient) != ""
	}
	return a.StreamID != 0 && a.Topic != ""
}

// Composer is the editing surface a draft is captured from and restored into.
type Composer interface {
	// Session returns the open session, or false when the composer is closed.
	Session() (ComposeState, bool)
	// DraftID returns the draft id bound to the open session, or "".
	DraftID() string
	// BindDraft binds id to the open session; "" unbinds.
	BindDraft(id string)
	// Start opens the composer with args.
	Start(args ComposeArgs)
}

// NarrowContext is the destination the user is currently viewing.
type NarrowContext struct {
	StreamID   int64
	Topic      string
	Recipients string
}

// Narrower reads and switches the current view.
type Narrower interface {
	Current() NarrowContext
	NarrowTo(args ComposeArgs)
}

// StreamDirectory resolves channel ids for display.
type StreamDirectory interface {
	StreamName(id int64) (string, bool)
}

// Notifier shows the transient "saved as draft" notice.
type Notifier interface {
	DraftSaved(id string)
}

// PublishNotifier returns a Notifier that publishes draft.saved events.
func PublishNotifier(pub events.Publisher) Notifier {
	return publishNotifier{pub: pub}
}

type publishNotifier struct {
	pub events.Publisher
}

func (n publishNotifier) DraftSaved(id string) {
	n.pub.Publish(context.Background(), events.New(events.EventTypeDraftSaved, events.EntityTypeDraft, id, nil))
}

// Collaborators are the surfaces a Lifecycle drives.
type Collaborators struct {
	Composer Composer
	Narrower Narrower
	Streams  StreamDirectory
	Notifier Notifier
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithMaxAge sets how old a draft may get before RemoveOldDrafts deletes it.
func WithMaxAge(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) { l.maxAge = d }
}

// WithMinContentLength sets the trimmed length at or below which nothing is saved.
func WithMinContentLength(n int) LifecycleOption {
	return func(l *Lifecycle) { l.minContentLength = n }
}

// Lifecycle implements the save, restore, sweep and rename operations over a Model.
type Lifecycle struct {
	mu               sync.Mutex
	model            *Model
	collab           Collaborators
	migrator         *Migrator
	maxAge           time.Duration
	minContentLength int
	logger           zerolog.Logger
}

// Default lifecycle limits.
const (
	DefaultMaxAge           = 30 * 24 * time.Hour
	DefaultMinContentLength = 2
)

// NewLifecycle binds model to the given collaborators.
func NewLifecycle(model *Model, collab Collaborators, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		model:            model,
		collab:           collab,
		migrator:         NewMigrator(model),
		maxAge:           DefaultMaxAge,
		minContentLength: DefaultMinContentLength,
		logger:           logging.Component("drafts"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Model returns the underlying draft model.
func (l *Lifecycle) Model() *Model { return l.model }

// SnapshotMessage captures the open composer. It reports false when no
// session is open or the trimmed content is too short to keep.
func (l *Lifecycle) SnapshotMessage() (Draft, bool) {
	if l.collab.Composer == nil {
		return Draft{}, false
	}
	state, open := l.collab.Composer.Session()
	if !open {
		return Draft{}, false
	}
	if utf8.RuneCountInString(strings.TrimSpace(state.Content)) <= l.minContentLength {
		return Draft{}, false
	}

	d := Draft{Type: state.Type, Content: state.Content}
	if state.Type == TypePrivate {
		d.PrivateMessageRecipient = state.Recipients
	} else {
		d.Type = TypeStream
		d.StreamID = state.StreamID
		d.Topic = state.Topic
	}
	return d, true
}

// UpdateOptions adjusts UpdateDraft.
type UpdateOptions struct {
	// NoNotify suppresses the "saved as draft" notice.
	NoNotify bool
}

// UpdateDraft is the save checkpoint. It returns the draft id written, or ""
// when there was nothing worth saving or the new draft could not be stored;
// an earlier draft is left untouched in that case.
func (l *Lifecycle) UpdateDraft(opts UpdateOptions) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	draft, ok := l.SnapshotMessage()
	if !ok {
		return ""
	}

	var (
		id      = l.collab.Composer.DraftID()
		changed bool
	)
	if _, exists := l.model.GetDraft(id); id != "" && exists {
		changed = l.model.EditDraft(id, draft)
	} else {
		if id != "" {
			lg := logging.WithDraft(l.logger, id)
			lg.Debug().Msg("bound draft vanished, saving as new")
		}
		id = l.model.AddDraft(draft)
		if id == "" {
			return ""
		}
		l.collab.Composer.BindDraft(id)
		changed = true
	}

	if changed && !opts.NoNotify && l.collab.Notifier != nil {
		l.collab.Notifier.DraftSaved(id)
	}
	return id
}

// ClearBinding unbinds the composer's draft id. Callers use it after a
// successful send or an explicit clear so no draft is resurrected.
func (l *Lifecycle) ClearBinding() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.collab.Composer != nil {
		l.collab.Composer.BindDraft("")
	}
}

// RestoreMessage rebuilds composer arguments from a stored draft.
func (l *Lifecycle) RestoreMessage(d Draft) ComposeArgs {
	args := ComposeArgs{Type: d.Type, Content: d.Content}
	if d.Type == TypePrivate {
		args.PrivateMessageRecipient = d.PrivateMessageRecipient
		return args
	}

	args.Type = TypeStream
	args.StreamID = d.StreamID
	args.Topic = d.Topic
	if d.StreamID != 0 && l.collab.Streams != nil {
		if name, ok := l.collab.Streams.StreamName(d.StreamID); ok {
			args.StreamName = name
		}
	}
	return args
}

// RestoreDraft reopens the composer with draft id. It reports false when the
// id is unknown.
func (l *Lifecycle) RestoreDraft(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.model.GetDraft(id)
	if !ok {
		return false
	}

	args := l.RestoreMessage(d)
	args.DraftID = id
	if args.FullySpecified() && l.collab.Narrower != nil {
		l.collab.Narrower.NarrowTo(args)
	}
	if l.collab.Composer != nil {
		l.collab.Composer.Start(args)
		l.collab.Composer.BindDraft(id)
	}
	lg := logging.WithDraft(l.logger, id)
	lg.Debug().Bool("narrowed", args.FullySpecified()).Msg("draft restored")
	return true
}

// RemoveOldDrafts deletes drafts last updated strictly before now - max age
// and returns how many were removed.
func (l *Lifecycle) RemoveOldDrafts() int {
	cutoff := l.model.now().Add(-l.maxAge).UnixMilli()
	removed := 0
	for id, d := range l.model.Get() {
		if d.UpdatedAt < cutoff {
			l.model.DeleteDraft(id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Info().Int("removed", removed).Msg("expired drafts removed")
	}
	return removed
}

// RenameStreamRecipient rewrites stream drafts addressed to (oldStreamID,
// oldTopic). A nil new value leaves that field unchanged. Timestamps are kept
// and no notice is shown. It returns the number of drafts rewritten.
func (l *Lifecycle) RenameStreamRecipient(oldStreamID int64, oldTopic string, newStreamID *int64, newTopic *string) int {
	rewritten := 0
	for id, d := range l.model.Get() {
		if d.Type != TypeStream || d.StreamID != oldStreamID || d.Topic != oldTopic {
			continue
		}
		if newStreamID != nil {
			d.StreamID = *newStreamID
		}
		if newTopic != nil {
			d.Topic = *newTopic
		}
		l.model.EditDraft(id, d, KeepTimestamp(), WithoutCountUpdate())
		rewritten++
	}
	return rewritten
}

// FixDraftsWithUndefinedTopics repairs legacy stream drafts stored without a
// topic. It runs at most once per Lifecycle.
func (l *Lifecycle) FixDraftsWithUndefinedTopics() {
	l.migrator.Run()
}

// DeleteAllDrafts removes every stored draft.
func (l *Lifecycle) DeleteAllDrafts() {
	l.model.DeleteAll()
}

// Entry is a draft paired with its id.
type Entry struct {
	ID    string
	Draft Draft
}

// SortedDrafts returns every draft, newest first.
func (l *Lifecycle) SortedDrafts() []Entry {
	return sortEntries(l.model.Get())
}

func sortEntries(all map[string]Draft) []Entry {
	entries := make([]Entry, 0, len(all))
	for id, d := range all {
		entries = append(entries, Entry{ID: id, Draft: d})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Draft.UpdatedAt != entries[j].Draft.UpdatedAt {
			return entries[i].Draft.UpdatedAt > entries[j].Draft.UpdatedAt
		}
		return entries[i].ID > entries[j].ID
	})
	return entries
}
