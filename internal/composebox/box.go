// Package composebox is a headless compose box: a text buffer with a cursor,
// the draft binding of the open session, and the send gate.
package composebox

import (
	"sync"

	"github.com/tOgg1/fcompose/internal/drafts"
)

// Box is one editing surface. It is safe for concurrent use.
type Box struct {
	mu         sync.Mutex
	open       bool
	msgType    drafts.Type
	streamID   int64
	streamName string
	topic      string
	recipients string
	text       string
	cursor     int
	draftID    string
	uploading  bool
}

// New returns a closed box.
func New() *Box {
	return &Box{}
}

// OpenStream opens the box addressed to a channel topic.
func (b *Box) OpenStream(streamID int64, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	b.open = true
	b.msgType = drafts.TypeStream
	b.streamID = streamID
	b.topic = topic
}

// OpenPrivate opens the box addressed to a direct-message conversation.
func (b *Box) OpenPrivate(recipients string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	b.open = true
	b.msgType = drafts.TypePrivate
	b.recipients = recipients
}

// Close closes the session and unbinds its draft.
func (b *Box) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Box) reset() {
	b.open = false
	b.msgType = ""
	b.streamID = 0
	b.streamName = ""
	b.topic = ""
	b.recipients = ""
	b.text = ""
	b.cursor = 0
	b.draftID = ""
}

// IsOpen reports whether a session is open.
func (b *Box) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// SetText replaces the content and moves the cursor to the end.
func (b *Box) SetText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = text
	b.cursor = len(text)
}

// Type inserts s at the cursor.
func (b *Box) Type(s string) {
	b.InsertAtCursor(s)
}

// SetCursor moves the cursor, clamped to the text.
func (b *Box) SetCursor(pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = clamp(pos, 0, len(b.text))
}

// Text returns the content.
func (b *Box) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Cursor returns the cursor byte offset.
func (b *Box) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// StreamName returns the display name the box was opened with.
func (b *Box) StreamName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamName
}

// CanSend reports whether a message could be sent now.
func (b *Box) CanSend() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && !b.uploading
}

// Session implements drafts.Composer.
func (b *Box) Session() (drafts.ComposeState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return drafts.ComposeState{}, false
	}
	return drafts.ComposeState{
		Type:       b.msgType,
		Content:    b.text,
		StreamID:   b.streamID,
		Topic:      b.topic,
		Recipients: b.recipients,
	}, true
}

// DraftID implements drafts.Composer.
func (b *Box) DraftID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.draftID
}

// BindDraft implements drafts.Composer.
func (b *Box) BindDraft(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.draftID = id
}

// Start implements drafts.Composer.
func (b *Box) Start(args drafts.ComposeArgs) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	b.open = true
	b.msgType = args.Type
	b.streamID = args.StreamID
	b.streamName = args.StreamName
	b.topic = args.Topic
	b.recipients = args.PrivateMessageRecipient
	b.text = args.Content
	b.cursor = len(args.Content)
	b.draftID = args.DraftID
}

// InsertAtCursor implements upload.Textarea.
func (b *Box) InsertAtCursor(s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	at := b.cursor
	b.text = b.text[:at] + s + b.text[at:]
	b.cursor = at + len(s)
	return at
}

// Splice implements upload.Textarea.
func (b *Box) Splice(locate func(text string) (start, end int, ok bool), replacement string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	start, end, ok := locate(b.text)
	if !ok || start < 0 || end > len(b.text) || start > end {
		return false
	}
	b.text = b.text[:start] + replacement + b.text[end:]
	switch {
	case b.cursor >= end:
		b.cursor += len(replacement) - (end - start)
	case b.cursor > start:
		b.cursor = start + len(replacement)
	}
	return true
}

// SetUploading implements upload.SendGate.
func (b *Box) SetUploading(uploading bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploading = uploading
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
