package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

// Event types.
const (
	// EventTypeDraftSaved fires when a save checkpoint changed a draft and the
	// user should see a "saved as draft" notice.
	EventTypeDraftSaved EventType = "draft.saved"

	// EventTypeDraftCount fires whenever the number of stored drafts may have changed.
	EventTypeDraftCount EventType = "draft.count"

	// EventTypeStoreWarning fires when the durable store rejected a write.
	EventTypeStoreWarning EventType = "store.warning"

	// EventTypeUploadState fires on every upload state transition.
	EventTypeUploadState EventType = "upload.state"

	// EventTypeFilesAdded carries files dropped, pasted, or picked on a surface.
	EventTypeFilesAdded EventType = "upload.files_added"
)

// EntityType identifies the kind of thing an event is about.
type EntityType string

// Entity types.
const (
	EntityTypeDraft   EntityType = "draft"
	EntityTypeStore   EntityType = "store"
	EntityTypeSurface EntityType = "surface"
)

// Event is a notice published in-process.
type Event struct {
	ID         string
	Type       EventType
	EntityType EntityType
	// EntityID is the draft id or the surface key.
	EntityID  string
	Timestamp time.Time
	// Payload holds the event-specific value, e.g. DraftCount or StoreWarning.
	Payload any
}

// New builds an event with a fresh id and timestamp.
func New(eventType EventType, entityType EntityType, entityID string, payload any) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// DraftCount is the payload of EventTypeDraftCount.
type DraftCount struct {
	Count int
}

// StoreWarning is the payload of EventTypeStoreWarning.
type StoreWarning struct {
	Op  string
	Err error
}

// UploadState is the payload of EventTypeUploadState.
type UploadState struct {
	Handle string
	FileID string
	Name   string
	State  string
	Sent   int64
	Total  int64
	URL    string
	Err    error
}
