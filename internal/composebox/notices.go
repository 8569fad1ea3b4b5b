package composebox

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/tOgg1/fcompose/internal/events"
)

// WatchNotices renders draft and store notices published on pub.
func (b *Banners) WatchNotices(pub events.Publisher, id string) error {
	filter := events.Filter{EventTypes: []events.EventType{
		events.EventTypeDraftSaved,
		events.EventTypeDraftCount,
		events.EventTypeStoreWarning,
	}}
	return pub.Subscribe(id, filter, func(e *events.Event) {
		switch e.Type {
		case events.EventTypeDraftSaved:
			b.Notice("Saved as draft")
		case events.EventTypeDraftCount:
			if c, ok := e.Payload.(events.DraftCount); ok {
				b.Notice(fmt.Sprintf("Drafts (%s)", humanize.Comma(int64(c.Count))))
			}
		case events.EventTypeStoreWarning:
			if w, ok := e.Payload.(events.StoreWarning); ok {
				b.Notice(fmt.Sprintf("Drafts could not be saved (%s): %v", w.Op, w.Err))
			}
		}
	})
}
