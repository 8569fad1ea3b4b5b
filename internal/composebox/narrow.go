package composebox

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/fcompose/internal/config"
	"github.com/tOgg1/fcompose/internal/drafts"
	"github.com/tOgg1/fcompose/internal/logging"
)

// Narrow is the persisted current view.
type Narrow struct {
	store  *config.NarrowStore
	logger zerolog.Logger
}

// NewNarrow returns a Narrow backed by store.
func NewNarrow(store *config.NarrowStore) *Narrow {
	return &Narrow{store: store, logger: logging.Component("narrow")}
}

// Current implements drafts.Narrower. An unreadable narrow reads as none.
func (n *Narrow) Current() drafts.NarrowContext {
	cur, err := n.store.Load()
	if err != nil {
		n.logger.Warn().Err(err).Msg("cannot read narrow")
		return drafts.NarrowContext{}
	}
	if cur == nil {
		return drafts.NarrowContext{}
	}
	return drafts.NarrowContext{
		StreamID:   cur.StreamID,
		Topic:      cur.Topic,
		Recipients: cur.Recipients,
	}
}

// NarrowTo implements drafts.Narrower.
func (n *Narrow) NarrowTo(args drafts.ComposeArgs) {
	next := &config.Narrow{Trigger: "restore_draft", UpdatedAt: time.Now().UTC()}
	if args.Type == drafts.TypePrivate {
		next.Recipients = args.PrivateMessageRecipient
	} else {
		next.StreamID = args.StreamID
		next.StreamName = args.StreamName
		next.Topic = args.Topic
	}
	if err := n.store.Save(next); err != nil {
		n.logger.Warn().Err(err).Msg("cannot save narrow")
	}
}

// Load returns the stored narrow; a missing file reads as empty.
func (n *Narrow) Load() (*config.Narrow, error) {
	return n.store.Load()
}

// Set replaces the current narrow.
func (n *Narrow) Set(next *config.Narrow) error {
	return n.store.Save(next)
}

// Clear removes the current narrow.
func (n *Narrow) Clear() error {
	return n.store.Clear()
}
