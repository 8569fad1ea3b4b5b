package drafts

import (
	"context"
	"time"
)

// Autosaver checkpoints the open composer on a fixed interval.
type Autosaver struct {
	lifecycle *Lifecycle
	interval  time.Duration
}

// NewAutosaver returns an Autosaver for lifecycle.
func NewAutosaver(lifecycle *Lifecycle, interval time.Duration) *Autosaver {
	return &Autosaver{lifecycle: lifecycle, interval: interval}
}

// Run saves silently every interval until ctx is cancelled, then takes one
// final checkpoint.
func (a *Autosaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.lifecycle.UpdateDraft(UpdateOptions{NoNotify: true})
			return
		case <-ticker.C:
			a.lifecycle.UpdateDraft(UpdateOptions{NoNotify: true})
		}
	}
}
