package drafts

import (
	"sort"
	"strings"
)

// FilterDraftsByComposeBoxAndRecipient splits drafts into those addressed to
// the current destination and the rest. The destination is taken from the
// open composer, falling back to the current narrow.
func (l *Lifecycle) FilterDraftsByComposeBoxAndRecipient(all map[string]Draft) (matching, rest map[string]Draft) {
	ctx := l.recipientContext()

	matching = make(map[string]Draft)
	rest = make(map[string]Draft)
	for id, d := range all {
		if matchesContext(d, ctx) {
			matching[id] = d
		} else {
			rest[id] = d
		}
	}
	return matching, rest
}

func (l *Lifecycle) recipientContext() NarrowContext {
	if l.collab.Composer != nil {
		if state, open := l.collab.Composer.Session(); open {
			if state.Type == TypePrivate {
				return NarrowContext{Recipients: state.Recipients}
			}
			return NarrowContext{StreamID: state.StreamID, Topic: state.Topic}
		}
	}
	if l.collab.Narrower != nil {
		return l.collab.Narrower.Current()
	}
	return NarrowContext{}
}

func matchesContext(d Draft, ctx NarrowContext) bool {
	switch d.Type {
	case TypeStream:
		if ctx.StreamID == 0 || d.StreamID != ctx.StreamID {
			return false
		}
		if ctx.Topic == "" {
			return true
		}
		return strings.EqualFold(d.Topic, ctx.Topic)
	case TypePrivate:
		want := normalizeRecipients(ctx.Recipients)
		return want != "" && normalizeRecipients(d.PrivateMessageRecipient) == want
	default:
		return false
	}
}

// normalizeRecipients splits, trims and sorts a comma-joined recipient list.
func normalizeRecipients(s string) string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
