package drafts

import (
	"encoding/json"
	"strconv"
	"sync"
)

// Migrator repairs stream drafts written by older clients: a missing or null
// topic, and a stream_id stored as null, "" or a numeric string.
type Migrator struct {
	once  sync.Once
	model *Model
	fixed int
}

// NewMigrator returns a Migrator over model.
func NewMigrator(model *Model) *Migrator {
	return &Migrator{model: model}
}

// Run rewrites every stream draft whose topic is missing or null to carry an
// empty topic, and stores stream_id as a number or not at all. Only the first
// call does any work.
func (m *Migrator) Run() {
	m.once.Do(func() {
		m.model.rewriteRaw(func(records map[string]map[string]json.RawMessage) bool {
			for _, rec := range records {
				var typ Type
				if err := json.Unmarshal(rec["type"], &typ); err != nil || typ != TypeStream {
					continue
				}
				topicFixed := fixTopic(rec)
				streamFixed := fixStreamID(rec)
				if topicFixed || streamFixed {
					m.fixed++
				}
			}
			return m.fixed > 0
		})
		if m.fixed > 0 {
			m.model.logger.Info().Int("fixed", m.fixed).Msg("repaired legacy stream drafts")
		}
	})
}

func fixTopic(rec map[string]json.RawMessage) bool {
	if topic, ok := rec["topic"]; ok && string(topic) != "null" {
		return false
	}
	rec["topic"] = json.RawMessage(`""`)
	return true
}

func fixStreamID(rec map[string]json.RawMessage) bool {
	raw, ok := rec["stream_id"]
	if !ok {
		return false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && string(raw) != "null" {
		return false
	}
	id, err := parseStreamID(raw)
	if err != nil {
		return false
	}
	if id == 0 {
		delete(rec, "stream_id")
	} else {
		rec["stream_id"] = json.RawMessage(strconv.FormatInt(id, 10))
	}
	return true
}

// Fixed returns how many drafts the first Run repaired.
func (m *Migrator) Fixed() int {
	return m.fixed
}
