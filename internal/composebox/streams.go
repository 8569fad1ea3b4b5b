package composebox

import (
	"fmt"
	"strconv"
	"strings"
)

// Streams maps channel ids to display names.
type Streams map[int64]string

// StreamsFromConfig parses the string-keyed map stored in configuration.
func StreamsFromConfig(raw map[string]string) (Streams, error) {
	streams := make(Streams, len(raw))
	for key, name := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid stream id %q", key)
		}
		streams[id] = name
	}
	return streams, nil
}

// StreamName implements drafts.StreamDirectory.
func (s Streams) StreamName(id int64) (string, bool) {
	name, ok := s[id]
	return name, ok
}

// Lookup resolves a channel by id or case-insensitive name.
func (s Streams) Lookup(ref string) (int64, bool) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		return id, true
	}
	for id, name := range s {
		if strings.EqualFold(name, ref) {
			return id, true
		}
	}
	return 0, false
}
