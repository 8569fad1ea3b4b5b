// Package drafts persists unsent compose-box messages and restores them.
package drafts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type is the kind of message a draft would be sent as.
type Type string

// Draft types.
const (
	TypeStream  Type = "stream"
	TypePrivate Type = "private"
)

// Draft is one unsent message.
type Draft struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
	// StreamID is the destination channel; 0 means no channel was selected.
	StreamID int64  `json:"stream_id,omitempty"`
	Topic    string `json:"topic,omitempty"`
	// PrivateMessageRecipient is the comma-joined recipient list of a direct message.
	PrivateMessageRecipient string `json:"private_message_recipient,omitempty"`
	// UpdatedAt is the last create or edit time in epoch milliseconds.
	UpdatedAt int64 `json:"updatedAt"`
}

// IsStream reports whether the draft targets a channel.
func (d Draft) IsStream() bool { return d.Type == TypeStream }

// sameContent reports whether two drafts differ only in UpdatedAt.
func (d Draft) sameContent(other Draft) bool {
	d.UpdatedAt = 0
	other.UpdatedAt = 0
	return d == other
}

type streamDraftJSON struct {
	Type      Type   `json:"type"`
	Content   string `json:"content"`
	StreamID  int64  `json:"stream_id,omitempty"`
	Topic     string `json:"topic"`
	UpdatedAt int64  `json:"updatedAt"`
}

type privateDraftJSON struct {
	Type                    Type   `json:"type"`
	Content                 string `json:"content"`
	PrivateMessageRecipient string `json:"private_message_recipient"`
	UpdatedAt               int64  `json:"updatedAt"`
}

// MarshalJSON writes only the fields that belong to the draft's type. Stream
// drafts always carry a topic, even an empty one.
func (d Draft) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case TypeStream:
		return json.Marshal(streamDraftJSON{
			Type:      d.Type,
			Content:   d.Content,
			StreamID:  d.StreamID,
			Topic:     d.Topic,
			UpdatedAt: d.UpdatedAt,
		})
	case TypePrivate:
		return json.Marshal(privateDraftJSON{
			Type:                    d.Type,
			Content:                 d.Content,
			PrivateMessageRecipient: d.PrivateMessageRecipient,
			UpdatedAt:               d.UpdatedAt,
		})
	default:
		return nil, fmt.Errorf("draft type %q: %w", d.Type, ErrInvalidType)
	}
}

type draftRecordJSON struct {
	Type                    Type            `json:"type"`
	Content                 string          `json:"content"`
	StreamID                json.RawMessage `json:"stream_id"`
	Topic                   *string         `json:"topic"`
	PrivateMessageRecipient string          `json:"private_message_recipient"`
	UpdatedAt               int64           `json:"updatedAt"`
}

// UnmarshalJSON accepts records written by older clients: stream_id may be
// missing, null, "" or a numeric string, and topic may be missing or null.
func (d *Draft) UnmarshalJSON(data []byte) error {
	var rec draftRecordJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	streamID, err := parseStreamID(rec.StreamID)
	if err != nil {
		return err
	}
	*d = Draft{
		Type:                    rec.Type,
		Content:                 rec.Content,
		StreamID:                streamID,
		PrivateMessageRecipient: rec.PrivateMessageRecipient,
		UpdatedAt:               rec.UpdatedAt,
	}
	if rec.Topic != nil {
		d.Topic = *rec.Topic
	}
	return nil
}

// parseStreamID decodes a stored stream_id. Absent, null and empty values
// mean no channel.
func parseStreamID(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("stream_id %s: %w", s, err)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stream_id %q: %w", str, err)
	}
	return id, nil
}
