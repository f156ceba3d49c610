package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// EventType discriminates outbound frames. Values are the wire strings.
type EventType string

const (
	EventFriendRequest  EventType = "friend_request"
	EventChat           EventType = "chat"
	EventFriendAccepted EventType = "friend-accepted"
	EventFriendDenied   EventType = "friend-denied"
	EventVideoCorrected EventType = "video-corrected"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventFriendRequest,
	EventChat,
	EventFriendAccepted,
	EventFriendDenied,
	EventVideoCorrected,
}

// RecipientField is the payload field holding the recipient user id.
const RecipientField = "to"

// typeField is the discriminator written first in every outbound frame.
const typeField = "type"

// Fields holds event fields in publisher order. Values are kept as raw JSON so
// numbers and nested objects are relayed byte for byte.
type Fields = orderedmap.OrderedMap[string, json.RawMessage]

// NewFields returns an empty field set.
func NewFields() *Fields {
	return orderedmap.New[string, json.RawMessage]()
}

// Event is a domain event addressed to a single user.
type Event struct {
	Type      EventType
	Recipient UserID
	Fields    *Fields
}

// NewEvent builds an event from parsed payload fields, resolving the recipient
// from the "to" field. The field may be a JSON integer or a numeric string.
func NewEvent(eventType EventType, fields *Fields) (Event, error) {
	if fields == nil {
		return Event{}, fmt.Errorf("%w: no fields", ErrMissingRecipient)
	}
	raw, ok := fields.Get(RecipientField)
	if !ok {
		return Event{}, fmt.Errorf("%w: no %q field", ErrMissingRecipient, RecipientField)
	}
	recipient, err := parseRecipient(raw)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Recipient: recipient, Fields: fields}, nil
}

func parseRecipient(raw json.RawMessage) (UserID, error) {
	text := string(bytes.TrimSpace(raw))
	if len(text) > 0 && text[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMissingRecipient, err)
		}
		text = s
	}
	id, err := ParseUserID(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMissingRecipient, err)
	}
	return id, nil
}

// MarshalJSON encodes the outbound frame: the type discriminator first, then
// the payload fields in their original order. A payload "type" field replaces
// the discriminator value but keeps the first position.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	typeValue, err := json.Marshal(string(e.Type))
	if err != nil {
		return nil, err
	}
	if e.Fields != nil {
		if override, ok := e.Fields.Get(typeField); ok {
			typeValue = override
		}
	}
	buf.WriteString(`"type":`)
	buf.Write(typeValue)

	if e.Fields != nil {
		for pair := e.Fields.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Key == typeField {
				continue
			}
			key, err := json.Marshal(pair.Key)
			if err != nil {
				return nil, err
			}
			buf.WriteByte(',')
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(pair.Value)
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
