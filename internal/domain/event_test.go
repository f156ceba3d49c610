package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(t *testing.T, raw string) *Fields {
	t.Helper()
	fields := NewFields()
	require.NoError(t, json.Unmarshal([]byte(raw), fields))
	return fields
}

func TestNewEvent_NumericRecipient(t *testing.T) {
	event, err := NewEvent(EventChat, fieldsOf(t, `{"to":42,"msg":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, UserID(42), event.Recipient)
	assert.Equal(t, EventChat, event.Type)
}

func TestNewEvent_StringRecipient(t *testing.T) {
	event, err := NewEvent(EventFriendRequest, fieldsOf(t, `{"to":"17","from":3}`))
	require.NoError(t, err)
	assert.Equal(t, UserID(17), event.Recipient)
}

func TestNewEvent_RejectsMissingOrInvalidRecipient(t *testing.T) {
	payloads := []string{
		`{"msg":"hi"}`,
		`{"to":null}`,
		`{"to":0}`,
		`{"to":"0"}`,
		`{"to":"bob"}`,
		`{"to":4.5}`,
		`{"to":[42]}`,
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			_, err := NewEvent(EventChat, fieldsOf(t, payload))
			assert.ErrorIs(t, err, ErrMissingRecipient)
		})
	}
}

func TestNewEvent_NilFields(t *testing.T) {
	_, err := NewEvent(EventChat, nil)
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestEvent_MarshalJSON_TypeFirstThenFieldsInOrder(t *testing.T) {
	event, err := NewEvent(EventChat, fieldsOf(t, `{"to":42,"msg":"hi","meta":{"a":[1,2]}}`))
	require.NoError(t, err)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"chat","to":42,"msg":"hi","meta":{"a":[1,2]}}`, string(data))
}

func TestEvent_MarshalJSON_PayloadTypeOverridesValue(t *testing.T) {
	event, err := NewEvent(EventChat, fieldsOf(t, `{"to":42,"type":"custom"}`))
	require.NoError(t, err)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"custom","to":42}`, string(data))
}

func TestNewEvent_NegativeRecipient(t *testing.T) {
	event, err := NewEvent(EventChat, fieldsOf(t, `{"to":-5,"msg":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, UserID(-5), event.Recipient)

	event, err = NewEvent(EventChat, fieldsOf(t, `{"to":"-5"}`))
	require.NoError(t, err)
	assert.Equal(t, UserID(-5), event.Recipient)
}
