package event

import (
	"encoding/json"
	"testing"

	"github.com/pscheid92/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, fields *domain.Fields) string {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(data)
}

func TestNormalize_StrictJSONPassesThrough(t *testing.T) {
	result, err := Normalize(`{"to":42,"msg":"hi"}`)
	require.NoError(t, err)

	assert.Empty(t, result.Repaired)
	assert.JSONEq(t, `{"to":42,"msg":"hi"}`, encode(t, result.Fields))
}

func TestNormalize_RepairsBareKeysAndValues(t *testing.T) {
	result, err := Normalize(`{to:42, msg:hello}`)
	require.NoError(t, err)

	assert.Equal(t, `{"to":42, "msg":"hello"}`, result.Repaired)
	assert.JSONEq(t, `{"to":42,"msg":"hello"}`, encode(t, result.Fields))

	event, err := domain.NewEvent(domain.EventChat, result.Fields)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID(42), event.Recipient)
}

func TestNormalize_RepairsNonASCIIKeys(t *testing.T) {
	result, err := Normalize(`{to:42, año:2024}`)
	require.NoError(t, err)
	assert.Equal(t, `{"to":42, "año":2024}`, result.Repaired)
	assert.JSONEq(t, `{"to":42,"año":2024}`, encode(t, result.Fields))

	result, err = Normalize(`{to:42, descripción:hola}`)
	require.NoError(t, err)
	assert.Equal(t, `{"to":42, "descripción":"hola"}`, result.Repaired)
	assert.JSONEq(t, `{"to":42,"descripción":"hola"}`, encode(t, result.Fields))
}

func TestNormalize_SpacedNumbersBecomeStrings(t *testing.T) {
	result, err := Normalize(`{to: 42, msg: hello world }`)
	require.NoError(t, err)

	assert.JSONEq(t, `{"to":"42","msg":"hello world"}`, encode(t, result.Fields))

	event, err := domain.NewEvent(domain.EventChat, result.Fields)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID(42), event.Recipient)
}

func TestNormalize_PreservesFieldOrder(t *testing.T) {
	result, err := Normalize(`{z:1, a:two, m:[3]}`)
	require.NoError(t, err)

	var keys []string
	for pair := result.Fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)
}

func TestNormalize_RepairIsLossy(t *testing.T) {
	result, err := Normalize(`{to:1, ok:true, note:null}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":1,"ok":"true","note":"null"}`, encode(t, result.Fields))
}

func TestNormalize_Drops(t *testing.T) {
	payloads := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"plain text", "hello there"},
		{"unterminated", `{"to":42,"msg":"hi"`},
		{"array", `[1,2,3]`},
		{"number", `42`},
		{"string", `"chat"`},
		{"nested garbage", `{to:{42}`},
		{"invalid utf-8", "{\"to\":42,\"msg\":\"caf\xe9\"}"},
		{"invalid utf-8 repaired", "{to:42, msg:caf\xe9}"},
	}

	for _, tt := range payloads {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.payload)
			assert.ErrorIs(t, err, domain.ErrUnparseable)
		})
	}
}

func TestRepair(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{to:42}`, `{"to":42}`},
		{`  {to:42}  `, `{"to":42}`},
		{`{a:b,c:d}`, `{"a":"b","c":"d"}`},
		{`{list:[1,2]}`, `{"list":[1,2]}`},
		{`{"quoted":"x"}`, `{"quoted":"x"}`},
		{`{año:2024}`, `{"año":2024}`},
		{`{título:canción}`, `{"título":"canción"}`},
		{`{n:٣}`, `{"n":٣}`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Repair(tt.input))
		})
	}
}
