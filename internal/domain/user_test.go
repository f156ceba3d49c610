package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    UserID
		wantErr bool
	}{
		{"positive", "42", 42, false},
		{"large", "9007199254740993", 9007199254740993, false},
		{"empty", "", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-7", -7, false},
		{"negative zero", "-0", 0, true},
		{"letters", "abc", 0, true},
		{"float", "4.2", 0, true},
		{"overflow", "99999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUserID(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidUserID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserID_String(t *testing.T) {
	assert.Equal(t, "42", UserID(42).String())
}
