package domain

import (
	"fmt"
	"strconv"
)

// UserID identifies the owner of a connection and the recipient of an event.
type UserID int64

// ParseUserID parses a decimal user identifier. Zero is rejected; negative
// values are valid identifiers.
func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, s)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalidUserID)
	}
	return UserID(n), nil
}

func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}
