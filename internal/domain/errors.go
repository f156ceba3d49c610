package domain

import "errors"

var (
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrMissingRecipient = errors.New("missing or invalid recipient")
	ErrUnparseable      = errors.New("payload is not a JSON object")
	ErrUnboundChannel   = errors.New("channel has no event binding")
)
