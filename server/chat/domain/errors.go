package domain

import "errors"

var (
	ErrInvalidRoom     = errors.New("invalid room name")
	ErrEmptyUsername   = errors.New("username is empty after sanitization")
	ErrEmptyMessage    = errors.New("message is empty after sanitization")
	ErrRoomMismatch    = errors.New("frame room does not match the session room")
	ErrNotJoined       = errors.New("session is not in a room")
	ErrAlreadyJoined   = errors.New("session already joined a room")
	ErrUnknownFrame    = errors.New("unknown frame type")
	ErrConnectionState = errors.New("connection is not in the expected state")
)
