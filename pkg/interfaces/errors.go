package interfaces

import "errors"

// Sentinel errors shared across component boundaries.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrDecryptionFailure = errors.New("message decryption failed")
)
