package storage

import "errors"

var (
	// ErrCredentialNotFound is returned when a credential id does not exist
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrUsageNotFound is returned when no usage row exists for a user and day
	ErrUsageNotFound = errors.New("usage record not found")

	// ErrMalformedSecret is returned when a secret reference cannot be decrypted
	ErrMalformedSecret = errors.New("malformed secret reference")
)
