package models

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Lease is a short-lived grant of one credential to one caller.
// It is never persisted; the counter store only tracks how many are outstanding.
type Lease struct {
	ID           uuid.UUID
	CredentialID string
	Secret       string
	Scope        Scope
	Provider     Provider
	UserID       string
	AcquiredAt   time.Time

	released atomic.Bool
}

// NewLease creates a lease handle for a credential
func NewLease(userID string, cred *Credential, secret string, now time.Time) *Lease {
	return &Lease{
		ID:           uuid.New(),
		CredentialID: cred.ID,
		Secret:       secret,
		Scope:        cred.Scope,
		Provider:     cred.Provider,
		UserID:       userID,
		AcquiredAt:   now,
	}
}

// MarkReleased flips the handle to released and reports whether this call did it.
// Only the first call returns true.
func (l *Lease) MarkReleased() bool {
	return l.released.CompareAndSwap(false, true)
}

// Released reports whether the lease has already been given back
func (l *Lease) Released() bool {
	return l.released.Load()
}
