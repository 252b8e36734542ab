package lease

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrCatalogUnavailable wraps failures of the credential catalog
	ErrCatalogUnavailable = errors.New("credential catalog unavailable")

	// ErrStoreUnavailable wraps failures of the counter store or the usage ledger
	ErrStoreUnavailable = errors.New("lease state store unavailable")

	// ErrSecretResolution is returned when every attempted candidate failed to decrypt
	ErrSecretResolution = errors.New("no candidate secret could be resolved")

	// ErrNoLease is returned by WithLease when nothing is available.
	// Lease itself signals exhaustion with a nil lease and a nil error.
	ErrNoLease = errors.New("no lease available")
)

// CooldownError asks WithLease to cool the leased credential down before
// returning the wrapped error
type CooldownError struct {
	Duration time.Duration
	Err      error
}

func (e *CooldownError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("credential cooldown requested for %s", e.Duration)
	}
	return e.Err.Error()
}

func (e *CooldownError) Unwrap() error {
	return e.Err
}

// WithCooldown marks err as attributable to the leased credential.
// A zero duration means the coordinator's default cooldown.
func WithCooldown(err error, d time.Duration) error {
	return &CooldownError{Duration: d, Err: err}
}

// IsAttributableStatus reports whether a provider HTTP status blames the
// credential itself (bad key, exhausted quota, rate limited) rather than the
// network or the provider
func IsAttributableStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func catalogUnavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrCatalogUnavailable, op, err)
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStoreUnavailable, op, err)
}
