package models

import (
	"time"
)

// EnvironmentIDPrefix prefixes the id of credentials supplied through the environment
const EnvironmentIDPrefix = "env:"

// Credential is one API key record, either owned by a user or shared by the system.
type Credential struct {
	ID       string   `db:"id"`
	OwnerID  string   `db:"owner_id"` // empty for system credentials
	Scope    Scope    `db:"scope"`
	Provider Provider `db:"provider"`

	// SecretRef is the encrypted secret as stored in the catalog.
	// For environment credentials it already holds the plaintext.
	SecretRef string `db:"secret_ref"`

	Preferred        bool  `db:"preferred"`          // user scope only
	DailyLimitTokens int64 `db:"daily_limit_tokens"` // system scope only, 0 = unlimited
	Disabled         bool  `db:"disabled"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	// Not stored in DB
	Environment bool `db:"-"`
}

// IsPreferred reports whether the owning user marked this credential as their choice.
// The flag carries no meaning on system credentials.
func (c *Credential) IsPreferred() bool {
	return c.Scope == ScopeUser && c.Preferred
}

// IsSystem reports whether the credential is shared across users
func (c *Credential) IsSystem() bool {
	return c.Scope == ScopeSystem
}

// HasQuota reports whether leasing this credential is gated by a daily token limit
func (c *Credential) HasQuota() bool {
	return c.IsSystem() && c.DailyLimitTokens > 0
}

// WithinQuota checks the user's tokens used today against the daily limit
func (c *Credential) WithinQuota(tokensUsedToday int64) bool {
	if !c.HasQuota() {
		return true
	}
	return tokensUsedToday < c.DailyLimitTokens
}

// NewEnvironmentCredential builds the last-resort credential for a provider from a plaintext key
func NewEnvironmentCredential(provider Provider, apiKey string) Credential {
	return Credential{
		ID:          EnvironmentIDPrefix + string(provider),
		Scope:       ScopeSystem,
		Provider:    provider,
		SecretRef:   apiKey,
		Environment: true,
	}
}
