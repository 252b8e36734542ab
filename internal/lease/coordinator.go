// Package lease hands out one API credential per call and tracks how it is used.
//
// A Lease call makes one immediate decision from the state visible in the
// counter store: it never blocks and never retries. Two concurrent callers can
// both see a credential idle and both take it; inflight is then 2. That is a
// soft brake and a tie-break, not an exclusivity guarantee.
package lease

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"llm_keypool/internal/counter"
	"llm_keypool/internal/models"
	"llm_keypool/internal/utils"
)

// DefaultCooldown applies when a caller asks for a cooldown without a duration
const DefaultCooldown = 60 * time.Second

// Catalog lists credential records
type Catalog interface {
	// ListUserCredentials returns every credential the user owns, any provider
	ListUserCredentials(ctx context.Context, userID string) ([]models.Credential, error)

	// ListSystemCredentials returns the shared credentials of one provider
	ListSystemCredentials(ctx context.Context, provider models.Provider) ([]models.Credential, error)
}

// UsageReader reports the tokens a user consumed today
type UsageReader interface {
	TokensUsedToday(ctx context.Context, userID string) (int64, error)
}

// SecretDecrypter resolves a secret reference into the plaintext key
type SecretDecrypter interface {
	Decrypt(ref string) (string, error)
}

// Config holds the coordinator collaborators
type Config struct {
	Catalog  Catalog
	Usage    UsageReader
	Secrets  SecretDecrypter
	Store    counter.Store
	Resolver *Resolver // nil means no environment credentials

	DefaultCooldown time.Duration

	Now      func() time.Time
	Rand     *rand.Rand
	Logger   *utils.Logger
	Observer Observer
}

// Coordinator selects, grants and tracks credential leases
type Coordinator struct {
	catalog  Catalog
	usage    UsageReader
	secrets  SecretDecrypter
	store    counter.Store
	resolver *Resolver

	defaultCooldown time.Duration

	now      func() time.Time
	randMu   sync.Mutex
	rand     *rand.Rand
	logger   *utils.Logger
	observer Observer
}

// candidate is an eligible credential with its current inflight count
type candidate struct {
	cred     models.Credential
	inflight int64
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("credential catalog is required")
	}
	if cfg.Usage == nil {
		return nil, fmt.Errorf("usage ledger is required")
	}
	if cfg.Secrets == nil {
		return nil, fmt.Errorf("secret decrypter is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(cfg.Catalog, nil)
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewLogger("lease")
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	return &Coordinator{
		catalog:         cfg.Catalog,
		usage:           cfg.Usage,
		secrets:         cfg.Secrets,
		store:           cfg.Store,
		resolver:        cfg.Resolver,
		defaultCooldown: cfg.DefaultCooldown,
		now:             cfg.Now,
		rand:            cfg.Rand,
		logger:          cfg.Logger,
		observer:        cfg.Observer,
	}, nil
}

// Lease grants one credential able to serve provider for userID, skipping
// the ids in exclude. A nil lease with a nil error means nothing is available.
func (c *Coordinator) Lease(ctx context.Context, userID string, provider models.Provider, exclude []string) (*models.Lease, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownProvider, provider)
	}

	lease, err := c.lease(ctx, userID, provider, exclude)
	if err != nil {
		c.observer.LeaseFailed(provider, failureReason(err))
	}
	return lease, err
}

func (c *Coordinator) lease(ctx context.Context, userID string, provider models.Provider, exclude []string) (*models.Lease, error) {
	sel := &selection{
		coordinator: c,
		userID:      userID,
		provider:    provider,
		excluded:    make(map[string]struct{}, len(exclude)),
		now:         c.now(),
	}
	for _, id := range exclude {
		sel.excluded[id] = struct{}{}
	}

	own, err := c.catalog.ListUserCredentials(ctx, userID)
	if err != nil {
		return nil, catalogUnavailable("list user credentials", err)
	}

	cands, err := sel.eligible(ctx, own)
	if err != nil {
		return nil, err
	}
	tier := TierUser

	if len(cands) == 0 {
		cands, tier, err = c.resolver.Resolve(ctx, provider, sel.eligible)
		if err != nil {
			return nil, err
		}
	}

	if len(cands) == 0 {
		c.logger.Debug("No lease available", "user_id", userID, "provider", provider)
		c.observer.LeaseExhausted(provider)
		return nil, nil
	}

	c.order(cands, provider)
	return c.acquire(ctx, userID, provider, tier, cands)
}

// order shuffles then stable-sorts candidates by priority, best first
func (c *Coordinator) order(cands []candidate, provider models.Provider) {
	c.randMu.Lock()
	c.rand.Shuffle(len(cands), func(i, j int) {
		cands[i], cands[j] = cands[j], cands[i]
	})
	c.randMu.Unlock()

	sort.SliceStable(cands, func(i, j int) bool {
		ri, rj := rank(&cands[i].cred, provider), rank(&cands[j].cred, provider)
		if ri != rj {
			return ri < rj
		}
		return cands[i].inflight < cands[j].inflight
	})
}

// rank orders preferred+match, match, preferred, the rest
func rank(cred *models.Credential, provider models.Provider) int {
	match := cred.Provider == provider
	switch {
	case cred.IsPreferred() && match:
		return 0
	case match:
		return 1
	case cred.IsPreferred():
		return 2
	default:
		return 3
	}
}

// acquire takes the best candidate whose secret resolves
func (c *Coordinator) acquire(ctx context.Context, userID string, provider models.Provider, tier Tier, cands []candidate) (*models.Lease, error) {
	var lastErr error

	for i := range cands {
		cred := &cands[i].cred

		inflight, err := c.store.IncrInflight(ctx, cred.ID)
		if err != nil {
			return nil, storeUnavailable("increment inflight", err)
		}

		secret, err := c.resolveSecret(cred)
		if err != nil {
			c.logger.Error("Failed to resolve credential secret, trying next candidate",
				"credential_id", cred.ID, "provider", cred.Provider, "error", err)
			c.observer.SecretFailed(cred.Provider)
			if _, decrErr := c.store.DecrInflight(ctx, cred.ID); decrErr != nil {
				c.logger.Warn("Failed to roll back inflight", "credential_id", cred.ID, "error", decrErr)
			}
			lastErr = err
			continue
		}

		lease := models.NewLease(userID, cred, secret, c.now())
		c.logger.Debug("Lease granted",
			"lease_id", lease.ID, "credential_id", cred.ID, "user_id", userID,
			"provider", provider, "tier", tier, "inflight", inflight)
		c.observer.LeaseGranted(provider, tier)
		return lease, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrSecretResolution, lastErr)
}

func (c *Coordinator) resolveSecret(cred *models.Credential) (string, error) {
	if cred.Environment {
		return cred.SecretRef, nil
	}
	return c.secrets.Decrypt(cred.SecretRef)
}

// Release gives a lease back. Releasing the same handle again is a no-op.
func (c *Coordinator) Release(ctx context.Context, lease *models.Lease) error {
	if lease == nil || !lease.MarkReleased() {
		return nil
	}
	return c.ReleaseCredential(ctx, lease.CredentialID)
}

// ReleaseCredential decrements the inflight count of a credential by id.
// The count never drops below zero, so stray calls are harmless.
func (c *Coordinator) ReleaseCredential(ctx context.Context, credentialID string) error {
	if _, err := c.store.DecrInflight(ctx, credentialID); err != nil {
		return storeUnavailable("decrement inflight", err)
	}
	c.observer.LeaseReleased()
	return nil
}

// Cooldown keeps the leased credential out of selection for d.
// Call it only for failures attributable to this credential.
func (c *Coordinator) Cooldown(ctx context.Context, lease *models.Lease, d time.Duration) error {
	if lease == nil {
		return nil
	}
	return c.CooldownCredential(ctx, lease.CredentialID, d)
}

// CooldownCredential sets the cooldown deadline of a credential by id.
// A non-positive d means the default cooldown.
func (c *Coordinator) CooldownCredential(ctx context.Context, credentialID string, d time.Duration) error {
	if d <= 0 {
		d = c.defaultCooldown
	}

	until := c.now().Add(d)
	if err := c.store.SetCooldown(ctx, credentialID, until); err != nil {
		return storeUnavailable("set cooldown", err)
	}

	c.logger.Info("Credential cooling down", "credential_id", credentialID, "until", until.UTC().Format(time.RFC3339))
	c.observer.CooldownSet()
	return nil
}

// WithLease runs fn with a lease and always releases it, panics included.
// It returns ErrNoLease when nothing is available. An error from fn wrapped
// with WithCooldown also cools the credential down.
func (c *Coordinator) WithLease(ctx context.Context, userID string, provider models.Provider, exclude []string, fn func(ctx context.Context, lease *models.Lease) error) (err error) {
	lease, err := c.Lease(ctx, userID, provider, exclude)
	if err != nil {
		return err
	}
	if lease == nil {
		return ErrNoLease
	}

	defer func() {
		if relErr := c.Release(context.WithoutCancel(ctx), lease); relErr != nil {
			c.logger.Error("Failed to release lease", "lease_id", lease.ID, "error", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()

	err = fn(ctx, lease)

	var cooldownErr *CooldownError
	if errors.As(err, &cooldownErr) {
		if cdErr := c.Cooldown(context.WithoutCancel(ctx), lease, cooldownErr.Duration); cdErr != nil {
			c.logger.Error("Failed to set cooldown", "credential_id", lease.CredentialID, "error", cdErr)
		}
	}
	return err
}

// selection holds the per-call state of one Lease
type selection struct {
	coordinator *Coordinator
	userID      string
	provider    models.Provider
	excluded    map[string]struct{}
	now         time.Time

	usageLoaded bool
	tokensUsed  int64
}

// eligible drops disabled, excluded, cooling and over-quota credentials.
// For the user's own credentials only provider matches and preferred ones count.
func (s *selection) eligible(ctx context.Context, creds []models.Credential) ([]candidate, error) {
	var out []candidate
	seen := make(map[string]struct{}, len(creds))

	for _, cred := range creds {
		if cred.Disabled {
			continue
		}
		if _, skip := s.excluded[cred.ID]; skip {
			continue
		}
		if _, dup := seen[cred.ID]; dup {
			continue
		}
		seen[cred.ID] = struct{}{}

		if cred.Scope == models.ScopeUser && cred.Provider != s.provider && !cred.IsPreferred() {
			continue
		}

		if cred.HasQuota() {
			used, err := s.tokensUsedToday(ctx)
			if err != nil {
				return nil, err
			}
			if !cred.WithinQuota(used) {
				continue
			}
		}

		until, err := s.coordinator.store.GetCooldown(ctx, cred.ID)
		if err != nil {
			return nil, storeUnavailable("get cooldown", err)
		}
		if until.After(s.now) {
			continue
		}

		inflight, err := s.coordinator.store.GetInflight(ctx, cred.ID)
		if err != nil {
			return nil, storeUnavailable("get inflight", err)
		}

		out = append(out, candidate{cred: cred, inflight: inflight})
	}

	return out, nil
}

// tokensUsedToday reads the ledger at most once per Lease call
func (s *selection) tokensUsedToday(ctx context.Context) (int64, error) {
	if s.usageLoaded {
		return s.tokensUsed, nil
	}

	used, err := s.coordinator.usage.TokensUsedToday(ctx, s.userID)
	if err != nil {
		return 0, storeUnavailable("read usage ledger", err)
	}

	s.tokensUsed = used
	s.usageLoaded = true
	return used, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_unavailable"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrSecretResolution):
		return "secret_resolution"
	default:
		return "other"
	}
}
