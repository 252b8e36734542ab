package lease

import (
	"context"

	"llm_keypool/internal/models"
)

// Tier names the stage of the search that produced the candidates
type Tier string

const (
	TierNone        Tier = "none"
	TierUser        Tier = "user"
	TierSystem      Tier = "system"
	TierCompatible  Tier = "compatible"
	TierEnvironment Tier = "environment"
)

// compatibility lists the providers whose model catalogs overlap enough to
// serve in place of another
var compatibility = map[models.Provider][]models.Provider{
	models.ProviderOpenAI:     {models.ProviderOpenRouter},
	models.ProviderAnthropic:  {models.ProviderOpenRouter},
	models.ProviderDeepSeek:   {models.ProviderOpenRouter},
	models.ProviderMistral:    {models.ProviderOpenRouter},
	models.ProviderOpenRouter: {models.ProviderOpenAI},
}

// CompatibleProviders returns the substitutes for a provider, in search order
func CompatibleProviders(p models.Provider) []models.Provider {
	alts := compatibility[p]
	out := make([]models.Provider, len(alts))
	copy(out, alts)
	return out
}

// eligibleFunc narrows a tier's credentials down to the leaseable ones
type eligibleFunc func(ctx context.Context, creds []models.Credential) ([]candidate, error)

// Resolver widens the search once the user has no usable credential:
// same-provider system pool, then compatible-provider system pool, then the
// statically configured environment credentials.
type Resolver struct {
	catalog     Catalog
	environment map[models.Provider]models.Credential
}

// NewResolver creates a resolver. envKeys holds plaintext API keys per
// provider; empty values are ignored.
func NewResolver(catalog Catalog, envKeys map[models.Provider]string) *Resolver {
	env := make(map[models.Provider]models.Credential, len(envKeys))
	for p, key := range envKeys {
		if key == "" || !p.Valid() {
			continue
		}
		env[p] = models.NewEnvironmentCredential(p, key)
	}
	return &Resolver{catalog: catalog, environment: env}
}

// EnvironmentCredentials returns the environment credentials that may serve
// provider: its own first, then those of its compatible providers
func (r *Resolver) EnvironmentCredentials(provider models.Provider) []models.Credential {
	var creds []models.Credential
	for _, p := range append([]models.Provider{provider}, compatibility[provider]...) {
		if cred, ok := r.environment[p]; ok {
			creds = append(creds, cred)
		}
	}
	return creds
}

// Resolve walks the tiers in order and returns the candidates of the first
// tier that has at least one eligible credential
func (r *Resolver) Resolve(ctx context.Context, provider models.Provider, eligible eligibleFunc) ([]candidate, Tier, error) {
	creds, err := r.catalog.ListSystemCredentials(ctx, provider)
	if err != nil {
		return nil, TierNone, catalogUnavailable("list system credentials", err)
	}
	cands, err := eligible(ctx, creds)
	if err != nil || len(cands) > 0 {
		return cands, TierSystem, err
	}

	var compatible []models.Credential
	for _, alt := range compatibility[provider] {
		creds, err := r.catalog.ListSystemCredentials(ctx, alt)
		if err != nil {
			return nil, TierNone, catalogUnavailable("list compatible system credentials", err)
		}
		compatible = append(compatible, creds...)
	}
	cands, err = eligible(ctx, compatible)
	if err != nil || len(cands) > 0 {
		return cands, TierCompatible, err
	}

	cands, err = eligible(ctx, r.EnvironmentCredentials(provider))
	if err != nil || len(cands) > 0 {
		return cands, TierEnvironment, err
	}

	return nil, TierNone, nil
}
