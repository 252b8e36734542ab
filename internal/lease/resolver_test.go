package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_keypool/internal/models"
)

func TestCompatibleProviders(t *testing.T) {
	tests := []struct {
		provider models.Provider
		want     []models.Provider
	}{
		{models.ProviderOpenAI, []models.Provider{models.ProviderOpenRouter}},
		{models.ProviderAnthropic, []models.Provider{models.ProviderOpenRouter}},
		{models.ProviderDeepSeek, []models.Provider{models.ProviderOpenRouter}},
		{models.ProviderMistral, []models.Provider{models.ProviderOpenRouter}},
		{models.ProviderOpenRouter, []models.Provider{models.ProviderOpenAI}},
		{models.ProviderGemini, []models.Provider{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			assert.Equal(t, tt.want, CompatibleProviders(tt.provider))
		})
	}

	// callers get a copy
	alts := CompatibleProviders(models.ProviderOpenAI)
	alts[0] = models.ProviderGemini
	assert.Equal(t, models.ProviderOpenRouter, CompatibleProviders(models.ProviderOpenAI)[0])
}

func TestResolver_EnvironmentCredentials(t *testing.T) {
	r := NewResolver(newFakeCatalog(), map[models.Provider]string{
		models.ProviderOpenAI:     "sk-openai",
		models.ProviderOpenRouter: "sk-router",
		models.ProviderMistral:    "",
		"bogus":                   "sk-bogus",
	})

	creds := r.EnvironmentCredentials(models.ProviderOpenAI)
	require.Len(t, creds, 2)
	assert.Equal(t, "env:openai", creds[0].ID)
	assert.Equal(t, "env:openrouter", creds[1].ID)
	for _, cred := range creds {
		assert.True(t, cred.Environment)
		assert.Equal(t, models.ScopeSystem, cred.Scope)
		assert.Zero(t, cred.DailyLimitTokens)
	}

	creds = r.EnvironmentCredentials(models.ProviderMistral)
	require.Len(t, creds, 1)
	assert.Equal(t, "env:openrouter", creds[0].ID)

	assert.Empty(t, r.EnvironmentCredentials(models.ProviderGemini))
}
