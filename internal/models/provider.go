package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned when a provider tag is not one of the supported providers
var ErrUnknownProvider = errors.New("unknown provider")

// ErrUnknownScope is returned when a scope tag is neither user nor system
var ErrUnknownScope = errors.New("unknown scope")

// Provider enumerates the LLM providers a credential can belong to.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGemini     Provider = "gemini"
	ProviderMistral    Provider = "mistral"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderOpenRouter Provider = "openrouter"
)

// Providers returns every supported provider in a stable order
func Providers() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderGemini,
		ProviderMistral,
		ProviderDeepSeek,
		ProviderOpenRouter,
	}
}

// ParseProvider converts a tag into a Provider, rejecting anything unsupported
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// Valid reports whether p is a supported provider
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini,
		ProviderMistral, ProviderDeepSeek, ProviderOpenRouter:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

// Scope says who owns a credential.
type Scope string

const (
	// ScopeUser credentials are private to their owning user
	ScopeUser Scope = "user"
	// ScopeSystem credentials are shared across all users and gated by the usage ledger
	ScopeSystem Scope = "system"
)

// ParseScope converts a tag into a Scope
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeUser:
		return ScopeUser, nil
	case ScopeSystem:
		return ScopeSystem, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
}

func (s Scope) String() string {
	return string(s)
}
