package lease

import "llm_keypool/internal/models"

// Observer is notified of lease outcomes, typically to export metrics
type Observer interface {
	LeaseGranted(provider models.Provider, tier Tier)
	LeaseExhausted(provider models.Provider)
	LeaseFailed(provider models.Provider, reason string)
	SecretFailed(provider models.Provider)
	LeaseReleased()
	CooldownSet()
}

type nopObserver struct{}

func (nopObserver) LeaseGranted(models.Provider, Tier) {}
func (nopObserver) LeaseExhausted(models.Provider) {}
func (nopObserver) LeaseFailed(models.Provider, string) {}
func (nopObserver) SecretFailed(models.Provider) {}
func (nopObserver) LeaseReleased() {}
func (nopObserver) CooldownSet() {}
