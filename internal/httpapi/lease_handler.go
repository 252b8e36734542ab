package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"llm_keypool/internal/lease"
	"llm_keypool/internal/ledger"
	"llm_keypool/internal/middleware"
	"llm_keypool/internal/models"
	"llm_keypool/internal/utils"
)

// LeaseService is the part of the coordinator the HTTP layer drives
type LeaseService interface {
	Lease(ctx context.Context, userID string, provider models.Provider, exclude []string) (*models.Lease, error)
	ReleaseCredential(ctx context.Context, credentialID string) error
	CooldownCredential(ctx context.Context, credentialID string, d time.Duration) error
}

// UsageObserver is told about tokens recorded through the API
type UsageObserver interface {
	UsageRecorded(tokens int64)
}

// Handlers serves the lease and usage endpoints
type Handlers struct {
	leases   LeaseService
	usage    ledger.Ledger
	observer UsageObserver
	logger   *utils.Logger
	now      func() time.Time
}

// NewHandlers creates the API handlers. observer may be nil.
func NewHandlers(leases LeaseService, usage ledger.Ledger, observer UsageObserver, logger *utils.Logger) *Handlers {
	if logger == nil {
		logger = utils.NewLogger("httpapi")
	}
	return &Handlers{
		leases:   leases,
		usage:    usage,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

type leaseRequest struct {
	Provider string   `json:"provider"`
	Exclude  []string `json:"exclude,omitempty"`
}

type leaseResponse struct {
	LeaseID      string    `json:"lease_id"`
	CredentialID string    `json:"credential_id"`
	Secret       string    `json:"secret"`
	Scope        string    `json:"scope"`
	Provider     string    `json:"provider"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

type cooldownRequest struct {
	DurationMS int64 `json:"duration_ms"`
}

type usageRequest struct {
	Tokens int64 `json:"tokens"`
}

type usageResponse struct {
	UserID     string `json:"user_id"`
	Day        string `json:"day"`
	TokensUsed int64  `json:"tokens_used"`
}

// handleLease grants one credential to the authenticated user.
// 404 means nothing is available right now; callers should not treat it as a failure.
func (h *Handlers) handleLease(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req leaseRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	provider, err := models.ParseProvider(req.Provider)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.leases.Lease(r.Context(), userID, provider, req.Exclude)
	if err != nil {
		h.respondWithLeaseError(w, "lease", err)
		return
	}
	if l == nil {
		utils.RespondWithError(w, http.StatusNotFound, lease.ErrNoLease.Error())
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, leaseResponse{
		LeaseID:      l.ID.String(),
		CredentialID: l.CredentialID,
		Secret:       l.Secret,
		Scope:        l.Scope.String(),
		Provider:     l.Provider.String(),
		AcquiredAt:   l.AcquiredAt,
	})
}

// handleRelease gives back one lease on a credential
func (h *Handlers) handleRelease(w http.ResponseWriter, r *http.Request) {
	credentialID := r.PathValue("credentialID")
	if credentialID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "credential id is required")
		return
	}

	if err := h.leases.ReleaseCredential(r.Context(), credentialID); err != nil {
		h.respondWithLeaseError(w, "release", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCooldown takes a credential out of selection after a failure it caused.
// A zero duration means the default cooldown.
func (h *Handlers) handleCooldown(w http.ResponseWriter, r *http.Request) {
	credentialID := r.PathValue("credentialID")
	if credentialID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "credential id is required")
		return
	}

	var req cooldownRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DurationMS < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "duration_ms must not be negative")
		return
	}

	d := time.Duration(req.DurationMS) * time.Millisecond
	if err := h.leases.CooldownCredential(r.Context(), credentialID, d); err != nil {
		h.respondWithLeaseError(w, "cooldown", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRecordUsage adds tokens to the authenticated user's daily total
func (h *Handlers) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req usageRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.usage.RecordUsage(r.Context(), userID, req.Tokens); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidTokens):
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrUnavailable):
			h.logger.Error("Failed to record usage", "user_id", userID, "error", err)
			utils.RespondWithError(w, http.StatusServiceUnavailable, "usage ledger unavailable")
		default:
			h.logger.Error("Failed to record usage", "user_id", userID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if h.observer != nil {
		h.observer.UsageRecorded(req.Tokens)
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetUsage reports the authenticated user's tokens for today
func (h *Handlers) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	used, err := h.usage.TokensUsedToday(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to read usage", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "usage ledger unavailable")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, usageResponse{
		UserID:     userID,
		Day:        models.DayKey(h.now()),
		TokensUsed: used,
	})
}

// respondWithLeaseError maps coordinator errors onto status codes.
// Infrastructure trouble is 503 so callers can tell it apart from exhaustion.
func (h *Handlers) respondWithLeaseError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrUnknownProvider):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lease.ErrSecretResolution):
		h.logger.Error("Lease failed", "op", op, "error", err)
		utils.RespondWithError(w, http.StatusBadGateway, lease.ErrSecretResolution.Error())
	case errors.Is(err, lease.ErrCatalogUnavailable):
		h.logger.Error("Lease failed", "op", op, "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, lease.ErrCatalogUnavailable.Error())
	case errors.Is(err, lease.ErrStoreUnavailable):
		h.logger.Error("Lease failed", "op", op, "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, lease.ErrStoreUnavailable.Error())
	default:
		h.logger.Error("Lease failed", "op", op, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
