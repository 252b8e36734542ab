package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_keypool/internal/auth"
	"llm_keypool/internal/counter"
	"llm_keypool/internal/lease"
	"llm_keypool/internal/ledger"
	"llm_keypool/internal/metrics"
	"llm_keypool/internal/models"
	"llm_keypool/internal/storage"
	"llm_keypool/internal/utils"
)

var testJWTSecret = []byte("httpapi-test-secret")

// staticCatalog serves fixed credential lists
type staticCatalog struct {
	user   map[string][]models.Credential
	system map[models.Provider][]models.Credential
	err    error
}

func (c *staticCatalog) ListUserCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]models.Credential(nil), c.user[userID]...), nil
}

func (c *staticCatalog) ListSystemCredentials(ctx context.Context, provider models.Provider) ([]models.Credential, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]models.Credential(nil), c.system[provider]...), nil
}

type testServer struct {
	handler http.Handler
	catalog *staticCatalog
	store   *counter.MemoryStore
	ledger  *ledger.MemoryLedger
	metrics *metrics.Collector
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	key, err := storage.GenerateKey(32)
	require.NoError(t, err)
	codec, err := storage.NewCodecFromBase64(key)
	require.NoError(t, err)

	seal := func(plain string) string {
		ref, err := codec.Seal(plain)
		require.NoError(t, err)
		return ref
	}

	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	catalog := &staticCatalog{
		user: map[string][]models.Credential{
			"u1": {
				{ID: "A", OwnerID: "u1", Scope: models.ScopeUser, Provider: models.ProviderGemini, SecretRef: seal("sk-a"), Preferred: true},
				{ID: "B", OwnerID: "u1", Scope: models.ScopeUser, Provider: models.ProviderOpenAI, SecretRef: seal("sk-b")},
			},
			"broken": {
				{ID: "X", OwnerID: "broken", Scope: models.ScopeUser, Provider: models.ProviderOpenAI, SecretRef: "not-a-sealed-secret"},
			},
		},
		system: map[models.Provider][]models.Credential{
			models.ProviderAnthropic: {
				{ID: "K1", Scope: models.ScopeSystem, Provider: models.ProviderAnthropic, SecretRef: seal("sk-k1"), DailyLimitTokens: 1000},
			},
		},
	}

	store := counter.NewMemoryStore(clock)
	usage := ledger.NewMemoryLedger(clock)
	collector := metrics.NewCollector()

	coordinator, err := lease.NewCoordinator(lease.Config{
		Catalog:  catalog,
		Usage:    usage,
		Secrets:  codec,
		Store:    store,
		Now:      clock,
		Logger:   utils.NopLogger(),
		Observer: collector,
	})
	require.NoError(t, err)

	handlers := NewHandlers(coordinator, usage, collector, utils.NopLogger())
	handlers.now = clock

	health := NewHealthHandler(time.Second)
	health.Register("memory", func(context.Context) error { return nil })

	return &testServer{
		handler: NewRouter(RouterConfig{
			Handlers:  handlers,
			Health:    health,
			Metrics:   collector,
			JWTSecret: testJWTSecret,
		}),
		catalog: catalog,
		store:   store,
		ledger:  usage,
		metrics: collector,
		now:     now,
	}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, _, err := auth.GenerateUserJWT(userID, time.Hour, testJWTSecret)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeLease(t *testing.T, w *httptest.ResponseRecorder) leaseResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp leaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestLeaseEndpoint_ProviderMatchBeatsPreference(t *testing.T) {
	s := newTestServer(t)

	resp := decodeLease(t, s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "openai"}))
	assert.Equal(t, "B", resp.CredentialID)
	assert.Equal(t, "sk-b", resp.Secret)
	assert.Equal(t, "user", resp.Scope)
	assert.NotEmpty(t, resp.LeaseID)

	resp = decodeLease(t, s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "gemini"}))
	assert.Equal(t, "A", resp.CredentialID)
	assert.Equal(t, "sk-a", resp.Secret)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.LeasesGranted.WithLabelValues("openai", "user"))+
		testutil.ToFloat64(s.metrics.LeasesGranted.WithLabelValues("gemini", "user")))
}

func TestLeaseEndpoint_Exclude(t *testing.T) {
	s := newTestServer(t)

	resp := decodeLease(t, s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "openai", Exclude: []string{"B"}}))
	// the preferred gemini credential serves a mismatched request
	assert.Equal(t, "A", resp.CredentialID)

	w := s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "openai", Exclude: []string{"A", "B"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeaseEndpoint_BadRequests(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/v1/leases", "u1", map[string]string{"model": "gpt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/v1/leases", "", leaseRequest{Provider: "openai"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "GET", "/v1/leases", "u1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLeaseEndpoint_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/v1/leases", "broken", leaseRequest{Provider: "openai"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	s.catalog.err = errors.New("connection refused")
	w = s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "openai"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReleaseEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	decodeLease(t, s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "openai"}))
	n, err := s.store.GetInflight(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for i := 0; i < 3; i++ {
		w := s.do(t, "POST", "/v1/leases/B/release", "u1", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	n, err = s.store.GetInflight(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCooldownEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	w := s.do(t, "POST", "/v1/leases/B/cooldown", "u1", cooldownRequest{DurationMS: 60000})
	assert.Equal(t, http.StatusNoContent, w.Code)

	until, err := s.store.GetCooldown(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, s.now.Add(time.Minute), until)

	// B cooling down, the preferred credential takes over
	resp := decodeLease(t, s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "openai"}))
	assert.Equal(t, "A", resp.CredentialID)

	w = s.do(t, "POST", "/v1/leases/B/cooldown", "u1", cooldownRequest{DurationMS: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// empty body means the default cooldown
	w = s.do(t, "POST", "/v1/leases/A/cooldown", "u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	until, err = s.store.GetCooldown(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, s.now.Add(lease.DefaultCooldown), until)
}

func TestUsageEndpoints_QuotaScenario(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/v1/usage", "u2", usageRequest{Tokens: 950})
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decodeLease(t, s.do(t, "POST", "/v1/leases", "u2", leaseRequest{Provider: "anthropic"}))
	assert.Equal(t, "K1", resp.CredentialID)
	assert.Equal(t, "system", resp.Scope)

	w = s.do(t, "POST", "/v1/usage", "u2", usageRequest{Tokens: 60})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, "POST", "/v1/leases", "u2", leaseRequest{Provider: "anthropic"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "GET", "/v1/usage", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var usage usageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, usageResponse{UserID: "u2", Day: "2026-05-04", TokensUsed: 1010}, usage)

	assert.Equal(t, 1010.0, testutil.ToFloat64(s.metrics.TokensRecorded))
}

func TestUsageEndpoint_RejectsNegative(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/v1/usage", "u1", usageRequest{Tokens: -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	s.do(t, "POST", "/v1/leases", "u1", leaseRequest{Provider: "openai"})

	w = s.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "keypool_lease_granted_total")
	assert.Contains(t, w.Body.String(), `keypool_http_requests_total{method="POST",route="/v1/leases",status_code="200"} 1`)
}

func TestHealthHandler_Degraded(t *testing.T) {
	h := NewHealthHandler(time.Second)
	h.Register("postgres", func(context.Context) error { return nil })
	h.Register("redis", func(context.Context) error { return errors.New("dial tcp: refused") })

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Equal(t, "dial tcp: refused", resp.Checks["redis"])
}
