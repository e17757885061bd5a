package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/hakari/internal/auth"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/service/experiments"
	"github.com/ashita-ai/hakari/internal/service/ledger"
	"github.com/ashita-ai/hakari/internal/service/registry"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               storage.Store
	registry            *registry.Registry
	router              *router.Router
	ledger              *ledger.Service
	experiments         *experiments.Service
	jwtMgr              *auth.JWTManager
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte

	// healthGroup collapses concurrent health probes into one storage ping.
	healthGroup singleflight.Group
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): OpenAPISpec.
type HandlersDeps struct {
	Store               storage.Store
	Registry            *registry.Registry
	Router              *router.Router
	Ledger              *ledger.Service
	Experiments         *experiments.Service
	JWTMgr              *auth.JWTManager
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		store:               d.Store,
		registry:            d.Registry,
		router:              d.Router,
		ledger:              d.Ledger,
		experiments:         d.Experiments,
		jwtMgr:              d.JWTMgr,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	op, err := h.store.GetOperatorByName(r.Context(), req.Operator)
	if err != nil || op.APIKeyHash == nil {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.writeInternalError(w, r, "failed to look up operator", err)
			return
		}
		// Spend the same time as a real check so timing does not reveal
		// which operator names exist.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	valid, err := auth.VerifyAPIKey(req.APIKey, *op.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(op)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("token issued", "operator", op.Name, "role", op.Role, "ip", r.RemoteAddr)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// minAPIKeyLen is the shortest API key accepted for a new operator.
const minAPIKeyLen = 16

// HandleCreateOperator handles POST /api/v1/operators (admin only). The
// response carries the raw API key; it is never readable again.
func (h *Handlers) HandleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOperatorRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateOperatorName(req.Name); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.RoleOperator
	}
	if !req.Role.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, fmt.Sprintf("invalid role %q", req.Role))
		return
	}
	if req.APIKey == "" {
		key, err := auth.GenerateAPIKey()
		if err != nil {
			h.writeInternalError(w, r, "failed to generate api key", err)
			return
		}
		req.APIKey = key
	} else if len(req.APIKey) < minAPIKeyLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("api_key must be at least %d characters", minAPIKeyLen))
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}
	op, err := h.store.CreateOperator(r.Context(), model.Operator{
		ID:         uuid.New(),
		Name:       req.Name,
		Role:       req.Role,
		APIKeyHash: &hash,
		CreatedAt:  storage.Now(),
	})
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, fmt.Sprintf("operator %q already exists", req.Name))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.Info("operator created", "operator", op.Name, "role", op.Role, "by", ClaimsFromContext(r.Context()).Operator)
	writeJSON(w, r, http.StatusCreated, model.OperatorWithKey{Operator: op, APIKey: req.APIKey})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	// Detached so one cancelled probe does not fail the others sharing it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	_, pingErr, _ := h.healthGroup.Do("ping", func() (any, error) {
		return nil, h.store.Ping(ctx)
	})

	resp := model.HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Storage:    h.store.Driver() + ": connected",
		Algorithms: h.registry.Len(),
		Uptime:     int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK
	if pingErr != nil {
		resp.Status = "unhealthy"
		resp.Storage = h.store.Driver() + ": disconnected"
		status = http.StatusServiceUnavailable
	} else if !h.registry.Sealed() {
		resp.Status = "starting"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// SeedAdmin creates the initial "admin" operator when none exists.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	count, err := h.store.CountOperators(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: count operators: %w", err)
	}
	if count > 0 {
		h.logger.Info("operators exist, skipping admin seed", "operators", count)
		return nil
	}
	if adminAPIKey == "" {
		h.logger.Warn("no operators and HAKARI_ADMIN_API_KEY is empty; lifecycle endpoints are unreachable until an admin is created")
		return nil
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}
	if _, err := h.store.CreateOperator(ctx, model.Operator{
		ID:         uuid.New(),
		Name:       "admin",
		Role:       model.RoleAdmin,
		APIKeyHash: &hash,
		CreatedAt:  storage.Now(),
	}); err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("seed admin: create operator: %w", err)
	}
	h.logger.Info("seeded initial admin operator")
	return nil
}

// --- Shared helpers ---

func parseID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id: %q", raw)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	return min(max(queryInt(r, "offset", 0), 0), maxQueryOffset)
}

// queryLimit returns a limit from query params clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	return min(max(queryInt(r, "limit", defaultVal), 1), maxQueryLimit)
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)", key)
	}
	return &t, nil
}

func queryStatus(r *http.Request) (*model.Status, error) {
	v := r.URL.Query().Get("status")
	if v == "" {
		return nil, nil
	}
	st, err := model.ParseStatus(v)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func operatorName(r *http.Request) string {
	if c := ClaimsFromContext(r.Context()); c != nil {
		return c.Operator
	}
	return ""
}
