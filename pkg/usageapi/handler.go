package usageapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/katosuite/usagekit/pkg/jwt"
	"github.com/katosuite/usagekit/pkg/usagestore"
)

// Store is the persistence surface the API needs. *usagestore.Store
// satisfies it; tests substitute fakes.
type Store interface {
	Snapshot(ctx context.Context, workspaceID string) (map[string]int64, error)
	Increment(ctx context.Context, workspaceID, resource string, amount int64, idempotencyKey string) (int64, error)
}

// Handler serves the usage accounting HTTP API.
type Handler struct {
	store    Store
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(store Store, log *slog.Logger) *Handler {
	if store == nil {
		panic("usageapi: store is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Router assembles the chi router: health probes are open, usage
// endpoints require a verified bearer token.
func Router(h *Handler, jwtSvc *jwt.Service, checks ...func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health(checks))

	r.Group(func(r chi.Router) {
		r.Use(jwt.Middleware(jwtSvc))
		r.Get("/v1/usage", h.getUsage)
		r.Post("/v1/usage/increment", h.increment)
	})

	return r
}

type usageEntry struct {
	Used int64 `json:"used"`
}

type usageResponse struct {
	Usage map[string]usageEntry `json:"usage"`
}

type incrementRequest struct {
	Resource string `json:"resource" validate:"required,max=64"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
}

type incrementResponse struct {
	Resource string `json:"resource"`
	Used     int64  `json:"used"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwt.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	usage, err := h.store.Snapshot(r.Context(), claims.Subject)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to fetch usage snapshot",
			"workspace_id", claims.Subject, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch usage"})
		return
	}

	resp := usageResponse{Usage: make(map[string]usageEntry, len(usage))}
	for resource, used := range usage {
		resp.Usage[resource] = usageEntry{Used: used}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) increment(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwt.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req incrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "resource is required and amount must be positive"})
		return
	}

	total, err := h.store.Increment(r.Context(), claims.Subject, req.Resource, req.Amount,
		r.Header.Get("Idempotency-Key"))
	if err != nil {
		if errors.Is(err, usagestore.ErrInvalidAmount) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be positive"})
			return
		}
		h.log.ErrorContext(r.Context(), "failed to increment usage",
			"workspace_id", claims.Subject, "resource", req.Resource, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to increment usage"})
		return
	}

	writeJSON(w, http.StatusOK, incrementResponse{Resource: req.Resource, Used: total})
}

func (h *Handler) health(checks []func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				h.log.ErrorContext(r.Context(), "health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
