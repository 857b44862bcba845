package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enginegate/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error)
	LoadModel(ctx context.Context, spec types.BackendSpec) (types.BackendStatus, error)
	Unload(id string, grace time.Duration) error
	Backends() []types.BackendStatus
	Backend(id string) (types.BackendStatus, error)
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the API router around svc.
func NewMux(svc Service, opts ...Option) http.Handler {
	o := buildOptions(opts)
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if o.cors != nil {
		r.Use(cors.Handler(*o.cors))
	}

	h := &handlers{svc: svc, opts: o}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/infer", h.infer)
		r.Get("/backends", h.listBackends)
		r.Post("/backends", h.loadBackend)
		r.Get("/backends/{id}", h.getBackend)
		r.Delete("/backends/{id}", h.unloadBackend)
	})
	r.Get("/status", h.status)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no ready backend"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

type handlers struct {
	svc  Service
	opts options
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}

// decodeJSON enforces the content type and body limit, then decodes into v.
// It writes the error response itself and reports whether decoding worked.
func (h *handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// infer godoc
// @Summary      Run an inference request
// @Description  Routes the request through the policy chain and dispatches it, failing over on transient backend errors.
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request  body      types.InferRequest  true  "Inference request"
// @Param        X-Request-Timeout  header  string  false  "Per-request timeout, e.g. 30s"
// @Success      200      {object}  types.InferResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      402      {object}  types.ErrorResponse
// @Failure      403      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /v1/infer [post]
func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	var req types.InferRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetReqID(r.Context())
	}
	rl := newRequestLog(r)
	rl.begin("infer start", map[string]any{"jurisdiction": req.Jurisdiction, "preferred_chip": req.PreferredChip})

	ctx, cancel := requestContext(h.opts.base, r, deadlineFromHeader(r))
	defer cancel()
	resp, err := h.svc.Infer(ctx, req)
	if err != nil {
		// Client went away; nobody is reading the response.
		if r.Context().Err() != nil {
			rl.end("infer abandoned", statusClientClosedRequest, err)
			return
		}
		status := writeError(w, err)
		rl.end("infer end", status, err)
		return
	}
	observeAttempts(resp.Attempts)
	rl.debug("infer served", map[string]any{"served_by": resp.ServedBy, "attempts": resp.Attempts, "total_tokens": resp.TotalTokens})
	writeJSON(w, http.StatusOK, resp)
	rl.end("infer end", http.StatusOK, nil)
}

// listBackends godoc
// @Summary  List registered backends
// @Tags     backends
// @Produce  json
// @Success  200  {object}  types.BackendsResponse
// @Router   /v1/backends [get]
func (h *handlers) listBackends(w http.ResponseWriter, r *http.Request) {
	backends := h.svc.Backends()
	if backends == nil {
		backends = []types.BackendStatus{}
	}
	writeJSON(w, http.StatusOK, types.BackendsResponse{Backends: backends})
}

// getBackend godoc
// @Summary  Show one backend
// @Tags     backends
// @Produce  json
// @Param    id   path      string  true  "Backend id"
// @Success  200  {object}  types.BackendStatus
// @Failure  404  {object}  types.ErrorResponse
// @Router   /v1/backends/{id} [get]
func (h *handlers) getBackend(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Backend(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// loadBackend godoc
// @Summary      Load or attach a backend
// @Description  Spawns the engine (or attaches when base_url is set), loads the model and registers the backend.
// @Tags         backends
// @Accept       json
// @Produce      json
// @Param        spec  body      types.BackendSpec  true  "Backend spec"
// @Success      201   {object}  types.BackendStatus
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      502   {object}  types.ErrorResponse
// @Router       /v1/backends [post]
func (h *handlers) loadBackend(w http.ResponseWriter, r *http.Request) {
	var spec types.BackendSpec
	if !h.decodeJSON(w, r, &spec) {
		return
	}
	rl := newRequestLog(r)
	rl.begin("load start", map[string]any{"backend": spec.ID, "engine": spec.Engine})
	ctx, cancel := requestContext(h.opts.base, r, h.opts.loadTimeout)
	defer cancel()
	st, err := h.svc.LoadModel(ctx, spec)
	if err != nil {
		status := writeError(w, err)
		rl.end("load end", status, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
	rl.end("load end", http.StatusCreated, nil)
}

// unloadBackend godoc
// @Summary      Unload a backend
// @Description  Stops routing to the backend, drains in-flight requests for up to grace, then stops its process.
// @Tags         backends
// @Param        id     path   string  true   "Backend id"
// @Param        grace  query  string  false  "Drain grace, e.g. 10s"
// @Success      204
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /v1/backends/{id} [delete]
func (h *handlers) unloadBackend(w http.ResponseWriter, r *http.Request) {
	var grace time.Duration
	if v := r.URL.Query().Get("grace"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid grace duration")
			return
		}
		grace = d
	}
	rl := newRequestLog(r)
	id := chi.URLParam(r, "id")
	if err := h.svc.Unload(id, grace); err != nil {
		status := writeError(w, err)
		rl.end("unload end", status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	rl.end("unload end", http.StatusNoContent, nil)
}

// status godoc
// @Summary  Server, backend and budget status
// @Tags     status
// @Produce  json
// @Success  200  {object}  types.StatusResponse
// @Router   /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}
