package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"enginegate/internal/engine"
	"enginegate/internal/manager"
	"enginegate/internal/registry"
	"enginegate/internal/routing"
	"enginegate/pkg/types"
)

// statusClientClosedRequest is nginx's code for a request the caller
// abandoned before a response was ready.
const statusClientClosedRequest = 499

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeErrorResponse(w, types.ErrorResponse{Error: msg, Code: status})
}

func writeErrorResponse(w http.ResponseWriter, body types.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Code)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to its status and writes the payload, including the
// attempted backends when the error carries them. It returns the status.
func writeError(w http.ResponseWriter, err error) int {
	status, kind := classify(err)
	IncrementErrors(kind)
	writeErrorResponse(w, types.ErrorResponse{
		Error:    err.Error(),
		Code:     status,
		Kind:     kind,
		Attempts: manager.AttemptsOf(err),
	})
	return status
}

// classify returns the HTTP status and machine-readable kind for err.
// More specific causes are checked before the manager's outer kind.
func classify(err error) (int, string) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), "error"
	}
	switch {
	case manager.IsBackendNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrDuplicateID):
		return http.StatusConflict, "duplicate_id"
	case engine.IsUnsupportedParameter(err):
		return http.StatusBadRequest, "unsupported_parameter"
	case manager.IsInvalid(err):
		return http.StatusBadRequest, "invalid"
	case manager.IsShuttingDown(err):
		return http.StatusServiceUnavailable, "shutting_down"
	case manager.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case manager.IsCanceled(err):
		return statusClientClosedRequest, "canceled"
	case routing.IsJurisdictionConflict(err):
		return http.StatusForbidden, "jurisdiction_conflict"
	case routing.IsBudgetExceeded(err):
		return http.StatusPaymentRequired, "budget_exceeded"
	case routing.IsNoReadyBackend(err):
		return http.StatusServiceUnavailable, "no_ready_backend"
	case routing.IsAllBackendsFailed(err):
		return http.StatusBadGateway, "all_backends_failed"
	case engine.IsBackendRejected(err):
		return http.StatusBadGateway, "backend_rejected"
	}
	var ie *manager.InferenceError
	if errors.As(err, &ie) && (ie.Kind == manager.KindAdapter || ie.Kind == manager.KindSpawn) {
		return http.StatusBadGateway, ie.Kind.String()
	}
	return http.StatusInternalServerError, "internal"
}
