package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// SQLTool is the subset of the core orchestrator's API this handler needs.
// *core.SqlTool satisfies this.
type SQLTool interface {
	Query(ctx context.Context, req models.Request) models.Response
}

// SQLHandler is the thin inbound HTTP adapter (A13) over the core
// orchestrator: it deserializes a request, calls the orchestrator, and
// serializes the response. It carries no business logic of its own — no
// auth, no routing framework, no middleware beyond request logging.
type SQLHandler struct {
	tool   SQLTool
	logger *zap.Logger
}

// NewSQLHandler builds a SQLHandler over tool.
func NewSQLHandler(tool SQLTool, logger *zap.Logger) *SQLHandler {
	return &SQLHandler{tool: tool, logger: logger.Named("sql_handler")}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *SQLHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/query", h.Query)
}

// Query handles POST /query: decode a Request, run it through the core
// orchestrator, and write back the Response envelope. The orchestrator
// itself never returns a transport-level error — every failure mode is
// already represented in the Response, so this handler only has to worry
// about malformed input and an HTTP status code to pick for the result.
func (h *SQLHandler) Query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if req.Query == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	resp := h.tool.Query(r.Context(), req)

	status := http.StatusOK
	if resp.Error != nil {
		status = statusForError(resp.Error.Category)
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("failed to encode query response", zap.Error(err))
	}
}

// statusForError maps an error category to the HTTP status code the
// gateway returns for it: validation maps to 400 and rate_limit to 429;
// circuit_breaker, timeout, and every other category map to 5xx.
func statusForError(category string) int {
	switch category {
	case "validation":
		return http.StatusBadRequest
	case "rate_limit":
		return http.StatusTooManyRequests
	case "circuit_breaker":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
