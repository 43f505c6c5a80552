package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/oriys/serverlessd/internal/comparator"
	"github.com/oriys/serverlessd/internal/domain"
	"github.com/oriys/serverlessd/internal/metrics"
	"github.com/oriys/serverlessd/internal/store"
)

// Invoker is the sandbox executor surface the execute route drives.
type Invoker interface {
	Invoke(ctx context.Context, fn *domain.Function, req *domain.ExecutionRequest) (*domain.ExecutionResult, error)
}

// Handler holds the dependencies shared by every route.
type Handler struct {
	functions  store.FunctionStore
	metrics    store.MetricsStore
	exec       Invoker
	comparator *comparator.Comparator
}

type executeRequest struct {
	Runtime   domain.IsolationRuntime `json:"runtime"`
	WarmStart bool                    `json:"warm_start"`
}

type executeResponse struct {
	FunctionName string                  `json:"function_name"`
	Language     domain.Language         `json:"language"`
	Runtime      domain.IsolationRuntime `json:"runtime"`
	Result       *domain.ExecutionResult `json:"result"`
}

// executeFunction handles POST /functions/execute/{name}.
func (h *Handler) executeFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	fn, err := h.functions.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "function not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req := executeRequest{Runtime: domain.RuntimeDefault, WarmStart: true}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Runtime == "" {
		req.Runtime = domain.RuntimeDefault
	}
	if !req.Runtime.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid runtime: must be \"default\" or \"hardened\"")
		return
	}

	execReq := &domain.ExecutionRequest{
		FunctionName: fn.Name,
		Runtime:      req.Runtime,
		WarmStart:    req.WarmStart,
	}

	result, err := h.exec.Invoke(r.Context(), fn, execReq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		FunctionName: fn.Name,
		Language:     fn.Language,
		Runtime:      req.Runtime,
		Result:       result,
	})
}

// listFunctionMetrics handles GET /metrics/functions/{name}?limit=N.
func (h *Handler) listFunctionMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := h.metrics.List(r.Context(), name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"function_name": name,
		"metrics":       records,
	})
}

// aggregatedMetrics handles GET /metrics/aggregated?function_name=&time_range=.
// function_name is optional: absent means the aggregation spans every
// function in the window.
func (h *Handler) aggregatedMetrics(w http.ResponseWriter, r *http.Request) {
	functionName := r.URL.Query().Get("function_name")

	window := store.Window(r.URL.Query().Get("time_range"))
	if window == "" {
		window = store.Window24h
	}
	if _, err := window.Duration(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agg, err := h.metrics.Aggregate(r.Context(), functionName, window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// compareRuntime handles GET /runtime/compare?function_name=&iterations=.
func (h *Handler) compareRuntime(w http.ResponseWriter, r *http.Request) {
	functionName := r.URL.Query().Get("function_name")
	if functionName == "" {
		writeError(w, http.StatusBadRequest, "function_name is required")
		return
	}

	iterations := 5
	if raw := r.URL.Query().Get("iterations"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "iterations must be an integer")
			return
		}
		iterations = n
	}

	cmp, err := h.comparator.Compare(r.Context(), functionName, iterations)
	if err != nil {
		switch {
		case errors.Is(err, comparator.ErrInvalidIterations):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "function not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, cmp)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Global().Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
