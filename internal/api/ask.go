package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/finquery/finquery/internal/genai"
	"github.com/finquery/finquery/internal/observability"
	"github.com/finquery/finquery/internal/pipeline"
)

type askRequest struct {
	Question    string `json:"question"`
	ChatContext string `json:"chat_context"`
}

type askResponse struct {
	Response pipeline.Result `json:"response"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline dependency is not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Pipeline.Run(r.Context(), request.Question, request.ChatContext)
	if err != nil {
		writeAskError(deps, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{Response: result})
}

// writeAskError maps pipeline failures to user-safe JSON bodies. Store and
// provider detail stays in the logs.
func writeAskError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.ErrorContext(r.Context(), "ask pipeline failed",
		slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
		slog.Any("error", err),
	)

	var providerErr *genai.ProviderError
	switch {
	case errors.Is(err, pipeline.ErrStoreNotInitialized):
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_NOT_INITIALIZED", "analytical store is not initialized", false, nil)
	case errors.Is(err, pipeline.ErrQueryRejected), errors.Is(err, pipeline.ErrQueryFailed):
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_FAILED", "Sorry, I couldn't retrieve that data.", false, nil)
	case errors.As(err, &providerErr):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "GENERATION_UNAVAILABLE", "text generation is temporarily unavailable", true, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", false, nil)
	}
}
