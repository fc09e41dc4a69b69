package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/dqlgen/internal/embedding"
	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/generation"
	"github.com/kalambet/dqlgen/internal/pipeline"
	"github.com/kalambet/dqlgen/internal/retrieval"
	"github.com/kalambet/dqlgen/internal/upstream"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuth           = "authentication_error"
	errTypeTimeout        = "timeout_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeGeneration     = "generation_error"
	errTypeRetrieval      = "retrieval_error"
	errTypeEmbedding      = "embedding_error"
	errTypeLedger         = "ledger_error"
	errTypeAPI            = "api_error"
)

// classify maps a pipeline error to an HTTP status and error type. Timeouts
// are checked first since they may also carry a generation or retrieval
// wrapper.
func classify(err error) (int, string) {
	var ge *generation.GenerationError
	var re *retrieval.RetrievalError
	switch {
	case errors.Is(err, pipeline.ErrEmptyUtterance), errors.Is(err, feedback.ErrInvalidRecord):
		return http.StatusBadRequest, errTypeInvalidRequest
	case upstream.IsTimeout(err):
		return http.StatusGatewayTimeout, errTypeTimeout
	case errors.Is(err, generation.ErrRateLimited):
		return http.StatusTooManyRequests, errTypeRateLimit
	case errors.Is(err, feedback.ErrLedgerWrite):
		return http.StatusServiceUnavailable, errTypeLedger
	case errors.As(err, &ge), errors.Is(err, generation.ErrMalformed):
		return http.StatusBadGateway, errTypeGeneration
	case errors.As(err, &re):
		return http.StatusBadGateway, errTypeRetrieval
	case errors.Is(err, embedding.ErrEmbedding):
		return http.StatusBadGateway, errTypeEmbedding
	}
	return http.StatusInternalServerError, errTypeAPI
}

func writeError(w http.ResponseWriter, err error) {
	code, typ := classify(err)
	if code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	httpError(w, code, typ, "%v", err)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
