package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/feedback"
	"github.com/kalambet/dqlgen/internal/storage"
)

const (
	maxContextK       = 50
	defaultRecentSize = 20
	maxRecentSize     = 200
)

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "DQL Assistant API is running..."})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type generateRequest struct {
	Query string `json:"query" validate:"required"`
}

type generateResponse struct {
	ID        string    `json:"id"`
	DQL       string    `json:"dql"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
	Degraded  bool      `json:"degraded"`
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		res, err := deps.Pipeline.Generate(r.Context(), req.Query)
		if err != nil {
			deps.Logger.Warn("generate failed", zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, generateResponse{
			ID:        res.ID,
			DQL:       res.Query,
			Query:     req.Query,
			Timestamp: res.Timestamp,
			Degraded:  res.Degraded,
		})
	}
}

// feedbackRequest accepts the verdict under either "feedback" (the field the
// web UI sends) or "verdict".
type feedbackRequest struct {
	Input     string `json:"input" validate:"required"`
	Query     string `json:"query" validate:"required"`
	Feedback  string `json:"feedback" validate:"required_without=Verdict"`
	Verdict   string `json:"verdict"`
	Comment   string `json:"comment"`
	Timestamp string `json:"timestamp"`
}

// timestampLayouts lists accepted client timestamp formats, with and without
// a zone.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		verdict := req.Verdict
		if verdict == "" {
			verdict = req.Feedback
		}
		rec := feedback.Record{
			Input:   req.Input,
			Query:   req.Query,
			Verdict: feedback.Verdict(strings.ToLower(strings.TrimSpace(verdict))),
			Comment: req.Comment,
		}
		if req.Timestamp != "" {
			ts, ok := parseTimestamp(req.Timestamp)
			if !ok {
				httpError(w, http.StatusBadRequest, errTypeInvalidRequest, "timestamp %q is not an ISO-8601 time", req.Timestamp)
				return
			}
			rec.Timestamp = ts
		}

		if err := deps.Pipeline.SubmitFeedback(r.Context(), rec); err != nil {
			deps.Logger.Warn("feedback rejected", zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "Feedback received"})
	}
}

type contextRequest struct {
	Query string `json:"query" validate:"required"`
	K     int    `json:"k" validate:"gte=0,lte=50"`
}

func handleContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contextRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, errTypeInvalidRequest, "query is required")
			return
		}
		bundle, err := deps.Retriever.Retrieve(r.Context(), req.Query, min(req.K, maxContextK))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bundle)
	}
}

func handleGenerations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRecentSize
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, errTypeInvalidRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxRecentSize)
		}

		gens := []storage.Generation{}
		if deps.History != nil {
			var err error
			if gens, err = deps.History.RecentGenerations(r.Context(), limit); err != nil {
				httpError(w, http.StatusInternalServerError, errTypeAPI, "listing generations: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"generations": gens})
	}
}
