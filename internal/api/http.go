package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ivanglie/scribe/internal/insights"
	"github.com/ivanglie/scribe/internal/session"
	"github.com/ivanglie/scribe/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Recorder controls the live recording session.
type Recorder interface {
	StartSession(title string) (storage.Session, error)
	StopSession() (storage.Session, error)
	CurrentSessionID() string
}

// InsightService generates LLM insights for completed sessions.
type InsightService interface {
	Generate(ctx context.Context, sessionID, insightType, customPrompt string) (storage.Insight, error)
	GenerateAll(ctx context.Context, sessionID string) ([]storage.Insight, error)
}

// AudioCleaner removes per-session audio artifacts when a session is deleted.
type AudioCleaner interface {
	RemoveSessionAudio(sessionID string) error
}

// Deps holds the handler dependencies. Recorder and Insights are optional;
// when nil the corresponding endpoints return 503.
type Deps struct {
	Store    *storage.Store
	Recorder Recorder
	Insights InsightService
	Cleaner  AudioCleaner
	Token    string
}

// NewHandler returns the management REST API. Everything except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/record/start", handleRecordStart(deps))
		r.Post("/v1/record/stop", handleRecordStop(deps))
		r.Get("/v1/record/status", handleRecordStatus(deps))

		r.Get("/v1/sessions", handleListSessions(deps))
		r.Get("/v1/sessions/{id}", handleGetSession(deps))
		r.Patch("/v1/sessions/{id}", handleRenameSession(deps))
		r.Delete("/v1/sessions/{id}", handleDeleteSession(deps))

		r.Get("/v1/sessions/{id}/insights", handleListInsights(deps))
		r.Post("/v1/sessions/{id}/insights", handleGenerateInsights(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type sessionJSON struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	StartTime       string      `json:"start_time"`
	EndTime         string      `json:"end_time,omitempty"`
	DurationSeconds float64     `json:"duration_seconds"`
	Status          string      `json:"status"`
	AudioFile       string      `json:"audio_file,omitempty"`
	Transcript      string      `json:"transcript,omitempty"`
	Chunks          []chunkJSON `json:"chunks,omitempty"`
}

type chunkJSON struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	AudioFile string `json:"audio_file,omitempty"`
}

type insightJSON struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	Type         string `json:"type"`
	Content      string `json:"content"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	GeneratedAt  string `json:"generated_at"`
}

func toSessionJSON(s storage.Session, full bool) sessionJSON {
	out := sessionJSON{
		ID:              s.ID,
		Title:           s.Title,
		StartTime:       s.StartTime.Format(time.RFC3339),
		DurationSeconds: s.DurationSeconds,
		Status:          s.Status,
		AudioFile:       s.AudioFile,
	}
	if !s.EndTime.IsZero() {
		out.EndTime = s.EndTime.Format(time.RFC3339)
	}
	if full {
		out.Transcript = s.Transcript
	}
	return out
}

func toInsightJSON(in storage.Insight) insightJSON {
	return insightJSON{
		ID:           in.ID,
		SessionID:    in.SessionID,
		Type:         in.Type,
		Content:      in.Content,
		CustomPrompt: in.CustomPrompt,
		Provider:     in.Provider,
		Model:        in.Model,
		GeneratedAt:  in.GeneratedAt.Format(time.RFC3339),
	}
}

func handleRecordStart(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Recorder == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "recording is not available")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sess, err := deps.Recorder.StartSession(req.Title)
		if err != nil {
			if errors.Is(err, session.ErrSessionActive) {
				httpError(w, http.StatusConflict, "invalid_request_error", "a recording session is already active")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "starting session: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, toSessionJSON(sess, false))
	}
}

func handleRecordStop(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Recorder == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "recording is not available")
			return
		}

		sess, err := deps.Recorder.StopSession()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				httpError(w, http.StatusConflict, "invalid_request_error", "no active recording session")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "stopping session: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionJSON(sess, true))
	}
}

func handleRecordStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Recording bool   `json:"recording"`
			SessionID string `json:"session_id,omitempty"`
		}{}
		if deps.Recorder != nil {
			resp.SessionID = deps.Recorder.CurrentSessionID()
			resp.Recording = resp.SessionID != ""
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		sessions, err := deps.Store.ListSessions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sessions: %v", err)
			return
		}

		out := make([]sessionJSON, len(sessions))
		for i, s := range sessions {
			out[i] = toSessionJSON(s, false)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sess, err := deps.Store.GetSession(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "getting session: %v", err)
			return
		}

		out := toSessionJSON(sess, true)
		chunks, err := deps.Store.GetSessionChunks(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting chunks: %v", err)
			return
		}
		for _, c := range chunks {
			out.Chunks = append(out.Chunks, chunkJSON{
				Index:     c.Index,
				Text:      c.Text,
				Timestamp: c.Timestamp.Format(time.RFC3339),
				AudioFile: c.AudioFile,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleRenameSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		if err := deps.Store.UpdateSessionTitle(id, req.Title); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "renaming session: %v", err)
			return
		}

		sess, err := deps.Store.GetSession(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionJSON(sess, false))
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if deps.Recorder != nil && deps.Recorder.CurrentSessionID() == id {
			httpError(w, http.StatusConflict, "invalid_request_error", "session %s is currently recording", id)
			return
		}

		if err := deps.Store.DeleteSession(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "deleting session: %v", err)
			return
		}

		if deps.Cleaner != nil {
			if err := deps.Cleaner.RemoveSessionAudio(id); err != nil {
				slog.Warn("failed to remove session audio", "session_id", id, "error", err)
			}
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetSession(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "getting session: %v", err)
			return
		}

		list, err := deps.Store.ListInsights(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing insights: %v", err)
			return
		}

		out := make([]insightJSON, len(list))
		for i, in := range list {
			out[i] = toInsightJSON(in)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGenerateInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Insights == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "insight generation is not available")
			return
		}

		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Type   string `json:"type"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Type == "all" {
			list, err := deps.Insights.GenerateAll(r.Context(), id)
			if err != nil {
				writeInsightError(w, id, err)
				return
			}
			out := make([]insightJSON, len(list))
			for i, in := range list {
				out[i] = toInsightJSON(in)
			}
			writeJSON(w, http.StatusOK, out)
			return
		}

		in, err := deps.Insights.Generate(r.Context(), id, req.Type, req.Prompt)
		if err != nil {
			writeInsightError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, toInsightJSON(in))
	}
}

func writeInsightError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
	case errors.Is(err, insights.ErrEmptyTranscript),
		errors.Is(err, insights.ErrMissingPrompt),
		errors.Is(err, insights.ErrUnknownType):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "generating insight: %v", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
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
