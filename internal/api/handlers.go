// Package api exposes the databot core over HTTP (chi) and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/databot-io/databot/internal/analysis"
	"github.com/databot-io/databot/internal/assistant"
	"github.com/databot-io/databot/internal/cleaning"
	"github.com/databot-io/databot/internal/storage"
	"github.com/databot-io/databot/internal/table"
)

const maxUploadBodySize = 32 << 20 // 32MB

// Asker abstracts the assistant for the API layer.
// Implemented by assistant.Assistant.
type Asker interface {
	Ask(ctx context.Context, user storage.User, datasetName string, summary analysis.Summary, question string) (string, error)
}

// AppDeps holds dependencies for the HTTP handler.
type AppDeps struct {
	Store     *storage.Store
	Assistant Asker // optional; if nil, chat requests return 503
}

// NewAppHandler builds the application router. There is no authentication
// layer: usernames identify, they do not authorize.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/login", handleLogin(deps))

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/datasets", handleListDatasets(deps))
		r.Put("/datasets/{name}", handleUploadDataset(deps))
		r.Get("/datasets/{name}", handleDownloadDataset(deps))
		r.Get("/datasets/{name}/summary", handleDatasetSummary(deps))
		r.Post("/datasets/{name}/clean", handleCleanDataset(deps))
		r.Post("/datasets/{name}/chat", handleChat(deps))
		r.Get("/chat", handleChatHistory(deps))
	})

	return r
}

func handleLogin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Username == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "username is required")
			return
		}

		user, err := deps.Store.GetOrCreateUser(req.Username)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "resolving user: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":       user.ID,
			"username": user.Username,
		})
	}
}

func handleListDatasets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUserID(w, r)
		if !ok {
			return
		}

		names, err := deps.Store.ListDatasetNames(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing datasets: %v", err)
			return
		}
		if names == nil {
			names = []string{}
		}

		writeJSON(w, http.StatusOK, map[string]any{"datasets": names})
	}
}

func handleUploadDataset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUserID(w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		tbl, err := table.ReadCSV(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing csv: %v", err)
			return
		}

		payload, err := table.Encode(tbl)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding table: %v", err)
			return
		}

		if err := deps.Store.SaveDataset(userID, name, payload); err != nil {
			storageError(w, err, "saving dataset")
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"name": name,
			"rows": tbl.NumRows(),
			"cols": tbl.NumCols(),
		})
	}
}

func handleDownloadDataset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUserID(w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")

		tbl, err := loadTable(deps.Store, userID, name)
		if err != nil {
			storageError(w, err, "loading dataset")
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if err := table.WriteCSV(w, tbl); err != nil {
			// Headers are already out; nothing left to do but log upstream.
			return
		}
	}
}

func handleDatasetSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUserID(w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")

		tbl, err := loadTable(deps.Store, userID, name)
		if err != nil {
			storageError(w, err, "loading dataset")
			return
		}

		writeJSON(w, http.StatusOK, analysis.Summarize(tbl))
	}
}

func handleCleanDataset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUserID(w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")

		tbl, err := loadTable(deps.Store, userID, name)
		if err != nil {
			storageError(w, err, "loading dataset")
			return
		}

		cleaned, report := cleaning.Clean(tbl)

		payload, err := table.Encode(cleaned)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding cleaned table: %v", err)
			return
		}

		cleanedName, collides := cleaning.CleanedName(name)
		if err := deps.Store.SaveDataset(userID, cleanedName, payload); err != nil {
			storageError(w, err, "saving cleaned dataset")
			return
		}

		resp := map[string]any{
			"cleaned_name": cleanedName,
			"rows":         cleaned.NumRows(),
			"report":       report,
		}
		if collides {
			resp["warning"] = fmt.Sprintf("dataset name already ends with %q; cleaning it again overwrites a derived slot", cleaning.CleanedSuffix)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Assistant == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "assistant is not configured")
			return
		}

		userID, ok := pathUserID(w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")

		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		user, err := deps.Store.GetUserByID(userID)
		if err != nil {
			storageError(w, err, "resolving user")
			return
		}

		tbl, err := loadTable(deps.Store, userID, name)
		if err != nil {
			storageError(w, err, "loading dataset")
			return
		}

		answer, err := deps.Assistant.Ask(r.Context(), user, name, analysis.Summarize(tbl), req.Message)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "assistant: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"response": answer})
	}
}

func handleChatHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUserID(w, r)
		if !ok {
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = n
		}

		entries, err := deps.Store.RecentChat(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading chat history: %v", err)
			return
		}

		type turn struct {
			Message   string `json:"message"`
			Response  string `json:"response"`
			Timestamp string `json:"timestamp"`
		}
		turns := make([]turn, len(entries))
		for i, e := range entries {
			turns[i] = turn{
				Message:   e.Message,
				Response:  e.Response,
				Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"history": turns})
	}
}

// --- helpers ---

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid user id %q", raw)
		return 0, false
	}
	return id, true
}

func loadTable(s *storage.Store, userID int64, name string) (*table.Table, error) {
	payload, err := s.LoadDataset(userID, name)
	if err != nil {
		return nil, err
	}
	return table.Decode(payload)
}

// storageError maps core errors onto HTTP statuses: a missing record is 404,
// an undecodable payload is a 500 distinct from absence, anything else 500.
func storageError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%s: %v", what, err)
	case errors.Is(err, table.ErrBadFormat):
		httpError(w, http.StatusInternalServerError, "corrupt_payload_error", "%s: %v", what, err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
	}
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

var _ Asker = (*assistant.Assistant)(nil)
