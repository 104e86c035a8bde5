package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"murmur/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/streams", s.handleStreams)

		r.Post("/screens", s.handleMount)
		r.Route("/screens/{screenID}", func(r chi.Router) {
			r.Get("/", s.handleSnapshot)
			r.Delete("/", s.handleUnmount)
			r.Get("/status", s.handleStatus)
			r.Post("/actions", s.handleAction)
			r.Post("/refresh", s.handleRefresh)
			r.Put("/polling", s.handlePolling)
			r.Put("/policy", s.handlePolicy)
		})

		r.Post("/seen", s.handleMarkSeen)
		r.Get("/notifications/unread", s.handleUnread)
		r.Get("/search", s.handleSearch)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"streams": s.service.Streams()})
}

func (s *HTTPServer) handleMount(w http.ResponseWriter, r *http.Request) {
	var body MountInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	mountedScreen, err := s.service.Mount(viewerID(r), body)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	status := http.StatusCreated
	if mountedScreen.Refs > 1 {
		status = http.StatusOK
	}
	writeJSON(w, status, mountedScreen)
}

func (s *HTTPServer) handleUnmount(w http.ResponseWriter, r *http.Request) {
	closed, err := s.service.Unmount(viewerID(r), chi.URLParam(r, "screenID"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": closed})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(viewerID(r), chi.URLParam(r, "screenID"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if v, err := strconv.ParseUint(since, 10, 64); err == nil && v == snap.Version {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(viewerID(r), chi.URLParam(r, "screenID"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request) {
	var body ActionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	snap, err := s.service.Submit(r.Context(), viewerID(r), chi.URLParam(r, "screenID"), body)
	if err != nil {
		status, code, message, details := mapError(err)
		response := map[string]any{"code": code, "error": message}
		if details != nil {
			response["details"] = details
		}
		// A failed write keeps its optimistic change; send the view
		// the client should now show along with the error.
		if snap.Stream != "" {
			response["snapshot"] = snap
		}
		writeJSON(w, status, response)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Refresh(r.Context(), viewerID(r), chi.URLParam(r, "screenID"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handlePolling(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "enabled is required", nil)
		return
	}
	st, err := s.service.SetPolling(viewerID(r), chi.URLParam(r, "screenID"), *body.Enabled)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *HTTPServer) handlePolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Policy string `json:"policy"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	snap, err := s.service.SetPolicy(viewerID(r), chi.URLParam(r, "screenID"), body.Policy)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Stream string    `json:"stream"`
		At     time.Time `json:"at"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Stream) == "" {
		writeError(w, http.StatusBadRequest, "MISSING_STREAM", "stream is required", nil)
		return
	}
	seen, err := s.service.MarkSeen(r.Context(), viewerID(r), body.Stream, body.At)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stream": body.Stream, "seen": seen})
}

func (s *HTTPServer) handleUnread(w http.ResponseWriter, r *http.Request) {
	n, seen, err := s.service.Unread(r.Context(), viewerID(r))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": n, "seen": seen})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := search.Query{
		Text:       strings.TrimSpace(params.Get("q")),
		FilterType: search.ResultType(params.Get("type")),
		AuthorID:   params.Get("author"),
		Limit:      parseIntDefault(params.Get("limit"), 20),
		Offset:     parseIntDefault(params.Get("offset"), 0),
	}
	if q.Text == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "q is required", nil)
		return
	}
	switch q.FilterType {
	case "", search.ResultPost, search.ResultComment:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_TYPE", fmt.Sprintf("unknown result type %q", q.FilterType), nil)
		return
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// viewerID is the opaque identity of the caller.
func viewerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
