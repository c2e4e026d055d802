package materialize

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/docmat/docpipe"
	"github.com/hazyhaar/docmat/kit"
)

// maxRequestBody caps POST /process bodies; requests carry paths, not files.
const maxRequestBody = 1 << 20

// Router returns a chi router exposing the stage:
//
//	POST /process   {"item": {...}} or {"path": "/abs/file"}
//	GET  /formats   supported document formats
//	GET  /healthz   liveness plus configuration state
func (s *Stage) Router(logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Use(securityHeaders)
	s.RegisterHTTP(r, logger)
	return r
}

// securityHeaders marks every response as non-sniffable, non-framable and
// non-cacheable. Responses carry local file paths and metadata.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// RegisterHTTP mounts the stage routes on an existing router.
func (s *Stage) RegisterHTTP(r chi.Router, logger *slog.Logger) {
	process := s.ProcessEndpoint(logger)

	r.Post("/process", func(w http.ResponseWriter, r *http.Request) {
		var req ProcessRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(r.Context()))

		out, err := process(ctx, &req)
		switch {
		case errors.Is(err, errBadRequest):
			writeError(w, http.StatusBadRequest, err)
			return
		case errors.Is(err, ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, err)
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp := out.(*ProcessResponse)
		code := http.StatusOK
		if resp.Route == RouteFailure {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, resp)
	})

	r.Get("/formats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"formats": docpipe.SupportedFormats()})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := s.Config(); !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unconfigured"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
