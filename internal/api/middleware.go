package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Request limits.
const (
	// maxRequestBodySize caps a request body. Volume changes are a few bytes.
	maxRequestBodySize = 1 << 20

	headerRequestID = "X-Request-ID"
)

// CORS defaults used when the config leaves a list empty.
var (
	defaultCORSMethods = []string{"GET", "PUT", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Authorization", "Content-Type", headerRequestID}
)

// withRequestID tags the request with the caller's X-Request-ID, or a new
// UUID, and echoes it on the response. The ID is stored where chi's
// middleware.GetReqID finds it.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, id)))
	})
}

// accessLog logs one line per request once the handler has finished.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Hijacked for WebSocket, or nothing written.
			status = http.StatusOK
		}
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverJSON turns a handler panic into a JSON 500.
func (s *Server) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				// net/http uses this panic to abort a response silently.
				panic(rec)
			}
			s.logger.Error("panic recovered in HTTP handler",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// corsPolicy answers cross-origin requests from the configured origins.
// An empty origin list allows every origin, which suits a LAN control panel.
type corsPolicy struct {
	origins []string
	methods string
	headers string
}

func newCORSPolicy(origins, methods, headers []string) corsPolicy {
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	return corsPolicy{
		origins: origins,
		methods: strings.Join(methods, ", "),
		headers: strings.Join(headers, ", "),
	}
}

// allows reports whether origin may call the API.
func (p corsPolicy) allows(origin string) bool {
	return len(p.origins) == 0 || slices.Contains(p.origins, "*") || slices.Contains(p.origins, origin)
}

func (p corsPolicy) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && p.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", p.methods)
			h.Set("Access-Control-Allow-Headers", p.headers)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
