package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/metrics"
)

func NewRouter(apiHandler *APIHandler, uploadDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Handle("/metrics", metrics.Handler())
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadDir))))

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", apiHandler.UploadDocumentHandler)
			r.Get("/", apiHandler.ListDocumentsHandler)
			r.Get("/{documentID}", apiHandler.GetDocumentHandler)
			r.Delete("/{documentID}", apiHandler.DeleteDocumentHandler)
			r.Post("/{documentID}/extraction", apiHandler.SubmitExtractionHandler)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", apiHandler.ChatHandler)
			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
			r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)
		})
	})

	return r
}

// requestID reuses an incoming X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.RecordRequest(r.Method, route, strconv.Itoa(status), elapsed.Seconds())

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("HTTP request")
	})
}
