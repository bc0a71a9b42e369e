package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/corray333/message-queue/internal/service/models/message"
	enqueuemessage "github.com/corray333/message-queue/internal/transport/http/enqueue_message"
	listfailed "github.com/corray333/message-queue/internal/transport/http/list_failed"
	"github.com/corray333/message-queue/pkg/http/middleware/trace"
	"github.com/corray333/message-queue/pkg/logger"
)

type service interface {
	Enqueue(
		ctx context.Context,
		payload []byte,
		payloadType string,
		destination string,
		deliverAt time.Time,
		priority int,
		metadata map[string]string,
	) (message.Message, error)
	FailedMessages(ctx context.Context) ([]message.FailedMessage, error)
	StuckMessageCount(ctx context.Context) (int64, error)
}

type HTTPTransport struct {
	server  *http.Server
	router  *chi.Mux
	service service
}

func NewHTTPTransport(service service) *HTTPTransport {
	router := newRouter()
	server := newServer(router)
	return &HTTPTransport{
		server:  server,
		router:  router,
		service: service,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.enqueue)
		r.Get("/messages/failed", h.listFailed)
		r.Get("/messages/stuck", h.countStuck)
	})
}

func (h *HTTPTransport) enqueue(w http.ResponseWriter, r *http.Request) {
	enqueuemessage.Enqueue(w, r, h.service)
}

func (h *HTTPTransport) listFailed(w http.ResponseWriter, r *http.Request) {
	listfailed.ListFailed(w, r, h.service)
}

func (h *HTTPTransport) countStuck(w http.ResponseWriter, r *http.Request) {
	listfailed.CountStuck(w, r, h.service)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(trace.NewTraceMiddleware)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
