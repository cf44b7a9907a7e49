// Package api provides HTTP handlers and the main API server logic for the
// triage bot.
//
// It exposes RESTful management endpoints for flows, contacts, message
// history and notification recipients, plus the Twilio inbound webhook when
// that backend is in use. Routing is std net/http with method-qualified
// patterns; every response uses the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gsPatrick/bot-medico-api/internal/flow"
	"github.com/gsPatrick/bot-medico-api/internal/messaging"
	"github.com/gsPatrick/bot-medico-api/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on context cancellation
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultSendTimeout bounds outbound sends triggered by API handlers
	DefaultSendTimeout = 30 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address for the API server.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server carries the dependencies shared by all HTTP handlers.
type Server struct {
	st         store.Store
	msgService messaging.Service
	engine     *flow.Engine
	addr       string
}

// NewServer creates an API server on top of the given store, messaging
// service and flow engine.
func NewServer(st store.Store, msgService messaging.Service, engine *flow.Engine, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("API server created", "addr", cfg.Addr)
	return &Server{st: st, msgService: msgService, engine: engine, addr: cfg.Addr}
}

// Handler builds the route table. Exposed separately from Run so tests can
// exercise routing without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("GET /api/flows", s.listFlowsHandler)
	mux.HandleFunc("POST /api/flows", s.createFlowHandler)
	mux.HandleFunc("GET /api/flows/{id}", s.getFlowHandler)
	mux.HandleFunc("PUT /api/flows/{id}", s.updateFlowHandler)
	mux.HandleFunc("DELETE /api/flows/{id}", s.deleteFlowHandler)
	mux.HandleFunc("POST /api/flows/{id}/activate", s.activateFlowHandler)

	mux.HandleFunc("GET /api/contacts", s.listContactsHandler)
	mux.HandleFunc("POST /api/contacts/reset", s.resetContactsHandler)
	mux.HandleFunc("GET /api/contacts/{phone}", s.getContactHandler)
	mux.HandleFunc("PUT /api/contacts/{phone}", s.updateContactHandler)
	mux.HandleFunc("GET /api/contacts/{phone}/messages", s.contactMessagesHandler)
	mux.HandleFunc("POST /api/contacts/{phone}/send", s.manualSendHandler)
	mux.HandleFunc("POST /api/contacts/{phone}/reactivate", s.reactivateContactHandler)

	mux.HandleFunc("GET /api/notifications", s.listRecipientsHandler)
	mux.HandleFunc("POST /api/notifications", s.createRecipientHandler)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.deleteRecipientHandler)

	// Twilio deployments receive inbound messages over this webhook.
	if twilio, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("POST /webhook/twilio", twilio.WebhookHandler)
		slog.Info("API server registered Twilio inbound webhook")
	}

	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
