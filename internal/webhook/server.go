package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/solbounty/bountyd/internal/event"
	"github.com/solbounty/bountyd/internal/telemetry"
)

// Router consumes verified, parsed events. The bounty manager implements it;
// tests substitute a recorder.
type Router interface {
	HandleEvent(ctx context.Context, ev event.Event) error
}

// Server handles HTTP requests for webhook deliveries.
type Server struct {
	router     Router
	secret     []byte
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Router Router
	Secret []byte // HMAC secret shared with the webhook sender
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router: cfg.Router,
		secret: cfg.Secret,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("/webhook", s.handleDelivery)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// deliveryResponse is the JSON response body for webhook deliveries.
type deliveryResponse struct {
	Success bool   `json:"success"`
	Ignored bool   `json:"ignored,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleDelivery handles POST /webhook.
//
// Only signature and malformed-payload failures surface as HTTP errors;
// everything downstream is converted by the router into user-facing comments
// and always acknowledged with 200 so the sender does not redeliver.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	signature := r.Header.Get("X-Hub-Signature-256")
	if !VerifySignature(body, signature, s.secret) {
		telemetry.CountEvent(r.Context(), "signature_rejected")
		s.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	ev, err := event.Parse(body)
	if err != nil {
		if errors.Is(err, event.ErrMalformed) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	if ignored, ok := ev.(event.Ignored); ok {
		telemetry.CountEvent(r.Context(), "ignored")
		log.Printf("ignoring webhook action %q", ignored.Action)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(deliveryResponse{Success: true, Ignored: true})
		return
	}

	telemetry.CountEvent(r.Context(), "received")

	// The router reports failures to the user itself (comments) and never
	// propagates them; a non-nil error here is a bug worth logging, not a
	// reason to trigger redelivery.
	if err := s.router.HandleEvent(r.Context(), ev); err != nil {
		log.Printf("WARNING: event handling failed: %v", err)
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(deliveryResponse{Success: true})
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(deliveryResponse{
		Success: false,
		Error:   message,
	})
}
