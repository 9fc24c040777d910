package webhook

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"roomvoice/core"
	"roomvoice/dispatcher"
	"roomvoice/sessions"
)

const webhookContentType = "application/webhook+json"

// maxBodyBytes caps webhook payloads; LiveKit events are a few KB at most.
const maxBodyBytes = 1 << 20

// Server exposes the inbound webhook endpoint and a health check.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	store      *sessions.Store
	logger     *core.Logger

	httpServer *http.Server
}

func NewServer(d *dispatcher.Dispatcher, store *sessions.Store, logger *core.Logger) *Server {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Server{
		dispatcher: d,
		store:      store,
		logger:     logger.With(map[string]interface{}{"component": "webhook"}),
	}
}

// Start begins serving on port. Non-blocking; Shutdown stops the server.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("webhook server: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve failed", "error", err)
		}
	}()

	s.logger.Info("webhook server listening", "port", port)
	return nil
}

// Shutdown stops accepting deliveries and waits for in-flight teardown work.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.dispatcher.Wait()
	return nil
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, webhookContentType) {
		s.logger.Warn("unsupported content type", "contentType", ct)
		w.WriteHeader(http.StatusUnsupportedMediaType)
		fmt.Fprint(w, "unsupported content type")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "unreadable body")
		return
	}

	res := s.dispatcher.Handle(r.Context(), body, r.Header.Get("Authorization"))
	w.WriteHeader(res.Status)
	fmt.Fprint(w, res.Message)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body, _ := sonic.Marshal(map[string]interface{}{
		"status":         "healthy",
		"activeSessions": s.store.Len(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
