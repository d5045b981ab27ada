// Package gateway runs the HTTP and WebSocket front door.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/internal/config"
	httpapi "github.com/perceptualart/torbobase-sub002/internal/http"
	"github.com/perceptualart/torbobase-sub002/pkg/protocol"
)

// Server is the gateway server handling HTTP and WebSocket connections.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher

	chatHandler   *httpapi.ChatCompletionsHandler
	agentsHandler *httpapi.AgentsHandler
	memoryHandler *httpapi.MemoryHandler
	modelsHandler *httpapi.ModelsHandler

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the handlers into a gateway server.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher,
	chat *httpapi.ChatCompletionsHandler, agents *httpapi.AgentsHandler,
	memory *httpapi.MemoryHandler, models *httpapi.ModelsHandler) *Server {

	s := &Server{
		cfg:           cfg,
		eventPub:      eventPub,
		chatHandler:   chat,
		agentsHandler: agents,
		memoryHandler: memory,
		modelsHandler: models,
		clients:       make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.chatHandler.RegisterRoutes(mux)
	if s.agentsHandler != nil {
		s.agentsHandler.RegisterRoutes(mux)
	}
	if s.memoryHandler != nil {
		s.memoryHandler.RegisterRoutes(mux)
	}
	if s.modelsHandler != nil {
		s.modelsHandler.RegisterRoutes(mux)
	}

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully after
// telling connected clients.
func (s *Server) Start(ctx context.Context) error {
	handler := s.rateLimiter.Middleware(s.BuildMux())

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		s.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades the connection and serves the event feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := s.cfg.Gateway.Token
	if token != "" && r.URL.Query().Get("token") != token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer creates a listener on a random loopback port and returns
// the actual address and a start function. Used by integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	handler := s.rateLimiter.Middleware(s.BuildMux())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: handler}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
