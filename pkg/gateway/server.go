package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/harun/agentrelay/internal/observability"
	"github.com/harun/agentrelay/pkg/service"
	"github.com/rs/zerolog"
)

const defaultVNCURL = "http://127.0.0.1:6080/vnc.html?resize=scale&autoconnect=1"

// Server is the HTTP and WebSocket front of the session service
type Server struct {
	host           string
	port           int
	allowedOrigins []string
	pingInterval   time.Duration
	writeTimeout   time.Duration
	vncURL         string
	service        *service.Service
	router         *chi.Mux
	server         *http.Server
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
	// AllowedOrigins applies to CORS and to WebSocket upgrades. Requests
	// without an Origin header are always accepted.
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	VNCURL         string
	Service        *service.Service
	Logger         zerolog.Logger
}

// NewServer creates a new server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.VNCURL == "" {
		cfg.VNCURL = defaultVNCURL
	}

	observability.EnsureRegistered()

	s := &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		allowedOrigins: cfg.AllowedOrigins,
		pingInterval:   cfg.PingInterval,
		writeTimeout:   cfg.WriteTimeout,
		vncURL:         cfg.VNCURL,
		service:        cfg.Service,
		router:         chi.NewRouter(),
		clients:        NewClientRegistry(),
		logger:         cfg.Logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(traceRequest(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{traceHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", observability.MetricsHandler())
	r.Get("/evaluation", s.getEvaluation)
	r.Get("/vnc-url", s.getVNCURL)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.deleteSession)
			r.Get("/messages", s.getMessages)
			r.Post("/messages", s.postMessage)
		})
	})

	r.Get("/ws/{sessionID}", s.handleWebSocket)
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once Start has returned
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()
	return nil
}

// Stop refuses new connections, stops HTTP serving and closes every open
// WebSocket
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.stopTickEmitter()

	var err error
	if s.server != nil {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shutdown server: %w", shutdownErr)
		}
	}

	for _, client := range s.clients.GetAll() {
		deadline := time.Now().Add(s.writeTimeout)
		_ = client.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		client.Conn.Close()
	}

	s.logger.Info().Msg("Gateway server stopped")
	return err
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// startTickEmitter pings every open WebSocket at the keepalive interval.
// WriteControl may run concurrently with the subscriber writer.
func (s *Server) startTickEmitter() {
	if s.pingInterval <= 0 {
		return
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.pingClients()
			}
		}
	}()
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

func (s *Server) pingClients() {
	deadline := time.Now().Add(s.writeTimeout)
	for _, client := range s.clients.GetAll() {
		if err := client.Conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			s.logger.Debug().Err(err).Str("client_id", client.ID).Msg("Ping failed, closing connection")
			client.Conn.Close()
		}
	}
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}
