// Package statusweb implements the read-only status surface of spec §6:
// one instance per control-loop process, exposing the controller's own
// in-memory state over HTTP. It is grounded in the teacher's WebServer
// (gin + gorilla/websocket, a ticker-driven broadcast loop), generalized
// from one hardcoded CakeAutoRTTService to an injected Provider so the
// same server shape serves both the autorate and the steering binary.
// Unlike the teacher's server it never renders HTML: the distilled
// contract here is JSON-only (/status, /healthz, /ws), so the embed.FS
// template loading the teacher does has no home and is dropped. It also
// drops the teacher's websocket log-broadcast stream: nothing in this
// tree produces log events for it to carry, so it isn't carried over.
package statusweb

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Provider is satisfied by autorate.Controller and steering.Controller:
// anything that can describe its own state as a JSON-marshalable value
// without needing to reach into another process.
type Provider interface {
	Status() any
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func() any

func (f ProviderFunc) Status() any { return f() }

// Server is one process's read-only status/debug HTTP surface.
type Server struct {
	addr     string
	provider Provider
	log      zerolog.Logger

	clients  map[*websocket.Conn]bool
	clientMu sync.RWMutex
	upgrader websocket.Upgrader

	broadcastInterval time.Duration

	httpServer *http.Server
}

// New builds a Server that will listen on addr once Start is called.
// provider supplies the JSON body for /status and the periodic websocket
// broadcast; it is read on every request, so it must be safe for
// concurrent use (autorate.Controller and steering.Controller both guard
// their Snapshot with a mutex for this reason).
func New(addr string, provider Provider, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		provider: provider,
		log:      log,
		clients:  make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		broadcastInterval: 2 * time.Second,
	}
}

// Start runs the HTTP server until ctx is cancelled. It blocks, so callers
// run it in its own goroutine (the same way the teacher runs WebServer
// alongside its adaptive control loop).
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/status", s.handleStatus)
	r.GET("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{Addr: s.addr, Handler: r}

	go s.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Status())
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.clientMu.Lock()
	s.clients[conn] = true
	s.clientMu.Unlock()
	defer func() {
		s.clientMu.Lock()
		delete(s.clients, conn)
		s.clientMu.Unlock()
	}()

	if err := conn.WriteJSON(s.provider.Status()); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(s.provider.Status())
		}
	}
}

func (s *Server) broadcast(data any) {
	// Lock, not RLock: a failed write mutates s.clients below.
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for client := range s.clients {
		if err := client.WriteJSON(data); err != nil {
			client.Close()
			delete(s.clients, client)
		}
	}
}
