// Package progress implements a small HTTP/WebSocket server that
// streams BacktestProgress events pushed from a running engine or
// optimizer sweep. It is a one-way broadcast: clients connect to
// /ws/progress and receive events; no request handling.
package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/backtestlab/pkg/types"
)

// Server broadcasts BacktestProgress events to any connected WebSocket
// client on /ws/progress. Safe for concurrent use: Publish may be called
// from the engine's or optimizer's own goroutines.
type Server struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	clients   map[*websocket.Conn]chan types.BacktestProgress
	upgrader  websocket.Upgrader
	httpSrv   *http.Server
}

// New constructs a progress server bound to addr (e.g. ":8090"). Call
// Serve in a goroutine and Shutdown on exit.
func New(logger *zap.Logger, addr string) *Server {
	s := &Server{
		logger:  logger,
		clients: make(map[*websocket.Conn]chan types.BacktestProgress),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws/progress", s.handleWS)
	handler := cors.AllowAll().Handler(router)

	s.httpSrv = &http.Server{Addr: addr, Handler: handler}
	return s
}

// Serve blocks serving HTTP until the server is shut down. Call from a
// goroutine; returns http.ErrServerClosed on graceful Shutdown.
func (s *Server) Serve() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, closing all client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn, ch := range s.clients {
		close(ch)
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]chan types.BacktestProgress)
	s.mu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

// Publish broadcasts a progress event to every connected client. Safe to
// call from the engine's ProgressFunc, including while the engine runs
// inside an optimizer sweep; never blocks on a slow client (drops the
// event for it).
func (s *Server) Publish(p types.BacktestProgress) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- p:
		default:
			s.logger.Debug("dropping progress event for slow client")
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ch := make(chan types.BacktestProgress, 16)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for p := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		data, err := json.Marshal(p)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
