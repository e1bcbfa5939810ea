// Package server hosts the persistent websocket channel clients connect to.
// Channel authentication lives in front of this server (reverse proxy or an
// embedding process); this package only assigns client identities and pumps
// frames into the dispatcher.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/perchlabs/perch/internal/dispatch"
	"github.com/perchlabs/perch/internal/hub"
)

const readLimit = 512 * 1024 // per-frame cap, matches the client side

type Server struct {
	addr       string
	clients    *hub.Registry
	dispatcher *dispatch.Dispatcher
	log        *slog.Logger
}

func New(addr string, clients *hub.Registry, d *dispatch.Dispatcher) *Server {
	return &Server{
		addr:       addr,
		clients:    clients,
		dispatcher: d,
		log:        slog.Default().With("component", "server"),
	}
}

// ListenAndServe runs the channel host until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)

	srv := &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	clientID := uuid.New().String()[:8]
	s.clients.Add(clientID, &wsTransport{conn: conn})
	defer s.clients.Remove(clientID)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.log.Debug("client read ended", "client", clientID, "err", err)
			return
		}
		s.dispatcher.Handle(ctx, clientID, data)
	}
}

// wsTransport adapts a websocket connection to the hub's Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.CloseNow()
}
