package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	channerics "github.com/niceyeti/channerics/channels"

	"github.com/agvfleet/control-plane/internal/orchestrator"
)

var upgrader = websocket.Upgrader{}

const (
	writeWait        = 1 * time.Second
	maxMessageSize   = 1 << 16
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	closeGracePeriod = 10 * time.Second
)

// WSServer is the operator-facing endpoint: every client connection
// translates inbound JSON frames into orchestrator.Events (replying inline
// with the matching Result) and additionally receives broadcasts pushed by
// Notify for events the operator didn't directly ask about.
type WSServer struct {
	log    *zap.Logger
	addr   string
	events chan<- orchestrator.Event

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewWSServer builds a server that forwards decoded events onto events. The
// caller is expected to be draining events into Orchestrator.Run.
func NewWSServer(log *zap.Logger, addr string, events chan<- orchestrator.Event) *WSServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSServer{log: log, addr: addr, events: events, clients: make(map[*websocket.Conn]chan []byte)}
}

// Serve blocks, running the HTTP server until ctx is cancelled.
func (s *WSServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleConn)

	srv := &http.Server{Addr: s.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Notify pushes an unsolicited broadcast (task_complete, shelf_at_station,
// ...) to every connected operator client. Safe to call concurrently with
// Serve and with other Notify calls.
func (s *WSServer) Notify(kind string, data interface{}) {
	raw, err := encodeBroadcast(kind, data)
	if err != nil {
		s.log.Warn("transport: failed to encode broadcast", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.clients {
		select {
		case out <- raw:
		default:
			s.log.Warn("transport: dropping broadcast, client outbound queue full")
		}
	}
}

func (s *WSServer) handleConn(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("transport: websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageSize)
	defer s.closeConn(ws)

	out := make(chan []byte, 32)
	s.mu.Lock()
	s.clients[ws] = out
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, ws)
		s.mu.Unlock()
	}()

	s.pumpConn(r.Context(), ws, out)
}

// pumpConn mirrors the read/ping/write goroutine split required by
// gorilla/websocket: a background goroutine blocks on ReadMessage so
// control frames (pong) are processed, while this goroutine's select loop
// owns every write to the connection.
func (s *WSServer) pumpConn(ctx context.Context, ws *websocket.Conn, out <-chan []byte) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pong := make(chan struct{}, 1)
	ws.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	inbound := make(chan []byte, 8)
	go func() {
		for {
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
			_, msg, err := ws.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			select {
			case inbound <- msg:
			case <-connCtx.Done():
				return
			}
		}
	}()

	ticker := channerics.NewTicker(connCtx.Done(), pingPeriod)
	lastPong := time.Now()

	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker:
			if time.Since(lastPong) > pongWait {
				s.log.Info("transport: closing unresponsive websocket connection")
				return
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-pong:
			lastPong = time.Now()
		case raw := <-inbound:
			s.dispatch(ws, raw)
		case raw := <-out:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one inbound frame, submits it to the orchestrator, and
// writes the resulting Result back synchronously. Submission and reply
// happen on this connection's own goroutine, so a slow client only stalls
// its own replies, never the orchestrator loop (the reply channel is
// buffered and the orchestrator never blocks sending on it here because it
// is read immediately below).
func (s *WSServer) dispatch(ws *websocket.Conn, raw []byte) {
	ev, err := decodeInbound(raw)
	if err != nil {
		s.writeError(ws, err)
		return
	}

	reply := make(chan orchestrator.Result, 1)
	ev.Reply = reply
	s.events <- ev
	res := <-reply

	payload, err := encodeResult(res)
	if err != nil {
		s.log.Warn("transport: failed to encode result", zap.Error(err))
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.log.Warn("transport: failed to write result", zap.Error(err))
	}
}

func (s *WSServer) writeError(ws *websocket.Conn, err error) {
	payload, encErr := encodeResult(orchestrator.Result{Action: "error", Err: err})
	if encErr != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.TextMessage, payload)
}

func (s *WSServer) closeConn(ws *websocket.Conn) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()
}
