package opsserver

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket serves the persistent socket at /ws/mcp. Each inbound text
// frame is one request envelope; outbound frames are envelopes of any kind.
// Requests are served concurrently so a long-running stream does not block
// unrelated requests on the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	session := &wsSession{
		conn:    conn,
		handler: s.handler,
		server:  s,
	}
	session.run(r.Context())
}

// wsSession multiplexes many requests over one socket. gorilla/websocket
// allows a single concurrent writer, so all sends funnel through writeMu.
type wsSession struct {
	conn    *websocket.Conn
	handler *Handler
	server  *Server
	writeMu sync.Mutex
}

func (ws *wsSession) send(m protocol.Message) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return ws.conn.WriteJSON(m)
}

func (ws *wsSession) run(ctx context.Context) {
	defer ws.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.server.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			_ = ws.send(protocol.NewError("", protocol.RequestError, "error processing message: "+err.Error()))
			continue
		}
		req, ok := msg.(*protocol.Request)
		if !ok {
			_ = ws.send(protocol.NewError(msg.MessageID(), protocol.RequestError, "only request envelopes are accepted"))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			ws.serve(ctx, req)
		}()
	}
}

func (ws *wsSession) serve(ctx context.Context, req *protocol.Request) {
	ctx = observability.AddRequestID(ctx, req.ID)
	if req.Stream {
		if err := ws.handler.ExecuteStream(ctx, req, "websocket", ws.send); err != nil {
			ws.server.logger.Warn("websocket stream aborted", "request_id", req.ID, "error", err)
		}
		return
	}
	if err := ws.send(ws.handler.Execute(ctx, req, "websocket")); err != nil {
		ws.server.logger.Warn("websocket send failed", "request_id", req.ID, "error", err)
	}
}
