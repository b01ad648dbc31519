package subscriber

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// maxLoggedMessage caps how much of an inbound client message ends up in logs.
const maxLoggedMessage = 256

// Hub is the membership side of the broadcaster.
type Hub interface {
	Attach(sub ports.Subscriber)
	Detach(id string)
}

// WebSocket is one connected browser or client. Frames are sent as text
// messages.
type WebSocket struct {
	id     string
	conn   *websocket.Conn
	closed atomic.Bool
}

func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{id: uuid.NewString(), conn: conn}
}

func (w *WebSocket) ID() string { return w.id }

// Send writes frame as one text message. Any write failure leaves the
// connection unusable, so it is reported as ErrSubscriberClosed.
func (w *WebSocket) Send(ctx context.Context, frame []byte) error {
	if w.closed.Load() {
		return ports.ErrSubscriberClosed
	}
	if err := w.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		w.closed.Store(true)
		return fmt.Errorf("%w: %v", ports.ErrSubscriberClosed, err)
	}
	return nil
}

func (w *WebSocket) Close(reason string) error {
	if w.closed.Swap(true) {
		return nil
	}
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}

// WebSocketHandler upgrades requests and attaches each connection to the hub
// until the client goes away.
type WebSocketHandler struct {
	hub  Hub
	obs  ports.Observability
	opts *websocket.AcceptOptions
}

func NewWebSocketHandler(hub Hub, obs ports.Observability, originPatterns ...string) *WebSocketHandler {
	if obs == nil {
		obs = observability.NewLogObs(nil)
	}
	opts := &websocket.AcceptOptions{OriginPatterns: originPatterns}
	if len(originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	return &WebSocketHandler{hub: hub, obs: obs, opts: opts}
}

func (h *WebSocketHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, h.opts)
	if err != nil {
		h.obs.LogError("websocket_accept_failed", err, ports.Field{Key: "remote", Value: r.RemoteAddr})
		return
	}

	sub := NewWebSocket(conn)
	h.hub.Attach(sub)
	defer func() {
		h.hub.Detach(sub.ID())
		_ = sub.Close("bye")
	}()

	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) == -1 && r.Context().Err() == nil {
				h.obs.LogError("websocket_read_failed", err, ports.Field{Key: "id", Value: sub.ID()})
			}
			return
		}
		h.obs.LogInfo("subscriber_message",
			ports.Field{Key: "id", Value: sub.ID()},
			ports.Field{Key: "type", Value: typ.String()},
			ports.Field{Key: "bytes", Value: len(data)},
			ports.Field{Key: "message", Value: preview(data)})
	}
}

func preview(data []byte) string {
	if len(data) <= maxLoggedMessage {
		return string(data)
	}
	cut := maxLoggedMessage
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + "..."
}

var _ ports.Subscriber = (*WebSocket)(nil)
