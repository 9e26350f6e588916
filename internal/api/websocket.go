package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/goodtune/comptrack/internal/notice"
	"github.com/goodtune/comptrack/internal/session"
)

const wsWriteTimeout = 5 * time.Second

// wsMessage is a client-to-server websocket message.
type wsMessage struct {
	Type string            `json:"type"` // activity, extend, reset, ping
	Kind session.EventKind `json:"kind,omitempty"`
}

// wsEvent is a server-to-client websocket message.
type wsEvent struct {
	Type    string            `json:"type"` // state, notice, pong, error
	State   *session.Snapshot `json:"state,omitempty"`
	Notice  *notice.Notice    `json:"notice,omitempty"`
	Message string            `json:"message,omitempty"`
}

// WebSocket streams the monitor state and notices to the client and
// accepts activity, extend and reset messages from it. The connection is
// closed once the session expires.
func (h *sessionHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())
	logger := h.logger.With().Str("session_id", entry.ID).Logger()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, conn, entry)
	}()

	ticker := time.NewTicker(h.push)
	defer ticker.Stop()

	for {
		expired, err := h.pushState(ctx, conn, entry)
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug().Err(err).Msg("Websocket write failed")
			}
			return
		}
		if expired {
			_ = conn.Close(websocket.StatusNormalClosure, "session expired")
			logger.Debug().Msg("Websocket closed after session expiry")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pushState sends pending notices followed by the current state. It
// reports whether the session is no longer monitored.
func (h *sessionHandler) pushState(ctx context.Context, conn *websocket.Conn, entry *session.Entry) (bool, error) {
	for _, n := range entry.Inbox.Drain() {
		if err := writeEvent(ctx, conn, wsEvent{Type: "notice", Notice: &n}); err != nil {
			return false, err
		}
	}

	ev := stateEvent(entry)
	if err := writeEvent(ctx, conn, *ev); err != nil {
		return false, err
	}

	return ev.State.State == session.StateIdle, nil
}

func stateEvent(entry *session.Entry) *wsEvent {
	snap := entry.Monitor.Snapshot()
	return &wsEvent{Type: "state", State: &snap}
}

func (h *sessionHandler) readLoop(ctx context.Context, conn *websocket.Conn, entry *session.Entry) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug().Err(err).Str("session_id", entry.ID).Msg("Websocket read failed")
			}
			return
		}

		var reply *wsEvent
		switch msg.Type {
		case "activity":
			entry.Activity.Publish(session.Event{Kind: msg.Kind, At: h.clock.Now()})
		case "extend":
			entry.Monitor.ExtendSession()
			reply = stateEvent(entry)
		case "reset":
			entry.Monitor.ResetTimeout()
			reply = stateEvent(entry)
		case "ping":
			reply = &wsEvent{Type: "pong"}
		default:
			reply = &wsEvent{Type: "error", Message: "unknown message type " + msg.Type}
		}

		if reply != nil {
			if err := writeEvent(ctx, conn, *reply); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev wsEvent) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
