// Package play provides the WebSocket gameplay endpoint.
package play

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/lastlight/internal/game"
	"github.com/ashureev/lastlight/internal/session"
)

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Handler owns the duplex channel lifecycle: it accepts connections, feeds
// inbound frames to the turn engine strictly in receipt order, and relays the
// resulting frames back. One session per connection.
type Handler struct {
	engine        *game.Engine
	store         *session.Store
	allowedOrigin string
	isDev         bool
	keepAlive     time.Duration
}

// NewHandler creates a gameplay WebSocket handler.
func NewHandler(engine *game.Engine, store *session.Store, allowedOrigin string, isDev bool, keepAlive time.Duration) *Handler {
	return &Handler{
		engine:        engine,
		store:         store,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		keepAlive:     keepAlive,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. A {player} route
// parameter, when present and well-formed, names the session explicitly;
// otherwise a fresh id is generated.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	sess, err := h.store.Connect(sanitizePlayerID(chi.URLParam(r, "player")))
	if err != nil {
		// A second connection for a live player id may not share its
		// session: turns within a session are strictly sequential.
		slog.Warn("Rejected duplicate player connection", "error", err, "ip", r.RemoteAddr)
		_ = ws.Close(websocket.StatusPolicyViolation, "player already connected")
		return
	}
	defer h.store.Disconnect(sess.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Keep-alive is owned by this connection's context and carries no state;
	// it never counts as a turn.
	go h.keepAliveLoop(ctx, ws, sess.ID)

	h.readLoop(ctx, ws, sess.ID)
	slog.Info("Play session ended", "session_id", sess.ID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop processes inbound frames sequentially. A session never has two
// turns in flight: the next read does not happen until the previous turn's
// reply has been written.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var req game.TurnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// Fallback: treat the raw frame as the player's message.
			req = game.TurnRequest{Message: string(data)}
		}
		if strings.TrimSpace(req.Message) == "" {
			slog.Debug("Ignoring empty inbound frame", "session_id", sessionID)
			continue
		}

		sess := h.store.Get(sessionID)
		if sess == nil {
			return
		}

		frame := h.engine.HandleTurn(ctx, sess, req)
		if err := h.writeJSON(ws, frame); err != nil {
			slog.Warn("Failed to write frame", "error", err, "session_id", sessionID)
			return
		}
	}
}

const pingTimeout = 10 * time.Second

func (h *Handler) keepAliveLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	if h.keepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if !keepPinging(ctx, err) {
				if ctx.Err() == nil {
					slog.Debug("Keep-alive ping failed", "error", err, "session_id", sessionID)
				}
				return
			}
		}
	}
}

// keepPinging decides whether a ping result should keep the loop running.
// Pong delivery needs the read loop, and the read loop does not read while a
// turn awaits the generator, so a timed-out ping on a live connection only
// means the pong is delayed behind a slow turn: retry on the next tick. Only
// cancellation or a transport failure ends the loop.
func keepPinging(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (h *Handler) writeJSON(ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}

func sanitizePlayerID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !playerIDPattern.MatchString(id) {
		return ""
	}
	return id
}
