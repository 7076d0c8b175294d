package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sakif/vibehub/internal/live"
	"github.com/sakif/vibehub/internal/service"
)

// LiveHandler upgrades clients onto the resonance stream.
type LiveHandler struct {
	hub         *live.Hub
	leaderboard *service.LeaderboardService
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

func NewLiveHandler(hub *live.Hub, leaderboard *service.LeaderboardService, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{
		hub:         hub,
		leaderboard: leaderboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The stream is public and read-only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleResonanceSocket sends the current resonance, then every update.
//
// HTTP: GET /ws/resonance (websocket)
//
// After registering, this goroutine only reads: it discards client frames
// and lets gorilla process pongs and close frames. When a read fails the
// client is gone and is unregistered.
func (h *LiveHandler) HandleResonanceSocket(w http.ResponseWriter, r *http.Request) {
	resonance, err := h.leaderboard.Resonance(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	initial, err := live.Encode(live.Message{Kind: live.KindResonance, Data: resonance})
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	if err := h.hub.Register(conn, initial); err != nil {
		reason := "server shutting down"
		if errors.Is(err, live.ErrHubFull) {
			reason = "too many subscribers"
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason))
		_ = conn.Close()
		return
	}
	defer h.hub.Unregister(conn)

	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
