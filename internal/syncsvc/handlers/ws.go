package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-games/conclave-services/internal/syncsvc/hub"
	"github.com/conclave-games/conclave-services/internal/syncsvc/store"
	"github.com/conclave-games/conclave-services/pkg/protocol"
)

// HandleWebSocket is the socket entry point: GET /v1/ws?gameId=...&token=...
// The credential is checked and the identity joined to the game before the
// upgrade, so a rejected connect never registers a session or creates rows.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.URL.Query().Get("gameId"))
	if err != nil {
		http.Error(w, "missing or invalid gameId", http.StatusBadRequest)
		return
	}

	userID, err := h.verifier.VerifyCredential(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	// Idempotent auto-join: an identity already seated gets its player back,
	// a new identity is seated and playerJoined reaches the existing sessions.
	if _, err := h.engine.EnsurePlayer(r.Context(), gameID, userID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrGameNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	sess := h.hub.Register(gameID, userID)
	log.Infof("New WebSocket connection %s for game %s (user %s)", sess.ID, gameID, userID)

	go h.writePump(conn, sess)

	// Full snapshot to this session only.
	if snap, err := h.engine.Snapshot(r.Context(), gameID); err != nil {
		log.Errorf("failed to build initial snapshot for game %s: %v", gameID, err)
		h.hub.Send(sess, protocol.ErrorEvent{Message: "failed to load game state"})
	} else {
		h.hub.Send(sess, *snap)
	}

	go h.readPump(conn, sess)
}

// writePump drains the session's outbound queue onto the socket. A write
// failure or queue closure tears the connection down; the reader notices
// through the closed socket.
func (h *Handler) writePump(conn *websocket.Conn, sess *hub.Session) {
	defer conn.Close()
	for frame := range sess.Out() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Infof("write failed for session %s: %v", sess.ID, err)
			h.hub.Unregister(sess)
			return
		}
	}
}

func (h *Handler) readPump(conn *websocket.Conn, sess *hub.Session) {
	defer func() {
		log.Infof("Closing WebSocket connection: %s", sess.ID)
		h.hub.Unregister(sess)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("WebSocket unexpected close for session %s: %v", sess.ID, err)
			} else {
				log.Infof("WebSocket connection closed normally for session: %s", sess.ID)
			}
			return
		}

		// Undecodable frames never terminate the connection; the offending
		// session alone hears about them.
		action, err := protocol.DecodeAction(raw)
		if err != nil {
			log.Warnf("bad frame from session %s: %v", sess.ID, err)
			h.hub.Send(sess, protocol.ErrorEvent{Message: err.Error()})
			continue
		}

		h.dispatch(context.Background(), sess, action)
	}
}

// dispatch routes one decoded action into the engine. Accepted mutations
// broadcast from inside the engine; a rejection becomes an error event for
// the offending session only, with no state change.
func (h *Handler) dispatch(ctx context.Context, sess *hub.Session, action protocol.ClientAction) {
	var err error
	switch a := action.(type) {
	case protocol.UpdateLifeAction:
		_, err = h.engine.UpdateLife(ctx, sess.GameID, a.PlayerID, a.ChangeAmount)
	case protocol.LeaveGameAction:
		err = h.engine.LeaveGame(ctx, sess.GameID, a.PlayerID)
	case protocol.GetGameStateAction:
		err = h.engine.BroadcastSnapshot(ctx, sess.GameID)
	case protocol.EndGameAction:
		_, err = h.engine.EndGame(ctx, sess.GameID)
	case protocol.SetCommanderDamageAction:
		_, err = h.engine.SetCommanderDamage(ctx, sess.GameID, a.FromPlayerID, a.ToPlayerID, a.CommanderNumber, a.NewDamage)
	case protocol.UpdateCommanderDamageAction:
		_, err = h.engine.UpdateCommanderDamage(ctx, sess.GameID, a.FromPlayerID, a.ToPlayerID, a.CommanderNumber, a.DamageAmount)
	case protocol.TogglePartnerAction:
		err = h.engine.TogglePartner(ctx, sess.GameID, a.PlayerID, a.EnablePartner)
	default:
		err = protocol.ErrUnknownAction
	}
	if err != nil {
		log.Warnf("action %s rejected for session %s: %v", action.ActionType(), sess.ID, err)
		h.hub.Send(sess, protocol.ErrorEvent{Message: err.Error()})
	}
}
