package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"github.com/conclave-games/conclave-services/internal/syncsvc/auth"
	"github.com/conclave-games/conclave-services/internal/syncsvc/game"
	"github.com/conclave-games/conclave-services/internal/syncsvc/hub"
	"github.com/conclave-games/conclave-services/internal/syncsvc/store"
	"github.com/conclave-games/conclave-services/pkg/protocol"
)

func newSocketServer(t *testing.T) (*httptest.Server, *game.Engine, *auth.Verifier) {
	t.Helper()
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	h := hub.NewHub()
	engine := game.NewEngine(store.NewMemory(), h)
	verifier := auth.NewVerifier()
	handler := NewHandler(engine, h, verifier)

	r := chi.NewRouter()
	handler.SetRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, engine, verifier
}

func dialGame(t *testing.T, srv *httptest.Server, gameID, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?gameId=" + gameID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.ServerEvent {
	t.Helper()
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	event, err := protocol.DecodeEvent(frame)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	return event
}

func sendAction(t *testing.T, conn *websocket.Conn, action protocol.ClientAction) {
	t.Helper()
	frame, err := protocol.EncodeAction(action)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func TestSocketConnectJoinsAndSnapshots(t *testing.T) {
	srv, engine, verifier := newSocketServer(t)
	g, creator, err := engine.CreateGame(context.Background(), "socket pod", 20, "user-0")
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	token := mintToken(t, verifier, "user-1")

	conn := dialGame(t, srv, g.ID.String(), token)

	// Connecting joined user-1; the first frame is the full snapshot with
	// both players seated.
	snap, ok := readEvent(t, conn).(protocol.GameStartedEvent)
	if !ok {
		t.Fatal("first frame is not the gameStarted snapshot")
	}
	if len(snap.Players) != 2 || snap.Game.ID != g.ID {
		t.Fatalf("snapshot = %d players in game %s", len(snap.Players), snap.Game.ID)
	}

	// A socket action mutates and the broadcast comes back on this session.
	sendAction(t, conn, protocol.UpdateLifeAction{PlayerID: creator.ID, ChangeAmount: -2})
	life, ok := readEvent(t, conn).(protocol.LifeUpdateEvent)
	if !ok || life.PlayerID != creator.ID || life.NewLife != 18 {
		t.Fatalf("got %#v, want lifeUpdate to 18", life)
	}
}

func TestSocketRejectionsStayOnSession(t *testing.T) {
	srv, engine, verifier := newSocketServer(t)
	g, creator, err := engine.CreateGame(context.Background(), "error pod", 20, "user-0")
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	offender := dialGame(t, srv, g.ID.String(), mintToken(t, verifier, "user-1"))
	readEvent(t, offender) // snapshot

	bystander := dialGame(t, srv, g.ID.String(), mintToken(t, verifier, "user-2"))
	readEvent(t, bystander)                             // snapshot
	if _, ok := readEvent(t, offender).(protocol.PlayerJoinedEvent); !ok { // user-2 joining
		t.Fatal("offender missed the playerJoined broadcast")
	}

	// Undecodable frame: the offender hears an error, the socket survives.
	if err := offender.WriteMessage(websocket.TextMessage, []byte(`{"action":"castFireball"}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, ok := readEvent(t, offender).(protocol.ErrorEvent); !ok {
		t.Fatal("offender did not receive an error event")
	}

	// Rejected mutation: error to the offender only, then a valid mutation
	// still flows to everyone.
	sendAction(t, offender, protocol.SetCommanderDamageAction{
		FromPlayerID: creator.ID, ToPlayerID: creator.ID, CommanderNumber: 1, NewDamage: 5,
	})
	if _, ok := readEvent(t, offender).(protocol.ErrorEvent); !ok {
		t.Fatal("self-damage did not produce an error event")
	}

	sendAction(t, offender, protocol.UpdateLifeAction{PlayerID: creator.ID, ChangeAmount: 1})
	if life, ok := readEvent(t, bystander).(protocol.LifeUpdateEvent); !ok || life.NewLife != 21 {
		t.Fatalf("bystander got %#v, want lifeUpdate to 21", life)
	}
}

func TestSocketRejectsBadCredential(t *testing.T) {
	srv, engine, _ := newSocketServer(t)
	g, _, err := engine.CreateGame(context.Background(), "locked pod", 20, "user-0")
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?gameId=" + g.ID.String() + "&token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial with a garbage token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
}
