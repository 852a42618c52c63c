package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-games/conclave-services/internal/syncsvc/auth"
	"github.com/conclave-games/conclave-services/internal/syncsvc/game"
	"github.com/conclave-games/conclave-services/internal/syncsvc/hub"
	"github.com/conclave-games/conclave-services/internal/syncsvc/store"
)

// Handler serves both entry points into the engine: the REST surface and
// the websocket. Both route through the same Engine instance, so a REST
// write reaches connected sessions exactly like a socket-initiated one.
type Handler struct {
	upgrader websocket.Upgrader
	engine   *game.Engine
	hub      *hub.Hub
	verifier *auth.Verifier
}

func NewHandler(engine *game.Engine, h *hub.Hub, verifier *auth.Verifier) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		engine:   engine,
		hub:      h,
		verifier: verifier,
	}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.CreateResponse(w, Response{Code: statusFor(err), Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrGameNotFound), errors.Is(err, store.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, game.ErrGameNotActive),
		errors.Is(err, game.ErrGameFull),
		errors.Is(err, game.ErrAlreadyInGame),
		errors.Is(err, game.ErrNameTaken),
		errors.Is(err, game.ErrSelfDamage),
		errors.Is(err, game.ErrInvalidCommander),
		errors.Is(err, game.ErrNoPartner),
		errors.Is(err, game.ErrDamageOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func gameIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "gameId"))
}

type createGameRequest struct {
	Name         string `json:"name"`
	StartingLife int32  `json:"startingLife"`
}

func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid create game payload"})
		return
	}

	g, p, err := h.engine.CreateGame(r.Context(), req.Name, req.StartingLife, userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{
		Message: "game created",
		Code:    http.StatusCreated,
		Data:    map[string]interface{}{"game": g, "player": p},
	})
}

func (h *Handler) JoinGame(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}

	p, err := h.engine.Join(r.Context(), gameID, userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "joined", Code: http.StatusCreated, Data: p})
}

func (h *Handler) LeaveGame(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserFromContext(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}

	p, err := h.engine.PlayerByUser(r.Context(), gameID, userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.engine.LeaveGame(r.Context(), gameID, p.ID); err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "left", Code: http.StatusOK})
}

type updateLifeRequest struct {
	PlayerID     uuid.UUID `json:"playerId"`
	ChangeAmount int32     `json:"changeAmount"`
}

func (h *Handler) UpdateLife(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}
	var req updateLifeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid update life payload"})
		return
	}

	p, err := h.engine.UpdateLife(r.Context(), gameID, req.PlayerID, req.ChangeAmount)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "life updated", Code: http.StatusOK, Data: p})
}

func (h *Handler) EndGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}

	winner, err := h.engine.EndGame(r.Context(), gameID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{
		Message: "game ended",
		Code:    http.StatusOK,
		Data:    map[string]interface{}{"winner": winner},
	})
}

func (h *Handler) GetGameState(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}

	snap, err := h.engine.Snapshot(r.Context(), gameID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "game state", Code: http.StatusOK, Data: snap})
}

func (h *Handler) GetLifeChanges(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}

	snap, err := h.engine.Snapshot(r.Context(), gameID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "recent life changes", Code: http.StatusOK, Data: snap.RecentChanges})
}

type commanderDamageRequest struct {
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int32     `json:"commanderNumber"`
	NewDamage       int32     `json:"newDamage"`
}

func (h *Handler) UpdateCommanderDamage(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}
	var req commanderDamageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid commander damage payload"})
		return
	}

	cd, err := h.engine.SetCommanderDamage(r.Context(), gameID,
		req.FromPlayerID, req.ToPlayerID, req.CommanderNumber, req.NewDamage)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "commander damage updated", Code: http.StatusOK, Data: cd})
}

type togglePartnerRequest struct {
	EnablePartner bool `json:"enablePartner"`
}

func (h *Handler) TogglePartner(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid game id"})
		return
	}
	playerID, err := uuid.Parse(chi.URLParam(r, "playerId"))
	if err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid player id"})
		return
	}
	var req togglePartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid partner payload"})
		return
	}

	if err := h.engine.TogglePartner(r.Context(), gameID, playerID, req.EnablePartner); err != nil {
		h.fail(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "partner toggled", Code: http.StatusOK})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rsp := Response{
		Message: "sync service is running at port " + os.Getenv("SYNC_SERVICE_PORT"),
		Code:    200,
		Data:    nil,
	}
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode health response: %v", err)
	}
}
