package protocol

import "github.com/google/uuid"

// Server -> client events, discriminated by the "type" field of the frame.
const (
	EventLifeUpdate            = "lifeUpdate"
	EventPlayerJoined          = "playerJoined"
	EventPlayerLeft            = "playerLeft"
	EventGameStarted           = "gameStarted"
	EventGameEnded             = "gameEnded"
	EventCommanderDamageUpdate = "commanderDamageUpdate"
	EventPartnerToggled        = "partnerToggled"
	EventError                 = "error"
)

type ServerEvent interface {
	EventType() string
}

type LifeUpdateEvent struct {
	GameID       uuid.UUID `json:"gameId"`
	PlayerID     uuid.UUID `json:"playerId"`
	NewLife      int32     `json:"newLife"`
	ChangeAmount int32     `json:"changeAmount"`
}

type PlayerJoinedEvent struct {
	GameID uuid.UUID `json:"gameId"`
	Player *Player   `json:"player"`
}

type PlayerLeftEvent struct {
	GameID   uuid.UUID `json:"gameId"`
	PlayerID uuid.UUID `json:"playerId"`
}

// GameStartedEvent is the full state snapshot, delivered to a session on
// join and re-broadcast to the whole game on a getGameState request.
type GameStartedEvent struct {
	Game            *Game              `json:"game"`
	Players         []*Player          `json:"players"`
	RecentChanges   []*LifeChange      `json:"recentChanges"`
	CommanderDamage []*CommanderDamage `json:"commanderDamage"`
}

type GameEndedEvent struct {
	GameID uuid.UUID `json:"gameId"`
	Winner *Player   `json:"winner,omitempty"` // Absent on a tie at max life
}

type CommanderDamageUpdateEvent struct {
	GameID          uuid.UUID `json:"gameId"`
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int32     `json:"commanderNumber"`
	NewDamage       int32     `json:"newDamage"`
	DamageAmount    int32     `json:"damageAmount"` // Applied delta, 0 for an absolute set
}

type PartnerToggledEvent struct {
	GameID     uuid.UUID `json:"gameId"`
	PlayerID   uuid.UUID `json:"playerId"`
	HasPartner bool      `json:"hasPartner"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (LifeUpdateEvent) EventType() string            { return EventLifeUpdate }
func (PlayerJoinedEvent) EventType() string          { return EventPlayerJoined }
func (PlayerLeftEvent) EventType() string            { return EventPlayerLeft }
func (GameStartedEvent) EventType() string           { return EventGameStarted }
func (GameEndedEvent) EventType() string             { return EventGameEnded }
func (CommanderDamageUpdateEvent) EventType() string { return EventCommanderDamageUpdate }
func (PartnerToggledEvent) EventType() string        { return EventPartnerToggled }
func (ErrorEvent) EventType() string                 { return EventError }
