package protocol

import "github.com/google/uuid"

// Client -> server actions, discriminated by the "action" field of the frame.
const (
	ActionUpdateLife            = "updateLife"
	ActionLeaveGame             = "leaveGame"
	ActionGetGameState          = "getGameState"
	ActionEndGame               = "endGame"
	ActionSetCommanderDamage    = "setCommanderDamage"
	ActionUpdateCommanderDamage = "updateCommanderDamage"
	ActionTogglePartner         = "togglePartner"
)

// ClientAction is the closed set of requests a client may send over the
// socket. There is no join action: connecting to a game joins it.
type ClientAction interface {
	ActionType() string
}

type UpdateLifeAction struct {
	PlayerID     uuid.UUID `json:"playerId"`
	ChangeAmount int32     `json:"changeAmount"`
}

type LeaveGameAction struct {
	PlayerID uuid.UUID `json:"playerId"`
}

type GetGameStateAction struct{}

type EndGameAction struct{}

type SetCommanderDamageAction struct {
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int32     `json:"commanderNumber"`
	NewDamage       int32     `json:"newDamage"`
}

type UpdateCommanderDamageAction struct {
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`
	ToPlayerID      uuid.UUID `json:"toPlayerId"`
	CommanderNumber int32     `json:"commanderNumber"`
	DamageAmount    int32     `json:"damageAmount"`
}

type TogglePartnerAction struct {
	PlayerID      uuid.UUID `json:"playerId"`
	EnablePartner bool      `json:"enablePartner"`
}

func (UpdateLifeAction) ActionType() string            { return ActionUpdateLife }
func (LeaveGameAction) ActionType() string             { return ActionLeaveGame }
func (GetGameStateAction) ActionType() string          { return ActionGetGameState }
func (EndGameAction) ActionType() string               { return ActionEndGame }
func (SetCommanderDamageAction) ActionType() string    { return ActionSetCommanderDamage }
func (UpdateCommanderDamageAction) ActionType() string { return ActionUpdateCommanderDamage }
func (TogglePartnerAction) ActionType() string         { return ActionTogglePartner }
