package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Upper bound accepted for a commander damage total.
const MaxCommanderDamage int32 = 999

// CommanderDamage is the running damage total dealt by one player's
// commander to another player. Exactly one row exists per
// (gameId, fromPlayerId, toPlayerId, commanderNumber). CommanderNumber 2
// rows exist only while the victim's HasPartner flag is set.
type CommanderDamage struct {
	ID              uuid.UUID `json:"id"`              // Primary key
	GameID          uuid.UUID `json:"gameId"`          // FK to games(id)
	FromPlayerID    uuid.UUID `json:"fromPlayerId"`    // Attacking player
	ToPlayerID      uuid.UUID `json:"toPlayerId"`      // Victim player
	CommanderNumber int32     `json:"commanderNumber"` // 1 or 2
	Damage          int32     `json:"damage"`          // Non-negative running total
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
