package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Number of life changes returned in a game state snapshot.
const RecentLifeChangeWindow = 20

// LifeChange is one row of the append-only life audit trail. Rows are never
// mutated; they are only deleted as a cascade of player removal.
type LifeChange struct {
	ID           uuid.UUID `json:"id"`           // Primary key
	GameID       uuid.UUID `json:"gameId"`       // FK to games(id)
	PlayerID     uuid.UUID `json:"playerId"`     // FK to players(id)
	ChangeAmount int32     `json:"changeAmount"` // Signed delta applied
	NewLifeTotal int32     `json:"newLifeTotal"` // Life total after the change
	CreatedAt    time.Time `json:"createdAt"`
}
