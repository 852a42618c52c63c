package protocol

import "github.com/google/uuid"

// Commander damage at or above this total eliminates a player regardless
// of their life total.
const CommanderDamageLethal int32 = 21

type Player struct {
	ID           uuid.UUID `json:"id"`           // Primary key
	GameID       uuid.UUID `json:"gameId"`       // FK to games(id)
	UserID       string    `json:"userId"`       // External identity reference, issued by the auth provider
	CurrentLife  int32     `json:"currentLife"`  // Signed, unbounded, may go negative
	Position     int32     `json:"position"`     // Seat 1..8, unique within a game
	IsEliminated bool      `json:"isEliminated"` // Derived, see Eliminated()
	HasPartner   bool      `json:"hasPartner"`   // Enables the second commander slot
}

// Eliminated derives the elimination flag from the player's life total and
// the commander damage rows where this player is the victim. It is never
// stored as an independent fact, so a life recovery un-flags the player
// unless commander damage alone keeps the threshold exceeded.
func Eliminated(p *Player, incoming []*CommanderDamage) bool {
	if p.CurrentLife <= 0 {
		return true
	}
	for _, cd := range incoming {
		if cd.ToPlayerID == p.ID && cd.Damage >= CommanderDamageLethal {
			return true
		}
	}
	return false
}
