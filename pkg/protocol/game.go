package protocol

import (
	"time"

	"github.com/google/uuid"
)

const (
	GameStatusActive   = "active"
	GameStatusFinished = "finished"

	DefaultStartingLife int32 = 20
	MaxPlayersPerGame         = 8
)

type Game struct {
	ID           uuid.UUID  `json:"id"`           // Primary key
	Name         string     `json:"name"`         // Display name, unique among non-finished games
	Status       string     `json:"status"`       // 'active', 'finished'
	StartingLife int32      `json:"startingLife"` // Life total each player starts with
	CreatedAt    time.Time  `json:"createdAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"` // Set once on transition to finished
}

func (g *Game) IsActive() bool {
	return g.Status == GameStatusActive
}
