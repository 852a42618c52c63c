package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-games/conclave-services/pkg/protocol"
)

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrPlayerNotFound = errors.New("player not found")
)

// Store is the durable collaborator behind the game engine. The engine
// serializes all writes for one game before they reach the store, so
// implementations only need row-level consistency, not game-level locking.
type Store interface {
	CreateGame(ctx context.Context, game *protocol.Game) error
	GetGame(ctx context.Context, gameID uuid.UUID) (*protocol.Game, error)
	FinishGame(ctx context.Context, gameID uuid.UUID, finishedAt time.Time) error
	GameNameInUse(ctx context.Context, name string) (bool, error)

	InsertPlayer(ctx context.Context, player *protocol.Player) error
	GetPlayer(ctx context.Context, playerID uuid.UUID) (*protocol.Player, error)
	FindPlayerByUser(ctx context.Context, gameID uuid.UUID, userID string) (*protocol.Player, error)
	PlayersInGame(ctx context.Context, gameID uuid.UUID) ([]*protocol.Player, error)
	SetPartner(ctx context.Context, playerID uuid.UUID, enabled bool) error

	// DeletePlayer removes the player and cascades deletion of their life
	// changes and commander damage rows, both as attacker and as victim.
	DeletePlayer(ctx context.Context, playerID uuid.UUID) error

	// AddLife applies a signed delta atomically and returns the updated row.
	AddLife(ctx context.Context, playerID uuid.UUID, delta int32) (*protocol.Player, error)
	InsertLifeChange(ctx context.Context, change *protocol.LifeChange) error
	RecentLifeChanges(ctx context.Context, gameID uuid.UUID, limit int) ([]*protocol.LifeChange, error)

	GetCommanderDamage(ctx context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber int32) (*protocol.CommanderDamage, error)
	UpsertCommanderDamage(ctx context.Context, row *protocol.CommanderDamage) (*protocol.CommanderDamage, error)
	InsertCommanderDamage(ctx context.Context, row *protocol.CommanderDamage) error
	CommanderDamageForGame(ctx context.Context, gameID uuid.UUID) ([]*protocol.CommanderDamage, error)

	// DeletePartnerDamage removes every commanderNumber=2 row whose victim
	// is the given player.
	DeletePartnerDamage(ctx context.Context, gameID, toPlayerID uuid.UUID) error
}
