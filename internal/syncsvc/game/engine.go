package game

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-games/conclave-services/internal/syncsvc/store"
	"github.com/conclave-games/conclave-services/pkg/protocol"
)

// Broadcaster fans an event out to every connected session of a game.
// The hub implements it directly; the NATS broker wraps it for
// multi-instance deployments.
type Broadcaster interface {
	Broadcast(gameID uuid.UUID, event protocol.ServerEvent)
}

// Engine owns the authoritative game state. Every mutating operation for a
// game runs under that game's lock, so concurrent calls on the same game
// apply in a definite total order while different games never contend.
// Each accepted mutation produces exactly one broadcast.
type Engine struct {
	store store.Store
	bcast Broadcaster

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewEngine(st store.Store, bcast Broadcaster) *Engine {
	return &Engine{
		store: st,
		bcast: bcast,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (e *Engine) gameLock(gameID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[gameID] = l
	}
	return l
}

// activeGame loads the game and rejects anything not in the active state.
func (e *Engine) activeGame(ctx context.Context, gameID uuid.UUID) (*protocol.Game, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive() {
		return nil, ErrGameNotActive
	}
	return g, nil
}

// playerInGame resolves a player id and verifies it belongs to the game.
func (e *Engine) playerInGame(ctx context.Context, gameID, playerID uuid.UUID) (*protocol.Player, error) {
	p, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.GameID != gameID {
		return nil, store.ErrPlayerNotFound
	}
	return p, nil
}

// CreateGame creates an active game and joins the creator as its first
// player. Nothing is broadcast: no session can be registered for a game
// that did not exist yet.
func (e *Engine) CreateGame(ctx context.Context, name string, startingLife int32, creatorUserID string) (*protocol.Game, *protocol.Player, error) {
	name = strings.TrimSpace(name)
	if startingLife == 0 {
		startingLife = protocol.DefaultStartingLife
	}

	taken, err := e.store.GameNameInUse(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if taken {
		return nil, nil, ErrNameTaken
	}

	g := &protocol.Game{
		ID:           uuid.New(),
		Name:         name,
		Status:       protocol.GameStatusActive,
		StartingLife: startingLife,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateGame(ctx, g); err != nil {
		return nil, nil, err
	}

	lock := e.gameLock(g.ID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.join(ctx, g, creatorUserID)
	if err != nil {
		return nil, nil, err
	}

	log.Infof("game %s (%s) created by %s", g.Name, g.ID, creatorUserID)
	return g, p, nil
}

// Join adds the identity as a new player and broadcasts playerJoined.
// Joining twice with the same identity is an error on this path; the
// socket connect path uses EnsurePlayer instead.
func (e *Engine) Join(ctx context.Context, gameID uuid.UUID, userID string) (*protocol.Player, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	g, err := e.activeGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.FindPlayerByUser(ctx, gameID, userID); err == nil {
		return nil, ErrAlreadyInGame
	}

	p, err := e.join(ctx, g, userID)
	if err != nil {
		return nil, err
	}
	e.bcast.Broadcast(gameID, protocol.PlayerJoinedEvent{GameID: gameID, Player: p})
	return p, nil
}

// EnsurePlayer is the idempotent connect-time join: an identity already in
// the game gets its existing player back with no side effects, otherwise a
// new player is created and playerJoined is broadcast.
func (e *Engine) EnsurePlayer(ctx context.Context, gameID uuid.UUID, userID string) (*protocol.Player, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	g, err := e.activeGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if p, err := e.store.FindPlayerByUser(ctx, gameID, userID); err == nil {
		return p, nil
	}

	p, err := e.join(ctx, g, userID)
	if err != nil {
		return nil, err
	}
	e.bcast.Broadcast(gameID, protocol.PlayerJoinedEvent{GameID: gameID, Player: p})
	return p, nil
}

// join inserts the player at the lowest free position and seeds the
// commander damage matrix. Caller holds the game lock.
func (e *Engine) join(ctx context.Context, g *protocol.Game, userID string) (*protocol.Player, error) {
	players, err := e.store.PlayersInGame(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if len(players) >= protocol.MaxPlayersPerGame {
		return nil, ErrGameFull
	}

	used := make(map[int32]bool, len(players))
	for _, p := range players {
		used[p.Position] = true
	}
	var position int32
	for pos := int32(1); pos <= protocol.MaxPlayersPerGame; pos++ {
		if !used[pos] {
			position = pos
			break
		}
	}
	if position == 0 {
		return nil, ErrGameFull
	}

	p := &protocol.Player{
		ID:          uuid.New(),
		GameID:      g.ID,
		UserID:      userID,
		CurrentLife: g.StartingLife,
		Position:    position,
	}
	if err := e.store.InsertPlayer(ctx, p); err != nil {
		return nil, err
	}

	// Seed commander 1 rows in both directions against every seated player,
	// and commander 2 rows toward anyone who already has a partner.
	now := time.Now().UTC()
	for _, other := range players {
		pairs := []*protocol.CommanderDamage{
			{FromPlayerID: p.ID, ToPlayerID: other.ID, CommanderNumber: 1},
			{FromPlayerID: other.ID, ToPlayerID: p.ID, CommanderNumber: 1},
		}
		if other.HasPartner {
			pairs = append(pairs, &protocol.CommanderDamage{
				FromPlayerID: p.ID, ToPlayerID: other.ID, CommanderNumber: 2,
			})
		}
		for _, cd := range pairs {
			cd.ID = uuid.New()
			cd.GameID = g.ID
			cd.CreatedAt = now
			cd.UpdatedAt = now
			if err := e.store.InsertCommanderDamage(ctx, cd); err != nil {
				return nil, err
			}
		}
	}

	log.Infof("player %s joined game %s at position %d", userID, g.ID, position)
	return p, nil
}

// PlayerByUser resolves the player an external identity holds in a game.
func (e *Engine) PlayerByUser(ctx context.Context, gameID uuid.UUID, userID string) (*protocol.Player, error) {
	return e.store.FindPlayerByUser(ctx, gameID, userID)
}

// UpdateLife applies a signed delta to a player's life total and appends a
// LifeChange audit row. Totals are not clamped; negative values only affect
// the derived elimination flag.
func (e *Engine) UpdateLife(ctx context.Context, gameID, playerID uuid.UUID, delta int32) (*protocol.Player, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.activeGame(ctx, gameID); err != nil {
		return nil, err
	}
	if _, err := e.playerInGame(ctx, gameID, playerID); err != nil {
		return nil, err
	}

	p, err := e.store.AddLife(ctx, playerID, delta)
	if err != nil {
		return nil, err
	}
	change := &protocol.LifeChange{
		ID:           uuid.New(),
		GameID:       gameID,
		PlayerID:     playerID,
		ChangeAmount: delta,
		NewLifeTotal: p.CurrentLife,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.InsertLifeChange(ctx, change); err != nil {
		return nil, err
	}

	e.bcast.Broadcast(gameID, protocol.LifeUpdateEvent{
		GameID:       gameID,
		PlayerID:     playerID,
		NewLife:      p.CurrentLife,
		ChangeAmount: delta,
	})
	return p, nil
}

// SetCommanderDamage overwrites the running total for one attacker/victim/
// commander pairing. The broadcast carries a zero delta.
func (e *Engine) SetCommanderDamage(ctx context.Context, gameID, fromID, toID uuid.UUID, commanderNumber, newDamage int32) (*protocol.CommanderDamage, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	cd, err := e.applyCommanderDamage(ctx, gameID, fromID, toID, commanderNumber, newDamage)
	if err != nil {
		return nil, err
	}
	e.bcast.Broadcast(gameID, protocol.CommanderDamageUpdateEvent{
		GameID:          gameID,
		FromPlayerID:    fromID,
		ToPlayerID:      toID,
		CommanderNumber: commanderNumber,
		NewDamage:       cd.Damage,
		DamageAmount:    0,
	})
	return cd, nil
}

// UpdateCommanderDamage increments the running total by a signed delta.
func (e *Engine) UpdateCommanderDamage(ctx context.Context, gameID, fromID, toID uuid.UUID, commanderNumber, delta int32) (*protocol.CommanderDamage, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	var current int32
	if existing, err := e.store.GetCommanderDamage(ctx, gameID, fromID, toID, commanderNumber); err != nil {
		return nil, err
	} else if existing != nil {
		current = existing.Damage
	}

	cd, err := e.applyCommanderDamage(ctx, gameID, fromID, toID, commanderNumber, current+delta)
	if err != nil {
		return nil, err
	}
	e.bcast.Broadcast(gameID, protocol.CommanderDamageUpdateEvent{
		GameID:          gameID,
		FromPlayerID:    fromID,
		ToPlayerID:      toID,
		CommanderNumber: commanderNumber,
		NewDamage:       cd.Damage,
		DamageAmount:    delta,
	})
	return cd, nil
}

// applyCommanderDamage validates and upserts an absolute damage total.
// Caller holds the game lock.
func (e *Engine) applyCommanderDamage(ctx context.Context, gameID, fromID, toID uuid.UUID, commanderNumber, newDamage int32) (*protocol.CommanderDamage, error) {
	if _, err := e.activeGame(ctx, gameID); err != nil {
		return nil, err
	}
	if commanderNumber != 1 && commanderNumber != 2 {
		return nil, ErrInvalidCommander
	}
	if newDamage < 0 || newDamage > protocol.MaxCommanderDamage {
		return nil, ErrDamageOutOfRange
	}
	if fromID == toID {
		return nil, ErrSelfDamage
	}
	if _, err := e.playerInGame(ctx, gameID, fromID); err != nil {
		return nil, err
	}
	victim, err := e.playerInGame(ctx, gameID, toID)
	if err != nil {
		return nil, err
	}
	if commanderNumber == 2 && !victim.HasPartner {
		return nil, ErrNoPartner
	}

	now := time.Now().UTC()
	return e.store.UpsertCommanderDamage(ctx, &protocol.CommanderDamage{
		ID:              uuid.New(),
		GameID:          gameID,
		FromPlayerID:    fromID,
		ToPlayerID:      toID,
		CommanderNumber: commanderNumber,
		Damage:          newDamage,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// TogglePartner flips the partner flag. Enabling materializes zeroed
// commander 2 rows from every opponent toward this player; disabling
// removes them.
func (e *Engine) TogglePartner(ctx context.Context, gameID, playerID uuid.UUID, enable bool) error {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.activeGame(ctx, gameID); err != nil {
		return err
	}
	if _, err := e.playerInGame(ctx, gameID, playerID); err != nil {
		return err
	}
	if err := e.store.SetPartner(ctx, playerID, enable); err != nil {
		return err
	}

	if enable {
		players, err := e.store.PlayersInGame(ctx, gameID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, other := range players {
			if other.ID == playerID {
				continue
			}
			cd := &protocol.CommanderDamage{
				ID:              uuid.New(),
				GameID:          gameID,
				FromPlayerID:    other.ID,
				ToPlayerID:      playerID,
				CommanderNumber: 2,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := e.store.InsertCommanderDamage(ctx, cd); err != nil {
				return err
			}
		}
	} else {
		if err := e.store.DeletePartnerDamage(ctx, gameID, playerID); err != nil {
			return err
		}
	}

	e.bcast.Broadcast(gameID, protocol.PartnerToggledEvent{
		GameID:     gameID,
		PlayerID:   playerID,
		HasPartner: enable,
	})
	return nil
}

// LeaveGame removes the player and cascades deletion of their audit trail
// and commander damage rows. Freed positions are reused by later joins.
func (e *Engine) LeaveGame(ctx context.Context, gameID, playerID uuid.UUID) error {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.activeGame(ctx, gameID); err != nil {
		return err
	}
	p, err := e.playerInGame(ctx, gameID, playerID)
	if err != nil {
		return err
	}
	if err := e.store.DeletePlayer(ctx, playerID); err != nil {
		return err
	}

	log.Infof("player %s left game %s", p.UserID, gameID)
	e.bcast.Broadcast(gameID, protocol.PlayerLeftEvent{GameID: gameID, PlayerID: playerID})
	return nil
}

// EndGame finishes the game. The winner is the unique player at the highest
// life total; a tie at the maximum yields no winner. Finished is terminal:
// every later mutation is rejected with ErrGameNotActive.
func (e *Engine) EndGame(ctx context.Context, gameID uuid.UUID) (*protocol.Player, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.activeGame(ctx, gameID); err != nil {
		return nil, err
	}
	players, err := e.store.PlayersInGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	var winner *protocol.Player
	tied := false
	for _, p := range players {
		switch {
		case winner == nil || p.CurrentLife > winner.CurrentLife:
			winner = p
			tied = false
		case p.CurrentLife == winner.CurrentLife:
			tied = true
		}
	}
	if tied {
		winner = nil
	}

	if err := e.store.FinishGame(ctx, gameID, time.Now().UTC()); err != nil {
		return nil, err
	}

	log.Infof("game %s ended", gameID)
	e.bcast.Broadcast(gameID, protocol.GameEndedEvent{GameID: gameID, Winner: winner})
	return winner, nil
}

// Snapshot assembles the full game state: game, players with the derived
// elimination flag, the recent life change window and the commander damage
// matrix. Snapshots work on finished games too.
func (e *Engine) Snapshot(ctx context.Context, gameID uuid.UUID) (*protocol.GameStartedEvent, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := e.store.PlayersInGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	changes, err := e.store.RecentLifeChanges(ctx, gameID, protocol.RecentLifeChangeWindow)
	if err != nil {
		return nil, err
	}
	damage, err := e.store.CommanderDamageForGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		p.IsEliminated = protocol.Eliminated(p, damage)
	}
	return &protocol.GameStartedEvent{
		Game:            g,
		Players:         players,
		RecentChanges:   changes,
		CommanderDamage: damage,
	}, nil
}

// BroadcastSnapshot serves a getGameState request: the snapshot goes to
// every session of the game, not only the requester.
func (e *Engine) BroadcastSnapshot(ctx context.Context, gameID uuid.UUID) error {
	snap, err := e.Snapshot(ctx, gameID)
	if err != nil {
		return err
	}
	e.bcast.Broadcast(gameID, *snap)
	return nil
}
