package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-games/conclave-services/pkg/protocol"
)

// Memory is a map-backed Store used by tests and by dev mode when no
// DATABASE_URL is configured. All methods copy rows in and out so callers
// never alias internal state.
type Memory struct {
	mu      sync.RWMutex
	games   map[uuid.UUID]*protocol.Game
	players map[uuid.UUID]*protocol.Player
	changes map[uuid.UUID][]*protocol.LifeChange     // keyed by game id, append order
	damage  map[uuid.UUID]*protocol.CommanderDamage // keyed by row id
}

func NewMemory() *Memory {
	return &Memory{
		games:   make(map[uuid.UUID]*protocol.Game),
		players: make(map[uuid.UUID]*protocol.Player),
		changes: make(map[uuid.UUID][]*protocol.LifeChange),
		damage:  make(map[uuid.UUID]*protocol.CommanderDamage),
	}
}

func (m *Memory) CreateGame(ctx context.Context, game *protocol.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := *game
	m.games[g.ID] = &g
	return nil
}

func (m *Memory) GetGame(ctx context.Context, gameID uuid.UUID) (*protocol.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	out := *g
	return &out, nil
}

func (m *Memory) FinishGame(ctx context.Context, gameID uuid.UUID, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	g.Status = protocol.GameStatusFinished
	at := finishedAt
	g.FinishedAt = &at
	return nil
}

func (m *Memory) GameNameInUse(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.games {
		if g.Name == name && g.Status != protocol.GameStatusFinished {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) InsertPlayer(ctx context.Context, player *protocol.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *player
	m.players[p.ID] = &p
	return nil
}

func (m *Memory) GetPlayer(ctx context.Context, playerID uuid.UUID) (*protocol.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	out := *p
	return &out, nil
}

func (m *Memory) FindPlayerByUser(ctx context.Context, gameID uuid.UUID, userID string) (*protocol.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		if p.GameID == gameID && p.UserID == userID {
			out := *p
			return &out, nil
		}
	}
	return nil, ErrPlayerNotFound
}

func (m *Memory) PlayersInGame(ctx context.Context, gameID uuid.UUID) ([]*protocol.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var players []*protocol.Player
	for _, p := range m.players {
		if p.GameID == gameID {
			out := *p
			players = append(players, &out)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Position < players[j].Position })
	return players, nil
}

func (m *Memory) SetPartner(ctx context.Context, playerID uuid.UUID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return ErrPlayerNotFound
	}
	p.HasPartner = enabled
	return nil
}

func (m *Memory) DeletePlayer(ctx context.Context, playerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return ErrPlayerNotFound
	}
	delete(m.players, playerID)

	kept := m.changes[p.GameID][:0]
	for _, c := range m.changes[p.GameID] {
		if c.PlayerID != playerID {
			kept = append(kept, c)
		}
	}
	m.changes[p.GameID] = kept

	for id, cd := range m.damage {
		if cd.FromPlayerID == playerID || cd.ToPlayerID == playerID {
			delete(m.damage, id)
		}
	}
	return nil
}

func (m *Memory) AddLife(ctx context.Context, playerID uuid.UUID, delta int32) (*protocol.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	p.CurrentLife += delta
	out := *p
	return &out, nil
}

func (m *Memory) InsertLifeChange(ctx context.Context, change *protocol.LifeChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *change
	m.changes[c.GameID] = append(m.changes[c.GameID], &c)
	return nil
}

func (m *Memory) RecentLifeChanges(ctx context.Context, gameID uuid.UUID, limit int) ([]*protocol.LifeChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.changes[gameID]
	var out []*protocol.LifeChange
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		c := *all[i]
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) GetCommanderDamage(ctx context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber int32) (*protocol.CommanderDamage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cd := range m.damage {
		if cd.GameID == gameID && cd.FromPlayerID == fromPlayerID &&
			cd.ToPlayerID == toPlayerID && cd.CommanderNumber == commanderNumber {
			out := *cd
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpsertCommanderDamage(ctx context.Context, row *protocol.CommanderDamage) (*protocol.CommanderDamage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cd := range m.damage {
		if cd.GameID == row.GameID && cd.FromPlayerID == row.FromPlayerID &&
			cd.ToPlayerID == row.ToPlayerID && cd.CommanderNumber == row.CommanderNumber {
			cd.Damage = row.Damage
			cd.UpdatedAt = row.UpdatedAt
			out := *cd
			return &out, nil
		}
	}
	cd := *row
	m.damage[cd.ID] = &cd
	out := cd
	return &out, nil
}

func (m *Memory) InsertCommanderDamage(ctx context.Context, row *protocol.CommanderDamage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cd := range m.damage {
		if cd.GameID == row.GameID && cd.FromPlayerID == row.FromPlayerID &&
			cd.ToPlayerID == row.ToPlayerID && cd.CommanderNumber == row.CommanderNumber {
			return nil // uniqueness invariant, keep the existing row
		}
	}
	cd := *row
	m.damage[cd.ID] = &cd
	return nil
}

func (m *Memory) CommanderDamageForGame(ctx context.Context, gameID uuid.UUID) ([]*protocol.CommanderDamage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []*protocol.CommanderDamage
	for _, cd := range m.damage {
		if cd.GameID == gameID {
			out := *cd
			rows = append(rows, &out)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.FromPlayerID != b.FromPlayerID {
			return a.FromPlayerID.String() < b.FromPlayerID.String()
		}
		if a.ToPlayerID != b.ToPlayerID {
			return a.ToPlayerID.String() < b.ToPlayerID.String()
		}
		return a.CommanderNumber < b.CommanderNumber
	})
	return rows, nil
}

func (m *Memory) DeletePartnerDamage(ctx context.Context, gameID, toPlayerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cd := range m.damage {
		if cd.GameID == gameID && cd.ToPlayerID == toPlayerID && cd.CommanderNumber == 2 {
			delete(m.damage, id)
		}
	}
	return nil
}
