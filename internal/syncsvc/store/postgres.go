package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conclave-games/conclave-services/pkg/protocol"
)

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateGame(ctx context.Context, game *protocol.Game) error {
	query := `
		INSERT INTO games (id, name, status, starting_life, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.Exec(ctx, query, game.ID, game.Name, game.Status, game.StartingLife, game.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

func (s *Postgres) GetGame(ctx context.Context, gameID uuid.UUID) (*protocol.Game, error) {
	query := `
		SELECT id, name, status, starting_life, created_at, finished_at
		FROM games
		WHERE id = $1
	`
	game := &protocol.Game{}
	err := s.db.QueryRow(ctx, query, gameID).Scan(
		&game.ID,
		&game.Name,
		&game.Status,
		&game.StartingLife,
		&game.CreatedAt,
		&game.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return game, nil
}

func (s *Postgres) FinishGame(ctx context.Context, gameID uuid.UUID, finishedAt time.Time) error {
	query := `UPDATE games SET status = 'finished', finished_at = $1 WHERE id = $2`
	tag, err := s.db.Exec(ctx, query, finishedAt, gameID)
	if err != nil {
		return fmt.Errorf("failed to finish game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (s *Postgres) GameNameInUse(ctx context.Context, name string) (bool, error) {
	query := `SELECT COUNT(*) FROM games WHERE name = $1 AND status != 'finished'`
	var count int64
	if err := s.db.QueryRow(ctx, query, name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check game name: %w", err)
	}
	return count > 0, nil
}

func (s *Postgres) InsertPlayer(ctx context.Context, player *protocol.Player) error {
	query := `
		INSERT INTO players (id, game_id, user_id, current_life, position, has_partner)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query,
		player.ID, player.GameID, player.UserID, player.CurrentLife, player.Position, player.HasPartner)
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}

func (s *Postgres) GetPlayer(ctx context.Context, playerID uuid.UUID) (*protocol.Player, error) {
	query := `
		SELECT id, game_id, user_id, current_life, position, has_partner
		FROM players
		WHERE id = $1
	`
	return s.scanPlayer(s.db.QueryRow(ctx, query, playerID))
}

func (s *Postgres) FindPlayerByUser(ctx context.Context, gameID uuid.UUID, userID string) (*protocol.Player, error) {
	query := `
		SELECT id, game_id, user_id, current_life, position, has_partner
		FROM players
		WHERE game_id = $1 AND user_id = $2
	`
	return s.scanPlayer(s.db.QueryRow(ctx, query, gameID, userID))
}

func (s *Postgres) scanPlayer(row pgx.Row) (*protocol.Player, error) {
	player := &protocol.Player{}
	err := row.Scan(
		&player.ID,
		&player.GameID,
		&player.UserID,
		&player.CurrentLife,
		&player.Position,
		&player.HasPartner,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return player, nil
}

func (s *Postgres) PlayersInGame(ctx context.Context, gameID uuid.UUID) ([]*protocol.Player, error) {
	query := `
		SELECT id, game_id, user_id, current_life, position, has_partner
		FROM players
		WHERE game_id = $1
		ORDER BY position
	`
	rows, err := s.db.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []*protocol.Player
	for rows.Next() {
		player := &protocol.Player{}
		if err := rows.Scan(
			&player.ID,
			&player.GameID,
			&player.UserID,
			&player.CurrentLife,
			&player.Position,
			&player.HasPartner,
		); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, player)
	}
	return players, rows.Err()
}

func (s *Postgres) SetPartner(ctx context.Context, playerID uuid.UUID, enabled bool) error {
	query := `UPDATE players SET has_partner = $1 WHERE id = $2`
	tag, err := s.db.Exec(ctx, query, enabled, playerID)
	if err != nil {
		return fmt.Errorf("failed to set partner flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

func (s *Postgres) DeletePlayer(ctx context.Context, playerID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete player tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM commander_damage WHERE from_player_id = $1 OR to_player_id = $1`, playerID); err != nil {
		return fmt.Errorf("failed to delete commander damage: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM life_changes WHERE player_id = $1`, playerID); err != nil {
		return fmt.Errorf("failed to delete life changes: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM players WHERE id = $1`, playerID)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return tx.Commit(ctx)
}

func (s *Postgres) AddLife(ctx context.Context, playerID uuid.UUID, delta int32) (*protocol.Player, error) {
	query := `
		UPDATE players
		SET current_life = current_life + $1
		WHERE id = $2
		RETURNING id, game_id, user_id, current_life, position, has_partner
	`
	return s.scanPlayer(s.db.QueryRow(ctx, query, delta, playerID))
}

func (s *Postgres) InsertLifeChange(ctx context.Context, change *protocol.LifeChange) error {
	query := `
		INSERT INTO life_changes (id, game_id, player_id, change_amount, new_life_total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query,
		change.ID, change.GameID, change.PlayerID, change.ChangeAmount, change.NewLifeTotal, change.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert life change: %w", err)
	}
	return nil
}

func (s *Postgres) RecentLifeChanges(ctx context.Context, gameID uuid.UUID, limit int) ([]*protocol.LifeChange, error) {
	query := `
		SELECT id, game_id, player_id, change_amount, new_life_total, created_at
		FROM life_changes
		WHERE game_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list life changes: %w", err)
	}
	defer rows.Close()

	var changes []*protocol.LifeChange
	for rows.Next() {
		change := &protocol.LifeChange{}
		if err := rows.Scan(
			&change.ID,
			&change.GameID,
			&change.PlayerID,
			&change.ChangeAmount,
			&change.NewLifeTotal,
			&change.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan life change: %w", err)
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

func (s *Postgres) GetCommanderDamage(ctx context.Context, gameID, fromPlayerID, toPlayerID uuid.UUID, commanderNumber int32) (*protocol.CommanderDamage, error) {
	query := `
		SELECT id, game_id, from_player_id, to_player_id, commander_number, damage, created_at, updated_at
		FROM commander_damage
		WHERE game_id = $1 AND from_player_id = $2 AND to_player_id = $3 AND commander_number = $4
	`
	cd := &protocol.CommanderDamage{}
	err := s.db.QueryRow(ctx, query, gameID, fromPlayerID, toPlayerID, commanderNumber).Scan(
		&cd.ID,
		&cd.GameID,
		&cd.FromPlayerID,
		&cd.ToPlayerID,
		&cd.CommanderNumber,
		&cd.Damage,
		&cd.CreatedAt,
		&cd.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // no row yet for this pairing
		}
		return nil, fmt.Errorf("failed to get commander damage: %w", err)
	}
	return cd, nil
}

func (s *Postgres) UpsertCommanderDamage(ctx context.Context, row *protocol.CommanderDamage) (*protocol.CommanderDamage, error) {
	query := `
		INSERT INTO commander_damage (id, game_id, from_player_id, to_player_id, commander_number, damage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_id, from_player_id, to_player_id, commander_number)
		DO UPDATE SET damage = EXCLUDED.damage, updated_at = EXCLUDED.updated_at
		RETURNING id, game_id, from_player_id, to_player_id, commander_number, damage, created_at, updated_at
	`
	cd := &protocol.CommanderDamage{}
	err := s.db.QueryRow(ctx, query,
		row.ID, row.GameID, row.FromPlayerID, row.ToPlayerID,
		row.CommanderNumber, row.Damage, row.CreatedAt, row.UpdatedAt,
	).Scan(
		&cd.ID,
		&cd.GameID,
		&cd.FromPlayerID,
		&cd.ToPlayerID,
		&cd.CommanderNumber,
		&cd.Damage,
		&cd.CreatedAt,
		&cd.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert commander damage: %w", err)
	}
	return cd, nil
}

func (s *Postgres) InsertCommanderDamage(ctx context.Context, row *protocol.CommanderDamage) error {
	query := `
		INSERT INTO commander_damage (id, game_id, from_player_id, to_player_id, commander_number, damage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_id, from_player_id, to_player_id, commander_number) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query,
		row.ID, row.GameID, row.FromPlayerID, row.ToPlayerID,
		row.CommanderNumber, row.Damage, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert commander damage: %w", err)
	}
	return nil
}

func (s *Postgres) CommanderDamageForGame(ctx context.Context, gameID uuid.UUID) ([]*protocol.CommanderDamage, error) {
	query := `
		SELECT id, game_id, from_player_id, to_player_id, commander_number, damage, created_at, updated_at
		FROM commander_damage
		WHERE game_id = $1
		ORDER BY from_player_id, to_player_id, commander_number
	`
	rows, err := s.db.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commander damage: %w", err)
	}
	defer rows.Close()

	var damages []*protocol.CommanderDamage
	for rows.Next() {
		cd := &protocol.CommanderDamage{}
		if err := rows.Scan(
			&cd.ID,
			&cd.GameID,
			&cd.FromPlayerID,
			&cd.ToPlayerID,
			&cd.CommanderNumber,
			&cd.Damage,
			&cd.CreatedAt,
			&cd.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commander damage: %w", err)
		}
		damages = append(damages, cd)
	}
	return damages, rows.Err()
}

func (s *Postgres) DeletePartnerDamage(ctx context.Context, gameID, toPlayerID uuid.UUID) error {
	query := `DELETE FROM commander_damage WHERE game_id = $1 AND to_player_id = $2 AND commander_number = 2`
	_, err := s.db.Exec(ctx, query, gameID, toPlayerID)
	if err != nil {
		return fmt.Errorf("failed to delete partner damage: %w", err)
	}
	return nil
}
