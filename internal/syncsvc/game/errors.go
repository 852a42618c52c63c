package game

import "errors"

var (
	ErrGameNotActive    = errors.New("game is not active")
	ErrGameFull         = errors.New("game is full")
	ErrAlreadyInGame    = errors.New("user already in game")
	ErrNameTaken        = errors.New("game name already exists")
	ErrSelfDamage       = errors.New("players cannot deal commander damage to themselves")
	ErrInvalidCommander = errors.New("commander number must be 1 or 2")
	ErrNoPartner        = errors.New("player has no partner commander")
	ErrDamageOutOfRange = errors.New("commander damage out of range")
)
