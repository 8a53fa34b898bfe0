// Package rdb is the identity store: stable facts about users and games.
// It is pluggable — a durable Postgres backend and an in-process backend
// (for tests and single-node deploys) both satisfy Store.
package rdb

import (
	"context"
	"errors"

	"github.com/playpool/matchcore/internal/models"
)

// Error classification for callers mapping to HTTP status codes.
var (
	ErrNotFound            = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrBackendUnavailable  = errors.New("backend unavailable")
)

// Store is the identity-store contract. Every method is expected to be
// asynchronous I/O with at-most-once semantics.
type Store interface {
	CreateUser(ctx context.Context, name, email, passHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	SetUserAdmin(ctx context.Context, id string, admin bool) error
	SetUserVerified(ctx context.Context, id string, verified bool) error

	CreateGame(ctx context.Context, name, ownerID string, capacity int, image string, ports []int) (int, error)
	GetGameByID(ctx context.Context, id int) (*models.Game, error)
	GetGameByName(ctx context.Context, name string) (*models.Game, error)
	GetAllGames(ctx context.Context) ([]*models.Game, error)
	GetGamesByOwner(ctx context.Context, ownerID string) ([]*models.Game, error)
}
