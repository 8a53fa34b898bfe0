package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/playpool/matchcore/internal/models"
)

// PostgresStore is the durable identity-store backend, grounded on the
// teacher's internal/database connection style and internal/accounts query
// patterns (sqlx, raw SQL, explicit error classification).
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passHash string) (*models.User, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, is_verified, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, false, false, NOW())`,
		id, name, email, passHash)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
		}
		log.Printf("[RDB] CreateUser failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT id, name, email, password_hash, is_verified, is_admin, created_at FROM users WHERE id=$1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT id, name, email, password_hash, is_verified, is_admin, created_at FROM users WHERE email=$1 OR name=$1`, login)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &u, nil
}

func (s *PostgresStore) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin=$1 WHERE id=$2`, admin, id)
	return s.checkUpdate(res, err)
}

func (s *PostgresStore) SetUserVerified(ctx context.Context, id string, verified bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_verified=$1 WHERE id=$2`, verified, id)
	return s.checkUpdate(res, err)
}

func (s *PostgresStore) checkUpdate(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateGame(ctx context.Context, name, ownerID string, capacity int, image string, ports []int) (int, error) {
	pqPorts := make(pq.Int64Array, len(ports))
	for i, p := range ports {
		pqPorts[i] = int64(p)
	}
	var gameID int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO games (name, owner_id, capacity, image, internal_ports, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING game_id`,
		name, ownerID, capacity, image, pqPorts).Scan(&gameID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return 0, fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
		}
		log.Printf("[RDB] CreateGame failed: %v", err)
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return gameID, nil
}

func (s *PostgresStore) GetGameByID(ctx context.Context, id int) (*models.Game, error) {
	var g models.Game
	err := s.db.GetContext(ctx, &g, `SELECT game_id, name, owner_id, capacity, image, internal_ports, created_at FROM games WHERE game_id=$1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &g, nil
}

func (s *PostgresStore) GetGameByName(ctx context.Context, name string) (*models.Game, error) {
	var g models.Game
	err := s.db.GetContext(ctx, &g, `SELECT game_id, name, owner_id, capacity, image, internal_ports, created_at FROM games WHERE name=$1`, name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &g, nil
}

func (s *PostgresStore) GetAllGames(ctx context.Context) ([]*models.Game, error) {
	var games []*models.Game
	err := s.db.SelectContext(ctx, &games, `SELECT game_id, name, owner_id, capacity, image, internal_ports, created_at FROM games ORDER BY game_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return games, nil
}

func (s *PostgresStore) GetGamesByOwner(ctx context.Context, ownerID string) ([]*models.Game, error) {
	var games []*models.Game
	err := s.db.SelectContext(ctx, &games, `SELECT game_id, name, owner_id, capacity, image, internal_ports, created_at FROM games WHERE owner_id=$1 ORDER BY game_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return games, nil
}
