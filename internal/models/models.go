// Package models holds the identity-store (RDB) record types: users and
// games. Transient matchmaking entities (groups, slots, parties, sessions)
// live in internal/kvs, which owns them exclusively.
package models

import (
	"time"

	"github.com/lib/pq"
)

// User is a stable identity record. Password hashing happens at the HTTP
// boundary (internal/api/handlers/auth.go); this store only ever sees the
// resulting hash.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsVerified   bool      `db:"is_verified" json:"is_verified"`
	IsAdmin      bool      `db:"is_admin" json:"is_admin"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Game is a stable identity record describing a launchable game image and
// its capacity/port requirements.
type Game struct {
	GameID        int           `db:"game_id" json:"gameid"`
	Name          string        `db:"name" json:"name"`
	OwnerID       string        `db:"owner_id" json:"ownerid"`
	Capacity      int           `db:"capacity" json:"capacity"`
	Image         string        `db:"image" json:"image"`
	InternalPorts pq.Int64Array `db:"internal_ports" json:"internalports"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}
