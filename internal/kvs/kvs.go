// Package kvs is the session store: transient matchmaking state owned
// entirely by this layer (sessions, groups, slots, parties, queues, and the
// token revocation set). RDB owns identity; kvs owns everything that comes
// and goes with a live matchmaking run.
package kvs

import (
	"context"
	"errors"
)

// Group lifecycle states.
const (
	StateGroupCheck = "GROUP_CHECK"
	StateInQueue    = "IN_QUEUE"
	StatePlaying    = "PLAYING"
)

// Error taxonomy returned (not thrown as control flow) by Store methods.
var (
	ErrPlayerInGroupAlready = errors.New("player already in a group")
	ErrPlayerNotInGroup     = errors.New("player not in a group")
	ErrGroupDoesntExist     = errors.New("group does not exist")
	ErrGroupIsFull          = errors.New("group is full")
	ErrGroupNotReady        = errors.New("group is not ready")
	ErrGameDoesntExist      = errors.New("game does not exist")
	ErrPartyDoesntExist     = errors.New("party does not exist")
	ErrNotFound             = errors.New("not found")
)

// ErrWrongGroupState reports the current state and the set of states the
// caller's operation would have accepted.
type ErrWrongGroupState struct {
	Current string
	Allowed []string
}

func (e *ErrWrongGroupState) Error() string {
	s := "wrong group state: " + e.Current + " (allowed:"
	for i, a := range e.Allowed {
		if i > 0 {
			s += ","
		}
		s += " " + a
	}
	return s + ")"
}

// UserSession is present iff the user currently belongs to a group.
type UserSession struct {
	UserID  string
	GroupID string
	PartyID string
	Ready   bool
}

// Group is a set of up to game.capacity users voluntarily grouped for one game.
type Group struct {
	GroupID string
	GameID  int
	State   string
	Members []string
	SlotID  string
	PartyID string
}

// Slot accumulates one or more groups up to game capacity.
type Slot struct {
	SlotID  string
	GameID  int
	Players []string
	Groups  []string
}

// Party is a launched game instance: frozen slot contents plus host/ports.
type Party struct {
	PartyID       string
	GameID        int
	SlotID        string
	Host          string
	ExternalPorts []int
}

// Store is the session-store contract. Implementations MUST serialize the
// group/slot/party mutating operations as atomic sequences per affected
// (user, group, slot): a single process-wide mutex suffices in-process; a
// remote backend must use a transaction or WATCH/MULTI-style optimistic
// sequence with bounded retry on conflict.
type Store interface {
	RevokeToken(ctx context.Context, tokenID string, expiryUnix int64) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)

	GetUser(ctx context.Context, userID string) (*UserSession, error)

	CreateGroup(ctx context.Context, userID string, gameID int) (string, error)
	JoinGroup(ctx context.Context, groupID, userID string) error
	LeaveGroup(ctx context.Context, userID string) error
	GetGroup(ctx context.Context, groupID string) (*Group, error)

	MarkReady(ctx context.Context, userID string) error
	MarkNotReady(ctx context.Context, userID string) error
	IsUserReady(ctx context.Context, userID string) (bool, error)

	JoinQueue(ctx context.Context, groupID string) error
	LeaveQueue(ctx context.Context, groupID string) error

	StartGame(ctx context.Context, gameID int, slotID string) (*Party, error)
	GetParty(ctx context.Context, partyID string) (*Party, error)
	EndGame(ctx context.Context, partyID string) error
}

// GameCapacity is the lookup the kvs layer needs from the identity store to
// evaluate capacity without importing rdb directly (avoids a layering cycle;
// the caller binds it to rdb.Store.GetGameByID at wiring time).
type GameCapacity func(ctx context.Context, gameID int) (capacity int, internalPorts []int, err error)

// LaunchHook is invoked, best-effort and out of band, whenever a slot
// reaches capacity and a Party is created. The kvs layer has no business
// knowing about container images or the Docker client; the caller binds
// this at wiring time to resolve the game's image/ports and hand off to
// ctr.Launcher, keeping slot-fill and container launch decoupled.
type LaunchHook func(ctx context.Context, gameID int, party *Party)

// LaunchHookSetter is implemented by both Store backends so cmd/server can
// wire CTR after constructing the store without widening the Store
// interface with a concern only the process wiring needs.
type LaunchHookSetter interface {
	SetLaunchHook(hook LaunchHook)
}
