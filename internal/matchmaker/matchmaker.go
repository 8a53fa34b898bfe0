// Package matchmaker is the orchestration layer HTTP handlers talk to: it
// binds kvs (transient state), rdb (identity), and msgbus (fan-out) into
// the public group/queue/party operations, publishing the membership events
// that kvs itself has no business knowing about (invites, joins, kicks).
package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/playpool/matchcore/internal/kvs"
	"github.com/playpool/matchcore/internal/models"
	"github.com/playpool/matchcore/internal/msgbus"
	"github.com/playpool/matchcore/internal/rdb"
)

// GroupView is the read model returned by GET /v1/groups/.
type GroupView struct {
	State   string       `json:"state"`
	Members []MemberView `json:"members"`
	GameID  int          `json:"gameid"`
	SlotID  string       `json:"slotid,omitempty"`
	PartyID string       `json:"partyid,omitempty"`
}

type MemberView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// Matchmaker wires the session store, identity store, and message bus.
type Matchmaker struct {
	KVS kvs.Store
	RDB rdb.Store
	Bus msgbus.Bus
}

func New(store kvs.Store, identity rdb.Store, bus msgbus.Bus) *Matchmaker {
	return &Matchmaker{KVS: store, RDB: identity, Bus: bus}
}

// CapacityLookup adapts the identity store to kvs.GameCapacity, resolving
// the layering the kvs package documents but does not implement itself.
func (m *Matchmaker) CapacityLookup(ctx context.Context, gameID int) (int, []int, error) {
	game, err := m.RDB.GetGameByID(ctx, gameID)
	if err != nil {
		return 0, nil, err
	}
	ports := make([]int, len(game.InternalPorts))
	for i, p := range game.InternalPorts {
		ports[i] = int(p)
	}
	return game.Capacity, ports, nil
}

func (m *Matchmaker) publish(ctx context.Context, topic string, payload map[string]any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = m.Bus.Send(ctx, topic, b)
}

func (m *Matchmaker) CreateGroup(ctx context.Context, userID string, gameID int) (string, error) {
	if _, err := m.RDB.GetGameByID(ctx, gameID); err != nil {
		return "", kvs.ErrGameDoesntExist
	}
	return m.KVS.CreateGroup(ctx, userID, gameID)
}

func (m *Matchmaker) JoinGroup(ctx context.Context, groupID, userID string) error {
	if err := m.KVS.JoinGroup(ctx, groupID, userID); err != nil {
		return err
	}
	user, err := m.RDB.GetUserByID(ctx, userID)
	name := userID
	if err == nil {
		name = user.Name
	}
	m.publish(ctx, "group:"+groupID, map[string]any{"type": "group:user joined", "userid": userID, "name": name})
	return nil
}

func (m *Matchmaker) LeaveGroup(ctx context.Context, userID string) error {
	sess, err := m.KVS.GetUser(ctx, userID)
	if err != nil {
		return kvs.ErrPlayerNotInGroup
	}
	groupID := sess.GroupID
	if err := m.KVS.LeaveGroup(ctx, userID); err != nil {
		return err
	}
	m.publish(ctx, "group:"+groupID, map[string]any{"type": "group:user left", "userid": userID})
	return nil
}

// Kick is LeaveGroup invoked on behalf of another user, used by the admin
// kick endpoint and by the token gate's logout flow.
func (m *Matchmaker) Kick(ctx context.Context, userID string) error {
	return m.LeaveGroup(ctx, userID)
}

func (m *Matchmaker) MarkReady(ctx context.Context, userID string) error {
	if err := m.KVS.MarkReady(ctx, userID); err != nil {
		return err
	}
	if sess, err := m.KVS.GetUser(ctx, userID); err == nil {
		m.publish(ctx, "group:"+sess.GroupID, map[string]any{"type": "group:user is ready", "userid": userID})
	}
	return nil
}

func (m *Matchmaker) MarkNotReady(ctx context.Context, userID string) error {
	sess, err := m.KVS.GetUser(ctx, userID)
	if err != nil {
		return kvs.ErrPlayerNotInGroup
	}
	groupID := sess.GroupID
	if err := m.KVS.MarkNotReady(ctx, userID); err != nil {
		return err
	}
	m.publish(ctx, "group:"+groupID, map[string]any{"type": "group:user is not ready", "userid": userID})
	return nil
}

func (m *Matchmaker) StartQueue(ctx context.Context, userID string) error {
	sess, err := m.KVS.GetUser(ctx, userID)
	if err != nil {
		return kvs.ErrPlayerNotInGroup
	}
	if err := m.KVS.JoinQueue(ctx, sess.GroupID); err != nil {
		return err
	}
	m.publish(ctx, "group:"+sess.GroupID, map[string]any{"type": "group:queue joined"})
	return nil
}

// Group returns the read model for GET /v1/groups/, resolving member names
// from the identity store.
func (m *Matchmaker) Group(ctx context.Context, userID string) (*GroupView, error) {
	sess, err := m.KVS.GetUser(ctx, userID)
	if err != nil {
		return nil, kvs.ErrPlayerNotInGroup
	}
	group, err := m.KVS.GetGroup(ctx, sess.GroupID)
	if err != nil {
		return nil, err
	}
	view := &GroupView{State: group.State, GameID: group.GameID, SlotID: group.SlotID, PartyID: group.PartyID}
	for _, uid := range group.Members {
		memberSess, err := m.KVS.GetUser(ctx, uid)
		ready := err == nil && memberSess.Ready
		name := uid
		if user, err := m.RDB.GetUserByID(ctx, uid); err == nil {
			name = user.Name
		}
		view.Members = append(view.Members, MemberView{ID: uid, Name: name, Ready: ready})
	}
	return view, nil
}

// Invite publishes a group:invitation recieved event (spelling preserved
// per the external event-payload contract) onto the invitee's user topic.
func (m *Matchmaker) Invite(ctx context.Context, fromUserID string, toUser *models.User) error {
	sess, err := m.KVS.GetUser(ctx, fromUserID)
	if err != nil {
		return kvs.ErrPlayerNotInGroup
	}
	group, err := m.KVS.GetGroup(ctx, sess.GroupID)
	if err != nil {
		return err
	}
	game, err := m.RDB.GetGameByID(ctx, group.GameID)
	if err != nil {
		return err
	}
	m.publish(ctx, "user:"+toUser.ID, map[string]any{
		"type": "group:invitation recieved",
		"from": map[string]any{"userid": fromUserID},
		"to": map[string]any{
			"groupid":  group.GroupID,
			"gameid":   game.GameID,
			"gamename": game.Name,
		},
	})
	return nil
}

// StartGame creates the party for a slot that reached capacity by delegating
// to the session store. The store backends schedule their own StartGame when
// a slot fills and do not call this wrapper; the container launch is wired
// separately through kvs.LaunchHookSetter.
func (m *Matchmaker) StartGame(ctx context.Context, gameID int, slotID string) (*kvs.Party, error) {
	return m.KVS.StartGame(ctx, gameID, slotID)
}

// EndGame finalizes a party on container exit.
func (m *Matchmaker) EndGame(ctx context.Context, partyID string) error {
	return m.KVS.EndGame(ctx, partyID)
}

var ErrUserNotFound = errors.New("user not found")

// ResolveInvitee looks the invitee up by id or name depending on how the
// HTTP route was matched (/v1/groups/invite/byid/<x> vs /byname/<x>).
func (m *Matchmaker) ResolveInvitee(ctx context.Context, kind, value string) (*models.User, error) {
	switch kind {
	case "byid":
		return m.RDB.GetUserByID(ctx, value)
	case "byname":
		return m.RDB.GetUserByLogin(ctx, value)
	default:
		return nil, fmt.Errorf("%w: unknown invite kind %q", ErrUserNotFound, kind)
	}
}
