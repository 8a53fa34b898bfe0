package matchmaker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/playpool/matchcore/internal/kvs"
	"github.com/playpool/matchcore/internal/msgbus"
	"github.com/playpool/matchcore/internal/rdb"
)

func newTestMatchmaker(t *testing.T) (*Matchmaker, rdb.Store) {
	t.Helper()
	identity := rdb.NewMemoryStore()
	bus := msgbus.NewMemoryBus()
	var store kvs.Store
	mm := &Matchmaker{Bus: bus, RDB: identity}
	store = kvs.NewMemoryStore(bus, mm.CapacityLookup, "127.0.0.1", 20000, 20100)
	mm.KVS = store
	return mm, identity
}

func createGame(t *testing.T, identity rdb.Store, capacity int) int {
	t.Helper()
	id, err := identity.CreateGame(context.Background(), "arena", "", capacity, "arena:latest", []int{7000})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	return id
}

func TestInviteDeliversOntoUserTopic(t *testing.T) {
	ctx := context.Background()
	mm, identity := newTestMatchmaker(t)
	gameID := createGame(t, identity, 4)

	host, err := identity.CreateUser(ctx, "host", "host@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser(host): %v", err)
	}
	invitee, err := identity.CreateUser(ctx, "invitee", "invitee@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser(invitee): %v", err)
	}

	sub, err := mm.Bus.Subscribe(ctx, "user:"+invitee.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	groupID, err := mm.CreateGroup(ctx, host.ID, gameID)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if err := mm.Invite(ctx, host.ID, invitee); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	select {
	case msg := <-sub.Chan():
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload["type"] != "group:invitation recieved" {
			t.Fatalf("unexpected event type: %v", payload["type"])
		}
		to := payload["to"].(map[string]any)
		if to["groupid"] != groupID {
			t.Fatalf("expected invite to reference group %s, got %v", groupID, to["groupid"])
		}
	default:
		t.Fatalf("expected an invite event to be published")
	}
}

func TestGroupViewResolvesMemberNames(t *testing.T) {
	ctx := context.Background()
	mm, identity := newTestMatchmaker(t)
	gameID := createGame(t, identity, 4)

	alice, _ := identity.CreateUser(ctx, "alice", "alice@example.com", "hash")
	bob, _ := identity.CreateUser(ctx, "bob", "bob@example.com", "hash")

	groupID, err := mm.CreateGroup(ctx, alice.ID, gameID)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := mm.JoinGroup(ctx, groupID, bob.ID); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if err := mm.MarkReady(ctx, alice.ID); err != nil {
		t.Fatalf("MarkReady(alice): %v", err)
	}

	view, err := mm.Group(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(view.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(view.Members))
	}

	names := map[string]bool{}
	ready := map[string]bool{}
	for _, mem := range view.Members {
		names[mem.Name] = true
		ready[mem.Name] = mem.Ready
	}
	if !names["alice"] || !names["bob"] {
		t.Fatalf("expected member names alice and bob, got %+v", view.Members)
	}
	if !ready["alice"] || ready["bob"] {
		t.Fatalf("expected only alice to be ready, got %+v", view.Members)
	}
}

func TestLeaveGroupPublishesEvent(t *testing.T) {
	ctx := context.Background()
	mm, identity := newTestMatchmaker(t)
	gameID := createGame(t, identity, 4)

	alice, _ := identity.CreateUser(ctx, "alice", "alice@example.com", "hash")
	groupID, err := mm.CreateGroup(ctx, alice.ID, gameID)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	sub, err := mm.Bus.Subscribe(ctx, "group:"+groupID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := mm.LeaveGroup(ctx, alice.ID); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}

	select {
	case msg := <-sub.Chan():
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload["type"] != "group:user left" {
			t.Fatalf("unexpected event type: %v", payload["type"])
		}
	default:
		t.Fatalf("expected a group:user left event to be published")
	}
}
