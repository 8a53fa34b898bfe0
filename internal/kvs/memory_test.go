package kvs

import (
	"context"
	"testing"
	"time"

	"github.com/playpool/matchcore/internal/msgbus"
)

func testCapacity(cap int, ports []int) GameCapacity {
	return func(ctx context.Context, gameID int) (int, []int, error) {
		if gameID != 1 {
			return 0, nil, ErrGameDoesntExist
		}
		return cap, ports, nil
	}
}

func newTestStore(cap int) *MemoryStore {
	return NewMemoryStore(msgbus.NewMemoryBus(), testCapacity(cap, []int{7000}), "127.0.0.1", 20000, 20100)
}

func readyUp(t *testing.T, s *MemoryStore, ctx context.Context, groupID string, members ...string) {
	t.Helper()
	for _, m := range members {
		if err := s.MarkReady(ctx, m); err != nil {
			t.Fatalf("MarkReady(%s): %v", m, err)
		}
	}
}

// waitForGroupState polls the group until it reaches want or a second has
// passed, since JoinQueue schedules StartGame asynchronously once a slot
// fills. It returns the last group read.
func waitForGroupState(t *testing.T, s *MemoryStore, ctx context.Context, groupID, want string) *Group {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		group, err := s.GetGroup(ctx, groupID)
		if err != nil {
			t.Fatalf("GetGroup: %v", err)
		}
		if group.State == want || time.Now().After(deadline) {
			return group
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCreateJoinLeaveGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(4)

	t.Run("create and join", func(t *testing.T) {
		groupID, err := s.CreateGroup(ctx, "u1", 1)
		if err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
		if err := s.JoinGroup(ctx, groupID, "u2"); err != nil {
			t.Fatalf("JoinGroup: %v", err)
		}
		group, err := s.GetGroup(ctx, groupID)
		if err != nil {
			t.Fatalf("GetGroup: %v", err)
		}
		if len(group.Members) != 2 {
			t.Fatalf("expected 2 members, got %d", len(group.Members))
		}
	})

	t.Run("double join rejected", func(t *testing.T) {
		groupID, _ := s.CreateGroup(ctx, "u3", 1)
		if err := s.JoinGroup(ctx, groupID, "u3"); err != ErrPlayerInGroupAlready {
			t.Fatalf("expected ErrPlayerInGroupAlready, got %v", err)
		}
	})

	t.Run("leave empties group", func(t *testing.T) {
		groupID, _ := s.CreateGroup(ctx, "solo", 1)
		if err := s.LeaveGroup(ctx, "solo"); err != nil {
			t.Fatalf("LeaveGroup: %v", err)
		}
		if _, err := s.GetGroup(ctx, groupID); err != ErrGroupDoesntExist {
			t.Fatalf("expected group to be deleted, got %v", err)
		}
	})
}

func TestJoinQueueExactFill(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	groupID, _ := s.CreateGroup(ctx, "a1", 1)
	s.JoinGroup(ctx, groupID, "a2")
	readyUp(t, s, ctx, groupID, "a1", "a2")

	if err := s.JoinQueue(ctx, groupID); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if group.State != StateInQueue && group.State != StatePlaying {
		t.Fatalf("expected group to have left GROUP_CHECK, got %s", group.State)
	}
}

func TestJoinQueueOverflowCreatesFreshSlot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(4)

	full, _ := s.CreateGroup(ctx, "b1", 1)
	s.JoinGroup(ctx, full, "b2")
	s.JoinGroup(ctx, full, "b3")
	s.JoinGroup(ctx, full, "b4")
	readyUp(t, s, ctx, full, "b1", "b2", "b3", "b4")
	if err := s.JoinQueue(ctx, full); err != nil {
		t.Fatalf("JoinQueue(full): %v", err)
	}

	overflow, _ := s.CreateGroup(ctx, "c1", 1)
	readyUp(t, s, ctx, overflow, "c1")
	if err := s.JoinQueue(ctx, overflow); err != nil {
		t.Fatalf("JoinQueue(overflow): %v", err)
	}

	g, err := s.GetGroup(ctx, overflow)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if g.SlotID == "" {
		t.Fatalf("expected overflow group to be assigned a slot")
	}
	fg, _ := s.GetGroup(ctx, full)
	if fg.SlotID == g.SlotID {
		t.Fatalf("expected overflow group to land in a fresh slot, not the full one")
	}
}

func TestJoinQueueFIFOPacking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(3)

	first, _ := s.CreateGroup(ctx, "d1", 1)
	readyUp(t, s, ctx, first, "d1")
	if err := s.JoinQueue(ctx, first); err != nil {
		t.Fatalf("JoinQueue(first): %v", err)
	}

	second, _ := s.CreateGroup(ctx, "e1", 1)
	s.JoinGroup(ctx, second, "e2")
	readyUp(t, s, ctx, second, "e1", "e2")
	if err := s.JoinQueue(ctx, second); err != nil {
		t.Fatalf("JoinQueue(second): %v", err)
	}

	g1 := waitForGroupState(t, s, ctx, first, StatePlaying)
	g2 := waitForGroupState(t, s, ctx, second, StatePlaying)
	if g1.SlotID != g2.SlotID {
		t.Fatalf("expected second group to pack into first group's slot")
	}
	if g1.State != StatePlaying || g2.State != StatePlaying {
		t.Fatalf("expected both groups to be PLAYING once slot filled, got %s / %s", g1.State, g2.State)
	}
}

func TestMarkNotReadyDuringQueuePreservesOtherMembersReadiness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(4)

	groupID, _ := s.CreateGroup(ctx, "f1", 1)
	s.JoinGroup(ctx, groupID, "f2")
	readyUp(t, s, ctx, groupID, "f1", "f2")
	if err := s.JoinQueue(ctx, groupID); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}

	if err := s.MarkNotReady(ctx, "f1"); err != nil {
		t.Fatalf("MarkNotReady: %v", err)
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if group.State != StateGroupCheck {
		t.Fatalf("expected group back in GROUP_CHECK, got %s", group.State)
	}

	f1Ready, err := s.IsUserReady(ctx, "f1")
	if err != nil {
		t.Fatalf("IsUserReady(f1): %v", err)
	}
	if f1Ready {
		t.Fatalf("expected f1 to no longer be ready")
	}

	f2Ready, err := s.IsUserReady(ctx, "f2")
	if err != nil {
		t.Fatalf("IsUserReady(f2): %v", err)
	}
	if !f2Ready {
		t.Fatalf("expected f2 to remain ready (only the caller's readiness is cleared)")
	}
}

func TestJoinQueueRejectsUnreadyGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(2)

	groupID, _ := s.CreateGroup(ctx, "g1", 1)
	s.JoinGroup(ctx, groupID, "g2")
	s.MarkReady(ctx, "g1")

	if err := s.JoinQueue(ctx, groupID); err != ErrGroupNotReady {
		t.Fatalf("expected ErrGroupNotReady, got %v", err)
	}
}

func TestCapacityOneStartsImmediately(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(1)

	groupID, _ := s.CreateGroup(ctx, "h1", 1)
	readyUp(t, s, ctx, groupID, "h1")
	if err := s.JoinQueue(ctx, groupID); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}

	group := waitForGroupState(t, s, ctx, groupID, StatePlaying)
	if group.State != StatePlaying {
		t.Fatalf("expected capacity-1 group to start immediately, got %s", group.State)
	}
	if group.PartyID == "" {
		t.Fatalf("expected a party to have been assigned")
	}
}

func TestTokenRevocation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(4)

	revoked, err := s.IsTokenRevoked(ctx, "tok-1")
	if err != nil {
		t.Fatalf("IsTokenRevoked: %v", err)
	}
	if revoked {
		t.Fatalf("expected unrevoked token to report false")
	}

	if err := s.RevokeToken(ctx, "tok-1", 9999999999); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	revoked, err = s.IsTokenRevoked(ctx, "tok-1")
	if err != nil {
		t.Fatalf("IsTokenRevoked: %v", err)
	}
	if !revoked {
		t.Fatalf("expected revoked token to report true")
	}
}

func TestEndGameReturnsGroupsToGroupCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(1)

	groupID, _ := s.CreateGroup(ctx, "i1", 1)
	readyUp(t, s, ctx, groupID, "i1")
	if err := s.JoinQueue(ctx, groupID); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	group := waitForGroupState(t, s, ctx, groupID, StatePlaying)

	if err := s.EndGame(ctx, group.PartyID); err != nil {
		t.Fatalf("EndGame: %v", err)
	}

	after, err := s.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetGroup after EndGame: %v", err)
	}
	if after.State != StateGroupCheck {
		t.Fatalf("expected group back in GROUP_CHECK after EndGame, got %s", after.State)
	}
	if _, err := s.GetParty(ctx, group.PartyID); err != ErrPartyDoesntExist {
		t.Fatalf("expected party to be removed after EndGame, got %v", err)
	}
}
