package kvs

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playpool/matchcore/internal/msgbus"
)

// MemoryStore is the in-process session-store backend for tests and
// single-node deploys, grounded on the teacher's GameManager pattern of
// guarding every in-memory map with one sync.Mutex rather than per-entity
// locks (internal/game/manager.go).
type MemoryStore struct {
	mu sync.Mutex

	sessions map[string]*UserSession
	groups   map[string]*Group
	slots    map[string]*Slot
	queues   map[int][]string
	parties  map[string]*Party

	revocations   map[string]int64
	assignedPorts map[int]struct{}

	bus       msgbus.Bus
	capacity  GameCapacity
	gameHost  string
	portStart int
	portStop  int
	launch    LaunchHook
}

// SetLaunchHook registers the callback invoked after a party is created by
// the packing algorithm. Safe to call once, before traffic starts.
func (s *MemoryStore) SetLaunchHook(hook LaunchHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launch = hook
}

func NewMemoryStore(bus msgbus.Bus, capacity GameCapacity, gameHost string, portStart, portStop int) *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]*UserSession),
		groups:        make(map[string]*Group),
		slots:         make(map[string]*Slot),
		queues:        make(map[int][]string),
		parties:       make(map[string]*Party),
		revocations:   make(map[string]int64),
		assignedPorts: make(map[int]struct{}),
		bus:           bus,
		capacity:      capacity,
		gameHost:      gameHost,
		portStart:     portStart,
		portStop:      portStop,
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// RevokeToken prunes expired entries before recording the new one.
func (s *MemoryStore) RevokeToken(ctx context.Context, tokenID string, expiryUnix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneRevocationsLocked()
	s.revocations[tokenID] = expiryUnix
	return nil
}

func (s *MemoryStore) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneRevocationsLocked()
	_, ok := s.revocations[tokenID]
	return ok, nil
}

func (s *MemoryStore) pruneRevocationsLocked() {
	now := time.Now().Unix()
	for id, exp := range s.revocations {
		if exp < now {
			delete(s.revocations, id)
		}
	}
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, userID string, gameID int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[userID]; exists {
		return "", ErrPlayerInGroupAlready
	}
	if _, _, err := s.capacity(ctx, gameID); err != nil {
		return "", ErrGameDoesntExist
	}

	groupID := uuid.New().String()
	s.groups[groupID] = &Group{
		GroupID: groupID,
		GameID:  gameID,
		State:   StateGroupCheck,
		Members: []string{userID},
	}
	s.sessions[userID] = &UserSession{UserID: userID, GroupID: groupID, Ready: false}
	return groupID, nil
}

func (s *MemoryStore) JoinGroup(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[userID]; exists {
		return ErrPlayerInGroupAlready
	}
	group, ok := s.groups[groupID]
	if !ok {
		return ErrGroupDoesntExist
	}
	if group.State != StateGroupCheck {
		return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck}}
	}
	capacity, _, err := s.capacity(ctx, group.GameID)
	if err != nil {
		return ErrGameDoesntExist
	}
	if len(group.Members)+1 > capacity {
		return ErrGroupIsFull
	}

	group.Members = append(group.Members, userID)
	s.sessions[userID] = &UserSession{UserID: userID, GroupID: groupID, Ready: false}
	return nil
}

// LeaveGroup preserves the source ordering: leaveQueue (which reads
// group.Members) runs before the member is actually removed.
func (s *MemoryStore) LeaveGroup(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return ErrPlayerNotInGroup
	}
	group := s.groups[sess.GroupID]
	if group == nil {
		return ErrPlayerNotInGroup
	}
	if group.State != StateGroupCheck && group.State != StateInQueue {
		return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck, StateInQueue}}
	}

	if group.State == StateInQueue {
		if err := s.leaveQueueLocked(group); err != nil {
			return err
		}
	}

	group.Members = removeString(group.Members, userID)
	delete(s.sessions, userID)

	if len(group.Members) == 0 {
		delete(s.groups, group.GroupID)
	}
	return nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return nil, ErrGroupDoesntExist
	}
	cp := *group
	cp.Members = append([]string{}, group.Members...)
	return &cp, nil
}

func (s *MemoryStore) MarkReady(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, group, err := s.sessionAndGroupLocked(userID)
	if err != nil {
		return err
	}
	if group.State != StateGroupCheck {
		return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck}}
	}
	sess.Ready = true
	return nil
}

// MarkNotReady preserves the source bug: when called during IN_QUEUE the
// group leaves the queue and reverts to GROUP_CHECK, but only the caller's
// own readiness is cleared, not every member's.
func (s *MemoryStore) MarkNotReady(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, group, err := s.sessionAndGroupLocked(userID)
	if err != nil {
		return err
	}
	switch group.State {
	case StateGroupCheck:
		sess.Ready = false
		return nil
	case StateInQueue:
		if err := s.leaveQueueLocked(group); err != nil {
			return err
		}
		sess.Ready = false
		return nil
	default:
		return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck, StateInQueue}}
	}
}

func (s *MemoryStore) IsUserReady(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return false, ErrPlayerNotInGroup
	}
	return sess.Ready, nil
}

func (s *MemoryStore) sessionAndGroupLocked(userID string) (*UserSession, *Group, error) {
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil, ErrPlayerNotInGroup
	}
	group := s.groups[sess.GroupID]
	if group == nil {
		return nil, nil, ErrPlayerNotInGroup
	}
	return sess, group, nil
}

// JoinQueue validates readiness, flips state, then packs FIFO over the
// game's queue before falling back to a fresh slot.
func (s *MemoryStore) JoinQueue(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[groupID]
	if !ok {
		return ErrGroupDoesntExist
	}
	if group.State != StateGroupCheck {
		return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck}}
	}
	for _, m := range group.Members {
		sess := s.sessions[m]
		if sess == nil || !sess.Ready {
			return ErrGroupNotReady
		}
	}

	capacity, _, err := s.capacity(ctx, group.GameID)
	if err != nil {
		return ErrGameDoesntExist
	}

	group.State = StateInQueue
	m := len(group.Members)
	queue := s.queues[group.GameID]

	for _, sid := range queue {
		slot := s.slots[sid]
		k := len(slot.Players)
		if k+m < capacity {
			slot.Players = append(slot.Players, group.Members...)
			slot.Groups = append(slot.Groups, groupID)
			group.SlotID = sid
			return nil
		}
		if k+m == capacity {
			slot.Players = append(slot.Players, group.Members...)
			slot.Groups = append(slot.Groups, groupID)
			group.SlotID = sid
			s.queues[group.GameID] = removeString(queue, sid)
			gameID, slotID := group.GameID, sid
			go s.asyncStartGame(gameID, slotID)
			return nil
		}
	}

	// Overflow: no slot in the queue fit, allocate a fresh one.
	sid := uuid.New().String()
	s.slots[sid] = &Slot{
		SlotID:  sid,
		GameID:  group.GameID,
		Players: append([]string{}, group.Members...),
		Groups:  []string{groupID},
	}
	group.SlotID = sid
	if m == capacity {
		gameID := group.GameID
		go s.asyncStartGame(gameID, sid)
	} else {
		s.queues[group.GameID] = append(s.queues[group.GameID], sid)
	}
	return nil
}

func (s *MemoryStore) asyncStartGame(gameID int, slotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.startGameLocked(context.Background(), gameID, slotID); err != nil {
		// The slot is gone (its groups left the queue before this ran) or
		// the game no longer resolves; nothing to launch.
		return
	}
}

func (s *MemoryStore) LeaveQueue(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return ErrGroupDoesntExist
	}
	return s.leaveQueueLocked(group)
}

func (s *MemoryStore) leaveQueueLocked(group *Group) error {
	if group.State != StateInQueue {
		return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateInQueue}}
	}
	slot := s.slots[group.SlotID]
	if slot != nil {
		slot.Groups = removeString(slot.Groups, group.GroupID)
		for _, member := range group.Members {
			slot.Players = removeString(slot.Players, member)
		}
		if len(slot.Players) == 0 {
			s.queues[group.GameID] = removeString(s.queues[group.GameID], slot.SlotID)
			delete(s.slots, slot.SlotID)
		}
	}
	group.SlotID = ""
	group.State = StateGroupCheck
	return nil
}

func (s *MemoryStore) StartGame(ctx context.Context, gameID int, slotID string) (*Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startGameLocked(ctx, gameID, slotID)
}

func (s *MemoryStore) startGameLocked(ctx context.Context, gameID int, slotID string) (*Party, error) {
	slot, ok := s.slots[slotID]
	if !ok {
		return nil, ErrNotFound
	}
	_, internalPorts, err := s.capacity(ctx, gameID)
	if err != nil {
		return nil, ErrGameDoesntExist
	}

	partyID := uuid.New().String()
	party := &Party{
		PartyID:       partyID,
		GameID:        gameID,
		SlotID:        slotID,
		Host:          s.gameHost,
		ExternalPorts: s.allocatePortsLocked(len(internalPorts)),
	}
	s.parties[partyID] = party

	for _, gid := range slot.Groups {
		g := s.groups[gid]
		if g == nil {
			continue
		}
		g.State = StatePlaying
		g.PartyID = partyID
		payload, _ := json.Marshal(map[string]any{"type": "game:starting", "partyid": partyID})
		_ = s.bus.Send(ctx, "group:"+gid, payload)
	}
	for _, uid := range slot.Players {
		if sess := s.sessions[uid]; sess != nil {
			sess.PartyID = partyID
		}
	}
	if s.launch != nil {
		hook, p := s.launch, *party
		go hook(context.Background(), gameID, &p)
	}
	return party, nil
}

// allocatePortsLocked samples distinct ports from the configured range.
// Per the source's design, global uniqueness is best-effort: the range is
// wide relative to concurrent parties, so a bounded retry on collision is
// acceptable rather than reserving a dedicated allocator.
func (s *MemoryStore) allocatePortsLocked(n int) []int {
	ports := make([]int, 0, n)
	span := s.portStop - s.portStart
	for len(ports) < n && span > 0 {
		picked := false
		for attempt := 0; attempt < 50; attempt++ {
			p := s.portStart + rand.Intn(span)
			if _, taken := s.assignedPorts[p]; taken {
				continue
			}
			dup := false
			for _, existing := range ports {
				if existing == p {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			ports = append(ports, p)
			s.assignedPorts[p] = struct{}{}
			picked = true
			break
		}
		if !picked {
			break
		}
	}
	return ports
}

func (s *MemoryStore) GetParty(ctx context.Context, partyID string) (*Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return nil, ErrPartyDoesntExist
	}
	cp := *party
	return &cp, nil
}

func (s *MemoryStore) EndGame(ctx context.Context, partyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	party, ok := s.parties[partyID]
	if !ok {
		return ErrPartyDoesntExist
	}

	if slot, ok := s.slots[party.SlotID]; ok {
		for _, gid := range slot.Groups {
			if g := s.groups[gid]; g != nil {
				g.State = StateGroupCheck
				g.PartyID = ""
				g.SlotID = ""
			}
		}
		for _, uid := range slot.Players {
			if sess := s.sessions[uid]; sess != nil {
				sess.PartyID = ""
			}
		}
		delete(s.slots, party.SlotID)
	}
	for _, p := range party.ExternalPorts {
		delete(s.assignedPorts, p)
	}
	delete(s.parties, partyID)

	payload, _ := json.Marshal(map[string]any{"type": "game:over"})
	_ = s.bus.Send(ctx, "party:"+partyID, payload)
	return nil
}
