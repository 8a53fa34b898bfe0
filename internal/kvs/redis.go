package kvs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playpool/matchcore/internal/msgbus"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the durable, multi-process session-store backend. Every
// mutating operation runs as a bounded-retry optimistic transaction over the
// keys it touches (WATCH/MULTI), per the source's note that sequential
// mutation without coordination is only safe under a single process.
// Queueing reuses the teacher's queue:stake:%d RPUSH/LREM list pattern from
// internal/game/manager.go, generalized from stake-amount to gameId.
type RedisStore struct {
	rdb       *redis.Client
	bus       msgbus.Bus
	capacity  GameCapacity
	gameHost  string
	portStart int
	portStop  int

	mu     sync.Mutex
	launch LaunchHook
}

// SetLaunchHook registers the callback invoked after a party is created by
// the packing algorithm. Safe to call once, before traffic starts.
func (s *RedisStore) SetLaunchHook(hook LaunchHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launch = hook
}

func (s *RedisStore) launchHook() LaunchHook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launch
}

func NewRedisStore(rdb *redis.Client, bus msgbus.Bus, capacity GameCapacity, gameHost string, portStart, portStop int) *RedisStore {
	return &RedisStore{rdb: rdb, bus: bus, capacity: capacity, gameHost: gameHost, portStart: portStart, portStop: portStop}
}

const maxTxRetries = 10

func sessionKey(userID string) string { return "kvs:session:" + userID }
func groupKey(groupID string) string  { return "kvs:group:" + groupID }
func slotKey(slotID string) string    { return "kvs:slot:" + slotID }
func queueKey(gameID int) string      { return fmt.Sprintf("kvs:queue:%d", gameID) }
func partyKey(partyID string) string  { return "kvs:party:" + partyID }

const revocationsKey = "kvs:revocations"
const assignedPortsKey = "kvs:ports:assigned"

func (s *RedisStore) RevokeToken(ctx context.Context, tokenID string, expiryUnix int64) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, revocationsKey, "-inf", fmt.Sprintf("%d", time.Now().Unix()))
	pipe.ZAdd(ctx, revocationsKey, redis.Z{Score: float64(expiryUnix), Member: tokenID})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.rdb.ZRemRangeByScore(ctx, revocationsKey, "-inf", fmt.Sprintf("%d", time.Now().Unix()))
	score, err := s.rdb.ZScore(ctx, revocationsKey, tokenID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return score >= float64(time.Now().Unix()), nil
}

func (s *RedisStore) getSession(ctx context.Context, userID string) (*UserSession, error) {
	data, err := s.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess UserSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) GetUser(ctx context.Context, userID string) (*UserSession, error) {
	return s.getSession(ctx, userID)
}

func (s *RedisStore) getGroup(ctx context.Context, groupID string) (*Group, error) {
	data, err := s.rdb.Get(ctx, groupKey(groupID)).Bytes()
	if err == redis.Nil {
		return nil, ErrGroupDoesntExist
	}
	if err != nil {
		return nil, err
	}
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *RedisStore) getSlot(ctx context.Context, slotID string) (*Slot, error) {
	data, err := s.rdb.Get(ctx, slotKey(slotID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sl Slot
	if err := json.Unmarshal(data, &sl); err != nil {
		return nil, err
	}
	return &sl, nil
}

func (s *RedisStore) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	return s.getGroup(ctx, groupID)
}

func (s *RedisStore) GetParty(ctx context.Context, partyID string) (*Party, error) {
	data, err := s.rdb.Get(ctx, partyKey(partyID)).Bytes()
	if err == redis.Nil {
		return nil, ErrPartyDoesntExist
	}
	if err != nil {
		return nil, err
	}
	var p Party
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func putJSON(pipe redis.Pipeliner, ctx context.Context, key string, v any) {
	b, _ := json.Marshal(v)
	pipe.Set(ctx, key, b, 0)
}

func (s *RedisStore) CreateGroup(ctx context.Context, userID string, gameID int) (string, error) {
	if _, _, err := s.capacity(ctx, gameID); err != nil {
		return "", ErrGameDoesntExist
	}

	var groupID string
	err := s.withRetry(ctx, []string{sessionKey(userID)}, func(tx *redis.Tx) error {
		if _, err := tx.Get(ctx, sessionKey(userID)).Result(); err == nil {
			return ErrPlayerInGroupAlready
		} else if err != redis.Nil {
			return err
		}

		groupID = uuid.New().String()
		group := &Group{GroupID: groupID, GameID: gameID, State: StateGroupCheck, Members: []string{userID}}
		sess := &UserSession{UserID: userID, GroupID: groupID, Ready: false}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			putJSON(pipe, ctx, groupKey(groupID), group)
			putJSON(pipe, ctx, sessionKey(userID), sess)
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return groupID, nil
}

func (s *RedisStore) JoinGroup(ctx context.Context, groupID, userID string) error {
	return s.withRetry(ctx, []string{sessionKey(userID), groupKey(groupID)}, func(tx *redis.Tx) error {
		if _, err := tx.Get(ctx, sessionKey(userID)).Result(); err == nil {
			return ErrPlayerInGroupAlready
		} else if err != redis.Nil {
			return err
		}
		group, err := s.getGroup(ctx, groupID)
		if err != nil {
			return err
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
		sess := &UserSession{UserID: userID, GroupID: groupID, Ready: false}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			putJSON(pipe, ctx, groupKey(groupID), group)
			putJSON(pipe, ctx, sessionKey(userID), sess)
			return nil
		})
		return err
	})
}

func (s *RedisStore) LeaveGroup(ctx context.Context, userID string) error {
	return s.withRetry(ctx, []string{sessionKey(userID)}, func(tx *redis.Tx) error {
		sess, err := s.getSession(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrPlayerNotInGroup
			}
			return err
		}
		group, err := s.getGroup(ctx, sess.GroupID)
		if err != nil {
			return ErrPlayerNotInGroup
		}
		if group.State != StateGroupCheck && group.State != StateInQueue {
			return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck, StateInQueue}}
		}

		var slotMutation func(pipe redis.Pipeliner) error
		if group.State == StateInQueue {
			slotMutation, err = s.leaveQueueMutation(ctx, group)
			if err != nil {
				return err
			}
		}

		group.Members = removeString(group.Members, userID)
		groupEmpty := len(group.Members) == 0

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if slotMutation != nil {
				if err := slotMutation(pipe); err != nil {
					return err
				}
			}
			pipe.Del(ctx, sessionKey(userID))
			if groupEmpty {
				pipe.Del(ctx, groupKey(group.GroupID))
			} else {
				putJSON(pipe, ctx, groupKey(group.GroupID), group)
			}
			return nil
		})
		return err
	})
}

func (s *RedisStore) MarkReady(ctx context.Context, userID string) error {
	return s.withRetry(ctx, []string{sessionKey(userID)}, func(tx *redis.Tx) error {
		sess, group, err := s.loadSessionAndGroup(ctx, userID)
		if err != nil {
			return err
		}
		if group.State != StateGroupCheck {
			return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck}}
		}
		sess.Ready = true
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			putJSON(pipe, ctx, sessionKey(userID), sess)
			return nil
		})
		return err
	})
}

func (s *RedisStore) MarkNotReady(ctx context.Context, userID string) error {
	return s.withRetry(ctx, []string{sessionKey(userID)}, func(tx *redis.Tx) error {
		sess, group, err := s.loadSessionAndGroup(ctx, userID)
		if err != nil {
			return err
		}
		switch group.State {
		case StateGroupCheck:
			sess.Ready = false
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				putJSON(pipe, ctx, sessionKey(userID), sess)
				return nil
			})
			return err
		case StateInQueue:
			slotMutation, err := s.leaveQueueMutation(ctx, group)
			if err != nil {
				return err
			}
			sess.Ready = false
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := slotMutation(pipe); err != nil {
					return err
				}
				putJSON(pipe, ctx, groupKey(group.GroupID), group)
				putJSON(pipe, ctx, sessionKey(userID), sess)
				return nil
			})
			return err
		default:
			return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck, StateInQueue}}
		}
	})
}

func (s *RedisStore) IsUserReady(ctx context.Context, userID string) (bool, error) {
	sess, err := s.getSession(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrPlayerNotInGroup
		}
		return false, err
	}
	return sess.Ready, nil
}

func (s *RedisStore) loadSessionAndGroup(ctx context.Context, userID string) (*UserSession, *Group, error) {
	sess, err := s.getSession(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrPlayerNotInGroup
		}
		return nil, nil, err
	}
	group, err := s.getGroup(ctx, sess.GroupID)
	if err != nil {
		return nil, nil, ErrPlayerNotInGroup
	}
	return sess, group, nil
}

// JoinQueue watches the game's queue list plus the group so the packing
// decision and the queue mutation land atomically.
func (s *RedisStore) JoinQueue(ctx context.Context, groupID string) error {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	watchKeys := []string{groupKey(groupID), queueKey(group.GameID)}

	var launch *Slot
	err = s.withRetry(ctx, watchKeys, func(tx *redis.Tx) error {
		group, err := s.getGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if group.State != StateGroupCheck {
			return &ErrWrongGroupState{Current: group.State, Allowed: []string{StateGroupCheck}}
		}
		for _, m := range group.Members {
			sess, err := s.getSession(ctx, m)
			if err != nil || !sess.Ready {
				return ErrGroupNotReady
			}
		}
		capacity, _, err := s.capacity(ctx, group.GameID)
		if err != nil {
			return ErrGameDoesntExist
		}

		slotIDs, err := tx.LRange(ctx, queueKey(group.GameID), 0, -1).Result()
		if err != nil {
			return err
		}

		group.State = StateInQueue
		m := len(group.Members)

		for _, sid := range slotIDs {
			slot, err := s.getSlot(ctx, sid)
			if err != nil {
				continue
			}
			k := len(slot.Players)
			if k+m < capacity {
				slot.Players = append(slot.Players, group.Members...)
				slot.Groups = append(slot.Groups, groupID)
				group.SlotID = sid
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					putJSON(pipe, ctx, groupKey(groupID), group)
					putJSON(pipe, ctx, slotKey(sid), slot)
					return nil
				})
				return err
			}
			if k+m == capacity {
				slot.Players = append(slot.Players, group.Members...)
				slot.Groups = append(slot.Groups, groupID)
				group.SlotID = sid
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					putJSON(pipe, ctx, groupKey(groupID), group)
					putJSON(pipe, ctx, slotKey(sid), slot)
					pipe.LRem(ctx, queueKey(group.GameID), 1, sid)
					return nil
				})
				if err == nil {
					launch = slot
				}
				return err
			}
		}

		sid := uuid.New().String()
		newSlot := &Slot{SlotID: sid, GameID: group.GameID, Players: append([]string{}, group.Members...), Groups: []string{groupID}}
		group.SlotID = sid
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			putJSON(pipe, ctx, groupKey(groupID), group)
			putJSON(pipe, ctx, slotKey(sid), newSlot)
			if m != capacity {
				pipe.RPush(ctx, queueKey(group.GameID), sid)
			}
			return nil
		})
		if err == nil && m == capacity {
			launch = newSlot
		}
		return err
	})
	if err != nil {
		return err
	}
	if launch != nil {
		go func() {
			if _, err := s.StartGame(context.Background(), launch.GameID, launch.SlotID); err != nil {
				return
			}
		}()
	}
	return nil
}

func (s *RedisStore) LeaveQueue(ctx context.Context, groupID string) error {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, []string{groupKey(groupID), queueKey(group.GameID)}, func(tx *redis.Tx) error {
		group, err := s.getGroup(ctx, groupID)
		if err != nil {
			return err
		}
		slotMutation, err := s.leaveQueueMutation(ctx, group)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := slotMutation(pipe); err != nil {
				return err
			}
			putJSON(pipe, ctx, groupKey(group.GroupID), group)
			return nil
		})
		return err
	})
}

// leaveQueueMutation mutates group in place (clearing slotId/state) and
// returns the pipelined slot-side effect to apply within the same
// transaction. Matches memory.go's leaveQueueLocked exactly.
func (s *RedisStore) leaveQueueMutation(ctx context.Context, group *Group) (func(pipe redis.Pipeliner) error, error) {
	if group.State != StateInQueue {
		return nil, &ErrWrongGroupState{Current: group.State, Allowed: []string{StateInQueue}}
	}
	slot, err := s.getSlot(ctx, group.SlotID)
	slotID := group.SlotID
	group.SlotID = ""
	group.State = StateGroupCheck
	if err != nil {
		return func(pipe redis.Pipeliner) error { return nil }, nil
	}

	slot.Groups = removeString(slot.Groups, group.GroupID)
	for _, member := range group.Members {
		slot.Players = removeString(slot.Players, member)
	}
	empty := len(slot.Players) == 0

	return func(pipe redis.Pipeliner) error {
		if empty {
			pipe.Del(ctx, slotKey(slotID))
			pipe.LRem(ctx, queueKey(slot.GameID), 1, slotID)
		} else {
			putJSON(pipe, ctx, slotKey(slotID), slot)
		}
		return nil
	}, nil
}

func (s *RedisStore) StartGame(ctx context.Context, gameID int, slotID string) (*Party, error) {
	var party *Party
	err := s.withRetry(ctx, []string{slotKey(slotID), assignedPortsKey}, func(tx *redis.Tx) error {
		slot, err := s.getSlot(ctx, slotID)
		if err != nil {
			return err
		}
		_, internalPorts, err := s.capacity(ctx, gameID)
		if err != nil {
			return ErrGameDoesntExist
		}

		assigned, err := tx.SMembers(ctx, assignedPortsKey).Result()
		if err != nil {
			return err
		}
		ports := s.allocatePorts(len(internalPorts), assigned)

		partyID := uuid.New().String()
		party = &Party{PartyID: partyID, GameID: gameID, SlotID: slotID, Host: s.gameHost, ExternalPorts: ports}

		groups := make([]*Group, 0, len(slot.Groups))
		for _, gid := range slot.Groups {
			g, err := s.getGroup(ctx, gid)
			if err != nil {
				continue
			}
			g.State = StatePlaying
			g.PartyID = partyID
			groups = append(groups, g)
		}
		sessions := make([]*UserSession, 0, len(slot.Players))
		for _, uid := range slot.Players {
			sess, err := s.getSession(ctx, uid)
			if err != nil {
				continue
			}
			sess.PartyID = partyID
			sessions = append(sessions, sess)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			putJSON(pipe, ctx, partyKey(partyID), party)
			for _, g := range groups {
				putJSON(pipe, ctx, groupKey(g.GroupID), g)
			}
			for _, sess := range sessions {
				putJSON(pipe, ctx, sessionKey(sess.UserID), sess)
			}
			for _, p := range ports {
				pipe.SAdd(ctx, assignedPortsKey, p)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, g := range groups {
			payload, _ := json.Marshal(map[string]any{"type": "game:starting", "partyid": partyID})
			_ = s.bus.Send(ctx, "group:"+g.GroupID, payload)
		}
		return nil
	})
	if err == nil && party != nil {
		if hook := s.launchHook(); hook != nil {
			p := *party
			go hook(context.Background(), gameID, &p)
		}
	}
	return party, err
}

func (s *RedisStore) allocatePorts(n int, assigned []string) []int {
	taken := make(map[int]bool, len(assigned))
	for _, a := range assigned {
		var p int
		fmt.Sscanf(a, "%d", &p)
		taken[p] = true
	}
	span := s.portStop - s.portStart
	ports := make([]int, 0, n)
	if span <= 0 {
		return ports
	}
	for len(ports) < n {
		picked := false
		for attempt := 0; attempt < 50; attempt++ {
			p := s.portStart + rand.Intn(span)
			if taken[p] {
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
			taken[p] = true
			picked = true
			break
		}
		if !picked {
			break
		}
	}
	return ports
}

func (s *RedisStore) EndGame(ctx context.Context, partyID string) error {
	return s.withRetry(ctx, []string{partyKey(partyID)}, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, partyKey(partyID)).Bytes()
		if err == redis.Nil {
			return ErrPartyDoesntExist
		}
		if err != nil {
			return err
		}
		var party Party
		if err := json.Unmarshal(data, &party); err != nil {
			return err
		}

		slot, slotErr := s.getSlot(ctx, party.SlotID)
		var groups []*Group
		var sessions []*UserSession
		if slotErr == nil {
			for _, gid := range slot.Groups {
				g, err := s.getGroup(ctx, gid)
				if err != nil {
					continue
				}
				g.State = StateGroupCheck
				g.PartyID = ""
				g.SlotID = ""
				groups = append(groups, g)
			}
			for _, uid := range slot.Players {
				sess, err := s.getSession(ctx, uid)
				if err != nil {
					continue
				}
				sess.PartyID = ""
				sessions = append(sessions, sess)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if slotErr == nil {
				pipe.Del(ctx, slotKey(party.SlotID))
			}
			for _, g := range groups {
				putJSON(pipe, ctx, groupKey(g.GroupID), g)
			}
			for _, sess := range sessions {
				putJSON(pipe, ctx, sessionKey(sess.UserID), sess)
			}
			for _, p := range party.ExternalPorts {
				pipe.SRem(ctx, assignedPortsKey, p)
			}
			pipe.Del(ctx, partyKey(partyID))
			return nil
		})
		if err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]any{"type": "game:over"})
		_ = s.bus.Send(ctx, "party:"+partyID, payload)
		return nil
	})
}

// withRetry runs fn inside a WATCH/MULTI transaction over keys, retrying on
// optimistic-lock conflicts up to maxTxRetries times, per the concurrency
// model's requirement that remote-backend mutations be expressed as
// transactions with bounded retry.
func (s *RedisStore) withRetry(ctx context.Context, keys []string, fn func(tx *redis.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			lastErr = err
			continue
		}
		return err
	}
	return lastErr
}
