// Package stream is the HTTP stream multiplexer: it exposes long-lived
// streaming endpoints that transport MSG payloads to a single subscriber,
// framed as one JSON object followed by the record-separator byte 0x1E.
// Retargets the teacher's Hub/Client shape (internal/ws/handler.go) from a
// websocket.Conn onto http.ResponseWriter/http.Flusher, since the external
// interface here is plain HTTP streaming with no upgrade handshake.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/playpool/matchcore/internal/msgbus"
)

const recordSeparator = 0x1E

// stopSignal is a set-once flag shared by a connection's forwarder and
// heartbeat tasks. The forwarder, the heartbeat, the request context, and
// an admin kick can all race to trigger it, so closing the channel is
// guarded by sync.Once rather than a close-if-not-closed select, which is
// not itself safe against concurrent callers.
type stopSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newStopSignal() *stopSignal {
	return &stopSignal{ch: make(chan struct{})}
}

func (s *stopSignal) trigger() {
	s.once.Do(func() { close(s.ch) })
}

// Multiplexer tracks, per connection, a forwarder task and a heartbeat
// task sharing one stop signal, plus a process-global index from
// (topic-kind, userId) to every live stop signal of that kind so an admin
// kick can close every matching connection at once.
type Multiplexer struct {
	bus               msgbus.Bus
	heartbeatInterval time.Duration
	greetingDelay     time.Duration

	mu    sync.Mutex
	index map[string]map[*stopSignal]struct{}
}

func New(bus msgbus.Bus, heartbeatInterval, greetingDelay time.Duration) *Multiplexer {
	return &Multiplexer{
		bus:               bus,
		heartbeatInterval: heartbeatInterval,
		greetingDelay:     greetingDelay,
		index:             make(map[string]map[*stopSignal]struct{}),
	}
}

func indexKey(topicKind, userID string) string {
	return topicKind + ":" + userID
}

// Serve blocks for the lifetime of one streaming connection: it subscribes
// to topic, schedules the delayed greeting, and runs the forwarder and
// heartbeat tasks until either observes a closed transport, the request
// context is cancelled, or an admin kick fires the stop signal.
func (m *Multiplexer) Serve(ctx context.Context, w http.ResponseWriter, topicKind, userID, topic string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream: response writer does not support flushing")
	}

	sub, err := m.bus.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	defer sub.Close()

	stop := newStopSignal()
	key := indexKey(topicKind, userID)
	m.mu.Lock()
	if m.index[key] == nil {
		m.index[key] = make(map[*stopSignal]struct{})
	}
	m.index[key][stop] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.index[key], stop)
		if len(m.index[key]) == 0 {
			delete(m.index, key)
		}
		m.mu.Unlock()
	}()

	greetingTimer := time.AfterFunc(m.greetingDelay, func() {
		payload, _ := json.Marshal(map[string]any{"type": "server:notice", "notice": "subed to " + topic})
		_ = m.bus.Send(ctx, topic, payload)
	})
	defer greetingTimer.Stop()

	var writeMu sync.Mutex
	write := func(payload []byte) bool {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := w.Write(payload); err != nil {
			return false
		}
		if _, err := w.Write([]byte{recordSeparator}); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	go m.forward(sub, write, stop)
	go m.heartbeat(write, stop)

	select {
	case <-stop.ch:
	case <-ctx.Done():
		stop.trigger()
	}
	return nil
}

func (m *Multiplexer) forward(sub msgbus.Subscription, write func([]byte) bool, stop *stopSignal) {
	for {
		select {
		case payload, ok := <-sub.Chan():
			if !ok {
				stop.trigger()
				return
			}
			if !write(payload) {
				stop.trigger()
				return
			}
		case <-stop.ch:
			return
		}
	}
}

func (m *Multiplexer) heartbeat(write func([]byte) bool, stop *stopSignal) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	payload, _ := json.Marshal(map[string]any{"type": "heartbeat"})
	for {
		select {
		case <-ticker.C:
			if !write(payload) {
				stop.trigger()
				return
			}
		case <-stop.ch:
			return
		}
	}
}

// Kick sets the stop signal of every connection of the given kind for
// userID, returning how many were closed.
func (m *Multiplexer) Kick(topicKind, userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey(topicKind, userID)
	n := 0
	for stop := range m.index[key] {
		stop.trigger()
		n++
	}
	return n
}

// Shutdown sets every live stop signal, used during process shutdown.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stops := range m.index {
		for stop := range stops {
			stop.trigger()
		}
	}
	log.Printf("[STREAM] shutdown: all connections signalled to close")
}
