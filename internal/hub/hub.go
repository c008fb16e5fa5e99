package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/metrics"
)

// Hub fans events out to the sessions connected to each thread. Fan-out is
// fire-and-forget per member: a slow session gets its event dropped rather
// than blocking the group, and a failed delivery never unwinds a persisted
// message. Threads never block each other.
type Hub struct {
	mu     sync.Mutex
	groups map[uuid.UUID]map[*Session]struct{}
	locks  map[uuid.UUID]*publishLock
	logger zerolog.Logger
}

type publishLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		groups: make(map[uuid.UUID]map[*Session]struct{}),
		locks:  make(map[uuid.UUID]*publishLock),
		logger: logger,
	}
}

// Join subscribes a session to a thread's broadcast group.
func (h *Hub) Join(threadID uuid.UUID, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[threadID]
	if !ok {
		group = make(map[*Session]struct{})
		h.groups[threadID] = group
	}
	group[s] = struct{}{}
	metrics.SocketsActive.Inc()
}

// Leave unsubscribes a session. Safe to call for a session that never
// joined or already left.
func (h *Hub) Leave(threadID uuid.UUID, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[threadID]
	if !ok {
		return
	}
	if _, member := group[s]; !member {
		return
	}
	delete(group, s)
	metrics.SocketsActive.Dec()
	if len(group) == 0 {
		delete(h.groups, threadID)
	}
}

// GroupSize reports how many sessions are subscribed to a thread.
func (h *Hub) GroupSize(threadID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[threadID])
}

// LockPublish acquires the thread's publish lock. Holding it across
// persist-then-broadcast makes receivers observe events in store commit
// order. Locks are per thread; publishing to thread A never waits on
// thread B.
func (h *Hub) LockPublish(threadID uuid.UUID) {
	h.mu.Lock()
	l, ok := h.locks[threadID]
	if !ok {
		l = &publishLock{}
		h.locks[threadID] = l
	}
	l.refs++
	h.mu.Unlock()

	l.mu.Lock()
}

// UnlockPublish releases the thread's publish lock.
func (h *Hub) UnlockPublish(threadID uuid.UUID) {
	h.mu.Lock()
	l, ok := h.locks[threadID]
	h.mu.Unlock()
	if !ok {
		return
	}

	l.mu.Unlock()

	h.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(h.locks, threadID)
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every session in the thread's group,
// skipping except (the originating connection, which already holds its own
// confirmation). Delivery to each member is non-blocking.
func (h *Hub) Broadcast(threadID uuid.UUID, event any, except *Session) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("thread", threadID.String()).Msg("event marshal failed")
		return
	}

	h.mu.Lock()
	members := make([]*Session, 0, len(h.groups[threadID]))
	for s := range h.groups[threadID] {
		if s != except {
			members = append(members, s)
		}
	}
	h.mu.Unlock()

	for _, s := range members {
		s.enqueue(payload)
	}
}
