package room

import (
	"sync"

	"github.com/pion/logging"
)

// Manager is the room directory: a linearizable get-or-create map
// keyed by room id, plus an opportunistic empty-room sweep.
type Manager struct {
	mu              sync.RWMutex
	rooms           map[string]*Room
	maxParticipants int
	logger          logging.LeveledLogger
}

// NewManager creates an empty room directory. maxParticipants bounds
// every room it creates; zero or negative means unlimited.
func NewManager(maxParticipants int, logger logging.LeveledLogger) *Manager {
	return &Manager{
		rooms:           make(map[string]*Room),
		maxParticipants: maxParticipants,
		logger:          logger,
	}
}

// GetOrCreateRoom returns the room for roomID, creating it if this is
// the first peer to reference it. Safe for concurrent callers racing
// to create the same room.
func (m *Manager) GetOrCreateRoom(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, exists := m.rooms[roomID]; exists {
		return r
	}
	r := NewRoom(roomID, m.maxParticipants, m.logger)
	m.rooms[roomID] = r
	return r
}

// GetRoom returns the room for roomID, or nil if it doesn't exist.
func (m *Manager) GetRoom(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// RoomCount returns the number of rooms currently tracked, including
// any that are momentarily empty but not yet swept.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Snapshot returns room id -> peer count for every tracked room, used
// by the /rooms operational endpoint.
func (m *Manager) Snapshot() map[string]int {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make(map[string]int, len(rooms))
	for _, r := range rooms {
		out[r.ID] = r.PeerCount()
	}
	return out
}

// CleanupEmptyRoom removes roomID if it exists and is still empty at
// the time it is re-checked under the manager's write lock. A no-op if
// the room is absent or has gained a peer since the caller last
// observed it empty. Reports whether it removed the room.
func (m *Manager) CleanupEmptyRoom(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.rooms[roomID]
	if !exists || !r.IsEmpty() {
		return false
	}
	delete(m.rooms, roomID)
	return true
}

// CleanupEmptyRooms removes every room that is still empty at the
// time it is re-checked under the manager lock. A room observed empty
// outside the lock might have gained a new peer by the time the sweep
// reaches it, so emptiness is always re-verified with both locks held
// before deletion.
func (m *Manager) CleanupEmptyRooms() int {
	m.mu.RLock()
	candidates := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if r.IsEmpty() {
			candidates = append(candidates, r)
		}
	}
	m.mu.RUnlock()

	if len(candidates) == 0 {
		return 0
	}

	removed := 0
	m.mu.Lock()
	for _, r := range candidates {
		if r.IsEmpty() {
			delete(m.rooms, r.ID)
			removed++
		}
	}
	m.mu.Unlock()
	return removed
}
