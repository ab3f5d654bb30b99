package server

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/bg9m9r/whispr-sub001/pkg/model"
	"github.com/bg9m9r/whispr-sub001/pkg/protocol"
)

// SessionManager tracks every live control-plane connection. A session is
// created the moment a TLS connection is accepted — before login succeeds
// — so the Unauthenticated state has somewhere to live; model.Session.
// Authenticated() reports whether login has completed.
type SessionManager struct {
	mu         sync.RWMutex
	sessions   map[uint64]*model.Session
	conns      map[uint64]net.Conn
	writeLocks map[uint64]*sync.Mutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:   make(map[uint64]*model.Session),
		conns:      make(map[uint64]net.Conn),
		writeLocks: make(map[uint64]*sync.Mutex),
	}
}

// Create registers a fresh, unauthenticated session bound to conn.
func (sm *SessionManager) Create(conn net.Conn) *model.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var id uint64
	for {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id = binary.BigEndian.Uint64(b[:])
		if id == 0 {
			continue
		}
		if _, exists := sm.sessions[id]; !exists {
			break
		}
	}

	sess := &model.Session{ID: id}
	sm.sessions[id] = sess
	sm.conns[id] = conn
	sm.writeLocks[id] = &sync.Mutex{}
	return sess
}

// Authenticate binds a session to the user who just logged in.
func (sm *SessionManager) Authenticate(id uint64, userID uuid.UUID, username string, role model.SystemRole) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[id]; ok {
		s.UserID = userID
		s.Username = username
		s.Role = role
	}
}

// Get returns a snapshot copy of a session.
func (sm *SessionManager) Get(id uint64) (model.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// GetByUserID finds the session belonging to an authenticated user.
func (sm *SessionManager) GetByUserID(userID uuid.UUID) (model.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		if s.UserID == userID {
			return *s, true
		}
	}
	return model.Session{}, false
}

// SetChannel records which channel a session currently occupies.
func (sm *SessionManager) SetChannel(id uint64, channelID uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[id]; ok {
		s.ChannelID = channelID
	}
}

// SetRole updates the cached role of an online session, used when an
// admin changes a user's role while they're connected.
func (sm *SessionManager) SetRole(id uint64, role model.SystemRole) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[id]; ok {
		s.Role = role
	}
}

// Remove drops a session and its connection entry.
func (sm *SessionManager) Remove(id uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
	delete(sm.conns, id)
	delete(sm.writeLocks, id)
}

// Conn returns the TLS connection backing a session, for sending
// out-of-band events (broadcasts, kicks).
func (sm *SessionManager) Conn(id uint64) (net.Conn, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	c, ok := sm.conns[id]
	return c, ok
}

// WriteFrame sends frame to id's connection. Writes to the same connection
// are serialized against each other here: a broadcast from another
// goroutine and that connection's own read loop can otherwise race and
// interleave frame bytes on the wire.
func (sm *SessionManager) WriteFrame(id uint64, frame *protocol.Frame) error {
	sm.mu.RLock()
	conn, ok := sm.conns[id]
	lock := sm.writeLocks[id]
	sm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("server: session %d not connected", id)
	}
	lock.Lock()
	defer lock.Unlock()
	return protocol.WriteFrame(conn, frame)
}

// Count returns the number of live connections, authenticated or not.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ConnsFor returns the connections for a set of session IDs, skipping any
// that have since disconnected.
func (sm *SessionManager) ConnsFor(ids []uint64) []net.Conn {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	conns := make([]net.Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := sm.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// AllAuthenticated returns a snapshot of every session that has completed
// login, used for server-wide broadcasts.
func (sm *SessionManager) AllAuthenticated() []model.Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]model.Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		if s.Authenticated() {
			result = append(result, *s)
		}
	}
	return result
}

// SessionIDsForUsers maps a set of userIDs to their live session IDs,
// skipping users who aren't currently connected.
func (sm *SessionManager) SessionIDsForUsers(userIDs []uuid.UUID) []uint64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	result := make([]uint64, 0, len(userIDs))
	for sid, s := range sm.sessions {
		if want[s.UserID] {
			result = append(result, sid)
		}
	}
	return result
}
