package hub

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-games/conclave-services/pkg/protocol"
)

// Outbound frames buffered per session before the session is declared dead.
const sessionSendBuffer = 32

// Session is one live connection registered under a game. It is a handle
// over the outbound frame queue, not the socket itself; the transport layer
// drains Out() and owns the actual writes. A player may have any number of
// concurrent sessions, and dropping a session never removes the player.
type Session struct {
	ID     string
	GameID uuid.UUID
	UserID string

	mu   sync.Mutex
	dead bool
	out  chan []byte
}

// Out is the frame stream for this session. It is closed when the session
// is unregistered or declared dead.
func (s *Session) Out() <-chan []byte {
	return s.out
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	s.dead = true
	close(s.out)
}

type room struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// Hub is the session registry and broadcast fan-out, sharded by game id.
// The registry lock only guards the room map; each room has its own lock,
// so traffic on one game never contends with another, and no lock is held
// while frames are handed to a session's queue.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[uuid.UUID]*room)}
}

// Register adds a session for gameID and returns its handle.
func (h *Hub) Register(gameID uuid.UUID, userID string) *Session {
	s := &Session{
		ID:     uuid.New().String(),
		GameID: gameID,
		UserID: userID,
		out:    make(chan []byte, sessionSendBuffer),
	}

	h.mu.Lock()
	r, ok := h.rooms[gameID]
	if !ok {
		r = &room{sessions: make(map[string]*Session)}
		h.rooms[gameID] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Infof("session %s registered for game %s", s.ID, gameID)
	return s
}

// Unregister removes the session and closes its frame stream. The player
// stays in the game: disconnecting is not leaving. Empty rooms are dropped.
func (h *Hub) Unregister(s *Session) {
	h.mu.RLock()
	r, ok := h.rooms[s.GameID]
	h.mu.RUnlock()
	if !ok {
		s.close()
		return
	}

	r.mu.Lock()
	delete(r.sessions, s.ID)
	empty := len(r.sessions) == 0
	r.mu.Unlock()

	s.close()

	if empty {
		h.mu.Lock()
		// Re-check under the registry lock: a new session may have raced in.
		r.mu.Lock()
		if len(r.sessions) == 0 {
			delete(h.rooms, s.GameID)
		}
		r.mu.Unlock()
		h.mu.Unlock()
	}
}

// Broadcast encodes the event once and delivers it to every session of the
// game, best effort. A session whose queue is full is declared dead and
// removed so one slow client cannot stall the rest.
func (h *Hub) Broadcast(gameID uuid.UUID, event protocol.ServerEvent) {
	frame, err := protocol.EncodeEvent(event)
	if err != nil {
		log.Errorf("failed to encode %s event: %v", event.EventType(), err)
		return
	}

	h.mu.RLock()
	r, ok := h.rooms[gameID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	members := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		members = append(members, s)
	}
	r.mu.Unlock()

	var dead []*Session
	for _, s := range members {
		if !s.enqueue(frame) {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		log.Warnf("session %s too slow, dropping from game %s", s.ID, gameID)
		h.Unregister(s)
	}
}

// Send delivers an event to a single session only, used for the initial
// snapshot on join and for per-session error events.
func (h *Hub) Send(s *Session, event protocol.ServerEvent) {
	frame, err := protocol.EncodeEvent(event)
	if err != nil {
		log.Errorf("failed to encode %s event: %v", event.EventType(), err)
		return
	}
	if !s.enqueue(frame) {
		h.Unregister(s)
	}
}

// enqueue hands a frame to the session's queue without blocking. The dead
// flag is checked under the session lock so a concurrent Unregister cannot
// close the queue mid-send.
func (s *Session) enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return false
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

// SessionCount reports how many sessions are registered for a game.
func (h *Hub) SessionCount(gameID uuid.UUID) int {
	h.mu.RLock()
	r, ok := h.rooms[gameID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
