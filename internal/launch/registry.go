package launch

import (
	"sync"

	"github.com/coderoom-live/coderoom/internal/runner"
)

// registry tracks the active runner handle per room. It enforces the only
// cross-session invariant: at most one active runner per room.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	channelName string
	run         runner.Run
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

// reserve claims the room for a new launch. Returns false when a launch is
// already active (or in flight) for the room.
func (r *registry) reserve(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[roomID]; exists {
		return false
	}
	r.sessions[roomID] = &session{}
	return true
}

// activate fills in the handle for a reserved room once the runner started.
func (r *registry) activate(roomID, channelName string, run runner.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[roomID]; ok {
		s.channelName = channelName
		s.run = run
	}
}

// release frees the room. Safe if the room is not registered.
func (r *registry) release(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, roomID)
}

// get returns the active session for a room, if any.
func (r *registry) get(roomID string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// roomIDs returns the rooms with an active or in-flight launch.
func (r *registry) roomIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
