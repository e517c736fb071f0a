package relay

import (
	"encoding/json"
	"sync"

	"github.com/coderoom-live/coderoom/internal/protocol"
)

// Hub routes live output lines to the viewer connections subscribed to each
// channel name. A channel exists from Register until CloseChannel; once
// closed it is permanently dead and cannot be reopened. Lines published
// before a connection opens are not replayed on this path; the fallback feed
// covers that gap.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	conns map[*conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*channel)}
}

// Register arms a channel name for publishing. Called by the launch
// coordinator once a runner invocation has started.
func (h *Hub) Register(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.channels[name]; !exists {
		h.channels[name] = &channel{conns: make(map[*conn]bool)}
	}
}

// Publish delivers one output line to every connection on the channel, in
// call order per connection. Unknown channels are ignored.
func (h *Hub) Publish(name, line string) {
	msg, err := protocol.NewMessage(protocol.TypeRunLine, protocol.RunLinePayload{
		Channel: name,
		Line:    line,
	})
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)

	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[name]
	if !ok {
		return
	}
	for c := range ch.conns {
		c.trySend(data)
	}
}

// CloseChannel announces the end of the run to every connection and kills
// the channel. Subsequent opens fail with an unknown-channel error.
func (h *Hub) CloseChannel(name string, exitCode int, reason string) {
	msg, err := protocol.NewMessage(protocol.TypeRunClosed, protocol.RunClosedPayload{
		Channel:  name,
		ExitCode: exitCode,
		Reason:   reason,
	})
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)

	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[name]
	if !ok {
		return
	}
	delete(h.channels, name)
	for c := range ch.conns {
		c.trySend(data)
		c.closeSend()
	}
}

// attach adds a viewer connection to a channel. Returns false when the
// channel does not exist (never registered, or already closed).
func (h *Hub) attach(name string, c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[name]
	if !ok {
		return false
	}
	ch.conns[c] = true
	return true
}

// detach removes a viewer connection. Safe if the channel is already gone.
func (h *Hub) detach(name string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.channels[name]; ok {
		delete(ch.conns, c)
	}
}

// Active reports whether a channel is currently registered.
func (h *Hub) Active(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.channels[name]
	return ok
}
