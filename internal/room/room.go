package room

import (
	"crypto/rand"
	"fmt"
	"time"
)

// State represents the lifecycle state of a room.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateIdle    State = "idle"
)

// Room is a persistent session container linking a viewer invitation to one
// runner lifecycle. Output is append-only and accumulated by the runner.
type Room struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Output    string    `json:"output"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 6
)

// NewID generates a 6-character room code over [A-Z0-9].
func NewID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf), nil
}
