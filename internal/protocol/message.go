package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Viewer message types.
const (
	TypeRunLine      = "run.line"
	TypeRunClosed    = "run.closed"
	TypeRoomSnapshot = "room.snapshot"
	TypeError        = "error"
)

// Error codes.
const (
	ErrRoomNotFound      = "ROOM_NOT_FOUND"
	ErrAlreadyRunning    = "ALREADY_RUNNING"
	ErrInvalidRepository = "INVALID_REPOSITORY"
	ErrRunnerUnavailable = "RUNNER_UNAVAILABLE"
	ErrUnknownChannel    = "UNKNOWN_CHANNEL"
	ErrInvalidMessage    = "INVALID_MESSAGE"
)

// RunLinePayload carries one line of runner output on the live path.
type RunLinePayload struct {
	Channel string `json:"channel"`
	Line    string `json:"line"`
}

// RunClosedPayload signals that a live channel is permanently closed.
type RunClosedPayload struct {
	Channel  string `json:"channel"`
	ExitCode int    `json:"exitCode"`
	Reason   string `json:"reason"`
}

// RoomSnapshotPayload carries the full persisted transcript of a room.
// Snapshots are whole values, not deltas.
type RoomSnapshotPayload struct {
	RoomID    string `json:"roomId"`
	Output    string `json:"output"`
	UpdatedAt string `json:"updatedAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// REST payloads.

// LaunchRequest is the body of POST /rooms/{id}/launch.
type LaunchRequest struct {
	RepoURL string `json:"repo_url"`
}

// LaunchResponse is returned when a run has been started.
type LaunchResponse struct {
	ChannelName string      `json:"channel_name"`
	Repository  *Repository `json:"repository,omitempty"`
}

// Repository is display metadata for an imported repository. Best effort;
// absent when the metadata lookup failed.
type Repository struct {
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	URL       string `json:"url"`
	AvatarURL string `json:"avatar_url"`
}
