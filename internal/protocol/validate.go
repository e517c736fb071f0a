package protocol

import (
	"encoding/json"
	"fmt"
)

// validServerTypes is the set of allowed server→viewer message types.
var validServerTypes = map[string]bool{
	TypeRunLine:      true,
	TypeRunClosed:    true,
	TypeRoomSnapshot: true,
	TypeError:        true,
}

// ValidateServerMessage validates a raw JSON message received from the
// server before it is handed to the viewer's reconciler. Returns the parsed
// Message and any validation error.
func ValidateServerMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validServerTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeRunLine:
		var p RunLinePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Channel == "" {
			return nil, fmt.Errorf("missing required field 'channel' in %s payload", msg.Type)
		}

	case TypeRunClosed:
		var p RunClosedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Channel == "" {
			return nil, fmt.Errorf("missing required field 'channel' in %s payload", msg.Type)
		}

	case TypeRoomSnapshot:
		var p RoomSnapshotPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.RoomID == "" {
			return nil, fmt.Errorf("missing required field 'roomId' in %s payload", msg.Type)
		}

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Code == "" {
			return nil, fmt.Errorf("missing required field 'code' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to a viewer.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
