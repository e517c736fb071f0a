package launch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// roomSep joins the random token and the room ID inside a channel name. The
// suffix makes the binding self-describing: the relay can route a connection
// to its room from the name alone, with no side lookup.
const roomSep = "___"

// NewChannelName derives a channel name for one runner invocation. The name
// is unique per invocation (random token, not the room ID alone), so two
// rooms launched at the same instant cannot collide, and a relaunch of the
// same room never reuses a dead channel.
func NewChannelName(roomID string) string {
	return fmt.Sprintf("run-%s%s%s", uuid.New().String(), roomSep, roomID)
}

// RoomFromChannel extracts the room ID a channel name is bound to.
func RoomFromChannel(name string) (string, error) {
	idx := strings.LastIndex(name, roomSep)
	if idx < 0 || idx+len(roomSep) == len(name) {
		return "", fmt.Errorf("malformed channel name: %q", name)
	}
	return name[idx+len(roomSep):], nil
}
