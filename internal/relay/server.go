package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coderoom-live/coderoom/internal/feed"
	"github.com/coderoom-live/coderoom/internal/protocol"
	"github.com/coderoom-live/coderoom/internal/room"
)

const timeLayout = time.RFC3339Nano

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Launcher is the launch surface the HTTP layer exposes.
type Launcher interface {
	Launch(ctx context.Context, roomID, repoURL string) (string, *protocol.Repository, error)
	Stop(roomID string)
}

// Server exposes the relay over HTTP: the live-output WebSocket, the
// fallback-feed WebSocket, and the room REST endpoints.
type Server struct {
	hub      *Hub
	store    *room.Store
	feed     *feed.Feed
	launcher Launcher
}

// New creates a relay server.
func New(hub *Hub, store *room.Store, f *feed.Feed, launcher Launcher) *Server {
	return &Server{hub: hub, store: store, feed: f, launcher: launcher}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoints.
	mux.HandleFunc("GET /ws/runs/{channel}", s.handleLiveRelay)
	mux.HandleFunc("GET /ws/rooms/{id}/feed", s.handleFallbackFeed)

	// REST API endpoints.
	mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /rooms", s.handleListRooms)
	mux.HandleFunc("GET /rooms/{id}", s.handleGetRoom)
	mux.HandleFunc("POST /rooms/{id}/launch", s.handleLaunch)
	mux.HandleFunc("POST /rooms/{id}/stop", s.handleStop)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleLiveRelay attaches a viewer to a run's live output channel. Opening
// a name that was never registered, or whose run already ended, yields an
// error event and an immediate close: dead channels cannot be reopened.
func (s *Server) handleLiveRelay(w http.ResponseWriter, r *http.Request) {
	channelName := r.PathValue("channel")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: websocket upgrade error: %v", err)
		return
	}

	c := newConn(ws)
	if !s.hub.attach(channelName, c) {
		sendErrorAndClose(c, protocol.ErrUnknownChannel, "channel not found or already closed")
		go c.writePump()
		go c.readPump(func() {})
		return
	}

	go c.writePump()
	go c.readPump(func() {
		s.hub.detach(channelName, c)
		c.closeSend()
	})
}

// handleFallbackFeed streams room snapshots to a viewer whenever the
// persisted room record changes.
func (s *Server) handleFallbackFeed(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: websocket upgrade error: %v", err)
		return
	}

	c := newConn(ws)

	subID, snapshots, err := s.feed.Subscribe(roomID)
	if err != nil {
		sendErrorAndClose(c, protocol.ErrRoomNotFound, err.Error())
		go c.writePump()
		go c.readPump(func() {})
		return
	}

	// Forward snapshots until the subscription ends.
	go func() {
		for snap := range snapshots {
			msg, merr := protocol.NewMessage(protocol.TypeRoomSnapshot, protocol.RoomSnapshotPayload{
				RoomID:    snap.RoomID,
				Output:    snap.Output,
				UpdatedAt: snap.UpdatedAt.Format(timeLayout),
			})
			if merr != nil {
				continue
			}
			data, _ := json.Marshal(msg)
			c.trySend(data)
		}
		c.closeSend()
	}()

	go c.writePump()
	go c.readPump(func() {
		s.feed.Unsubscribe(roomID, subID)
	})
}

func sendErrorAndClose(c *conn, code, message string) {
	if msg, err := protocol.NewErrorMessage(code, message); err == nil {
		data, _ := json.Marshal(msg)
		c.trySend(data)
	}
	c.closeSend()
}
