package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coderoom-live/coderoom/internal/feed"
	"github.com/coderoom-live/coderoom/internal/launch"
	"github.com/coderoom-live/coderoom/internal/protocol"
	"github.com/coderoom-live/coderoom/internal/room"
)

const readWait = 3 * time.Second

type stubLauncher struct {
	channel string
	repo    *protocol.Repository
	err     error
	stopped []string
}

func (l *stubLauncher) Launch(ctx context.Context, roomID, repoURL string) (string, *protocol.Repository, error) {
	if l.err != nil {
		return "", nil, l.err
	}
	return l.channel, l.repo, nil
}

func (l *stubLauncher) Stop(roomID string) {
	l.stopped = append(l.stopped, roomID)
}

func newTestServer(t *testing.T, launcher Launcher) (*Server, *room.Store, *Hub) {
	t.Helper()
	dir := t.TempDir()
	store, err := room.OpenStore(filepath.Join(dir, "rooms.db"), filepath.Join(dir, "spool"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f, err := feed.New(store)
	if err != nil {
		t.Fatalf("feed.New failed: %v", err)
	}
	t.Cleanup(f.Shutdown)

	hub := NewHub()
	return New(hub, store, f, launcher), store, hub
}

func dialWS(t *testing.T, httpURL, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readMessage reads one validated protocol message from the socket.
func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(readWait))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	msg, err := protocol.ValidateServerMessage(raw)
	if err != nil {
		t.Fatalf("invalid message %s: %v", raw, err)
	}
	return msg
}

func TestServer_Handler(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	if srv.Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestServer_CreateRoom(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/rooms", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}

	var created room.Room
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(created.ID) != 6 {
		t.Errorf("expected 6-character room code, got %q", created.ID)
	}
	if created.State != room.StateCreated {
		t.Errorf("expected state created, got %s", created.State)
	}
}

func TestServer_GetRoomNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/rooms/NOPE00", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServer_GetRoomWithOutput(t *testing.T) {
	srv, store, _ := newTestServer(t, &stubLauncher{})
	handler := srv.Handler()

	r, _ := store.CreateRoom()
	store.AppendOutput(r.ID, "building\n")

	req := httptest.NewRequest("GET", "/rooms/"+r.ID, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var got room.Room
	json.NewDecoder(w.Body).Decode(&got)
	if got.Output != "building\n" {
		t.Errorf("expected output in response, got %q", got.Output)
	}
}

func TestServer_LaunchBadBody(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/rooms/ABC123/launch", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_LaunchMissingRepoURL(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/rooms/ABC123/launch", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_LaunchSuccess(t *testing.T) {
	launcher := &stubLauncher{
		channel: "run-token___ABC123",
		repo:    &protocol.Repository{Name: "example-voting-app", Owner: "docker"},
	}
	srv, _, _ := newTestServer(t, launcher)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/rooms/ABC123/launch",
		strings.NewReader(`{"repo_url":"https://github.com/docker/example-voting-app"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp protocol.LaunchResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ChannelName != launcher.channel {
		t.Errorf("expected channel %q, got %q", launcher.channel, resp.ChannelName)
	}
	if resp.Repository == nil || resp.Repository.Owner != "docker" {
		t.Errorf("expected repository metadata in response, got %+v", resp.Repository)
	}
}

func TestServer_LaunchErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already running", &launch.Error{Reason: launch.ReasonAlreadyRunning}, http.StatusConflict, protocol.ErrAlreadyRunning},
		{"invalid repository", &launch.Error{Reason: launch.ReasonInvalidRepository}, http.StatusUnprocessableEntity, protocol.ErrInvalidRepository},
		{"runner unavailable", &launch.Error{Reason: launch.ReasonRunnerUnavailable}, http.StatusBadGateway, protocol.ErrRunnerUnavailable},
		{"room not found", room.ErrNotFound, http.StatusNotFound, protocol.ErrRoomNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, &stubLauncher{err: tt.err})
			handler := srv.Handler()

			req := httptest.NewRequest("POST", "/rooms/ABC123/launch",
				strings.NewReader(`{"repo_url":"https://github.com/docker/example-voting-app"}`))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["code"] != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, body["code"])
			}
		})
	}
}

func TestServer_LiveRelayStreamsInOrder(t *testing.T) {
	srv, _, hub := newTestServer(t, &stubLauncher{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	channelName := "run-token___ABC123"
	hub.Register(channelName)

	ws := dialWS(t, ts.URL, "/ws/runs/"+channelName)

	lines := []string{"building", "running", "done"}
	for _, line := range lines {
		hub.Publish(channelName, line)
	}

	for i, want := range lines {
		msg := readMessage(t, ws)
		if msg.Type != protocol.TypeRunLine {
			t.Fatalf("message %d: expected %s, got %s", i, protocol.TypeRunLine, msg.Type)
		}
		var p protocol.RunLinePayload
		json.Unmarshal(msg.Payload, &p)
		if p.Line != want {
			t.Errorf("message %d: expected line %q, got %q", i, want, p.Line)
		}
	}

	hub.CloseChannel(channelName, 0, "run finished")

	msg := readMessage(t, ws)
	if msg.Type != protocol.TypeRunClosed {
		t.Fatalf("expected %s, got %s", protocol.TypeRunClosed, msg.Type)
	}
	var p protocol.RunClosedPayload
	json.Unmarshal(msg.Payload, &p)
	if p.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", p.ExitCode)
	}
}

func TestServer_LiveRelayUnknownChannel(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws := dialWS(t, ts.URL, "/ws/runs/run-never-registered___XXXXXX")

	msg := readMessage(t, ws)
	if msg.Type != protocol.TypeError {
		t.Fatalf("expected error message, got %s", msg.Type)
	}
	var p protocol.ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != protocol.ErrUnknownChannel {
		t.Errorf("expected code %s, got %s", protocol.ErrUnknownChannel, p.Code)
	}
}

func TestServer_LiveRelayNoReplay(t *testing.T) {
	srv, _, hub := newTestServer(t, &stubLauncher{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	channelName := "run-token___ABC123"
	hub.Register(channelName)

	// Lines published before the viewer connects are not replayed.
	hub.Publish(channelName, "before connect")

	ws := dialWS(t, ts.URL, "/ws/runs/"+channelName)

	// Give the earlier publish a chance to have been (wrongly) delivered.
	time.Sleep(100 * time.Millisecond)
	hub.Publish(channelName, "after connect")

	msg := readMessage(t, ws)
	var p protocol.RunLinePayload
	json.Unmarshal(msg.Payload, &p)
	if p.Line != "after connect" {
		t.Errorf("expected only post-connect lines, got %q", p.Line)
	}
}

func TestServer_FallbackFeedDeliversSnapshots(t *testing.T) {
	srv, store, _ := newTestServer(t, &stubLauncher{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	r, _ := store.CreateRoom()
	ws := dialWS(t, ts.URL, "/ws/rooms/"+r.ID+"/feed")

	store.AppendOutput(r.ID, "building\n")
	store.AppendOutput(r.ID, "running\n")

	// Snapshots are whole values; keep reading until the latest transcript
	// arrives.
	deadline := time.Now().Add(readWait)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for converged snapshot")
		}
		msg := readMessage(t, ws)
		if msg.Type != protocol.TypeRoomSnapshot {
			t.Fatalf("expected %s, got %s", protocol.TypeRoomSnapshot, msg.Type)
		}
		var p protocol.RoomSnapshotPayload
		json.Unmarshal(msg.Payload, &p)
		if p.Output == "building\nrunning\n" {
			return
		}
	}
}

func TestServer_FallbackFeedUnknownRoom(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws := dialWS(t, ts.URL, "/ws/rooms/NOPE00/feed")

	msg := readMessage(t, ws)
	if msg.Type != protocol.TypeError {
		t.Fatalf("expected error message, got %s", msg.Type)
	}
}

func TestServer_StopUnknownRoom(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubLauncher{})
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/rooms/NOPE00/stop", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
