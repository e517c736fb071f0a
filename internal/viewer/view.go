package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/coderoom-live/coderoom/internal/protocol"
)

const launchTimeout = 5 * time.Minute

// View wires a Reconciler to a relay server: it launches runs, consumes the
// live relay, and follows the fallback feed. One View serves one room.
type View struct {
	baseURL  string
	roomID   string
	rec      *Reconciler
	client   *http.Client
	onUpdate func(transcript string)

	mu     sync.Mutex
	liveWS *websocket.Conn
	feedWS *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewView creates a view of one room against a relay server base URL
// (e.g. http://localhost:8420). onUpdate is called with the full transcript
// after every change; it may be nil.
func NewView(baseURL, roomID string, onUpdate func(string)) *View {
	return &View{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		roomID:   roomID,
		rec:      NewReconciler(),
		client:   &http.Client{Timeout: launchTimeout},
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
}

// Reconciler exposes the view's state machine.
func (v *View) Reconciler() *Reconciler { return v.rec }

// Launch requests a run for the room and opens the live relay on the
// returned channel name. Repository metadata is best effort and may be nil.
func (v *View) Launch(ctx context.Context, repoURL string) (*protocol.Repository, error) {
	v.rec.LaunchRequested()

	body, err := json.Marshal(protocol.LaunchRequest{RepoURL: repoURL})
	if err != nil {
		v.rec.LaunchFailed(err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/rooms/"+v.roomID+"/launch", bytes.NewReader(body))
	if err != nil {
		v.rec.LaunchFailed(err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.rec.LaunchFailed(err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		lerr := fmt.Errorf("launch rejected (%s): %s", e.Code, e.Error)
		v.rec.LaunchFailed(lerr)
		return nil, lerr
	}

	var lr protocol.LaunchResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		v.rec.LaunchFailed(err)
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, v.wsURL("/ws/runs/"+lr.ChannelName), nil)
	if err != nil {
		rerr := &RelayError{Kind: RelayConnectFailed, Err: err}
		// The run is started; the fallback feed still covers the output.
		v.rec.LaunchFailed(rerr)
		return lr.Repository, rerr
	}

	v.mu.Lock()
	v.liveWS = ws
	v.mu.Unlock()

	v.rec.StreamOpened()
	go v.readLive(ws)

	return lr.Repository, nil
}

// FollowFeed subscribes to the room's fallback feed in the background,
// reconnecting with exponential backoff until the view is closed.
func (v *View) FollowFeed() {
	go v.feedLoop()
}

// Close tears down both connections. Idempotent; safe mid-launch.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		close(v.done)

		v.mu.Lock()
		if v.liveWS != nil {
			v.liveWS.Close()
		}
		if v.feedWS != nil {
			v.feedWS.Close()
		}
		v.mu.Unlock()

		v.rec.Close()
	})
}

func (v *View) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(v.baseURL, "http") + path
}

func (v *View) notify() {
	if v.onUpdate != nil {
		v.onUpdate(v.rec.Transcript())
	}
}

// readLive consumes live relay frames until the channel closes or the
// connection drops.
func (v *View) readLive(ws *websocket.Conn) {
	defer ws.Close()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-v.done:
				return
			default:
			}
			v.rec.StreamClosed(&RelayError{Kind: RelayUnexpectedClose, Err: err})
			v.notify()
			return
		}

		msg, err := protocol.ValidateServerMessage(raw)
		if err != nil {
			// Reject at the boundary; nothing malformed reaches the
			// reconciler.
			log.Printf("viewer: %v", &RelayError{Kind: RelayProtocolError, Err: err})
			continue
		}

		switch msg.Type {
		case protocol.TypeRunLine:
			var p protocol.RunLinePayload
			json.Unmarshal(msg.Payload, &p)
			v.rec.ApplyLine(p.Line)
			v.notify()

		case protocol.TypeRunClosed:
			v.rec.StreamClosed(nil)
			v.notify()
			return

		case protocol.TypeError:
			var p protocol.ErrorPayload
			json.Unmarshal(msg.Payload, &p)
			v.rec.StreamClosed(&RelayError{Kind: RelayUnexpectedClose, Err: fmt.Errorf("%s: %s", p.Code, p.Message)})
			v.notify()
			return
		}
	}
}

// feedLoop keeps a fallback subscription alive. The feed is the durability
// safety net, so connection failures retry indefinitely with backoff.
func (v *View) feedLoop() {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	for {
		select {
		case <-v.done:
			return
		default:
		}

		ws, _, err := websocket.DefaultDialer.Dial(v.wsURL("/ws/rooms/"+v.roomID+"/feed"), nil)
		if err != nil {
			log.Printf("viewer: feed subscribe for room %s: %v", v.roomID, err)
			select {
			case <-v.done:
				return
			case <-time.After(b.NextBackOff()):
			}
			continue
		}
		b.Reset()

		v.mu.Lock()
		v.feedWS = ws
		v.mu.Unlock()

		v.readFeed(ws)
	}
}

func (v *View) readFeed(ws *websocket.Conn) {
	defer ws.Close()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.ValidateServerMessage(raw)
		if err != nil {
			log.Printf("viewer: %v", &RelayError{Kind: RelayProtocolError, Err: err})
			continue
		}

		if msg.Type != protocol.TypeRoomSnapshot {
			continue
		}
		var p protocol.RoomSnapshotPayload
		json.Unmarshal(msg.Payload, &p)
		v.rec.ApplySnapshot(p.Output)
		v.notify()
	}
}
