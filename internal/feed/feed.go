// Package feed implements the durable fallback delivery path: a
// change-notification subscription over persisted room state. It watches the
// store's spool directory and hands subscribers the full current transcript
// whenever a room record changes. Higher latency than the live relay,
// snapshot-based, survives disconnects.
package feed

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/coderoom-live/coderoom/internal/room"
)

const (
	debounceInterval = 150 * time.Millisecond
	subscriberBufCap = 16
	maxLoadRetries   = 4
)

// Snapshot is the full current output of a room, not a delta.
type Snapshot struct {
	RoomID    string
	Output    string
	UpdatedAt time.Time
}

// Feed watches the room store's spool directory and fans snapshots out to
// per-room subscribers.
type Feed struct {
	store     *room.Store
	fsWatcher *fsnotify.Watcher

	mu     sync.Mutex
	subs   map[string]map[string]chan Snapshot // roomID → subID → channel
	timers map[string]*time.Timer              // roomID → debounce timer

	done     chan struct{}
	shutOnce sync.Once
}

// New creates a feed over the store's spool directory and starts its event
// loop.
func New(store *room.Store) (*Feed, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsW.Add(store.SpoolDir()); err != nil {
		fsW.Close()
		return nil, err
	}

	f := &Feed{
		store:     store,
		fsWatcher: fsW,
		subs:      make(map[string]map[string]chan Snapshot),
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	go f.watchLoop()
	return f, nil
}

// Subscribe registers for snapshot updates of one room. The current snapshot
// is delivered first so late subscribers converge without waiting for the
// next store update. Returns a subscription ID for Unsubscribe.
func (f *Feed) Subscribe(roomID string) (string, <-chan Snapshot, error) {
	if _, err := f.store.GetRoom(roomID); err != nil {
		return "", nil, err
	}

	subID := uuid.New().String()
	ch := make(chan Snapshot, subscriberBufCap)

	f.mu.Lock()
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[string]chan Snapshot)
	}
	f.subs[roomID][subID] = ch
	f.mu.Unlock()

	go f.publish(roomID)

	return subID, ch, nil
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (f *Feed) Unsubscribe(roomID, subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[roomID][subID]; ok {
		close(ch)
		delete(f.subs[roomID], subID)
		if len(f.subs[roomID]) == 0 {
			delete(f.subs, roomID)
		}
	}
}

// Shutdown stops the watcher and closes all subscriber channels.
func (f *Feed) Shutdown() {
	f.shutOnce.Do(func() {
		close(f.done)
		f.fsWatcher.Close()

		f.mu.Lock()
		for roomID, subs := range f.subs {
			for subID, ch := range subs {
				close(ch)
				delete(subs, subID)
			}
			delete(f.subs, roomID)
		}
		for roomID, timer := range f.timers {
			timer.Stop()
			delete(f.timers, roomID)
		}
		f.mu.Unlock()
	})
}

// watchLoop processes fsnotify events with per-room debouncing.
func (f *Feed) watchLoop() {
	for {
		select {
		case <-f.done:
			return

		case event, ok := <-f.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			roomID := room.RoomFromSpoolPath(event.Name)
			if roomID == "" {
				continue
			}
			f.scheduleDebounced(roomID)

		case err, ok := <-f.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("feed: watcher error: %v", err)
		}
	}
}

// scheduleDebounced resets the room's debounce timer. Spool rewrites arrive
// in bursts while a runner is streaming; only the settled state matters
// because snapshots are whole values.
func (f *Feed) scheduleDebounced(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if timer, ok := f.timers[roomID]; ok {
		timer.Stop()
	}
	f.timers[roomID] = time.AfterFunc(debounceInterval, func() {
		f.publish(roomID)
	})
}

// publish loads the room's current snapshot and fans it out to subscribers.
// Store reads are retried with exponential backoff; the store is the
// durability safety net, so transient failures must not kill the
// subscription.
func (f *Feed) publish(roomID string) {
	f.mu.Lock()
	hasSubs := len(f.subs[roomID]) > 0
	f.mu.Unlock()
	if !hasSubs {
		return
	}

	var r *room.Room
	op := func() error {
		var err error
		r, err = f.store.GetRoom(roomID)
		if err != nil {
			if errors.Is(err, room.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxLoadRetries)); err != nil {
		log.Printf("feed: load snapshot for room %s: %v", roomID, err)
		return
	}

	snap := Snapshot{RoomID: r.ID, Output: r.Output, UpdatedAt: r.UpdatedAt}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[roomID] {
		select {
		case ch <- snap:
		default:
			// Subscriber buffer full; a newer snapshot supersedes this one.
		}
	}
}
