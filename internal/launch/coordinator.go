// Package launch starts runner invocations for rooms and wires their output
// to both delivery paths: the live relay and the persisted room record that
// the fallback feed observes.
package launch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/coderoom-live/coderoom/internal/protocol"
	"github.com/coderoom-live/coderoom/internal/room"
	"github.com/coderoom-live/coderoom/internal/runner"
)

const metadataTimeout = 3 * time.Second

// Publisher is the live-relay producer surface the coordinator drives.
type Publisher interface {
	Register(channelName string)
	Publish(channelName, line string)
	CloseChannel(channelName string, exitCode int, reason string)
}

// MetadataLookup resolves a repository reference to display metadata. Best
// effort: failures never block or fail a launch.
type MetadataLookup interface {
	Lookup(ctx context.Context, repoURL string) (*protocol.Repository, error)
}

// Coordinator issues build/run requests and arms the relay for each room.
type Coordinator struct {
	store    *room.Store
	runner   runner.Runner
	relay    Publisher
	metadata MetadataLookup // optional
	registry *registry
}

// NewCoordinator wires a coordinator. metadata may be nil.
func NewCoordinator(store *room.Store, r runner.Runner, relay Publisher, metadata MetadataLookup) *Coordinator {
	return &Coordinator{
		store:    store,
		runner:   r,
		relay:    relay,
		metadata: metadata,
		registry: newRegistry(),
	}
}

// Launch starts one runner for the room and returns the channel name the
// viewer should open. At most one runner is active per room; a second call
// while one is active is rejected with ReasonAlreadyRunning.
func (c *Coordinator) Launch(ctx context.Context, roomID, repoURL string) (string, *protocol.Repository, error) {
	if _, err := c.store.GetRoom(roomID); err != nil {
		return "", nil, err
	}

	if !runner.ValidRepoURL(repoURL) {
		return "", nil, &Error{Reason: ReasonInvalidRepository, Err: runner.ErrBadRepository}
	}

	// Claim the room before anything slow happens so concurrent launches
	// cannot both start a runner.
	if !c.registry.reserve(roomID) {
		return "", nil, &Error{Reason: ReasonAlreadyRunning}
	}

	channelName := NewChannelName(roomID)
	run, err := c.runner.Start(ctx, runner.StartSpec{
		RoomID:      roomID,
		ChannelName: channelName,
		RepoURL:     repoURL,
	})
	if err != nil {
		c.registry.release(roomID)
		if errors.Is(err, runner.ErrBadRepository) {
			return "", nil, &Error{Reason: ReasonInvalidRepository, Err: err}
		}
		return "", nil, &Error{Reason: ReasonRunnerUnavailable, Err: err}
	}

	c.relay.Register(channelName)
	c.registry.activate(roomID, channelName, run)
	if err := c.store.SetState(roomID, room.StateRunning); err != nil {
		log.Printf("launch: mark room %s running: %v", roomID, err)
	}

	go c.pump(roomID, channelName, run)

	return channelName, c.lookupMetadata(ctx, repoURL), nil
}

// pump forwards runner output to the live relay and the room record until
// the run ends, then tears the channel down.
func (c *Coordinator) pump(roomID, channelName string, run runner.Run) {
	for line := range run.Lines() {
		c.relay.Publish(channelName, line)
		if err := c.store.AppendOutput(roomID, line+"\n"); err != nil {
			// The live path already delivered the line; losing the durable
			// copy is the worst outcome, so make it loud.
			log.Printf("launch: persist output for room %s: %v", roomID, err)
		}
	}

	exitCode := run.Wait()
	c.relay.CloseChannel(channelName, exitCode, "run finished")
	if err := c.store.SetState(roomID, room.StateIdle); err != nil && !errors.Is(err, room.ErrNotFound) {
		log.Printf("launch: mark room %s idle: %v", roomID, err)
	}
	c.registry.release(roomID)
}

// lookupMetadata fetches repository display metadata with a short deadline.
func (c *Coordinator) lookupMetadata(ctx context.Context, repoURL string) *protocol.Repository {
	if c.metadata == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	repo, err := c.metadata.Lookup(ctx, repoURL)
	if err != nil {
		log.Printf("launch: repository metadata lookup: %v", err)
		return nil
	}
	return repo
}

// Active reports whether the room has an active runner.
func (c *Coordinator) Active(roomID string) bool {
	_, ok := c.registry.get(roomID)
	return ok
}

// Stop terminates the room's active runner, if any. Idempotent.
func (c *Coordinator) Stop(roomID string) {
	if s, ok := c.registry.get(roomID); ok && s.run != nil {
		s.run.Stop()
	}
}

// Shutdown stops every active runner.
func (c *Coordinator) Shutdown() {
	for _, roomID := range c.registry.roomIDs() {
		c.Stop(roomID)
	}
}
