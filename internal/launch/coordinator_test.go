package launch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderoom-live/coderoom/internal/protocol"
	"github.com/coderoom-live/coderoom/internal/room"
	"github.com/coderoom-live/coderoom/internal/runner"
)

// fakeRun is a scripted runner invocation driven by the test.
type fakeRun struct {
	lines    chan string
	done     chan struct{}
	exitCode int
	stopOnce sync.Once
}

func newFakeRun() *fakeRun {
	return &fakeRun{lines: make(chan string, 16), done: make(chan struct{})}
}

func (r *fakeRun) Lines() <-chan string { return r.lines }

func (r *fakeRun) Wait() int {
	<-r.done
	return r.exitCode
}

func (r *fakeRun) Stop() {
	r.stopOnce.Do(func() {
		close(r.lines)
		close(r.done)
	})
}

// emit pushes lines and then ends the run with the given exit code.
func (r *fakeRun) finish(exitCode int, lines ...string) {
	for _, l := range lines {
		r.lines <- l
	}
	r.exitCode = exitCode
	r.stopOnce.Do(func() {
		close(r.lines)
		close(r.done)
	})
}

type fakeRunner struct {
	mu       sync.Mutex
	startErr error
	started  []runner.StartSpec
	runs     []*fakeRun
}

func (f *fakeRunner) Start(ctx context.Context, spec runner.StartSpec) (runner.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, spec)
	run := newFakeRun()
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeRunner) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

// fakeRelay records producer-side relay calls.
type fakeRelay struct {
	mu         sync.Mutex
	registered []string
	published  map[string][]string
	closed     map[string]int
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{published: make(map[string][]string), closed: make(map[string]int)}
}

func (f *fakeRelay) Register(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, name)
}

func (f *fakeRelay) Publish(name, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[name] = append(f.published[name], line)
}

func (f *fakeRelay) CloseChannel(name string, exitCode int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[name] = exitCode
}

func (f *fakeRelay) lines(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published[name]...)
}

func (f *fakeRelay) closedWith(name string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.closed[name]
	return code, ok
}

func newTestCoordinator(t *testing.T) (*Coordinator, *room.Store, *fakeRunner, *fakeRelay) {
	t.Helper()
	dir := t.TempDir()
	store, err := room.OpenStore(filepath.Join(dir, "rooms.db"), filepath.Join(dir, "spool"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fr := &fakeRunner{}
	relay := newFakeRelay()
	return NewCoordinator(store, fr, relay, nil), store, fr, relay
}

const validRepo = "https://github.com/docker/example-voting-app"

func TestCoordinator_LaunchUnknownRoom(t *testing.T) {
	c, _, fr, _ := newTestCoordinator(t)

	_, _, err := c.Launch(context.Background(), "NOPE00", validRepo)
	require.ErrorIs(t, err, room.ErrNotFound)
	assert.Zero(t, fr.startCount(), "no runner may start for an unknown room")
}

func TestCoordinator_LaunchInvalidRepository(t *testing.T) {
	c, store, fr, _ := newTestCoordinator(t)
	r, err := store.CreateRoom()
	require.NoError(t, err)

	channel, _, err := c.Launch(context.Background(), r.ID, "https://example.com/not/github")
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidRepository, ReasonOf(err))
	assert.Empty(t, channel, "no channel name may be issued on failure")
	assert.Zero(t, fr.startCount(), "no runner may start for an invalid repository")
	assert.False(t, c.Active(r.ID))
}

func TestCoordinator_LaunchRunnerUnavailable(t *testing.T) {
	c, store, fr, _ := newTestCoordinator(t)
	fr.startErr = errors.New("cannot connect to the Docker daemon")
	r, err := store.CreateRoom()
	require.NoError(t, err)

	_, _, err = c.Launch(context.Background(), r.ID, validRepo)
	require.Error(t, err)
	assert.Equal(t, ReasonRunnerUnavailable, ReasonOf(err))
	assert.False(t, c.Active(r.ID), "failed launch must not leave the room claimed")
}

func TestCoordinator_LaunchBadRepositoryFromRunner(t *testing.T) {
	c, store, fr, _ := newTestCoordinator(t)
	fr.startErr = fmt.Errorf("%w: git clone failed", runner.ErrBadRepository)
	r, err := store.CreateRoom()
	require.NoError(t, err)

	_, _, err = c.Launch(context.Background(), r.ID, validRepo)
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidRepository, ReasonOf(err))
}

func TestCoordinator_LaunchStreamsAndPersists(t *testing.T) {
	c, store, fr, relay := newTestCoordinator(t)
	r, err := store.CreateRoom()
	require.NoError(t, err)

	channel, _, err := c.Launch(context.Background(), r.ID, validRepo)
	require.NoError(t, err)

	roomID, err := RoomFromChannel(channel)
	require.NoError(t, err)
	assert.Equal(t, r.ID, roomID, "channel name carries its room binding")

	got, err := store.GetRoom(r.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StateRunning, got.State)

	fr.runs[0].finish(0, "building", "running", "done")

	require.Eventually(t, func() bool {
		_, closed := relay.closedWith(channel)
		return closed
	}, 3*time.Second, 10*time.Millisecond, "channel closes when the run ends")

	assert.Equal(t, []string{"building", "running", "done"}, relay.lines(channel),
		"live path preserves production order")

	got, err = store.GetRoom(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "building\nrunning\ndone\n", got.Output, "durable path accumulates every line")

	require.Eventually(t, func() bool { return !c.Active(r.ID) }, 3*time.Second, 10*time.Millisecond)
	got, _ = store.GetRoom(r.ID)
	assert.Equal(t, room.StateIdle, got.State)
}

func TestCoordinator_RejectsSecondLaunch(t *testing.T) {
	c, store, fr, _ := newTestCoordinator(t)
	r, err := store.CreateRoom()
	require.NoError(t, err)

	_, _, err = c.Launch(context.Background(), r.ID, validRepo)
	require.NoError(t, err)

	_, _, err = c.Launch(context.Background(), r.ID, validRepo)
	require.Error(t, err)
	assert.Equal(t, ReasonAlreadyRunning, ReasonOf(err))
	assert.Equal(t, 1, fr.startCount(), "second launch must not start a second runner")
}

func TestCoordinator_RelaunchAfterFinish(t *testing.T) {
	c, store, fr, relay := newTestCoordinator(t)
	r, err := store.CreateRoom()
	require.NoError(t, err)

	first, _, err := c.Launch(context.Background(), r.ID, validRepo)
	require.NoError(t, err)
	fr.runs[0].finish(0, "done")
	require.Eventually(t, func() bool { return !c.Active(r.ID) }, 3*time.Second, 10*time.Millisecond)

	second, _, err := c.Launch(context.Background(), r.ID, validRepo)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "each invocation gets a fresh channel name")

	fr.runs[1].finish(1, "error: exit 1")
	require.Eventually(t, func() bool {
		code, closed := relay.closedWith(second)
		return closed && code == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCoordinator_StopIdempotent(t *testing.T) {
	c, store, _, _ := newTestCoordinator(t)
	r, err := store.CreateRoom()
	require.NoError(t, err)

	_, _, err = c.Launch(context.Background(), r.ID, validRepo)
	require.NoError(t, err)

	c.Stop(r.ID)
	c.Stop(r.ID)
	c.Stop("NOPE00")

	require.Eventually(t, func() bool { return !c.Active(r.ID) }, 3*time.Second, 10*time.Millisecond)
}

func TestCoordinator_ShutdownStopsAll(t *testing.T) {
	c, store, _, _ := newTestCoordinator(t)

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := store.CreateRoom()
		require.NoError(t, err)
		_, _, err = c.Launch(context.Background(), r.ID, validRepo)
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	c.Shutdown()

	for _, id := range ids {
		id := id
		require.Eventually(t, func() bool { return !c.Active(id) }, 3*time.Second, 10*time.Millisecond)
	}
}

type fakeMetadata struct {
	repo *protocol.Repository
	err  error
}

func (f *fakeMetadata) Lookup(ctx context.Context, repoURL string) (*protocol.Repository, error) {
	return f.repo, f.err
}

func TestCoordinator_MetadataFailureDoesNotFailLaunch(t *testing.T) {
	dir := t.TempDir()
	store, err := room.OpenStore(filepath.Join(dir, "rooms.db"), filepath.Join(dir, "spool"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := NewCoordinator(store, &fakeRunner{}, newFakeRelay(), &fakeMetadata{err: errors.New("api rate limited")})
	r, err := store.CreateRoom()
	require.NoError(t, err)

	channel, repo, err := c.Launch(context.Background(), r.ID, validRepo)
	require.NoError(t, err)
	assert.NotEmpty(t, channel)
	assert.Nil(t, repo, "metadata failure yields no metadata, not an error")
}

func TestCoordinator_MetadataReturned(t *testing.T) {
	dir := t.TempDir()
	store, err := room.OpenStore(filepath.Join(dir, "rooms.db"), filepath.Join(dir, "spool"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	want := &protocol.Repository{Name: "example-voting-app", Owner: "docker"}
	c := NewCoordinator(store, &fakeRunner{}, newFakeRelay(), &fakeMetadata{repo: want})
	r, err := store.CreateRoom()
	require.NoError(t, err)

	_, repo, err := c.Launch(context.Background(), r.ID, validRepo)
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "docker", repo.Owner)
}
