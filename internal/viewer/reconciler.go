// Package viewer merges the two delivery paths of a room's console output
// into one rendered transcript. The live relay appends lines in arrival
// order; the fallback feed replaces the transcript wholesale whenever no
// live session is present.
package viewer

import "sync"

// SessionState is the lifecycle of one room view.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateLaunching  SessionState = "launching"
	StateStreaming  SessionState = "streaming"
	StateTerminated SessionState = "terminated"
)

// Reconciler is the single owned state object of a room view. All mutation
// goes through its transitions; no callback writes state directly.
type Reconciler struct {
	mu         sync.Mutex
	state      SessionState
	transcript string
	lastErr    error
	closed     bool
}

// NewReconciler starts in Idle with an empty transcript.
func NewReconciler() *Reconciler {
	return &Reconciler{state: StateIdle}
}

// LaunchRequested moves the view into Launching. A view whose previous run
// terminated may launch again.
func (r *Reconciler) LaunchRequested() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state == StateStreaming {
		return
	}
	r.state = StateLaunching
	r.lastErr = nil
}

// LaunchFailed records a terminal launch failure and falls back to Idle,
// where snapshots keep the transcript current.
func (r *Reconciler) LaunchFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.state = StateIdle
	r.lastErr = err
}

// StreamOpened marks the live relay connection established.
func (r *Reconciler) StreamOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state != StateLaunching {
		return
	}
	r.state = StateStreaming
}

// ApplyLine appends one live line to the transcript, in arrival order.
// Lines arriving outside Streaming are dropped: with no open live session
// they belong to a channel this view no longer owns.
func (r *Reconciler) ApplyLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state != StateStreaming {
		return
	}
	r.transcript += line + "\n"
}

// ApplySnapshot replaces the transcript with the persisted snapshot, unless
// a live session is present: applying a snapshot while streaming would
// double-apply content that is also arriving live.
func (r *Reconciler) ApplySnapshot(output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state == StateStreaming {
		return
	}
	r.transcript = output
}

// StreamClosed ends the live session; from here the view relies solely on
// fallback snapshots. Safe to call in any state.
func (r *Reconciler) StreamClosed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state != StateStreaming {
		return
	}
	r.state = StateTerminated
	r.lastErr = err
}

// Close tears the view down. Idempotent; all later events are no-ops.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.state = StateTerminated
}

// State returns the current lifecycle state.
func (r *Reconciler) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Transcript returns the rendered transcript.
func (r *Reconciler) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript
}

// Err returns the most recent launch or relay failure, if any.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
