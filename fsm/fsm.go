// Package fsm is the shared finite-state-machine primitive used by the
// transaction and dialog layers. It wraps github.com/looplab/fsm so both
// layers get one real, tested transition table implementation instead of
// two bespoke ones.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// ErrUnexpectedInput is returned by Fire/Post when an input is not a legal
// transition from the machine's current state.
var ErrUnexpectedInput = errors.New("fsm: unexpected input for current state")

// Transition describes a single (state, input) -> new-state edge.
type Transition struct {
	Input string
	From  []string
	To    string
}

// Action runs synchronously as the looplab/fsm "enter_<state>" callback,
// which fires before the transition becomes visible to other callers —
// this is what gives Machine its "action before visibility" guarantee.
type Action func(ctx context.Context, from, to, input string)

// Machine is a single finite-state-machine instance: one per Transaction
// or per Dialog. All exported methods are safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	f       *fsm.FSM
	actions map[string]Action

	async   chan asyncInput
	closeCh chan struct{}
	closed  bool
}

type asyncInput struct {
	input string
	args  []interface{}
}

// New builds a Machine with the given initial state and transition table.
// actions maps a destination state name to a callback run on entry to that
// state; it may be nil or partial.
func New(initial string, transitions []Transition, actions map[string]Action) *Machine {
	m := &Machine{
		actions: actions,
		async:   make(chan asyncInput, 64),
		closeCh: make(chan struct{}),
	}

	events := make(fsm.Events, 0, len(transitions))
	for _, t := range transitions {
		events = append(events, fsm.EventDesc{Name: t.Input, Src: t.From, Dst: t.To})
	}

	callbacks := fsm.Callbacks{}
	seen := map[string]bool{}
	for _, t := range transitions {
		if seen[t.To] {
			continue
		}
		seen[t.To] = true
		dst := t.To
		callbacks["enter_"+dst] = func(ctx context.Context, e *fsm.Event) {
			if a, ok := m.actions[dst]; ok && a != nil {
				a(ctx, e.Src, e.Dst, e.Event)
			}
		}
	}

	m.f = fsm.NewFSM(initial, events, callbacks)
	go m.run()
	return m
}

// Current returns the machine's current state name.
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.f.Current()
}

// Fire posts input synchronously: it blocks until the transition (or its
// rejection) is complete. Illegal transitions return ErrUnexpectedInput
// wrapping the underlying looplab/fsm error, matching spec's contract that
// synchronous input fails on an illegal transition instead of being queued.
func (m *Machine) Fire(ctx context.Context, input string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.f.Event(ctx, input, args...)
	if err == nil {
		return nil
	}

	var invalid fsm.InvalidEventError
	var inTransition fsm.InTransitionError
	if errors.As(err, &invalid) || errors.As(err, &inTransition) {
		return fmt.Errorf("%w: %s in state %s: %w", ErrUnexpectedInput, input, m.f.Current(), err)
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		// Input is valid for the current state but doesn't move it (a
		// self-loop with no Dst change); not an error for our callers.
		return nil
	}

	return err
}

// Post queues input for asynchronous processing on the machine's own
// goroutine ("strand"), per spec §5's per-entity serialization rule.
// It does not wait for the input to be processed, but blocks while the
// 64-entry queue is full, until there is room or the machine is closed.
// It never returns a per-call error; delivery
// failures surface to whatever observes the machine's state (e.g. a
// terminal-state callback), not to the poster.
func (m *Machine) Post(input string, args ...interface{}) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	select {
	case m.async <- asyncInput{input: input, args: args}:
	case <-m.closeCh:
	}
}

func (m *Machine) run() {
	for {
		select {
		case in := <-m.async:
			_ = m.Fire(context.Background(), in.input, in.args...)
		case <-m.closeCh:
			return
		}
	}
}

// Close stops the machine's async strand. It is idempotent.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.closeCh)
}

// SetState forcibly overrides the current state without running any entry
// callback. Used only for test setup/fixtures, matching looplab/fsm's own
// SetState escape hatch.
func (m *Machine) SetState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.f.SetState(state)
}
