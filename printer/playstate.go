package printer

import "sync"

// playState models the session as a three-state machine. Stopped is terminal.
type playState int

const (
	statePlaying playState = iota
	statePaused
	stateStopped
)

// stateMachine holds the current playState and a broadcast channel that is
// closed and replaced on every transition, so waiters can select on a state
// change together with a deadline.
type stateMachine struct {
	mu    sync.Mutex
	state playState
	ch    chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: statePlaying, ch: make(chan struct{})}
}

// get returns the current state and the channel that will be closed on the
// next transition.
func (s *stateMachine) get() (playState, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.ch
}

// set transitions to st and wakes all waiters. Transitions out of Stopped are
// ignored; setting the current state again is a no-op.
func (s *stateMachine) set(st playState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped || s.state == st {
		return
	}
	s.state = st
	close(s.ch)
	s.ch = make(chan struct{})
}
