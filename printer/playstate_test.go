package printer

import "testing"

func TestStateMachineTransitionWakesWaiters(t *testing.T) {
	sm := newStateMachine()

	st, changed := sm.get()
	if st != statePlaying {
		t.Fatalf("initial state = %v, want playing", st)
	}

	sm.set(statePaused)
	select {
	case <-changed:
	default:
		t.Fatal("transition did not close the change channel")
	}
	if st, _ := sm.get(); st != statePaused {
		t.Fatalf("state = %v, want paused", st)
	}
}

func TestStateMachineSameStateIsNoOp(t *testing.T) {
	sm := newStateMachine()
	_, changed := sm.get()

	sm.set(statePlaying)
	select {
	case <-changed:
		t.Fatal("same-state set closed the change channel")
	default:
	}
}

func TestStateMachineStoppedIsTerminal(t *testing.T) {
	sm := newStateMachine()
	sm.set(stateStopped)
	sm.set(statePlaying)
	if st, _ := sm.get(); st != stateStopped {
		t.Fatalf("state = %v, want stopped to be terminal", st)
	}
}
