package bolt

import "testing"

func TestStepHappyPath(t *testing.T) {
	state := StateNegotiation

	steps := []struct {
		request  MessageType
		response MessageType
		want     State
	}{
		{MsgHello, MsgSuccess, StateAuthentication},
		{MsgLogon, MsgSuccess, StateReady},
		{MsgRun, MsgSuccess, StateStreaming},
		{MsgPull, MsgSuccess, StateReady},
		{MsgGoodbye, MsgSuccess, StateDefunct},
	}

	for i, s := range steps {
		next, err := Step(state, s.request, s.response)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if next != s.want {
			t.Fatalf("step %d: got %s, want %s", i, next, s.want)
		}
		state = next
	}
}

func TestStepFailedQuery(t *testing.T) {
	state, err := Step(StateReady, MsgRun, MsgFailure)
	if err != nil {
		t.Fatalf("RUN failure: %v", err)
	}
	if state != StateFailed {
		t.Fatalf("got %s, want FAILED", state)
	}

	// Further client requests are ignored while FAILED.
	state, err = Step(state, MsgPull, MsgIgnored)
	if err != nil {
		t.Fatalf("PULL while failed: %v", err)
	}
	if state != StateFailed {
		t.Fatalf("got %s, want FAILED", state)
	}
}

func TestStepTransaction(t *testing.T) {
	state := StateReady

	state, err := Step(state, MsgBegin, MsgSuccess)
	if err != nil || state != StateTxReady {
		t.Fatalf("BEGIN: state=%s err=%v", state, err)
	}

	state, err = Step(state, MsgRun, MsgSuccess)
	if err != nil || state != StateTxStreaming {
		t.Fatalf("RUN in tx: state=%s err=%v", state, err)
	}

	state, err = Step(state, MsgPull, MsgSuccess)
	if err != nil || state != StateTxStreaming {
		t.Fatalf("PULL in tx: state=%s err=%v", state, err)
	}

	state, err = Step(state, MsgCommit, MsgSuccess)
	if err != nil || state != StateReady {
		t.Fatalf("COMMIT: state=%s err=%v", state, err)
	}
}

func TestStepResetMidStream(t *testing.T) {
	state, err := Step(StateStreaming, MsgReset, MsgSuccess)
	if err != nil {
		t.Fatalf("RESET mid-stream: %v", err)
	}
	if state != StateReady {
		t.Fatalf("got %s, want READY", state)
	}
}

func TestStepResetWhileFailedReturnsToReady(t *testing.T) {
	// RESET while FAILED always clears back to READY regardless of whether
	// the reset itself reports SUCCESS or FAILURE. The IGNORED-then-SUCCESS
	// frames of that path are FlushReset's, tested in connection_test.go.
	for _, resp := range []MessageType{MsgSuccess, MsgFailure} {
		state, err := Step(StateFailed, MsgReset, resp)
		if err != nil {
			t.Fatalf("RESET while failed (response=%s): %v", resp, err)
		}
		if state != StateReady {
			t.Fatalf("RESET while failed (response=%s): got %s, want READY", resp, state)
		}
	}
}

func TestStepRecordNeverChangesState(t *testing.T) {
	for _, state := range []State{StateStreaming, StateTxStreaming, StateReady, StateFailed} {
		next, err := Step(state, MsgPull, MsgRecord)
		if err != nil {
			t.Fatalf("RECORD from %s: %v", state, err)
		}
		if next != state {
			t.Fatalf("RECORD from %s: state changed to %s", state, next)
		}
	}
}

func TestStepInterruptedIgnoresUntilReset(t *testing.T) {
	state := StateInterrupted

	for _, req := range []MessageType{MsgRun, MsgBegin, MsgCommit, MsgPull, MsgDiscard, MsgRollback} {
		next, err := Step(state, req, MsgIgnored)
		if err != nil {
			t.Fatalf("%s while interrupted: %v", req, err)
		}
		if next != StateFailed {
			t.Fatalf("%s while interrupted: got %s, want FAILED", req, next)
		}
	}

	next, err := Step(state, MsgReset, MsgSuccess)
	if err != nil {
		t.Fatalf("RESET while interrupted: %v", err)
	}
	if next != StateReady {
		t.Fatalf("RESET while interrupted: got %s, want READY", next)
	}
}

func TestStepIllegalTransition(t *testing.T) {
	_, err := Step(StateNegotiation, MsgRun, MsgSuccess)
	if err == nil {
		t.Fatalf("expected an error for RUN during NEGOTIATION")
	}
	if _, ok := err.(*IllegalTransitionError); !ok {
		t.Fatalf("got error type %T, want *IllegalTransitionError", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if MsgHello.String() != "HELLO" {
		t.Errorf("got %q, want HELLO", MsgHello.String())
	}
	if got := MessageType(0x99).String(); got != "Msg(0x99)" {
		t.Errorf("got %q for unknown message type", got)
	}
}
