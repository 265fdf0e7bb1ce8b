package bolt

import "fmt"

// State is a connection's position in the Bolt protocol state machine.
type State int

const (
	StateNegotiation State = iota
	StateAuthentication
	StateReady
	StateStreaming
	StateTxReady
	StateTxStreaming
	StateFailed
	StateInterrupted
	StateDefunct
)

func (s State) String() string {
	switch s {
	case StateNegotiation:
		return "NEGOTIATION"
	case StateAuthentication:
		return "AUTHENTICATION"
	case StateReady:
		return "READY"
	case StateStreaming:
		return "STREAMING"
	case StateTxReady:
		return "TX_READY"
	case StateTxStreaming:
		return "TX_STREAMING"
	case StateFailed:
		return "FAILED"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateDefunct:
		return "DEFUNCT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MessageType identifies a Bolt request or response structure by its
// PackStream signature byte.
type MessageType byte

// Request signatures.
const (
	MsgHello    MessageType = 0x01
	MsgLogon    MessageType = 0x6A
	MsgLogoff   MessageType = 0x6B
	MsgRun      MessageType = 0x10
	MsgBegin    MessageType = 0x11
	MsgCommit   MessageType = 0x12
	MsgRollback MessageType = 0x13
	MsgDiscard  MessageType = 0x2F
	MsgPull     MessageType = 0x3F
	MsgRoute    MessageType = 0x66
	MsgReset    MessageType = 0x0F
	MsgGoodbye  MessageType = 0x02
)

// Response signatures.
const (
	MsgSuccess MessageType = 0x70
	MsgRecord  MessageType = 0x71
	MsgIgnored MessageType = 0x7E
	MsgFailure MessageType = 0x7F
)

func (m MessageType) String() string {
	switch m {
	case MsgHello:
		return "HELLO"
	case MsgLogon:
		return "LOGON"
	case MsgLogoff:
		return "LOGOFF"
	case MsgRun:
		return "RUN"
	case MsgBegin:
		return "BEGIN"
	case MsgCommit:
		return "COMMIT"
	case MsgRollback:
		return "ROLLBACK"
	case MsgDiscard:
		return "DISCARD"
	case MsgPull:
		return "PULL"
	case MsgRoute:
		return "ROUTE"
	case MsgReset:
		return "RESET"
	case MsgGoodbye:
		return "GOODBYE"
	case MsgSuccess:
		return "SUCCESS"
	case MsgRecord:
		return "RECORD"
	case MsgIgnored:
		return "IGNORED"
	case MsgFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("Msg(0x%02X)", byte(m))
	}
}

// IllegalTransitionError reports a (state, request, response) triple that
// has no legal next state: either a handler replied with a response type
// the protocol does not allow from that state, or the client sent a
// request the state does not accept at all and the handler answered it.
type IllegalTransitionError struct {
	State    State
	Request  MessageType
	Response MessageType
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("bolt: illegal transition: state=%s request=%s response=%s", e.State, e.Request, e.Response)
}

type transitionKey struct {
	state    State
	request  MessageType
	response MessageType
}

// transitions is the total transition table for the state machine,
// replacing the nested per-state switch statements of the original
// implementation (bolt_change_*_state in bolt_client.c) with a single
// lookup, per spec.md's Design Notes recommendation. RECORD responses are
// handled separately in Step, since they never appear in this table.
var transitions = map[transitionKey]State{
	{StateNegotiation, MsgHello, MsgSuccess}: StateAuthentication,
	{StateNegotiation, MsgHello, MsgFailure}: StateDefunct,

	{StateAuthentication, MsgLogon, MsgSuccess}: StateReady,
	{StateAuthentication, MsgLogon, MsgFailure}: StateDefunct,

	{StateReady, MsgLogoff, MsgSuccess}: StateAuthentication,
	{StateReady, MsgLogoff, MsgFailure}: StateFailed,
	{StateReady, MsgRun, MsgSuccess}:    StateStreaming,
	{StateReady, MsgRun, MsgFailure}:    StateFailed,
	{StateReady, MsgBegin, MsgSuccess}:  StateTxReady,
	{StateReady, MsgBegin, MsgFailure}:  StateFailed,
	{StateReady, MsgRoute, MsgSuccess}:  StateReady,
	{StateReady, MsgReset, MsgSuccess}:  StateReady,
	{StateReady, MsgReset, MsgFailure}:  StateReady,
	{StateReady, MsgGoodbye, MsgSuccess}: StateDefunct,
	{StateReady, MsgGoodbye, MsgFailure}: StateDefunct,

	{StateStreaming, MsgPull, MsgSuccess}:     StateReady,
	{StateStreaming, MsgPull, MsgFailure}:     StateFailed,
	{StateStreaming, MsgDiscard, MsgSuccess}:  StateReady,
	{StateStreaming, MsgDiscard, MsgFailure}:  StateFailed,
	{StateStreaming, MsgReset, MsgSuccess}:    StateReady,
	{StateStreaming, MsgReset, MsgFailure}:    StateReady,
	{StateStreaming, MsgGoodbye, MsgSuccess}:  StateDefunct,
	{StateStreaming, MsgGoodbye, MsgFailure}:  StateDefunct,

	{StateTxReady, MsgRun, MsgSuccess}:      StateTxStreaming,
	{StateTxReady, MsgRun, MsgFailure}:      StateFailed,
	{StateTxReady, MsgCommit, MsgSuccess}:   StateReady,
	{StateTxReady, MsgCommit, MsgFailure}:   StateFailed,
	{StateTxReady, MsgRollback, MsgSuccess}: StateReady,
	{StateTxReady, MsgRollback, MsgFailure}: StateFailed,
	{StateTxReady, MsgReset, MsgSuccess}:    StateReady,
	{StateTxReady, MsgReset, MsgFailure}:    StateReady,
	{StateTxReady, MsgGoodbye, MsgSuccess}:  StateDefunct,
	{StateTxReady, MsgGoodbye, MsgFailure}:  StateDefunct,

	{StateTxStreaming, MsgRun, MsgSuccess}:      StateTxStreaming,
	{StateTxStreaming, MsgRun, MsgFailure}:      StateFailed,
	{StateTxStreaming, MsgPull, MsgSuccess}:      StateTxStreaming,
	{StateTxStreaming, MsgPull, MsgFailure}:      StateFailed,
	{StateTxStreaming, MsgCommit, MsgSuccess}:    StateReady,
	{StateTxStreaming, MsgCommit, MsgFailure}:    StateFailed,
	{StateTxStreaming, MsgDiscard, MsgSuccess}:   StateTxReady,
	{StateTxStreaming, MsgDiscard, MsgFailure}:   StateFailed,
	{StateTxStreaming, MsgReset, MsgSuccess}:     StateReady,
	{StateTxStreaming, MsgReset, MsgFailure}:     StateReady,
	{StateTxStreaming, MsgGoodbye, MsgSuccess}:   StateDefunct,
	{StateTxStreaming, MsgGoodbye, MsgFailure}:   StateDefunct,

	{StateFailed, MsgRun, MsgIgnored}:      StateFailed,
	{StateFailed, MsgPull, MsgIgnored}:     StateFailed,
	{StateFailed, MsgDiscard, MsgIgnored}:  StateFailed,
	{StateFailed, MsgReset, MsgSuccess}:    StateReady,
	{StateFailed, MsgReset, MsgFailure}:    StateReady,
	{StateFailed, MsgGoodbye, MsgSuccess}:  StateDefunct,
	{StateFailed, MsgGoodbye, MsgFailure}:  StateDefunct,

	{StateInterrupted, MsgRun, MsgIgnored}:      StateFailed,
	{StateInterrupted, MsgPull, MsgIgnored}:     StateFailed,
	{StateInterrupted, MsgDiscard, MsgIgnored}:  StateFailed,
	{StateInterrupted, MsgBegin, MsgIgnored}:    StateFailed,
	{StateInterrupted, MsgCommit, MsgIgnored}:   StateFailed,
	{StateInterrupted, MsgRollback, MsgIgnored}: StateFailed,
	{StateInterrupted, MsgReset, MsgSuccess}:    StateReady,
	{StateInterrupted, MsgReset, MsgFailure}:    StateDefunct,
	{StateInterrupted, MsgGoodbye, MsgSuccess}:  StateDefunct,
	{StateInterrupted, MsgGoodbye, MsgFailure}:  StateDefunct,
}

// Step computes the next state for a (state, request, response) triple.
// RECORD responses are intermediate stream items and never change state,
// matching bolt_change_client_state's early return on BST_RECORD. Any
// other combination absent from the table is illegal and returns the
// unchanged state with an *IllegalTransitionError.
func Step(state State, request, response MessageType) (State, error) {
	if response == MsgRecord {
		return state, nil
	}
	next, ok := transitions[transitionKey{state, request, response}]
	if !ok {
		return state, &IllegalTransitionError{State: state, Request: request, Response: response}
	}
	return next, nil
}
