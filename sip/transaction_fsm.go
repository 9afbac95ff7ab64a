package sip

import "github.com/gosipstack/sipua/fsm"

type fsmInput int
type fsmState func() fsmInput
type fsmContextState func(s fsmInput) fsmInput

const ()

// FSM States
const (
	client_state_calling = iota
	client_state_proceeding
	client_state_completed
	client_state_accepted
	client_state_terminated
)

// FSM States
const (
	server_state_trying = iota
	server_state_proceeding
	server_state_completed
	server_state_confirmed
	server_state_accepted
	server_state_terminated
)

// FSM Inputs
const (
	FsmInputNone fsmInput = iota
	// Server transaction inputs
	server_input_request
	server_input_ack
	server_input_cancel
	server_input_user_1xx
	server_input_user_2xx
	server_input_user_300_plus
	server_input_timer_g
	server_input_timer_h
	server_input_timer_i
	server_input_timer_j
	server_input_timer_l
	server_input_transport_err
	server_input_delete
	// Client transactions inputs
	client_input_1xx
	client_input_2xx
	client_input_300_plus
	client_input_timer_a
	client_input_timer_b
	client_input_timer_d
	client_input_timer_m
	client_input_transport_err
	client_input_delete
	client_input_cancel
	client_input_canceled
)

func fsmString(f fsmInput) string {
	switch f {
	case FsmInputNone:
		return "none"
	// Server transaction inputs
	case server_input_request:
		return "server_input_request"
	case server_input_ack:
		return "server_input_ack"
	case server_input_cancel:
		return "server_input_cancel"
	case server_input_user_1xx:
		return "server_input_user_1xx"
	case server_input_user_2xx:
		return "server_input_user_2xx"
	case server_input_user_300_plus:
		return "server_input_user_300_plus"
	case server_input_timer_g:
		return "server_input_timer_g"
	case server_input_timer_h:
		return "server_input_timer_h"
	case server_input_timer_i:
		return "server_input_timer_i"
	case server_input_timer_j:
		return "server_input_timer_j"
	case server_input_timer_l:
		return "server_input_timer_l"
	case server_input_transport_err:
		return "server_input_transport_err"
	case server_input_delete:
		return "server_input_delete"
		// Client transactions inputs
	case client_input_1xx:
		return "client_input_1xx"
	case client_input_2xx:
		return "client_input_2xx"
	case client_input_300_plus:
		return "client_input_300_plus"
	case client_input_timer_a:
		return "client_input_timer_a"
	case client_input_timer_b:
		return "client_input_timer_b"
	case client_input_timer_d:
		return "client_input_timer_d"
	case client_input_timer_m:
		return "client_input_timer_m"
	case client_input_transport_err:
		return "client_input_transport_err"
	case client_input_delete:
		return "client_input_delete"
	case client_input_cancel:
		return "client_input_cancel"
	case client_input_canceled:
		return "client_input_canceled"
	}
	return "unknown transaction state"
}

// clientStateName and serverStateName give the client_state_*/server_state_*
// constants the string identity the shared fsm.Machine primitive needs (the
// two const blocks overlap numerically, so one shared function can't
// disambiguate them). The hand-rolled dispatch above still owns action
// execution and timer scheduling (they're fused too tightly to re-derive
// blind); fsm.Machine mirrors every transition it makes so Transaction gets
// the same transition-table/Current() primitive that Dialog uses (fsm.New in
// dialog/dialog.go), instead of two bespoke state trackers.
func clientStateName(s int) string {
	switch s {
	case client_state_calling:
		return "calling"
	case client_state_proceeding:
		return "proceeding"
	case client_state_completed:
		return "completed"
	case client_state_accepted:
		return "accepted"
	case client_state_terminated:
		return "terminated"
	}
	return "unknown"
}

func serverStateName(s int) string {
	switch s {
	case server_state_trying:
		return "trying"
	case server_state_proceeding:
		return "proceeding"
	case server_state_completed:
		return "completed"
	case server_state_confirmed:
		return "confirmed"
	case server_state_accepted:
		return "accepted"
	case server_state_terminated:
		return "terminated"
	}
	return "unknown"
}

func clientTransition(input fsmInput, from, to int) fsm.Transition {
	return fsm.Transition{Input: fsmString(input), From: []string{clientStateName(from)}, To: clientStateName(to)}
}

func serverTransition(input fsmInput, from, to int) fsm.Transition {
	return fsm.Transition{Input: fsmString(input), From: []string{serverStateName(from)}, To: serverStateName(to)}
}

// clientInviteTransitions mirrors ClientTx's inviteState* dispatch table
// (RFC 3261 s.17.1.1.2, updated by RFC 6026's Accepted state).
var clientInviteTransitions = []fsm.Transition{
	clientTransition(client_input_1xx, client_state_calling, client_state_proceeding),
	clientTransition(client_input_2xx, client_state_calling, client_state_accepted),
	clientTransition(client_input_300_plus, client_state_calling, client_state_completed),
	clientTransition(client_input_timer_a, client_state_calling, client_state_calling),
	clientTransition(client_input_timer_b, client_state_calling, client_state_terminated),
	clientTransition(client_input_transport_err, client_state_calling, client_state_terminated),

	clientTransition(client_input_1xx, client_state_proceeding, client_state_proceeding),
	clientTransition(client_input_2xx, client_state_proceeding, client_state_accepted),
	clientTransition(client_input_300_plus, client_state_proceeding, client_state_completed),
	clientTransition(client_input_timer_b, client_state_proceeding, client_state_terminated),
	clientTransition(client_input_transport_err, client_state_proceeding, client_state_terminated),

	clientTransition(client_input_300_plus, client_state_completed, client_state_completed),
	clientTransition(client_input_transport_err, client_state_completed, client_state_terminated),
	clientTransition(client_input_timer_d, client_state_completed, client_state_terminated),

	clientTransition(client_input_2xx, client_state_accepted, client_state_accepted),
	clientTransition(client_input_transport_err, client_state_accepted, client_state_accepted),
	clientTransition(client_input_timer_m, client_state_accepted, client_state_terminated),

	clientTransition(client_input_delete, client_state_terminated, client_state_terminated),
}

// clientNonInviteTransitions mirrors ClientTx's state* dispatch table
// (RFC 3261 s.17.1.2.2).
var clientNonInviteTransitions = []fsm.Transition{
	clientTransition(client_input_1xx, client_state_calling, client_state_proceeding),
	clientTransition(client_input_2xx, client_state_calling, client_state_completed),
	clientTransition(client_input_300_plus, client_state_calling, client_state_completed),
	clientTransition(client_input_timer_a, client_state_calling, client_state_calling),
	clientTransition(client_input_timer_b, client_state_calling, client_state_terminated),
	clientTransition(client_input_transport_err, client_state_calling, client_state_terminated),

	clientTransition(client_input_1xx, client_state_proceeding, client_state_proceeding),
	clientTransition(client_input_2xx, client_state_proceeding, client_state_completed),
	clientTransition(client_input_300_plus, client_state_proceeding, client_state_completed),
	clientTransition(client_input_timer_a, client_state_proceeding, client_state_proceeding),
	clientTransition(client_input_timer_b, client_state_proceeding, client_state_terminated),
	clientTransition(client_input_transport_err, client_state_proceeding, client_state_terminated),

	clientTransition(client_input_delete, client_state_completed, client_state_terminated),
	clientTransition(client_input_timer_d, client_state_completed, client_state_terminated),

	clientTransition(client_input_delete, client_state_terminated, client_state_terminated),
}

// serverInviteTransitions mirrors ServerTx's inviteState* dispatch table
// (RFC 3261 s.17.2.1, updated by RFC 6026's Accepted state).
var serverInviteTransitions = []fsm.Transition{
	serverTransition(server_input_request, server_state_proceeding, server_state_proceeding),
	serverTransition(server_input_cancel, server_state_proceeding, server_state_proceeding),
	serverTransition(server_input_user_1xx, server_state_proceeding, server_state_proceeding),
	serverTransition(server_input_user_2xx, server_state_proceeding, server_state_accepted),
	serverTransition(server_input_user_300_plus, server_state_proceeding, server_state_completed),
	serverTransition(server_input_transport_err, server_state_proceeding, server_state_terminated),

	serverTransition(server_input_request, server_state_completed, server_state_completed),
	serverTransition(server_input_ack, server_state_completed, server_state_confirmed),
	serverTransition(server_input_timer_g, server_state_completed, server_state_completed),
	serverTransition(server_input_timer_h, server_state_completed, server_state_terminated),
	serverTransition(server_input_transport_err, server_state_completed, server_state_terminated),

	serverTransition(server_input_timer_i, server_state_confirmed, server_state_terminated),

	serverTransition(server_input_ack, server_state_accepted, server_state_accepted),
	serverTransition(server_input_user_2xx, server_state_accepted, server_state_accepted),
	serverTransition(server_input_timer_l, server_state_accepted, server_state_terminated),

	serverTransition(server_input_delete, server_state_terminated, server_state_terminated),
}

// serverNonInviteTransitions mirrors ServerTx's state* dispatch table
// (RFC 3261 s.17.2.2).
var serverNonInviteTransitions = []fsm.Transition{
	serverTransition(server_input_user_1xx, server_state_trying, server_state_proceeding),
	serverTransition(server_input_user_2xx, server_state_trying, server_state_completed),
	serverTransition(server_input_user_300_plus, server_state_trying, server_state_completed),
	serverTransition(server_input_transport_err, server_state_trying, server_state_terminated),

	serverTransition(server_input_request, server_state_proceeding, server_state_proceeding),
	serverTransition(server_input_user_1xx, server_state_proceeding, server_state_proceeding),
	serverTransition(server_input_user_2xx, server_state_proceeding, server_state_completed),
	serverTransition(server_input_user_300_plus, server_state_proceeding, server_state_completed),
	serverTransition(server_input_transport_err, server_state_proceeding, server_state_terminated),

	serverTransition(server_input_request, server_state_completed, server_state_completed),
	serverTransition(server_input_timer_j, server_state_completed, server_state_terminated),
	serverTransition(server_input_transport_err, server_state_completed, server_state_terminated),

	serverTransition(server_input_delete, server_state_terminated, server_state_terminated),
}
