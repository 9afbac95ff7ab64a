// Package dialog implements the RFC 3261 section 12 dialog layer: the
// (Call-ID, local-tag, remote-tag) identified peer-to-peer relationship
// that survives across the individual transactions exchanged within a
// call. It consolidates what used to be scattered UAC/UAS dialog helpers
// into one state machine driven by the fsm package, so both the client
// and server session types in this package share one source of truth for
// legal state transitions.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gosipstack/sipua/fsm"
	"github.com/gosipstack/sipua/sip"
)

var (
	ErrOutsideDialog     = errors.New("request does not match any known dialog")
	ErrDoesNotExist       = errors.New("dialog does not exist")
	ErrNoContact          = errors.New("response/request is missing a Contact header")
	ErrCanceled           = errors.New("dialog canceled before it was established")
	ErrCSeqRegression     = errors.New("cseq did not increase monotonically within dialog")
	ErrRouteSetMismatch   = errors.New("route-set does not match the dialog's recorded route-set")
)

// ErrUnexpectedResponse reports an INVITE attempt answered with a non-2xx
// final response.
type ErrUnexpectedResponse struct {
	Res *sip.Response
}

func (e ErrUnexpectedResponse) Error() string {
	return fmt.Sprintf("invite failed with response: %s", e.Res.StartLine())
}

const (
	inputEarly     = "early"
	inputConfirm   = "confirm"
	inputTerminate = "terminate"
	inputError     = "error"
)

var transitions = []fsm.Transition{
	{From: []string{sip.DialogStateInitial.String()}, Input: inputEarly, To: sip.DialogStateEarly.String()},
	{From: []string{sip.DialogStateInitial.String(), sip.DialogStateEarly.String()}, Input: inputConfirm, To: sip.DialogStateConfirmed.String()},
	{From: []string{sip.DialogStateInitial.String(), sip.DialogStateEarly.String(), sip.DialogStateConfirmed.String()}, Input: inputTerminate, To: sip.DialogStateTerminated.String()},
	{From: []string{sip.DialogStateInitial.String(), sip.DialogStateEarly.String(), sip.DialogStateConfirmed.String()}, Input: inputError, To: sip.DialogStateError.String()},
}

// StateFn is notified on every dialog state transition.
type StateFn func(s sip.DialogState)

// Party is the minimal surface a Dialog needs from its owner. It is a
// non-owning reference: the Dialog never keeps the Party alive on its own,
// and the Party is reached through this narrow interface rather than a
// concrete struct pointer, so Dialog<->Party never depends on which one
// frees the other first.
type Party interface {
	AOR() sip.Uri
}

// ID is the (Call-ID, local-tag, remote-tag) triple identifying a dialog,
// per RFC 3261 section 12. The early dialog (no remote-tag yet) is keyed
// by local-tag alone.
type ID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

func (id ID) String() string {
	return sip.MakeDialogID(id.CallID, id.LocalTag, id.RemoteTag)
}

func (id ID) IsEarly() bool {
	return id.RemoteTag == ""
}

// Dialog is the shared state every in-dialog request/response flows
// through: Route-set, remote-target, and CSeq discipline live here so
// Client and Server sessions (which only differ in which side initiated
// the INVITE) do not each reimplement them.
type Dialog struct {
	id atomic.Pointer[ID]

	InviteRequest  *sip.Request
	InviteResponse *sip.Response

	localCSeq  atomic.Uint32
	remoteCSeq atomic.Uint32

	routeSet     []sip.Uri
	remoteTarget sip.Uri
	secure       bool

	party Party

	machine *fsm.Machine

	ctx    context.Context
	cancel context.CancelFunc

	statesMu sync.Mutex
	onState  []StateFn

	values sync.Map

	lastErr atomic.Pointer[error]
}

// Init wires up the dialog's state machine and context. callID/localCSeq
// come from the INVITE that created the dialog (sent or received).
func (d *Dialog) Init(party Party, inviteRequest *sip.Request) {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.InviteRequest = inviteRequest
	d.party = party
	d.localCSeq.Store(inviteRequest.CSeq().SeqNo)

	d.machine = fsm.New(sip.DialogStateInitial.String(), transitions, map[string]fsm.Action{
		sip.DialogStateEarly.String():      d.onEnter(sip.DialogStateEarly),
		sip.DialogStateConfirmed.String():  d.onEnter(sip.DialogStateConfirmed),
		sip.DialogStateTerminated.String(): d.onEnter(sip.DialogStateTerminated),
		sip.DialogStateError.String():      d.onEnter(sip.DialogStateError),
	})
}

func (d *Dialog) onEnter(s sip.DialogState) fsm.Action {
	return func(ctx context.Context, from, to, input string) {
		if s == sip.DialogStateTerminated || s == sip.DialogStateError {
			d.cancel()
		}
		d.statesMu.Lock()
		cbs := append([]StateFn(nil), d.onState...)
		d.statesMu.Unlock()
		for _, cb := range cbs {
			cb(s)
		}
	}
}

// OnState registers f to run on every future state transition.
func (d *Dialog) OnState(f StateFn) {
	d.statesMu.Lock()
	d.onState = append(d.onState, f)
	d.statesMu.Unlock()
}

// SetID assigns the dialog's identity, either the early form (no
// remote-tag) or the confirmed form, and drives the matching transition.
func (d *Dialog) SetID(ctx context.Context, id ID) error {
	prev := d.id.Swap(&id)
	if prev == nil || prev.IsEarly() {
		if !id.IsEarly() {
			return d.machine.Fire(ctx, inputEarly)
		}
	}
	return nil
}

func (d *Dialog) ID() ID {
	if id := d.id.Load(); id != nil {
		return *id
	}
	return ID{}
}

func (d *Dialog) Confirm(ctx context.Context) error {
	return d.machine.Fire(ctx, inputConfirm)
}

func (d *Dialog) Terminate(ctx context.Context) error {
	return d.machine.Fire(ctx, inputTerminate)
}

// Fail transitions the dialog to its Error sink and records lastErr, per
// the dialog-layer error taxonomy: CSeq regressions, route-set mismatches,
// and missing mandatory headers are DialogErrors, not transport failures.
func (d *Dialog) Fail(ctx context.Context, err error) error {
	d.lastErr.Store(&err)
	return d.machine.Fire(ctx, inputError)
}

func (d *Dialog) LastError() error {
	if p := d.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *Dialog) State() sip.DialogState {
	switch d.machine.Current() {
	case sip.DialogStateEarly.String():
		return sip.DialogStateEarly
	case sip.DialogStateConfirmed.String():
		return sip.DialogStateConfirmed
	case sip.DialogStateTerminated.String():
		return sip.DialogStateTerminated
	case sip.DialogStateError.String():
		return sip.DialogStateError
	default:
		return sip.DialogStateInitial
	}
}

func (d *Dialog) Context() context.Context { return d.ctx }

// NextLocalCSeq returns the next CSeq to place on an in-dialog request and
// advances the counter. ACK and CANCEL reuse the INVITE's original CSeq
// number and must not call this.
func (d *Dialog) NextLocalCSeq() uint32 {
	return d.localCSeq.Add(1)
}

func (d *Dialog) LocalCSeq() uint32 { return d.localCSeq.Load() }

// CheckRemoteCSeq enforces strict monotonicity of the remote party's CSeq
// within this dialog (spec invariant: CSeq(r1) < CSeq(r2) in the same
// direction for r1 < r2 by wall order).
func (d *Dialog) CheckRemoteCSeq(seq uint32) error {
	prev := d.remoteCSeq.Load()
	if prev != 0 && seq <= prev {
		return ErrCSeqRegression
	}
	d.remoteCSeq.Store(seq)
	return nil
}

// SetRouteSet records the Route-set this dialog must use for subsequent
// requests, built from the Record-Route headers of the dialog-creating
// transaction (RFC 3261 section 12.1.1/12.1.2).
func (d *Dialog) SetRouteSet(routeSet []sip.Uri) {
	d.routeSet = routeSet
}

func (d *Dialog) RouteSet() []sip.Uri {
	return d.routeSet
}

// SetRemoteTarget updates the remote-target URI from a dialog-creating or
// dialog-modifying request/response's Contact header.
func (d *Dialog) SetRemoteTarget(target sip.Uri) {
	d.remoteTarget = target
}

func (d *Dialog) RemoteTarget() sip.Uri {
	return d.remoteTarget
}

func (d *Dialog) SetSecure(secure bool) { d.secure = secure }
func (d *Dialog) Secure() bool          { return d.secure }

func (d *Dialog) Store(key string, value any)      { d.values.Store(key, value) }
func (d *Dialog) Load(key string) (any, bool)       { return d.values.Load(key) }
func (d *Dialog) Delete(key string)                 { d.values.Delete(key) }
