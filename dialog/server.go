package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gosipstack/sipua/metrics"
	"github.com/gosipstack/sipua/sip"
)

// ServerStore indexes in-progress and confirmed UAS dialogs by ID.
type ServerStore struct {
	requester  TransactionRequester
	contactHDR sip.ContactHeader
	dialogs    sync.Map // ID.String() -> *ServerSession
}

func NewServerStore(requester TransactionRequester, contactHDR sip.ContactHeader) *ServerStore {
	return &ServerStore{requester: requester, contactHDR: contactHDR}
}

func (ss *ServerStore) load(id string) *ServerSession {
	v, ok := ss.dialogs.Load(id)
	if !ok {
		return nil
	}
	return v.(*ServerSession)
}

// Range calls f for every session currently tracked. f must not block.
func (ss *ServerStore) Range(f func(*ServerSession)) {
	ss.dialogs.Range(func(_, v any) bool {
		f(v.(*ServerSession))
		return true
	})
}

func (ss *ServerStore) matchRequest(req *sip.Request) (*ServerSession, error) {
	id, err := sip.UASReadRequestDialogID(req)
	if err != nil {
		return nil, errors.Join(ErrOutsideDialog, err)
	}
	session := ss.load(id)
	if session == nil {
		return nil, ErrDoesNotExist
	}
	return session, nil
}

// ReadInvite creates the early UAS-side dialog for an inbound INVITE. The
// caller answers via the returned ServerSession's Respond/RespondSDP.
func (ss *ServerStore) ReadInvite(req *sip.Request, tx sip.ServerTransaction) (*ServerSession, error) {
	if req.Contact() == nil {
		return nil, ErrNoContact
	}

	// The To-tag must be fixed before UASReadRequestDialogID runs so every
	// response built off this request (1xx through 2xx) carries the same tag.
	toTag, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating dialog to-tag failed: %w", err)
	}
	setTag(req.To(), toTag.String())

	id, err := sip.UASReadRequestDialogID(req)
	if err != nil {
		return nil, err
	}

	session := &ServerSession{store: ss, inviteTx: tx}
	session.Init(nil, req)
	if fromTag, ok := req.From().Params.Get("tag"); ok {
		_ = session.SetID(session.Context(), ID{CallID: req.CallID().Value(), LocalTag: toTag.String(), RemoteTag: fromTag})
	}
	if cont := req.Contact(); cont != nil {
		session.SetRemoteTarget(cont.Address)
	}

	tx.OnCancel(func(cancelReq *sip.Request) {
		session.canceled.Store(true)
		_ = session.Fail(session.Context(), ErrCanceled)
		session.Close()
	})

	ss.dialogs.Store(id, session)
	metrics.Default().ActiveDialogs.WithLabelValues("uas").Inc()
	return session, nil
}

func setTag(h *sip.ToHeader, tag string) {
	for i, kv := range h.Params {
		if kv.K == "tag" {
			h.Params[i].V = tag
			return
		}
	}
	h.Params = append(h.Params, sip.HeaderKV{K: "tag", V: tag})
}

// ReadAck confirms the dialog once the 2xx's ACK arrives.
func (ss *ServerStore) ReadAck(req *sip.Request, tx sip.ServerTransaction) error {
	session, err := ss.matchRequest(req)
	if err != nil {
		return err
	}
	return session.Confirm(session.Context())
}

// ReadBye terminates the dialog and answers the BYE with 200.
func (ss *ServerStore) ReadBye(req *sip.Request, tx sip.ServerTransaction) error {
	session, err := ss.matchRequest(req)
	if err != nil {
		return err
	}

	if err := session.CheckRemoteCSeq(req.CSeq().SeqNo); err != nil {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Cseq is incorrect", nil)
		return tx.Respond(res)
	}

	defer session.Close()
	defer session.inviteTx.Terminate()

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		return err
	}

	return session.Terminate(session.Context())
}

// ServerSession is a UAS-side dialog: the INVITE it tracks was received
// from the network.
type ServerSession struct {
	Dialog
	store    *ServerStore
	inviteTx sip.ServerTransaction
	canceled atomic.Bool
}

func (s *ServerSession) Close() error {
	if _, existed := s.store.dialogs.LoadAndDelete(s.ID().String()); existed {
		metrics.Default().ActiveDialogs.WithLabelValues("uas").Dec()
	}
	return nil
}

// TransactionRequest sends a new in-dialog request (e.g. a re-INVITE),
// applying CSeq discipline and the recorded Route-set per RFC 3261
// section 12.2.1.
func (s *ServerSession) TransactionRequest(ctx context.Context, req *sip.Request) (sip.ClientTransaction, error) {
	cseq := req.CSeq()
	if cseq == nil {
		cseq = &sip.CSeqHeader{SeqNo: s.LocalCSeq(), MethodName: req.Method}
		req.AppendHeader(cseq)
	}

	if req.IsAck() || req.IsCancel() {
		cseq.SeqNo = s.LocalCSeq()
	} else {
		cseq.SeqNo = s.NextLocalCSeq()
	}

	// The UAS Route-set is the INVITE's Record-Route list, kept in order
	// (RFC 3261 section 12.1.1).
	for _, h := range s.InviteRequest.GetHeaders("Record-Route") {
		req.AppendHeader(sip.NewHeader("Route", h.Value()))
	}

	if rr := req.Route(); rr != nil {
		req.SetDestination(rr.Address.HostPort())
	}

	return s.store.requester.TransactionRequest(ctx, req)
}

func (s *ServerSession) WriteRequest(req *sip.Request) error {
	return s.store.requester.WriteRequest(req)
}

// Respond sends a provisional or final response to the tracked INVITE.
// Call it multiple times for 100/180 before the final 2xx/non-2xx.
func (s *ServerSession) Respond(statusCode sip.StatusCode, reason string, body []byte, headers ...sip.Header) error {
	res := sip.NewResponseFromRequest(s.InviteRequest, statusCode, reason, body)
	for _, h := range headers {
		res.AppendHeader(h)
	}
	return s.WriteResponse(res)
}

// RespondSDP answers the INVITE with 200 OK and the given SDP body.
func (s *ServerSession) RespondSDP(sdp []byte) error {
	if sdp == nil {
		return fmt.Errorf("sdp not provided")
	}
	res := sip.NewSDPResponseFromRequest(s.InviteRequest, sdp)
	return s.WriteResponse(res)
}

func (s *ServerSession) WriteResponse(res *sip.Response) error {
	tx := s.inviteTx

	if res.Contact() == nil {
		res.AppendHeader(&s.store.contactHDR)
	}
	s.InviteResponse = res

	if s.canceled.Load() {
		return ErrCanceled
	}

	select {
	case <-tx.Done():
		return tx.Err()
	default:
	}

	if !res.IsSuccess() {
		if res.IsProvisional() {
			if to := res.To(); to != nil {
				if tag, ok := to.Params.Get("tag"); ok && tag != "" {
					from, _ := res.From().Params.Get("tag")
					_ = s.SetID(s.Context(), ID{CallID: res.CallID().Value(), LocalTag: tag, RemoteTag: from})
				}
			}
			return tx.Respond(res)
		}

		if err := tx.Respond(res); err != nil {
			return err
		}
		return s.Terminate(s.Context())
	}

	// UAS-side id: the local tag is in To, the remote tag in From.
	if res.From() == nil || res.To() == nil {
		return sip.ErrDialogIDMissingParty
	}
	fromTag, _ := res.From().Params.Get("tag")
	toTag, _ := res.To().Params.Get("tag")
	id := ID{CallID: res.CallID().Value(), LocalTag: toTag, RemoteTag: fromTag}
	if id != s.ID() {
		return fmt.Errorf("dialog id mismatch: invite request headers changed after ReadInvite")
	}

	// The dialog is confirmed by ReadAck once the ACK for this 2xx arrives.
	if err := tx.Respond(res); err != nil {
		s.Close()
		return err
	}
	return nil
}

// Bye sends BYE from the UAS side after the dialog is confirmed, per RFC
// 3261 section 15: the callee MUST NOT send BYE on a confirmed dialog
// until it has received an ACK or until its INVITE server transaction
// times out.
func (s *ServerSession) Bye(ctx context.Context) error {
	if s.State() == sip.DialogStateTerminated {
		return nil
	}
	if s.State() != sip.DialogStateConfirmed {
		return nil
	}

	req, res := s.InviteRequest, s.InviteResponse
	if !res.IsSuccess() {
		return fmt.Errorf("cannot send BYE on a non-success response")
	}

	defer s.inviteTx.Terminate()

	for s.State() < sip.DialogStateConfirmed {
		select {
		case <-s.inviteTx.Done():
		case <-time.After(sip.T1):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
		break
	}

	bye := newByeRequestUAS(req, res)

	localTag, _ := bye.From().Params.Get("tag")
	remoteTag, _ := bye.To().Params.Get("tag")
	byeID := ID{
		CallID:    bye.CallID().Value(),
		LocalTag:  localTag,
		RemoteTag: remoteTag,
	}
	if s.ID().String() != byeID.String() {
		return fmt.Errorf("non matching dialog id %q != %q", s.ID(), byeID)
	}

	tx, err := s.TransactionRequest(ctx, bye)
	if err != nil {
		return err
	}
	defer tx.Terminate()

	select {
	case res := <-tx.Responses():
		if res.StatusCode != 200 {
			return ErrUnexpectedResponse{Res: res}
		}
		return s.Terminate(ctx)
	case <-tx.Done():
		return tx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newByeRequestUAS builds the BYE a UAS sends to terminate a confirmed
// dialog it did not initiate. Via is left to the transport layer.
func newByeRequestUAS(req *sip.Request, res *sip.Response) *sip.Request {
	cont := req.Contact()
	bye := sip.NewRequest(sip.BYE, cont.Address)

	from := res.From()
	to := res.To()
	callid := res.CallID()

	newFrom := &sip.FromHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params}
	newTo := &sip.ToHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params}

	bye.AppendHeader(newFrom)
	bye.AppendHeader(newTo)
	bye.AppendHeader(callid)

	return bye
}
