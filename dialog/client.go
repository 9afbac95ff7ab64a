package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gosipstack/sipua/metrics"
	"github.com/gosipstack/sipua/sip"
	"github.com/gosipstack/sipua/sipauth"
)

// TransactionRequester is the subset of the party-level client this package
// needs: enough to launch a transaction and write a standalone request
// (ACK) without one. party.Client satisfies it.
type TransactionRequester interface {
	TransactionRequest(ctx context.Context, req *sip.Request) (sip.ClientTransaction, error)
	WriteRequest(req *sip.Request) error
}

// ClientStore indexes in-progress and confirmed UAC dialogs by ID, so
// inbound BYEs and re-INVITEs can be matched back to the session that
// created them.
type ClientStore struct {
	requester  TransactionRequester
	contactHDR sip.ContactHeader
	dialogs    sync.Map // ID.String() -> *ClientSession
}

func NewClientStore(requester TransactionRequester, contactHDR sip.ContactHeader) *ClientStore {
	return &ClientStore{requester: requester, contactHDR: contactHDR}
}

func (cs *ClientStore) Len() int {
	n := 0
	cs.dialogs.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Range calls f for every session currently tracked. f must not block.
func (cs *ClientStore) Range(f func(*ClientSession)) {
	cs.dialogs.Range(func(_, v any) bool {
		f(v.(*ClientSession))
		return true
	})
}

func (cs *ClientStore) load(id string) *ClientSession {
	v, ok := cs.dialogs.Load(id)
	if !ok {
		return nil
	}
	return v.(*ClientSession)
}

// Invite builds and sends an INVITE, returning an early ClientSession.
// Call WaitAnswer next to drive it to Confirmed.
func (cs *ClientStore) Invite(ctx context.Context, recipient sip.Uri, body []byte, headers ...sip.Header) (*ClientSession, error) {
	req := sip.NewRequest(sip.INVITE, recipient)
	if body != nil {
		req.SetBody(body)
	}
	for _, h := range headers {
		req.AppendHeader(h)
	}
	return cs.WriteInvite(ctx, req)
}

func (cs *ClientStore) WriteInvite(ctx context.Context, inviteRequest *sip.Request) (*ClientSession, error) {
	inviteRequest.AppendHeader(&cs.contactHDR)

	tx, err := cs.requester.TransactionRequest(ctx, inviteRequest)
	if err != nil {
		return nil, err
	}

	session := &ClientSession{store: cs, inviteTx: tx}
	session.Init(nil, inviteRequest)
	return session, nil
}

// ReadBye matches an inbound BYE to its dialog, confirms its CSeq, and
// responds 200. The caller's server transaction layer delivers the BYE;
// this only updates dialog bookkeeping and ends the session.
func (cs *ClientStore) ReadBye(req *sip.Request, tx sip.ServerTransaction) error {
	id, err := sip.UASReadRequestDialogID(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutsideDialog, err)
	}

	session := cs.load(id)
	if session == nil {
		return fmt.Errorf("callid=%q: %w", req.CallID().Value(), ErrDoesNotExist)
	}

	if err := session.CheckRemoteCSeq(req.CSeq().SeqNo); err != nil {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Cseq is incorrect", nil)
		return tx.Respond(res)
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		return err
	}

	defer session.Close()
	defer session.inviteTx.Terminate()

	return session.Terminate(session.Context())
}

// ClientSession is a UAC-side dialog: the INVITE it tracks was initiated
// locally.
type ClientSession struct {
	Dialog
	store    *ClientStore
	inviteTx sip.ClientTransaction
}

// Close releases bookkeeping for this session. It does not send BYE or
// CANCEL; callers drive that explicitly via Bye/the transaction's Cancel.
func (s *ClientSession) Close() error {
	if _, existed := s.store.dialogs.LoadAndDelete(s.ID().String()); existed {
		metrics.Default().ActiveDialogs.WithLabelValues("uac").Dec()
	}
	return nil
}

// AnswerOptions customizes WaitAnswer's digest-retry and response
// observation behavior.
type AnswerOptions struct {
	OnResponse func(res *sip.Response)
	Auth       sipauth.Collaborator
}

// WaitAnswer blocks until the INVITE transaction reaches a final response,
// retrying once via the supplied Collaborator on a 401/407 challenge.
// Canceling ctx sends CANCEL. Returns ErrUnexpectedResponse on a non-2xx
// final response.
func (s *ClientSession) WaitAnswer(ctx context.Context, opts AnswerOptions) error {
	tx, inviteRequest := s.inviteTx, s.InviteRequest

	var r *sip.Response
	authRetried := false
	for {
		select {
		case r = <-tx.Responses():
		case <-ctx.Done():
			defer tx.Terminate()
			cancelReq := sip.NewCancelRequest(inviteRequest)
			if err := s.store.requester.WriteRequest(cancelReq); err != nil {
				return errors.Join(err, ctx.Err())
			}
			return ctx.Err()
		case <-tx.Done():
			return errors.Join(fmt.Errorf("transaction terminated"), tx.Err())
		}

		if opts.OnResponse != nil {
			opts.OnResponse(r)
		}

		if r.IsSuccess() {
			break
		}
		if r.IsProvisional() {
			if to := r.To(); to != nil {
				if tag, ok := to.Params.Get("tag"); ok && tag != "" {
					from, _ := inviteRequest.From().Params.Get("tag")
					_ = s.SetID(ctx, ID{CallID: inviteRequest.CallID().Value(), LocalTag: from, RemoteTag: tag})
				}
			}
			continue
		}

		challenge := challengeFor(r)
		if challenge != "" && opts.Auth != nil && !authRetried {
			authRetried = true
			tx.Terminate()
			newTx, err := retryWithAuth(ctx, s.store.requester, inviteRequest, r, opts.Auth)
			if err != nil {
				return err
			}
			tx = newTx
			continue
		}

		return ErrUnexpectedResponse{Res: r}
	}

	id, err := sip.MakeDialogIDFromResponse(r)
	if err != nil {
		return err
	}
	from, _ := r.From().Params.Get("tag")
	to, _ := r.To().Params.Get("tag")

	s.inviteTx = tx
	s.InviteResponse = r
	if cont := r.Contact(); cont != nil {
		s.SetRemoteTarget(cont.Address)
	}
	s.SetRouteSet(recordRouteToRouteSet(r))

	if err := s.SetID(ctx, ID{CallID: r.CallID().Value(), LocalTag: from, RemoteTag: to}); err != nil {
		return err
	}
	if err := s.Confirm(ctx); err != nil {
		return err
	}
	s.store.dialogs.Store(id, s)
	metrics.Default().ActiveDialogs.WithLabelValues("uac").Inc()
	return nil
}

// challengeFor returns the header value of whichever auth challenge header
// is present on r, or "" if none.
func challengeFor(r *sip.Response) string {
	switch r.StatusCode {
	case sip.StatusProxyAuthRequired:
		if h := r.GetHeader("Proxy-Authenticate"); h != nil {
			return h.Value()
		}
	case sip.StatusUnauthorized:
		if h := r.GetHeader("WWW-Authenticate"); h != nil {
			return h.Value()
		}
	}
	return ""
}

func retryWithAuth(ctx context.Context, requester TransactionRequester, req *sip.Request, res *sip.Response, auth sipauth.Collaborator) (sip.ClientTransaction, error) {
	cred, err := auth.Authorize(req.Method.String(), req.Recipient.Addr(), challengeFor(res))
	if err != nil {
		return nil, err
	}

	headerName := "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		headerName = "Proxy-Authorization"
	}

	cseq := req.CSeq()
	cseq.SeqNo++

	req.RemoveHeader(headerName)
	req.AppendHeader(sip.NewHeader(headerName, cred))
	req.RemoveHeader("Via")

	return requester.TransactionRequest(ctx, req)
}

// Ack sends the ACK that confirms the 2xx response to our INVITE.
func (s *ClientSession) Ack(ctx context.Context) error {
	ack := sip.NewAckRequest(s.InviteRequest, s.InviteResponse, nil)
	return s.WriteAck(ctx, ack)
}

func (s *ClientSession) WriteAck(ctx context.Context, ack *sip.Request) error {
	if err := s.store.requester.WriteRequest(ack); err != nil {
		return err
	}
	return nil
}

// Bye sends BYE and ends the session.
func (s *ClientSession) Bye(ctx context.Context) error {
	bye := newByeRequestUAC(s.InviteRequest, s.InviteResponse, nil)
	return s.WriteBye(ctx, bye)
}

func (s *ClientSession) WriteBye(ctx context.Context, bye *sip.Request) error {
	defer s.Close()

	if s.State() == sip.DialogStateTerminated {
		return nil
	}
	if s.State() != sip.DialogStateConfirmed {
		return fmt.Errorf("dialog not confirmed, cannot send BYE")
	}

	cseq := bye.CSeq()
	cseq.SeqNo = s.NextLocalCSeq()

	tx, err := s.store.requester.TransactionRequest(ctx, bye)
	if err != nil {
		return err
	}
	defer s.inviteTx.Terminate()
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

// recordRouteToRouteSet builds a dialog's Route-set from a response's
// Record-Route headers, reversed to reflect the UAC's traversal order per
// RFC 3261 section 12.1.2.
func recordRouteToRouteSet(res *sip.Response) []sip.Uri {
	hdrs := res.GetHeaders("Record-Route")
	routeSet := make([]sip.Uri, 0, len(hdrs))
	for i := len(hdrs) - 1; i >= 0; i-- {
		if rr, ok := hdrs[i].(*sip.RecordRouteHeader); ok {
			routeSet = append(routeSet, rr.Address)
		}
	}
	return routeSet
}

// newByeRequestUAC builds a BYE from an established UAC dialog.
// https://datatracker.ietf.org/doc/html/rfc3261#section-15.1.1
func newByeRequestUAC(inviteRequest *sip.Request, inviteResponse *sip.Response, body []byte) *sip.Request {
	recipient := &inviteRequest.Recipient
	if cont := inviteResponse.Contact(); cont != nil {
		recipient = &cont.Address
	}

	byeRequest := sip.NewRequest(sip.BYE, *recipient.Clone())
	byeRequest.SipVersion = inviteRequest.SipVersion

	if len(inviteRequest.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteRequest, byeRequest)
	}

	maxForwards := sip.MaxForwardsHeader(70)
	byeRequest.AppendHeader(&maxForwards)
	if h := inviteRequest.From(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteResponse.To(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRequest.CallID(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRequest.CSeq(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}

	cseq := byeRequest.CSeq()
	cseq.MethodName = sip.BYE

	byeRequest.SetBody(body)
	byeRequest.SetTransport(inviteRequest.Transport())
	byeRequest.SetSource(inviteRequest.Source())
	return byeRequest
}
