package siptest

import (
	"context"
	"log/slog"

	"github.com/gosipstack/sipua/sip"
)

// ClientTxRequester fakes party.ClientTransactionRequester for tests that
// want to supply the final response synchronously.
type ClientTxRequester struct {
	OnRequest func(req *sip.Request) *sip.Response
}

func (r *ClientTxRequester) Request(ctx context.Context, req *sip.Request) (sip.ClientTransaction, error) {
	key, err := sip.ClientTxKeyMake(req)
	if err != nil {
		return nil, err
	}
	rec := newConnRecorder()
	tx := sip.NewClientTx(key, req, rec, slog.Default(), nil)
	if err := tx.Init(); err != nil {
		return nil, err
	}

	resp := r.OnRequest(req)
	go tx.Receive(resp)

	return tx, nil
}

// ClientTxResponder lets a test drive responses into a transaction created
// by ClientTxRequesterResponder after the request has been handed off.
type ClientTxResponder struct {
	tx *sip.ClientTx
}

func (r *ClientTxResponder) Receive(res *sip.Response) {
	r.tx.Receive(res)
}

// ClientTxRequesterResponder is like ClientTxRequester but hands the caller
// a ClientTxResponder instead of requiring the final response up front,
// so provisional-then-final sequences can be scripted.
type ClientTxRequesterResponder struct {
	OnRequest func(req *sip.Request, w *ClientTxResponder)
}

func (r *ClientTxRequesterResponder) Request(ctx context.Context, req *sip.Request) (sip.ClientTransaction, error) {
	key, err := sip.ClientTxKeyMake(req)
	if err != nil {
		return nil, err
	}
	rec := newConnRecorder()
	tx := sip.NewClientTx(key, req, rec, slog.Default(), nil)
	if err := tx.Init(); err != nil {
		return nil, err
	}
	w := ClientTxResponder{tx: tx}
	go r.OnRequest(req, &w)
	return tx, nil
}
