package siptest

import (
	"log/slog"

	"github.com/gosipstack/sipua/sip"
)

// ServerTxRecorder wraps a server transaction whose connection is a
// connRecorder, so a test can assert on the sequence of responses the
// transaction produced.
type ServerTxRecorder struct {
	*sip.ServerTx
	c *connRecorder
}

func NewServerTxRecorder(req *sip.Request) *ServerTxRecorder {
	key, err := sip.ServerTxKeyMake(req)
	if err != nil {
		panic(err)
	}
	conn := newConnRecorder()
	stx := sip.NewServerTx(key, req, conn, slog.Default(), nil)
	if err := stx.Init(); err != nil {
		panic(err)
	}
	return &ServerTxRecorder{stx, conn}
}

// Result returns the responses sent on this transaction so far. Nil if none.
func (r *ServerTxRecorder) Result() []*sip.Response {
	if len(r.c.msgs) == 0 {
		return nil
	}
	resps := make([]*sip.Response, len(r.c.msgs))
	for i, m := range r.c.msgs {
		resps[i] = m.(*sip.Response).Clone()
	}
	return resps
}
