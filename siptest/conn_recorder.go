package siptest

import (
	"net"
	"sync/atomic"

	"github.com/gosipstack/sipua/sip"
)

// connRecorder is a Connection that appends every written message to a
// slice instead of touching a socket, for transaction-level assertions.
type connRecorder struct {
	msgs []sip.Message

	ref atomic.Int32
}

func newConnRecorder() *connRecorder {
	return &connRecorder{}
}

func (c *connRecorder) LocalAddr() net.Addr {
	return nil
}

func (c *connRecorder) WriteMsg(msg sip.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *connRecorder) Ref(i int) int {
	return int(c.ref.Add(int32(i)))
}

func (c *connRecorder) TryClose() (int, error) {
	n := c.ref.Add(-1)
	return int(n), nil
}

func (c *connRecorder) Close() error { return nil }
