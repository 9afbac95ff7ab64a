package sip

import (
	"net"
	"testing"
	"time"
)

// fakePacketConn is a minimal net.PacketConn stand-in so pool tests don't
// need a real bound socket.
type fakePacketConn struct {
	laddr net.Addr
}

func (f *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) { return 0, nil, nil }
func (f *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	return len(p), nil
}
func (f *fakePacketConn) Close() error                       { return nil }
func (f *fakePacketConn) LocalAddr() net.Addr                { return f.laddr }
func (f *fakePacketConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakePacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakePacketConn) SetWriteDeadline(t time.Time) error { return nil }

func newFakePoolConn(laddr string) *UDPConnection {
	return &UDPConnection{
		PacketConn: &fakePacketConn{laddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}},
		PacketAddr: laddr,
		refcount:   1,
	}
}

func TestConnectionPool(t *testing.T) {
	pool := NewConnectionPool()

	conn := newFakePoolConn("127.0.0.2:5060")

	pool.Add("127.0.0.2:5060", conn)

	c := pool.Get("127.0.0.2:5060")
	if c != conn {
		t.Fatal("Not found connection")
	}
}

func BenchmarkConnectionPool(b *testing.B) {
	pool := NewConnectionPool()

	for i := 0; i < b.N; i++ {
		conn := newFakePoolConn("127.0.0.2:5060")
		a := &net.TCPAddr{
			IP:   net.IPv4('1', '2', '3', byte(i)),
			Port: 1000,
		}
		pool.Add(a.String(), conn)
		c := pool.Get(a.String())
		if c != conn {
			b.Fatal("mismatched function")
		}
	}
}
