// Package fakes provides net.Conn/net.PacketConn doubles for exercising the
// transaction and transport layers without a real socket.
package fakes

import (
	"net"
	"testing"
)

// TestConnection is satisfied by connection doubles that can both drive an
// inbound read and observe an outbound write from a test.
type TestConnection interface {
	TestReadConn(t testing.TB) []byte
	TestWriteConn(t testing.TB, data []byte)
	TestRequest(t testing.TB, data []byte) []byte
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}
