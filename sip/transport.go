package sip

import (
	"context"
	"net"
	"strconv"
)

var (
	SIPDebug bool

	// IdleConnection will keep connections idle even after transaction terminate
	// -1 	- single response or request will close
	// 0 	- close connection immediatelly after transaction terminate
	// 1 	- keep connection idle after transaction termination
	IdleConnection int = 1
)

const (
	// NetworkUDP is the message Transport value for UDP. GO uses lowercase
	// network names, but for message parsing we use this constant for setting
	// the message Transport field.
	NetworkUDP = "UDP"

	transportBufferSize uint16 = 65535

	// TransportFixedLengthMessage sets message size limit for parsing and avoids stream parsing
	TransportFixedLengthMessage uint16 = 0
)

// Transport implements network specific features.
type Transport interface {
	Network() string

	// GetConnection returns connection from transport
	// addr must be resolved to IP:port
	GetConnection(addr string) Connection
	CreateConnection(ctx context.Context, laddr Addr, raddr Addr, handler MessageHandler) (Connection, error)
	String() string
	Close() error
}

type Addr struct {
	IP       net.IP // Must be in IP format
	Port     int
	Hostname string // Unresolved name, kept for diagnostics when IP was DNS resolved
	Zone     string // IPv6 scope zone, if any
}

// Copy copies this address into dst. Useful for avoiding dangling IP
// references when an Addr is reused across requests.
func (a *Addr) Copy(dst *Addr) {
	dst.IP = a.IP
	dst.Port = a.Port
	dst.Hostname = a.Hostname
	dst.Zone = a.Zone
}

func (a *Addr) String() string {
	if a.IP == nil {
		return net.JoinHostPort("", strconv.Itoa(a.Port))
	}

	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

func ParseAddr(addr string) (host string, port int, err error) {
	host, pstr, err := net.SplitHostPort(addr)
	if err != nil {
		return host, port, err
	}

	// In case we are dealing with some named ports this should be called
	// net.LookupPort(network)

	port, err = strconv.Atoi(pstr)
	return host, port, err
}
