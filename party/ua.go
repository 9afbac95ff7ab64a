package party

import (
	"context"
	"net"
	"strings"

	"github.com/gosipstack/sipua/sip"
)

type UserAgent struct {
	name string
	ip   net.IP
	host string
	port int

	dnsResolver *net.Resolver
	tp          *sip.TransportLayer
	tx          *sip.TransactionLayer
}

type UserAgentOption func(s *UserAgent) error

func WithUserAgent(ua string) UserAgentOption {
	return func(s *UserAgent) error {
		s.name = ua
		return nil
	}
}

func WithIP(ip string) UserAgentOption {
	return func(s *UserAgent) error {
		host, _, err := net.SplitHostPort(ip)
		if err != nil {
			return err
		}
		addr, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return err
		}
		return s.setIP(addr.IP)
	}
}

// WithUserAgentHostname sets the UserAgent's host directly from a bare
// hostname or IP literal, skipping WithIP's DNS resolution. Useful in
// tests that want a From/Contact host that never touches the resolver.
func WithUserAgentHostname(hostname string) UserAgentOption {
	return func(s *UserAgent) error {
		s.host = hostname
		if ip := net.ParseIP(hostname); ip != nil {
			s.ip = ip
		}
		return nil
	}
}

func WithDNSResolver(r *net.Resolver) UserAgentOption {
	return func(s *UserAgent) error {
		s.dnsResolver = r
		return nil
	}
}

func WithUDPDNSResolver(dns string) ServerOption {
	return func(s *Server) error {
		s.dnsResolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, "udp", dns)
			},
		}
		return nil
	}
}

func NewUA(options ...UserAgentOption) (*UserAgent, error) {
	s := &UserAgent{name: "sipgo"}

	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	if s.ip == nil && s.host == "" {
		v, err := sip.ResolveSelfIP()
		if err != nil {
			return nil, err
		}
		if err := s.setIP(v); err != nil {
			return nil, err
		}
	}

	s.tp = sip.NewTransportLayer(s.dnsResolver, sip.NewParser())
	s.tx = sip.NewTransactionLayer(s.tp)
	return s, nil
}

// Close shuts down the UserAgent's transaction and transport layers,
// terminating any transactions still in flight and closing every
// listening/outbound UDP socket the transport opened.
func (ua *UserAgent) Close() error {
	ua.tx.Close()
	return ua.tp.Close()
}

func (ua *UserAgent) TransportLayer() *sip.TransportLayer { return ua.tp }

// setIP sets the UserAgent's IP and derives its host from it.
func (ua *UserAgent) setIP(ip net.IP) (err error) {
	ua.ip = ip
	ua.host = strings.Split(ip.String(), ":")[0]
	return err
}
