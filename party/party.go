// Package party implements the user-facing handle (Component F): the
// operations a host program drives directly (listen, invite, accept,
// reject, terminate) and the AOR-based routing that lets many Parties
// share one Transport, per spec section 4.F and the shared-socket
// scenario in section 8. It consolidates what the teacher split across
// its module-root client.go/server.go/ua.go into one package, since
// this module keeps no vanity root package of its own.
package party

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gosipstack/sipua/dialog"
	"github.com/gosipstack/sipua/sip"
)

// clientRequester narrows *Client down to dialog.TransactionRequester.
// Client's own TransactionRequest/WriteRequest carry a variadic
// ClientRequestOption tail for proxy-style callers; the dialog layer
// only ever wants the default request-building behavior, so this
// adapter pins that down to the exact two-method shape dialog expects.
type clientRequester struct{ c *Client }

func (r clientRequester) TransactionRequest(ctx context.Context, req *sip.Request) (sip.ClientTransaction, error) {
	return r.c.TransactionRequest(ctx, req)
}

func (r clientRequester) WriteRequest(req *sip.Request) error {
	return r.c.WriteRequest(req)
}

var (
	defaultUAOnce sync.Once
	defaultUA     *UserAgent
	defaultUAErr  error
)

// sharedUserAgent returns the process-scoped default UserAgent,
// created on first use, per spec section 9's Singleton Transport
// redesign note. Parties that want an isolated Transport (tests,
// multiple local identities on different ports) should pass
// WithUserAgent instead.
func sharedUserAgent() (*UserAgent, error) {
	defaultUAOnce.Do(func() {
		defaultUA, defaultUAErr = NewUA()
	})
	return defaultUA, defaultUAErr
}

// Party is the public handle spec section 4.F describes: a local
// identity (AOR) that can listen for inbound INVITEs and place
// outbound ones, backed by a dialog manager.
type Party struct {
	ua     *UserAgent
	client *Client

	aor        sip.Uri
	contactHDR sip.ContactHeader

	clientStore *dialog.ClientStore
	serverStore *dialog.ServerStore

	cfg *Config

	mu       sync.Mutex
	listened map[string]bool
	closed   bool
}

// AOR returns the Party's address-of-record URI, satisfying
// dialog.Party.
func (p *Party) AOR() sip.Uri { return p.aor }

// NewParty builds a Party from options. With no WithUserAgent option
// it binds to the process-wide shared UserAgent, so many Parties
// constructed this way share exactly one Transport and, once they
// Listen on the same address, exactly one listen socket (spec section
// 8 scenario 5).
func NewParty(opts ...Option) (*Party, error) {
	cfg := &Config{
		t1: sip.T1, t2: sip.T2, t4: sip.T4,
		maxForwards: 70,
	}
	for _, o := range opts {
		o(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.timersSet {
		sip.SetTimers(cfg.t1, cfg.t2, cfg.t4)
	}

	ua := cfg.ua
	if ua == nil {
		var err error
		ua, err = sharedUserAgent()
		if err != nil {
			return nil, fmt.Errorf("party: default user agent: %w", err)
		}
	}

	client, err := NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("party: client: %w", err)
	}

	contactHDR := sip.ContactHeader{Address: cfg.uri}
	requester := clientRequester{client}

	p := &Party{
		ua:          ua,
		client:      client,
		aor:         cfg.uri,
		contactHDR:  contactHDR,
		clientStore: dialog.NewClientStore(requester, contactHDR),
		serverStore: dialog.NewServerStore(requester, contactHDR),
		cfg:         cfg,
		listened:    make(map[string]bool),
	}

	registerParty(ua, p)

	if cfg.listenAddr != "" || cfg.listenPort != 0 {
		if err := p.Listen(context.Background(), cfg.listenAddr, cfg.listenPort, cfg.portFilter); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Listen binds (or reuses) a SocketProxy for this Party's UserAgent
// and registers the Party's AOR so inbound requests whose
// request-URI matches are routed to it, per spec section 4.F.
// port_filter, when given, is consulted before an existing socket on
// the same UserAgent is reused; returning false forces Listen to
// report an error rather than silently bind a second one, since one
// UserAgent's TransportLayer only ever runs one UDP listener today.
func (p *Party) Listen(ctx context.Context, addr string, port int, portFilter func(addr string) bool) error {
	if addr == "" {
		addr = "0.0.0.0"
	}
	if port == 0 {
		port = 5060
	}
	hostPort := net.JoinHostPort(addr, strconv.Itoa(port))

	p.mu.Lock()
	if p.listened[hostPort] {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := listenShared(ctx, p.ua, hostPort, portFilter); err != nil {
		return err
	}

	p.mu.Lock()
	p.listened[hostPort] = true
	p.mu.Unlock()
	return nil
}

// Invite creates a Dialog, creates an INVITE client transaction, and
// returns the Dialog handle immediately: per spec section 4.F this is
// asynchronous, state is observed via dialog.ClientSession.OnState or
// by calling WaitAnswer.
func (p *Party) Invite(ctx context.Context, target sip.Uri, body []byte, headers ...sip.Header) (*dialog.ClientSession, error) {
	return p.clientStore.Invite(ctx, target, body, headers...)
}

// Accept answers an inbound INVITE with 200 OK (optionally carrying
// an SDP body), confirming the dialog once the ACK arrives.
func (p *Party) Accept(session *dialog.ServerSession, body []byte) error {
	if body == nil {
		return session.Respond(sip.StatusOK, "OK", nil)
	}
	return session.RespondSDP(body)
}

// Reject answers an inbound INVITE with a non-2xx final response.
func (p *Party) Reject(session *dialog.ServerSession, status sip.StatusCode, reason string) error {
	return session.Respond(status, reason, nil)
}

// Terminate unregisters the Party's AOR, BYEs every dialog it still
// holds in the Confirmed state, and releases its reference to every
// shared listener it bound. A listener's UDP socket is closed once no
// Party on the same UserAgent still references it.
func (p *Party) Terminate(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	unregisterParty(p.ua, p)

	p.mu.Lock()
	hostPorts := make([]string, 0, len(p.listened))
	for hostPort := range p.listened {
		hostPorts = append(hostPorts, hostPort)
	}
	p.mu.Unlock()
	for _, hostPort := range hostPorts {
		if err := releaseShared(p.ua, hostPort); err != nil {
			routingLog.Error("release shared listener", "hostPort", hostPort, "error", err)
		}
	}

	var firstErr error
	p.clientStore.Range(func(s *dialog.ClientSession) {
		if s.State() == sip.DialogStateConfirmed {
			if err := s.Bye(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	p.serverStore.Range(func(s *dialog.ServerSession) {
		if s.State() == sip.DialogStateConfirmed {
			if err := s.Bye(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// waitForState blocks until pred(session.State()) is true or deadline
// elapses, per spec section 5's asynchronous wait_for_state.
func waitForState(ctx context.Context, d *dialog.Dialog, pred func(sip.DialogState) bool, deadline time.Duration) error {
	if pred(d.State()) {
		return nil
	}
	ch := make(chan struct{}, 1)
	d.OnState(func(sip.DialogState) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		if pred(d.State()) {
			return nil
		}
		select {
		case <-ch:
			continue
		case <-timer.C:
			return fmt.Errorf("party: wait_for_state timed out after %s", deadline)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
