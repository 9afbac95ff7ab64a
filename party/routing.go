package party

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/gosipstack/sipua/sip"
)

var routingLog = sip.DefaultLogger().With("caller", "party.routing")

// uaRegistry tracks, for one UserAgent, which Parties are listening
// (keyed by AOR) and which local addresses already have a UDP listener
// running. Per spec section 4.C, many Parties share one Transport;
// this is the demultiplexing table that makes "exactly one listen
// socket, each Party sees only its own inbound INVITEs" (spec section
// 8 scenario 5) hold.
type uaRegistry struct {
	mu sync.Mutex

	parties map[string]*Party    // aorKey -> Party
	conns   map[string]*net.UDPConn // hostPort -> bound listener
	refs    map[string]int          // hostPort -> Party refcount

	dispatchInstalled bool
}

var (
	registriesMu sync.Mutex
	registries   = make(map[*UserAgent]*uaRegistry)
)

func registryFor(ua *UserAgent) *uaRegistry {
	registriesMu.Lock()
	defer registriesMu.Unlock()

	r, ok := registries[ua]
	if !ok {
		r = &uaRegistry{
			parties: make(map[string]*Party),
			conns:   make(map[string]*net.UDPConn),
			refs:    make(map[string]int),
		}
		registries[ua] = r
	}
	return r
}

// aorKey normalizes a URI's user/host for AOR routing lookups. Host
// comparison is case-insensitive per RFC 3261; the user part stays
// exact since SIP treats it as an opaque token.
func aorKey(u sip.Uri) string {
	return u.User + "@" + strings.ToLower(u.Host)
}

// registerParty makes p reachable by its AOR for any inbound request
// arriving on ua's Transport, installing the shared dispatcher on
// ua.tx the first time any Party registers against this UserAgent.
func registerParty(ua *UserAgent, p *Party) {
	r := registryFor(ua)

	r.mu.Lock()
	r.parties[aorKey(p.aor)] = p
	install := !r.dispatchInstalled
	r.dispatchInstalled = true
	r.mu.Unlock()

	if install {
		ua.tx.OnRequest(r.dispatch)
	}
}

// unregisterParty removes p from ua's AOR routing table. The shared
// dispatcher and any listening sockets stay up for other Parties still
// registered against the same UserAgent.
func unregisterParty(ua *UserAgent, p *Party) {
	r := registryFor(ua)
	r.mu.Lock()
	delete(r.parties, aorKey(p.aor))
	r.mu.Unlock()
}

// listenShared ensures ua has a UDP listener bound on hostPort,
// reference-counted across every Party that asks for the same
// address, per spec section 4.C's SocketProxy reuse policy: the
// socket is only actually closed once every Party referencing it has
// released it. portFilter, when non-nil and a listener on hostPort
// already exists, is consulted before that listener is shared;
// returning false makes listenShared return an error, since a second
// socket cannot be bound on the same hostPort. A new listener is
// created without consulting portFilter.
func listenShared(ctx context.Context, ua *UserAgent, hostPort string, portFilter func(addr string) bool) error {
	r := registryFor(ua)

	r.mu.Lock()
	_, exists := r.conns[hostPort]
	r.mu.Unlock()
	if exists && portFilter != nil && !portFilter(hostPort) {
		return fmt.Errorf("party: existing listener on %s rejected by port filter", hostPort)
	}

	r.mu.Lock()
	if _, ok := r.conns[hostPort]; ok {
		r.refs[hostPort]++
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	laddr, err := net.ResolveUDPAddr("udp", hostPort)
	if err != nil {
		return fmt.Errorf("party: resolve %s: %w", hostPort, err)
	}

	var conn *net.UDPConn
	const maxBindAttempts = 20
	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		conn, err = net.ListenUDP("udp", laddr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("party: bind %s after %d attempts: %w", hostPort, maxBindAttempts, err)
	}

	r.mu.Lock()
	if _, ok := r.conns[hostPort]; ok {
		// Lost a race with another Listen call; keep the winner's socket.
		r.refs[hostPort]++
		r.mu.Unlock()
		conn.Close()
		return nil
	}
	r.conns[hostPort] = conn
	r.refs[hostPort] = 1
	r.mu.Unlock()

	go func() {
		if err := ua.tp.ServeUDP(conn); err != nil {
			routingLog.Error("shared listener stopped", "hostPort", hostPort, "error", err)
		}
	}()

	return nil
}

// releaseShared drops one reference to hostPort's shared listener,
// closing the underlying socket once the last Party referencing it has
// released it. Per spec section 4.C the socket is process-scoped
// reused state, not owned by any single Party, so it only goes away
// when nobody is left to route to.
func releaseShared(ua *UserAgent, hostPort string) error {
	r := registryFor(ua)

	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.refs[hostPort]
	if !ok {
		return nil
	}
	n--
	if n > 0 {
		r.refs[hostPort] = n
		return nil
	}

	delete(r.refs, hostPort)
	conn := r.conns[hostPort]
	delete(r.conns, hostPort)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// dispatch is the single TransactionLayer-level request handler
// installed for every Party sharing a UserAgent. It routes by the
// request-URI's AOR (spec section 4.F) to the Party registered for
// it, answering with 404 when none matches (the orphan-request case
// of spec section 4.C's demultiplexing algorithm, one level up from
// the transport's own orphan-response handling).
func (r *uaRegistry) dispatch(req *sip.Request, tx sip.ServerTransaction) {
	r.mu.Lock()
	p, ok := r.parties[aorKey(req.Recipient)]
	r.mu.Unlock()

	if !ok {
		res := sip.NewResponseFromRequest(req, sip.StatusNotFound, "Not Found", nil)
		_ = tx.Respond(res)
		return
	}

	switch req.Method {
	case sip.INVITE:
		session, err := p.serverStore.ReadInvite(req, tx)
		if err != nil {
			res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil)
			_ = tx.Respond(res)
			return
		}
		if p.cfg.onInboundInvite != nil {
			p.cfg.onInboundInvite(session)
		}
	case sip.BYE:
		if err := p.serverStore.ReadBye(req, tx); err != nil {
			if err := p.clientStore.ReadBye(req, tx); err != nil {
				res := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call Leg/Transaction Does Not Exist", nil)
				_ = tx.Respond(res)
			}
		}
	case sip.ACK:
		// ACK for a non-2xx is absorbed by the server transaction itself
		// (spec section 4.D) and never reaches here; this path is only
		// the 2xx case, which the dialog must observe directly.
		_ = p.serverStore.ReadAck(req, tx)
	case sip.OPTIONS:
		res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		_ = tx.Respond(res)
	default:
		res := sip.NewResponseFromRequest(req, sip.StatusMethodNotAllowed, "Method Not Allowed", nil)
		_ = tx.Respond(res)
	}
}
