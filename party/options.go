package party

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gosipstack/sipua/dialog"
	"github.com/gosipstack/sipua/sip"
	"github.com/gosipstack/sipua/sipauth"
)

// Config collects the construction-time options a Party accepts, per
// spec section 6: aor/uri/username/host are mutually derivable, the
// listen_* trio controls the socket it requests from the shared
// Transport, and t1_ms/t2_ms/t4_ms override the process timers for
// test setups that cannot wait out real RFC 3261 defaults.
type Config struct {
	uri      sip.Uri
	uriSet   bool
	uriErr   error
	username string
	host     string

	listenAddr string
	listenPort int
	portFilter func(addr string) bool

	t1, t2, t4  time.Duration
	timersSet   bool
	maxForwards uint32

	ua *UserAgent

	log *slog.Logger

	auth sipauth.Collaborator

	onInboundInvite func(*dialog.ServerSession)
	onDialogState   func(id dialog.ID, old, new sip.DialogState)
}

type Option func(*Config)

// WithURI sets the Party's address-of-record by parsing a full SIP URI
// string (e.g. "sip:alice@example.com"), propagating into
// username/host per spec section 6's two-way AOR derivation.
func WithURI(uri string) Option {
	return func(c *Config) {
		var u sip.Uri
		if err := sip.ParseUri(uri, &u); err != nil {
			// Deferred: NewParty reports the error. Keeping Option's
			// signature error-free matches the functional-option style
			// already used by UserAgentOption/ClientOption/ServerOption.
			c.uriErr = err
			return
		}
		c.uri = u
		c.uriSet = true
		c.username = u.User
		c.host = u.Host
	}
}

// WithAOR sets the Party's address-of-record from a bare "user@host"
// pair, composing it into a sip: URI.
func WithAOR(aor string) Option {
	return func(c *Config) {
		var u sip.Uri
		if err := sip.ParseUri("sip:"+aor, &u); err != nil {
			c.uriErr = err
			return
		}
		c.uri = u
		c.uriSet = true
		c.username = u.User
		c.host = u.Host
	}
}

func WithUsername(username string) Option {
	return func(c *Config) { c.username = username }
}

func WithHost(host string) Option {
	return func(c *Config) { c.host = host }
}

func WithListenAddr(addr string) Option {
	return func(c *Config) { c.listenAddr = addr }
}

func WithListenPort(port int) Option {
	return func(c *Config) { c.listenPort = port }
}

// WithPortFilter restricts which already-bound sockets this Party is
// willing to share, per spec section 4.C's socket reuse policy.
func WithPortFilter(f func(addr string) bool) Option {
	return func(c *Config) { c.portFilter = f }
}

// WithT1/WithT2/WithT4 override the RFC 3261 retransmission timers.
// The underlying transaction layer keeps one process-wide timer set
// (sip.SetTimers), so this takes effect for every Party in the
// process, matching the teacher's own package-level timer constants;
// it exists to let tests run the INVITE/non-INVITE state machines
// without waiting out the real 500ms/4s/5s defaults.
func WithT1(d time.Duration) Option {
	return func(c *Config) { c.t1 = d; c.timersSet = true }
}

func WithT2(d time.Duration) Option {
	return func(c *Config) { c.t2 = d; c.timersSet = true }
}

func WithT4(d time.Duration) Option {
	return func(c *Config) { c.t4 = d; c.timersSet = true }
}

func WithMaxForwards(n uint32) Option {
	return func(c *Config) { c.maxForwards = n }
}

// WithUserAgent injects an existing UserAgent (and therefore its
// Transport/Transaction layers) instead of the process-wide default,
// per spec section 9's "pass it explicitly through the Party
// constructor for testability" redesign note.
func WithUserAgent(ua *UserAgent) Option {
	return func(c *Config) { c.ua = ua }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Config) { c.log = log }
}

// WithAuth installs the Authentication collaborator (spec section 6)
// used to answer 401/407 challenges on outbound INVITEs.
func WithAuth(auth sipauth.Collaborator) Option {
	return func(c *Config) { c.auth = auth }
}

// WithOnInboundInvite registers the callback spec section 6 names
// `on_inbound_invite(dialog)`. The session is in the Early state;
// answer it via Party.Accept/Party.Reject.
func WithOnInboundInvite(f func(*dialog.ServerSession)) Option {
	return func(c *Config) { c.onInboundInvite = f }
}

// WithOnDialogState registers the callback spec section 6 names
// `on_dialog_state(dialog, old, new)`.
func WithOnDialogState(f func(id dialog.ID, old, new sip.DialogState)) Option {
	return func(c *Config) { c.onDialogState = f }
}

func (c *Config) validate() error {
	if c.uriErr != nil {
		return fmt.Errorf("party: %w", c.uriErr)
	}
	if !c.uriSet && c.username != "" && c.host != "" {
		c.uri = sip.Uri{User: c.username, Host: c.host}
		c.uriSet = true
	}
	if !c.uriSet {
		return fmt.Errorf("party: no aor/uri/username+host configured")
	}
	return nil
}
