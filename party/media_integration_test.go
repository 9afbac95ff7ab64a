package party

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gosipstack/sipua/dialog"
	"github.com/gosipstack/sipua/sip"
	"github.com/gosipstack/sipua/sipmedia"
	"github.com/stretchr/testify/require"
)

// TestIntegrationInviteWithSDP drives a full INVITE/200/ACK/BYE exchange
// between two Parties over loopback UDP, negotiating SDP through
// sipmedia.Session on both ends.
func TestIntegrationInviteWithSDP(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Use TEST_INTEGRATION env value to run this test")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uaCallee, err := NewUA(WithUserAgentHostname("127.0.0.1"))
	require.NoError(t, err)
	defer uaCallee.Close()

	uaCaller, err := NewUA(WithUserAgentHostname("127.0.0.1"))
	require.NoError(t, err)
	defer uaCaller.Close()

	calleeMedia := sipmedia.NewSession(sipmedia.Endpoint{
		Username: "bob",
		Addr:     "127.0.0.1",
		Port:     41000,
		Codecs:   []sipmedia.Codec{{PayloadType: 0, RTPMap: "PCMU/8000"}},
	})

	inbound := make(chan *dialog.ServerSession, 1)

	callee, err := NewParty(
		WithUserAgent(uaCallee),
		WithAOR("bob@127.0.0.1"),
		WithListenAddr("127.0.0.1"),
		WithListenPort(19060),
		WithOnInboundInvite(func(ss *dialog.ServerSession) {
			inbound <- ss
		}),
	)
	require.NoError(t, err)
	defer callee.Terminate(ctx)

	callerMedia := sipmedia.NewSession(sipmedia.Endpoint{
		Username: "alice",
		Addr:     "127.0.0.1",
		Port:     42000,
		Codecs:   []sipmedia.Codec{{PayloadType: 0, RTPMap: "PCMU/8000"}},
	})

	caller, err := NewParty(
		WithUserAgent(uaCaller),
		WithAOR("alice@127.0.0.1"),
	)
	require.NoError(t, err)
	defer caller.Terminate(ctx)

	offer, err := callerMedia.Offer()
	require.NoError(t, err)

	target := sip.Uri{User: "bob", Host: "127.0.0.1", Port: 19060}
	clientSession, err := caller.Invite(ctx, target, offer)
	require.NoError(t, err)

	var serverSession *dialog.ServerSession
	select {
	case serverSession = <-inbound:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound INVITE")
	}

	answer, err := calleeMedia.Answer(serverSession.InviteRequest.Body())
	require.NoError(t, err)
	require.NoError(t, callee.Accept(serverSession, answer))

	require.NoError(t, clientSession.WaitAnswer(ctx, dialog.AnswerOptions{}))
	require.NoError(t, callerMedia.RemoteDescription(clientSession.InviteResponse.Body()))
	require.NoError(t, clientSession.Ack(ctx))

	require.NotNil(t, callerMedia.Remote())
	require.Equal(t, calleeMedia.Local.Port, callerMedia.Remote().Port)
	require.NotNil(t, calleeMedia.Remote())
	require.Equal(t, callerMedia.Local.Port, calleeMedia.Remote().Port)

	require.NoError(t, waitForState(ctx, &serverSession.Dialog, func(s sip.DialogState) bool {
		return s == sip.DialogStateConfirmed
	}, 2*time.Second))

	require.NoError(t, clientSession.Bye(ctx))

	require.NoError(t, waitForState(ctx, &serverSession.Dialog, func(s sip.DialogState) bool {
		return s == sip.DialogStateTerminated
	}, 2*time.Second))
}
