package sipmedia

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionOfferAnswerRoundTrip(t *testing.T) {
	caller := NewSession(Endpoint{
		Addr:   "127.0.0.1",
		Port:   33000,
		Codecs: []Codec{{PayloadType: 0, RTPMap: "PCMU/8000"}},
	})
	callee := NewSession(Endpoint{
		Addr:   "127.0.0.2",
		Port:   34000,
		Codecs: []Codec{{PayloadType: 0, RTPMap: "PCMU/8000"}},
	})

	offer, err := caller.Offer()
	require.NoError(t, err)
	assert.Contains(t, string(offer), "m=audio 33000 RTP/AVP 0")

	answer, err := callee.Answer(offer)
	require.NoError(t, err)
	assert.Contains(t, string(answer), "m=audio 34000 RTP/AVP 0")

	require.NoError(t, caller.RemoteDescription(answer))
	require.NotNil(t, caller.Remote())
	assert.Equal(t, "127.0.0.2", caller.Remote().Addr)
	assert.Equal(t, 34000, caller.Remote().Port)

	require.NotNil(t, callee.Remote())
	assert.Equal(t, "127.0.0.1", callee.Remote().Addr)
	assert.Equal(t, 33000, callee.Remote().Port)
}

func TestSessionAnswerRejectsMalformedOffer(t *testing.T) {
	callee := NewSession(Endpoint{Addr: "127.0.0.2", Port: 34000})
	_, err := callee.Answer([]byte("not sdp"))
	assert.Error(t, err)
}

var _ Collaborator = (*Session)(nil)
