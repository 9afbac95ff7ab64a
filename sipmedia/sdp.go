// Package sipmedia implements the pluggable SDP collaborator spec §6
// names: offer/answer/remote-description, invoked by a dialog at the
// INVITE and ACK/2xx boundary. SDP negotiation and RTP streaming stay
// external to the core; this package is one concrete, optional
// implementation of the collaborator interface, built for exercising the
// dialog layer in tests rather than for production media handling.
package sipmedia

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// Collaborator is the SDP collaborator interface a dialog invokes at the
// INVITE offer/answer boundary. Implementations own whatever media state
// backs the session; the core never inspects SDP contents itself.
type Collaborator interface {
	// Offer returns the body to attach to an outbound INVITE.
	Offer() ([]byte, error)
	// Answer is given the peer's offer and returns the body to attach to
	// the 200 OK (or other final success response).
	Answer(offer []byte) ([]byte, error)
	// RemoteDescription is given the peer's answer once it arrives, for
	// an offering party to record before confirming the dialog.
	RemoteDescription(answer []byte) error
}

// Endpoint describes the network address and codec a Session offers or
// answers on. Callers fill it in from whatever port/codec allocation
// scheme sits above the core.
type Endpoint struct {
	Username string
	Addr     string
	Port     int
	Codecs   []Codec
}

// Codec names an RTP payload type and its rtpmap clock/channel suffix,
// e.g. {PayloadType: 0, RTPMap: "PCMU/8000"}.
type Codec struct {
	PayloadType int
	RTPMap      string
}

// Session is a minimal Collaborator that builds a single audio m= line
// from a local Endpoint and records the peer's chosen address from
// whatever answer/offer it is given. It does not itself send or receive
// RTP; it is the negotiation bookkeeping a real media stack would sit
// behind.
type Session struct {
	Local Endpoint

	remote *Endpoint
}

// NewSession builds a Session that will offer/answer using local.
func NewSession(local Endpoint) *Session {
	return &Session{Local: local}
}

// Remote returns the peer endpoint learned from the last Answer or
// RemoteDescription call, or nil if none has been processed yet.
func (s *Session) Remote() *Endpoint {
	return s.remote
}

func (s *Session) Offer() ([]byte, error) {
	return marshalSessionDescription(s.Local)
}

func (s *Session) Answer(offer []byte) ([]byte, error) {
	remote, err := parseEndpoint(offer)
	if err != nil {
		return nil, fmt.Errorf("sipmedia: parse offer: %w", err)
	}
	s.remote = remote
	return marshalSessionDescription(s.Local)
}

func (s *Session) RemoteDescription(answer []byte) error {
	remote, err := parseEndpoint(answer)
	if err != nil {
		return fmt.Errorf("sipmedia: parse answer: %w", err)
	}
	s.remote = remote
	return nil
}

func marshalSessionDescription(ep Endpoint) ([]byte, error) {
	formats := make([]string, 0, len(ep.Codecs))
	attrs := make([]sdp.Attribute, 0, len(ep.Codecs)+1)
	for _, c := range ep.Codecs {
		pt := fmt.Sprintf("%d", c.PayloadType)
		formats = append(formats, pt)
		if c.RTPMap != "" {
			attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: pt + " " + c.RTPMap})
		}
	}
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})

	username := ep.Username
	if username == "" {
		username = "-"
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       username,
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ep.Addr,
		},
		SessionName: "sipua",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ep.Addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: ep.Port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}
	return desc.Marshal()
}

// parseEndpoint extracts the address, port and offered codecs from the
// first audio media description of an SDP body.
func parseEndpoint(body []byte) (*Endpoint, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, err
	}

	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			addr = md.ConnectionInformation.Address.Address
		}
		ep := &Endpoint{Addr: addr, Port: md.MediaName.Port.Value}
		ep.Codecs = codecsFromAttributes(md.MediaName.Formats, md.Attributes)
		return ep, nil
	}

	return nil, fmt.Errorf("sipmedia: no audio media description")
}

func codecsFromAttributes(formats []string, attrs []sdp.Attribute) []Codec {
	rtpmaps := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Key != "rtpmap" {
			continue
		}
		var pt, rest string
		if _, err := fmt.Sscanf(a.Value, "%s", &pt); err != nil {
			continue
		}
		rest = a.Value[len(pt):]
		for len(rest) > 0 && rest[0] == ' ' {
			rest = rest[1:]
		}
		rtpmaps[pt] = rest
	}

	codecs := make([]Codec, 0, len(formats))
	for _, f := range formats {
		var pt int
		if _, err := fmt.Sscanf(f, "%d", &pt); err != nil {
			continue
		}
		codecs = append(codecs, Codec{PayloadType: pt, RTPMap: rtpmaps[f]})
	}
	return codecs
}
