package sip

import "errors"

var (
	ErrDialogIDNoTag        = errors.New("missing tag on From/To header needed to build dialog id")
	ErrDialogIDMissingParty = errors.New("missing From/To header needed to build dialog id")
)

// MakeDialogID builds the string key used to index a dialog: the triple of
// Call-ID, local-tag and remote-tag from RFC 3261 section 12. The early
// dialog (before a remote-tag exists) is keyed by local-tag alone; pass an
// empty remoteTag to build that key.
func MakeDialogID(callID, localTag, remoteTag string) string {
	return callID + "__" + localTag + "__" + remoteTag
}

// MakeDialogIDFromResponse builds the UAC-side dialog id: local-tag comes
// from From, remote-tag from To.
func MakeDialogIDFromResponse(r *Response) (string, error) {
	from := r.From()
	to := r.To()
	if from == nil || to == nil {
		return "", ErrDialogIDMissingParty
	}
	localTag, _ := from.Params.Get("tag")
	remoteTag, _ := to.Params.Get("tag")
	if localTag == "" {
		return "", ErrDialogIDNoTag
	}
	return MakeDialogID(r.CallID().Value(), localTag, remoteTag), nil
}

// MakeDialogIDFromRequest builds the UAC-side dialog id from a request the
// UAC itself is about to send or has sent (local-tag from From, remote-tag
// from To if already known).
func MakeDialogIDFromRequest(req *Request) (string, error) {
	from := req.From()
	to := req.To()
	if from == nil || to == nil {
		return "", ErrDialogIDMissingParty
	}
	localTag, _ := from.Params.Get("tag")
	remoteTag, _ := to.Params.Get("tag")
	if localTag == "" {
		return "", ErrDialogIDNoTag
	}
	return MakeDialogID(req.CallID().Value(), localTag, remoteTag), nil
}

// UASReadRequestDialogID builds the UAS-side dialog id for an inbound
// request: the roles of From/To are reversed relative to the UAC, since the
// UAS's own tag lives in the To header.
func UASReadRequestDialogID(req *Request) (string, error) {
	from := req.From()
	to := req.To()
	if from == nil || to == nil {
		return "", ErrDialogIDMissingParty
	}
	remoteTag, _ := from.Params.Get("tag")
	localTag, _ := to.Params.Get("tag")
	if remoteTag == "" {
		return "", ErrDialogIDNoTag
	}
	return MakeDialogID(req.CallID().Value(), localTag, remoteTag), nil
}

// MakeDialogIDFromMessage dispatches on message direction. It is a
// convenience for call sites that read either a request or response off
// the wire without knowing ahead of time which.
func MakeDialogIDFromMessage(msg Message) (string, error) {
	switch m := msg.(type) {
	case *Request:
		return UASReadRequestDialogID(m)
	case *Response:
		return MakeDialogIDFromResponse(m)
	default:
		return "", errors.New("unsupported message type for dialog id")
	}
}
