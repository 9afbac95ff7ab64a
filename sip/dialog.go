package sip

// DialogState describes the current state of a dialog as defined by
// RFC 3261 section 12.
type DialogState int

const (
	// DialogStateInitial is set when the dialog is created but no
	// transaction has produced a response with a remote tag yet.
	DialogStateInitial DialogState = iota
	// DialogStateEarly is set once a provisional response carrying a
	// To-tag (UAC) or From-tag (UAS) has been seen.
	DialogStateEarly
	// DialogStateConfirmed is set by the UAC when it receives the 2xx
	// response to INVITE, and by the UAS when it receives the ACK for
	// its 2xx.
	DialogStateConfirmed
	// DialogStateTerminated is set once BYE terminates the dialog, or
	// the INVITE transaction fails with a non-2xx final response.
	DialogStateTerminated
	// DialogStateError is a sink state entered when the dialog layer
	// detects a protocol violation (CSeq regression, route-set
	// mismatch, missing mandatory header) it cannot recover from.
	DialogStateError
)

func (s DialogState) String() string {
	switch s {
	case DialogStateInitial:
		return "initial"
	case DialogStateEarly:
		return "early"
	case DialogStateConfirmed:
		return "confirmed"
	case DialogStateTerminated:
		return "terminated"
	case DialogStateError:
		return "error"
	default:
		return "unknown"
	}
}
