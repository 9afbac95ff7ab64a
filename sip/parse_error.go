package sip

import "fmt"

// ParseErrorKind classifies why a datagram failed to become a usable
// Message, so transport_udp.go can decide whether a 4xx can be crafted for it
// without creating any transaction or dialog state.
type ParseErrorKind int

const (
	// ParseErrorMalformed is start-line or header syntax broken badly
	// enough that no method, headers or version could be recovered.
	ParseErrorMalformed ParseErrorKind = iota
	// ParseErrorMissingMandatory is a structurally valid message missing
	// one of To, From, Call-ID, CSeq or Via (RFC 3261 s.8.1.1).
	ParseErrorMissingMandatory
	// ParseErrorBadURI is a Request-URI or header URI that failed to parse.
	ParseErrorBadURI
	// ParseErrorTruncated is a message whose declared Content-Length
	// exceeds the bytes actually read off the wire.
	ParseErrorTruncated
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseErrorMalformed:
		return "malformed"
	case ParseErrorMissingMandatory:
		return "missing_mandatory"
	case ParseErrorBadURI:
		return "bad_uri"
	case ParseErrorTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// ParseError is what ParseMessage and Parser.ParseSIP return instead of a
// plain error. Offset is the byte position in the datagram where parsing
// gave up. SuggestedStatus in the 4xx range with Recoverable true tells the
// transport layer it is safe to craft and send that response straight back
// to the source; it must not route the datagram onward or create state.
type ParseError struct {
	Kind            ParseErrorKind
	Offset          int
	Recoverable     bool
	SuggestedStatus StatusCode
	Header          string
	Err             error
}

func (e *ParseError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("sip: %s parse error at offset %d (header %q): %v", e.Kind, e.Offset, e.Header, e.Err)
	}
	return fmt.Sprintf("sip: %s parse error at offset %d: %v", e.Kind, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(kind ParseErrorKind, offset int, status StatusCode, err error) *ParseError {
	return &ParseError{
		Kind:            kind,
		Offset:          offset,
		Recoverable:     status < 500,
		SuggestedStatus: status,
		Err:             err,
	}
}

func newHeaderParseError(kind ParseErrorKind, offset int, status StatusCode, header string, err error) *ParseError {
	pe := newParseError(kind, offset, status, err)
	pe.Header = header
	return pe
}
