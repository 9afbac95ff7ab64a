package sip

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gosipstack/sipua/metrics"
)

// The whitespace characters recognised by the Augmented Backus-Naur Form syntax
// that SIP uses (RFC 3261 S.25).
const abnfWs = " \t"

// The maximum permissible CSeq number in a SIP message (2**31 - 1).
// C.f. RFC 3261 S. 8.1.1.5.
const maxCseq = 2147483647

var (
	ErrParseLineNoCRLF     = errors.New("line has no CRLF")
	ErrParseInvalidMessage = errors.New("invalid SIP message")

	// Stream parse errors
	ErrParseSipPartial         = errors.New("SIP partial data")
	ErrParseReadBodyIncomplete = errors.New("reading body incomplete")
	ErrParseMoreMessages       = errors.New("Stream has more message")
)

var bufReader = sync.Pool{
	New: func() interface{} {
		// The Pool's New function should generally only return pointer
		// types, since a pointer can be put into the return interface
		// value without an allocation:
		return new(bytes.Buffer)
	},
}

// ParseMessage parses a single complete SIP datagram. On failure it always
// returns a *ParseError (never a bare error) so callers can branch on Kind
// and SuggestedStatus without a type assertion dance.
func ParseMessage(msgData []byte) (Message, error) {
	parser := NewParser()
	msg, err := parser.ParseSIP(msgData)
	if err != nil {
		metrics.Default().ParseErrors.Inc()
	}
	return msg, err
}

// Parser is implementation of SIPParser
// It is optimized with faster header parsing
type Parser struct {
	log *slog.Logger
	// HeadersParsers uses default list of headers to be parsed. Smaller list parser will be faster
	headersParsers HeadersParser
}

// ParserOption are addition option for NewParser. Check WithParser...
type ParserOption func(p *Parser)

// Create a new Parser.
func NewParser(options ...ParserOption) *Parser {
	p := &Parser{
		log:            DefaultLogger(),
		headersParsers: headersParsers,
	}

	for _, o := range options {
		o(p)
	}

	return p
}

// WithParserLogger allows customizing parser logger
func WithParserLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		p.log = logger
	}
}

// WithHeadersParsers allows customizing parser headers parsers
// Consider performance when adding custom parser.
// Add only if it will appear in almost every message
//
// Check DefaultHeadersParser as starting point
func WithHeadersParsers(m map[string]HeaderParser) ParserOption {
	return func(p *Parser) {
		p.headersParsers = m
	}
}

// ParseSIP converts data to sip message. Buffer must contain full sip message.
// On failure the returned error is always a *ParseError: the start-line and
// mandatory-header checks it runs are what let transport_udp.go decide whether
// a 4xx can be crafted back to the sender without creating transaction or
// dialog state.
func (p *Parser) ParseSIP(data []byte) (msg Message, err error) {
	reader := bufReader.Get().(*bytes.Buffer)
	defer bufReader.Put(reader)
	reader.Reset()
	reader.Write(data)

	offset := func() int { return len(data) - reader.Len() }

	startLine, err := nextLine(reader)
	if err != nil {
		return nil, newParseError(ParseErrorTruncated, offset(), StatusBadRequest, fmt.Errorf("reading start line: %w", err))
	}

	msg, err = ParseLine(startLine)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Offset = offset()
			return nil, pe
		}
		return nil, newParseError(ParseErrorMalformed, offset(), StatusBadRequest, err)
	}

	for {
		line, lerr := nextLine(reader)
		if lerr != nil {
			if lerr == io.EOF {
				return nil, newParseError(ParseErrorTruncated, offset(), StatusBadRequest, ErrParseInvalidMessage)
			}
			return nil, newParseError(ParseErrorTruncated, offset(), StatusBadRequest, lerr)
		}

		if len(line) == 0 {
			// We've hit the end of the header section.
			break
		}

		if herr := p.headersParsers.parseMsgHeader(msg, line); herr != nil {
			p.log.Debug("skip header due to error", "line", line, "error", herr)
		}
	}

	if pe := validateMandatoryHeaders(msg, offset()); pe != nil {
		return msg, pe
	}

	contentLength := getBodyLength(data)
	if cl := msg.ContentLength(); cl != nil {
		if int(*cl) > contentLength {
			return msg, newParseError(ParseErrorTruncated, offset(), StatusBadRequest, fmt.Errorf(
				"incomplete message body: read %d bytes, expected %d bytes", contentLength, int(*cl),
			))
		}
		contentLength = int(*cl)
	}

	if contentLength <= 0 {
		return msg, nil
	}

	body := make([]byte, contentLength)
	total, err := reader.Read(body)
	if err != nil {
		return msg, newParseError(ParseErrorTruncated, offset(), StatusBadRequest, fmt.Errorf("read message body failed: %w", err))
	}
	// RFC 3261 - 18.3.
	if total != contentLength {
		return msg, newParseError(ParseErrorTruncated, offset(), StatusBadRequest, fmt.Errorf(
			"incomplete message body: read %d bytes, expected %d bytes", total, contentLength,
		))
	}

	if len(body) > 0 {
		msg.SetBody(body)
	}
	return msg, nil
}

// validateMandatoryHeaders enforces RFC 3261 s.8.1.1: To, From, CSeq, Call-ID
// and Via must be present. The message is still returned alongside the
// ParseError so a transport can still echo what did parse into its error
// response (scenario where Call-ID itself is the missing header).
func validateMandatoryHeaders(msg Message, offset int) *ParseError {
	checks := []struct {
		name string
		ok   bool
	}{
		{"To", msg.To() != nil},
		{"From", msg.From() != nil},
		{"Call-ID", msg.CallID() != nil},
		{"CSeq", msg.CSeq() != nil},
		{"Via", msg.Via() != nil},
	}

	for _, c := range checks {
		if !c.ok {
			return newHeaderParseError(ParseErrorMissingMandatory, offset, StatusBadRequest, c.name,
				fmt.Errorf("missing mandatory header %q", c.name))
		}
	}
	return nil
}

// parseMsgHeader parses a single header line and appends the result onto msg.
func (headersParser HeadersParser) parseMsgHeader(msg Message, line string) error {
	hdrs, err := headersParser.ParseHeader(nil, []byte(line))
	for _, h := range hdrs {
		msg.AppendHeader(h)
	}
	return err
}

// NewSIPStream implements SIP parsing contructor for stream
// should be called per single stream
func (p *Parser) NewSIPStream() *ParserStream {
	return &ParserStream{
		headersParsers: p.headersParsers, // safe as it read only
	}
}

func ParseLine(startLine string) (msg Message, err error) {
	if isRequest(startLine) {
		recipient := Uri{}
		method, sipVersion, err := ParseRequestLine(startLine, &recipient)
		if err != nil {
			return nil, err
		}

		m := NewRequest(method, recipient)
		m.SipVersion = sipVersion
		return m, nil
	}

	if isResponse(startLine) {
		sipVersion, statusCode, reason, err := ParseStatusLine(startLine)
		if err != nil {
			return nil, err
		}

		m := NewResponse(int(statusCode), reason)
		m.SipVersion = sipVersion
		return m, nil
	}
	return nil, newParseError(ParseErrorMalformed, 0, StatusBadRequest,
		fmt.Errorf("transmission beginning '%s' is not a SIP message", startLine))
}

// nextLine should read until it hits CRLF
// ErrParseLineNoCRLF -> could not find CRLF in line
//
// https://datatracker.ietf.org/doc/html/rfc3261#section-7
// empty line MUST be
// terminated by a carriage-return line-feed sequence (CRLF).  Note that
// the empty line MUST be present even if the message-body is not.
func nextLine(reader *bytes.Buffer) (line string, err error) {
	// Scan full line without buffer
	// If we need to continue then try to grow
	line, err = reader.ReadString('\n')
	if err != nil {
		// if err == io.EOF {
		// 	if len(line) > 0 {
		// 		return line, ErrParseLineNoCRLF
		// 	}

		// 	return line, nil
		// }

		// We may get io.EOF and line till it was read
		return line, err
	}

	// https://www.rfc-editor.org/rfc/rfc3261.html#section-7
	// The start-line, each message-header line, and the empty line MUST be
	// terminated by a carriage-return line-feed sequence (CRLF).  Note that
	// the empty line MUST be present even if the message-body is not.
	lenline := len(line)
	if lenline < 2 {
		return line, ErrParseLineNoCRLF
	}

	if line[lenline-2] != '\r' {
		return line, ErrParseLineNoCRLF
	}

	line = line[:lenline-2]
	return line, nil
}

// Calculate the size of a SIP message's body, given the entire contents of the message as a byte array.
func getBodyLength(data []byte) int {
	// Body starts with first character following a double-CRLF.
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx == -1 {
		return -1
	}

	bodyStart := idx + 4

	return len(data) - bodyStart
}

// Heuristic to determine if the given transmission looks like a SIP request.
// It is guaranteed that any RFC3261-compliant request will pass this test,
// but invalid messages may not necessarily be rejected.
func isRequest(startLine string) bool {
	// SIP request lines contain precisely two spaces.
	ind := strings.IndexRune(startLine, ' ')
	if ind <= 0 {
		return false
	}

	// part0 := startLine[:ind]
	ind1 := strings.IndexRune(startLine[ind+1:], ' ')
	if ind1 <= 0 {
		return false
	}

	part2 := startLine[ind+1+ind1+1:]
	ind2 := strings.IndexRune(part2, ' ')
	if ind2 >= 0 {
		return false
	}

	if len(part2) < 3 {
		return false
	}

	return UriIsSIP(part2[:3])
}

// Heuristic to determine if the given transmission looks like a SIP response.
// It is guaranteed that any RFC3261-compliant response will pass this test,
// but invalid messages may not necessarily be rejected.
func isResponse(startLine string) bool {
	// SIP status lines contain at least two spaces.
	ind := strings.IndexRune(startLine, ' ')
	if ind <= 0 {
		return false
	}

	// part0 := startLine[:ind]
	ind1 := strings.IndexRune(startLine[ind+1:], ' ')
	if ind1 <= 0 {
		return false
	}

	return UriIsSIP(startLine[:3])
}

// Parse the first line of a SIP request, e.g:
//
//	INVITE bob@example.com SIP/2.0
//	REGISTER jane@telco.com SIP/1.0
func ParseRequestLine(requestLine string, recipient *Uri) (
	method RequestMethod, sipVersion string, err error) {
	parts := strings.Split(requestLine, " ")
	if len(parts) != 3 {
		err = newParseError(ParseErrorMalformed, 0, StatusBadRequest,
			fmt.Errorf("request line should have 2 spaces: '%s'", requestLine))
		return
	}

	method = RequestMethod(strings.ToUpper(parts[0]))
	sipVersion = parts[2]

	if uriErr := ParseUri(parts[1], recipient); uriErr != nil {
		var pe *ParseError
		if errors.As(uriErr, &pe) {
			pe.Header = "Request-URI"
			err = pe
			return
		}
		err = newHeaderParseError(ParseErrorBadURI, 0, StatusBadRequest, "Request-URI",
			fmt.Errorf("parsing request-uri %q: %w", parts[1], uriErr))
		return
	}

	if recipient.Wildcard {
		err = newParseError(ParseErrorMalformed, 0, StatusBadRequest,
			fmt.Errorf("wildcard URI '*' not permitted in request line: '%s'", requestLine))
		return
	}

	return
}

// Parse the first line of a SIP response, e.g:
//
//	SIP/2.0 200 OK
//	SIP/1.0 403 Forbidden
func ParseStatusLine(statusLine string) (
	sipVersion string, statusCode StatusCode, reasonPhrase string, err error) {
	parts := strings.Split(statusLine, " ")
	if len(parts) < 3 {
		err = newParseError(ParseErrorMalformed, 0, StatusBadRequest,
			fmt.Errorf("status line has too few spaces: '%s'", statusLine))
		return
	}

	sipVersion = parts[0]
	statusCodeRaw, perr := strconv.ParseUint(parts[1], 10, 16)
	if perr != nil {
		err = newParseError(ParseErrorMalformed, 0, StatusBadRequest,
			fmt.Errorf("parsing status code %q: %w", parts[1], perr))
		return
	}
	statusCode = StatusCode(statusCodeRaw)
	reasonPhrase = strings.Join(parts[2:], " ")

	return
}
