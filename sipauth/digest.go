// Package sipauth implements the pluggable Authentication collaborator: a
// dialog or client asks it to turn a WWW-/Proxy-Authenticate challenge into
// an Authorization/Proxy-Authorization header value, without needing to
// know which scheme is behind it.
package sipauth

import (
	"fmt"

	"github.com/icholy/digest"
)

// Credentials identifies a user for digest authentication.
type Credentials struct {
	Username string
	Password string
}

// Collaborator answers a single authentication challenge. Implementations
// are expected to be stateless and safe for concurrent use; a client or
// dialog layer calls Authorize once per 401/407 received.
type Collaborator interface {
	// Authorize computes the header value (without the header name) to
	// place in Authorization or Proxy-Authorization in response to
	// challenge, the raw value of a WWW-Authenticate/Proxy-Authenticate
	// header, for a request of the given method against uri.
	Authorize(method, uri, challenge string) (string, error)
}

// DigestCollaborator implements RFC 2617 digest authentication.
type DigestCollaborator struct {
	Credentials
}

// NewDigestCollaborator builds a Collaborator for the given user.
func NewDigestCollaborator(username, password string) DigestCollaborator {
	return DigestCollaborator{Credentials{Username: username, Password: password}}
}

func (d DigestCollaborator) Authorize(method, uri, challenge string) (string, error) {
	chal, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("sipauth: parse challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: d.Username,
		Password: d.Password,
	})
	if err != nil {
		return "", fmt.Errorf("sipauth: compute digest: %w", err)
	}

	return cred.String(), nil
}
