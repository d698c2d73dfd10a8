package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/crossbario/crossbar/wamp"
	"github.com/crossbario/crossbar/wamp/crsign"
)

var (
	// ErrUnsupportedAuthMethod means no response can be computed for the
	// requested method with the credential at hand.  The handshake ends.
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")

	// ErrMissingAuthHandler means the router demanded authentication but no
	// challenge handler was configured.
	ErrMissingAuthHandler = errors.New("no handler for authentication challenge")

	// ErrProtocolViolation means the peer sent a message that is invalid or
	// unexpected at this point of the exchange.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrInvalidParameters is the same value as crsign.ErrInvalidParameters.
	ErrInvalidParameters = crsign.ErrInvalidParameters
)

const (
	extraChallenge  = "challenge"
	extraSalt       = "salt"
	extraIterations = "iterations"
	extraKeyLen     = "keylen"
	extraPubkey     = "pubkey"
)

// ChallengeFunc computes the signature for a CHALLENGE.  It is called at most
// once per handshake, with the method the router selected and the challenge
// extra.  Returning an error aborts the handshake.
type ChallengeFunc func(ctx context.Context, method string, extra wamp.Dict) (string, error)

// Respond computes the AUTHENTICATE signature for a challenge using cred.
func Respond(method string, extra wamp.Dict, cred Credential) (string, error) {
	if cred == nil || cred.Method() != method {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAuthMethod, method)
	}
	challenge, ok := wamp.AsString(extra[extraChallenge])
	if !ok || challenge == "" {
		return "", fmt.Errorf("%w: %s challenge without challenge string",
			ErrProtocolViolation, method)
	}

	switch c := cred.(type) {
	case SharedSecret:
		key := []byte(c.Secret)
		// Routers that store salted secrets send the salting parameters
		// with the challenge.
		if salt := wamp.OptionString(extra, extraSalt); salt != "" {
			iters := int(wamp.OptionInt64(extra, extraIterations))
			if iters == 0 {
				iters = crsign.DefaultIterations
			}
			keylen := int(wamp.OptionInt64(extra, extraKeyLen))
			if keylen == 0 {
				keylen = crsign.DefaultKeyLen
			}
			var err error
			if key, err = crsign.DeriveKey(key, []byte(salt), iters, keylen); err != nil {
				return "", err
			}
		}
		return crsign.SignChallenge(challenge, key), nil
	case SaltedSecret:
		key, err := c.key()
		if err != nil {
			return "", err
		}
		return crsign.SignChallenge(challenge, key), nil
	case SigningKeypair:
		if c.Key == nil {
			return "", fmt.Errorf("%w: signing keypair has no key",
				ErrInvalidParameters)
		}
		sig, err := c.Key.SignChallenge(challenge)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		return sig, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAuthMethod, method)
}

// Responder returns a ChallengeFunc answering challenges with the given
// credentials, one per method.  A later credential for the same method
// replaces an earlier one.
func Responder(creds ...Credential) ChallengeFunc {
	byMethod := make(map[string]Credential, len(creds))
	for _, c := range creds {
		byMethod[c.Method()] = c
	}
	return func(_ context.Context, method string, extra wamp.Dict) (string, error) {
		cred, ok := byMethod[method]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedAuthMethod, method)
		}
		return Respond(method, extra, cred)
	}
}

// Methods returns the methods answered by creds, in order and without
// duplicates.
func Methods(creds ...Credential) []string {
	var methods []string
	seen := map[string]bool{}
	for _, c := range creds {
		m := c.Method()
		if !seen[m] {
			seen[m] = true
			methods = append(methods, m)
		}
	}
	return methods
}
