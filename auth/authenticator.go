package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/crossbario/crossbar/wamp"
)

// Identity is the principal granted by the router in WELCOME.
type Identity struct {
	AuthID       string
	AuthRole     string
	AuthMethod   string
	AuthProvider string
}

// Config holds the client's side of the authentication contract.
type Config struct {
	// AuthID is the principal the client claims.
	AuthID string

	// Methods are the authmethods offered in HELLO, most preferred first.
	Methods []string

	// Extra is sent as HELLO authextra.
	Extra wamp.Dict

	// OnChallenge computes the response to the router's CHALLENGE.
	OnChallenge ChallengeFunc

	// PublicKey is the hex-encoded Ed25519 public key held locally for
	// cryptosign.  When set it is announced in authextra and any pubkey the
	// router echoes back must match it.
	PublicKey string
}

// Authenticator runs the authentication part of one session handshake.  It
// is not reusable: a new handshake needs a new Authenticator.
type Authenticator struct {
	cfg        Config
	challenged string
}

// NewAuthenticator returns an Authenticator for one handshake.
func NewAuthenticator(cfg Config) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Offered reports whether the client offered method.
func (a *Authenticator) Offered(method string) bool {
	for _, m := range a.cfg.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// HelloDetails adds the authentication fields to the HELLO details.
func (a *Authenticator) HelloDetails(details wamp.Dict) wamp.Dict {
	details = details.Copy()
	if a.cfg.AuthID != "" {
		details[wamp.DetailAuthID] = a.cfg.AuthID
	}
	if len(a.cfg.Methods) != 0 {
		methods := make(wamp.List, len(a.cfg.Methods))
		for i := range a.cfg.Methods {
			methods[i] = a.cfg.Methods[i]
		}
		details[wamp.DetailAuthMethods] = methods
	}
	extra := a.cfg.Extra.Copy()
	if a.cfg.PublicKey != "" && a.Offered(MethodCryptosign) {
		extra[extraPubkey] = a.cfg.PublicKey
	}
	if len(extra) != 0 {
		details[wamp.DetailAuthExtra] = extra
	}
	return details
}

// Challenge answers the router's CHALLENGE.  Only one challenge is answered
// per handshake.
func (a *Authenticator) Challenge(ctx context.Context, ch *wamp.Challenge) (*wamp.Authenticate, error) {
	if a.cfg.OnChallenge == nil {
		return nil, fmt.Errorf("%w: router challenged with %q",
			ErrMissingAuthHandler, ch.AuthMethod)
	}
	if a.challenged != "" {
		return nil, fmt.Errorf("%w: second CHALLENGE in handshake",
			ErrProtocolViolation)
	}
	if !a.Offered(ch.AuthMethod) {
		return nil, fmt.Errorf("%w: router selected %q, offered %v",
			ErrProtocolViolation, ch.AuthMethod, a.cfg.Methods)
	}
	a.challenged = ch.AuthMethod

	if ch.AuthMethod == MethodCryptosign {
		if err := a.checkPubkey(ch.Extra[extraPubkey]); err != nil {
			return nil, err
		}
	}

	sig, err := a.cfg.OnChallenge(ctx, ch.AuthMethod, ch.Extra)
	if err != nil {
		return nil, err
	}
	return &wamp.Authenticate{Signature: sig, Extra: wamp.Dict{}}, nil
}

// Welcome validates the WELCOME details and returns the granted identity.
func (a *Authenticator) Welcome(w *wamp.Welcome) (Identity, error) {
	id := Identity{
		AuthID:       wamp.OptionString(w.Details, wamp.DetailAuthID),
		AuthRole:     wamp.OptionString(w.Details, wamp.DetailAuthRole),
		AuthMethod:   wamp.OptionString(w.Details, wamp.DetailAuthMethod),
		AuthProvider: wamp.OptionString(w.Details, wamp.DetailAuthProvider),
	}
	switch {
	case id.AuthMethod == "":
	case a.challenged != "" && id.AuthMethod != a.challenged:
		return Identity{}, fmt.Errorf(
			"%w: challenged with %q but welcomed with %q",
			ErrProtocolViolation, a.challenged, id.AuthMethod)
	case len(a.cfg.Methods) != 0 && !a.Offered(id.AuthMethod):
		return Identity{}, fmt.Errorf("%w: welcomed with %q, offered %v",
			ErrProtocolViolation, id.AuthMethod, a.cfg.Methods)
	}
	if id.AuthMethod == MethodCryptosign || a.challenged == MethodCryptosign {
		if err := a.checkPubkey(w.Details[extraPubkey]); err != nil {
			return Identity{}, err
		}
		v, err := wamp.DictValue(w.Details, []string{wamp.DetailAuthExtra, extraPubkey})
		if err == nil {
			if err = a.checkPubkey(v); err != nil {
				return Identity{}, err
			}
		}
	}
	return id, nil
}

// checkPubkey fails if v is a pubkey other than the local one.
func (a *Authenticator) checkPubkey(v interface{}) error {
	if a.cfg.PublicKey == "" {
		return nil
	}
	pk, ok := wamp.AsString(v)
	if !ok || pk == "" {
		return nil
	}
	if !strings.EqualFold(pk, a.cfg.PublicKey) {
		return fmt.Errorf("%w: router echoed pubkey %s, local key is %s",
			ErrProtocolViolation, pk, a.cfg.PublicKey)
	}
	return nil
}
