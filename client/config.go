package client

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/crossbario/crossbar/auth"
	"github.com/crossbario/crossbar/stdlog"
	"github.com/crossbario/crossbar/transport"
	"github.com/crossbario/crossbar/transport/serialize"
	"github.com/crossbario/crossbar/wamp"
)

// Config configures a session with everything needed to join a realm on a
// WAMP router.
type Config struct {
	// Realm is the URI of the realm the session joins.
	Realm string

	// HelloDetails contains details about the client.  The session provides
	// the roles, unless already supplied by the user.
	HelloDetails wamp.Dict

	// AuthID is the principal the client claims in HELLO.
	AuthID string

	// AuthMethods are offered in HELLO, most preferred first.  When empty,
	// the methods answered by Credentials are offered.
	AuthMethods []string

	// AuthExtra is sent as HELLO authextra.
	AuthExtra wamp.Dict

	// OnChallenge answers the router's CHALLENGE.  When nil, Credentials are
	// used to answer it.
	OnChallenge auth.ChallengeFunc

	// Credentials answer challenges when OnChallenge is not set.  A
	// SigningKeypair also provides the public key announced for cryptosign.
	Credentials []auth.Credential

	// ResponseTimeout bounds the opening handshake when the context given to
	// Open has no deadline.  A value of 0 uses the default.
	ResponseTimeout time.Duration

	// GoodbyeTimeout is how long Leave waits for the router's GOODBYE.  A
	// value of 0 uses the default.
	GoodbyeTimeout time.Duration

	// CancelMode is sent in CANCEL when a pending call is canceled.  One of
	// "kill", "killnowait" or "skip"; empty uses "killnowait".
	CancelMode string

	// MaxInvocations is the number of invocation handlers that may run at
	// the same time.  A value of 0 uses the default.
	MaxInvocations int

	// Enable debug logging of every message sent and received.
	Debug bool

	// Set to JSON, MSGPACK or CBOR.  Default (zero-value) is JSON.  Only used
	// by Connect.
	Serialization serialize.Serialization

	// Provide a tls.Config to connect using TLS.  The zero configuration
	// specifies using defaults.  A nil tls.Config means do not use TLS.
	TlsCfg *tls.Config

	// Websocket transport configuration.  Only used by Connect.
	WsCfg transport.WebsocketConfig

	// Logger for the session to use.  If not set, the session logs to
	// os.Stderr.
	Logger stdlog.StdLog
}

func (cfg *Config) validate() error {
	if cfg.Realm == "" {
		return fmt.Errorf("%w: realm is empty", ErrInvalidParameters)
	}
	if !wamp.URI(cfg.Realm).ValidURI(false) {
		return fmt.Errorf("%w: invalid realm %q", ErrInvalidParameters, cfg.Realm)
	}
	switch cfg.CancelMode {
	case "":
		cfg.CancelMode = wamp.CancelModeKillNoWait
	case wamp.CancelModeKill, wamp.CancelModeKillNoWait, wamp.CancelModeSkip:
	default:
		return fmt.Errorf("%w: invalid cancel mode %q", ErrInvalidParameters,
			cfg.CancelMode)
	}
	if cfg.ResponseTimeout < 0 || cfg.GoodbyeTimeout < 0 || cfg.MaxInvocations < 0 {
		return fmt.Errorf("%w: negative timeout or invocation limit",
			ErrInvalidParameters)
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.GoodbyeTimeout == 0 {
		cfg.GoodbyeTimeout = defaultGoodbyeTimeout
	}
	if cfg.MaxInvocations == 0 {
		cfg.MaxInvocations = defaultMaxInvocations
	}
	if cfg.Logger == nil {
		cfg.Logger = stdlog.Default()
	}
	for _, c := range cfg.Credentials {
		if c == nil {
			return fmt.Errorf("%w: nil credential", ErrInvalidParameters)
		}
		if kp, ok := c.(auth.SigningKeypair); ok && kp.Key == nil {
			return fmt.Errorf("%w: signing keypair without key",
				ErrInvalidParameters)
		}
	}
	return nil
}

// authConfig returns the authentication settings for one handshake.
func (cfg *Config) authConfig() auth.Config {
	ac := auth.Config{
		AuthID:      cfg.AuthID,
		Methods:     cfg.AuthMethods,
		Extra:       cfg.AuthExtra,
		OnChallenge: cfg.OnChallenge,
	}
	if len(ac.Methods) == 0 {
		ac.Methods = auth.Methods(cfg.Credentials...)
	}
	if ac.OnChallenge == nil && len(cfg.Credentials) != 0 {
		ac.OnChallenge = auth.Responder(cfg.Credentials...)
	}
	for _, c := range cfg.Credentials {
		if kp, ok := c.(auth.SigningKeypair); ok {
			ac.PublicKey = kp.Key.PublicKeyHex()
		}
	}
	return ac
}

// helloDetails returns the HELLO details, adding the client roles unless the
// user supplied them.
func (cfg *Config) helloDetails(a *auth.Authenticator) wamp.Dict {
	details := cfg.HelloDetails.Copy()
	if _, ok := details[wamp.DetailRoles]; !ok {
		details[wamp.DetailRoles] = clientRoles
	}
	return a.HelloDetails(details)
}
