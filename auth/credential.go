/*
Package auth implements the client side of WAMP challenge-response
authentication.

A Credential holds what the client proves possession of.  Respond turns a
credential and a CHALLENGE into the signature sent back in AUTHENTICATE, and
an Authenticator drives one handshake: it announces the offered methods in
HELLO, answers the single CHALLENGE, and checks what the router granted in
WELCOME.

Two methods are supported:

	wampcra     HMAC-SHA256 over the challenge string, keyed by a shared or
	            PBKDF2-salted secret, base64-encoded.
	cryptosign  Ed25519 signature over a 32-byte nonce, sent as
	            hex(signature || nonce).
*/
package auth

import "github.com/crossbario/crossbar/wamp/crsign"

// Authentication method names.
const (
	MethodWAMPCRA    = "wampcra"
	MethodCryptosign = "cryptosign"
)

// Credential is one of SharedSecret, SaltedSecret or SigningKeypair.
type Credential interface {
	// Method returns the authentication method the credential answers.
	Method() string

	credential()
}

// SharedSecret is a WAMP-CRA secret used verbatim as the HMAC key.
type SharedSecret struct {
	Secret string
}

// SaltedSecret is a WAMP-CRA secret stretched with PBKDF2-HMAC-SHA256 before
// use as the HMAC key.
type SaltedSecret struct {
	Secret     string
	Salt       string
	Iterations int
	KeyLen     int
}

// SigningKeypair is an Ed25519 keypair for WAMP-cryptosign.
type SigningKeypair struct {
	Key *crsign.SigningKey
}

func (SharedSecret) Method() string   { return MethodWAMPCRA }
func (SaltedSecret) Method() string   { return MethodWAMPCRA }
func (SigningKeypair) Method() string { return MethodCryptosign }
func (SharedSecret) credential()      {}
func (SaltedSecret) credential()      {}
func (SigningKeypair) credential()    {}

// key returns the HMAC key for the salted secret.
func (s SaltedSecret) key() ([]byte, error) {
	return crsign.DeriveKey([]byte(s.Secret), []byte(s.Salt), s.Iterations,
		s.KeyLen)
}

// NewSigningKeypair builds a cryptosign credential from a hex-encoded seed.
func NewSigningKeypair(seedHex string) (SigningKeypair, error) {
	k, err := crsign.NewSigningKeyHex(seedHex)
	if err != nil {
		return SigningKeypair{}, err
	}
	return SigningKeypair{Key: k}, nil
}
