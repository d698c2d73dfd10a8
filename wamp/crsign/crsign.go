/*
Package crsign holds the key material used to answer authentication
challenges: secrets for WAMP-CRA, optionally stretched with PBKDF2, and
Ed25519 signing keys for WAMP-cryptosign.

*/
package crsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidParameters is returned when key material is requested with
// malformed inputs.  No key is produced.
var ErrInvalidParameters = errors.New("invalid parameters")

// Defaults used by Autobahn and Crossbar when salting parameters are omitted.
const (
	DefaultIterations = 1000
	DefaultKeyLen     = 32
)

// DeriveKey computes a PBKDF2-HMAC-SHA256 key from the secret and salt.
//
// The result is the base64 encoding of the derived bytes.  That encoded form,
// not the raw bytes, is what WAMP-CRA peers use as the HMAC key for a salted
// secret.
func DeriveKey(secret, salt []byte, iterations, keylen int) ([]byte, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("%w: iterations must be at least 1, got %d",
			ErrInvalidParameters, iterations)
	}
	if keylen < 1 {
		return nil, fmt.Errorf("%w: keylen must be at least 1, got %d",
			ErrInvalidParameters, keylen)
	}
	dk := pbkdf2.Key(secret, salt, iterations, keylen, sha256.New)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(dk)))
	base64.StdEncoding.Encode(out, dk)
	return out, nil
}

// SignChallenge computes the HMAC-SHA256 over the challenge string, and
// returns the result as a base64-encoded string.
func SignChallenge(ch string, key []byte) string {
	sig := hmac.New(sha256.New, key)
	sig.Write([]byte(ch))
	return base64.StdEncoding.EncodeToString(sig.Sum(nil))
}

// VerifySignature checks that sig is the WAMP-CRA signature of ch under key.
func VerifySignature(sig, ch string, key []byte) bool {
	expect, err := base64.StdEncoding.DecodeString(SignChallenge(ch, key))
	if err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, expect)
}
