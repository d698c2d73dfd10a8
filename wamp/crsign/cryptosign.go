package crsign

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/nacl/sign"
)

const (
	// SeedSize is the length of the private seed a signing key is built from.
	SeedSize = ed25519.SeedSize

	// ChallengeSize is the length of a cryptosign challenge nonce.
	ChallengeSize = 32

	signedSize = ed25519.SignatureSize + ChallengeSize
)

// SigningKey is an Ed25519 keypair derived from a 32-byte seed.  The same
// seed always gives the same keypair.
type SigningKey struct {
	priv ed25519.PrivateKey
}

// NewSigningKey derives the keypair for seed.
func NewSigningKey(seed []byte) (*SigningKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d",
			ErrInvalidParameters, SeedSize, len(seed))
	}
	return &SigningKey{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// NewSigningKeyHex derives the keypair for a hex-encoded seed.
func NewSigningKeyHex(seedHex string) (*SigningKey, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: seed is not hex: %s", ErrInvalidParameters, err)
	}
	return NewSigningKey(seed)
}

// GenerateSigningKey creates a keypair from a random seed.
func GenerateSigningKey() (*SigningKey, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewSigningKey(seed)
}

// Seed returns the 32-byte seed of the key.
func (k *SigningKey) Seed() []byte { return k.priv.Seed() }

// PrivateKey returns the 64-byte Ed25519 private key.
func (k *SigningKey) PrivateKey() ed25519.PrivateKey { return k.priv }

// PublicKey returns the 32-byte Ed25519 public key.
func (k *SigningKey) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// PublicKeyHex returns the public key hex-encoded, the form announced in
// HELLO authextra.
func (k *SigningKey) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey())
}

// SignChallenge signs the hex-encoded challenge nonce and returns
// hex(signature || nonce).
func (k *SigningKey) SignChallenge(challengeHex string) (string, error) {
	nonce, err := hex.DecodeString(challengeHex)
	if err != nil {
		return "", fmt.Errorf("%w: challenge is not hex: %s",
			ErrInvalidParameters, err)
	}
	if len(nonce) != ChallengeSize {
		return "", fmt.Errorf("%w: challenge must be %d bytes, got %d",
			ErrInvalidParameters, ChallengeSize, len(nonce))
	}
	var priv [ed25519.PrivateKeySize]byte
	copy(priv[:], k.priv)
	signed := sign.Sign(make([]byte, 0, signedSize), nonce, &priv)
	return hex.EncodeToString(signed), nil
}

// VerifyCryptosign checks a hex(signature || nonce) response against the
// public key and returns the nonce that was signed.
func VerifyCryptosign(signatureHex string, publicKey []byte) ([]byte, bool) {
	signed, err := hex.DecodeString(signatureHex)
	if err != nil || len(signed) != signedSize {
		return nil, false
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, false
	}
	var pub [ed25519.PublicKeySize]byte
	copy(pub[:], publicKey)
	return sign.Open(nil, signed, &pub)
}
