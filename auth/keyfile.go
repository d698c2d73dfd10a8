package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crossbario/crossbar/wamp/crsign"
)

// Tags recognized in a user key file.
const (
	tagPublicKey  = "public-key-ed25519"
	tagPrivateKey = "private-key-ed25519"
	tagUserID     = "user-id"
	tagCreatedAt  = "created-at"
	tagCreator    = "creator"
)

// ParseKeyFile reads a user key file.  The file starts with a free-form
// comment, then a blank line, then one "tag: value" pair per line.  Tags are
// case-insensitive; unknown or repeated tags are errors.  The private key tag
// is only accepted when private is true.
func ParseKeyFile(r io.Reader, private bool) (map[string]string, error) {
	allowed := map[string]bool{
		tagPublicKey: true,
		tagUserID:    true,
		tagCreatedAt: true,
		tagCreator:   true,
	}
	if private {
		allowed[tagPrivateKey] = true
	}

	tags := map[string]string{}
	var gotBlank bool
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			gotBlank = true
			continue
		}
		if !gotBlank {
			continue
		}
		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed key file line %q", line)
		}
		tag = strings.ToLower(strings.TrimSpace(tag))
		if !allowed[tag] {
			return nil, fmt.Errorf("invalid tag %q in key file", tag)
		}
		if _, dup := tags[tag]; dup {
			return nil, fmt.Errorf("duplicate tag %q in key file", tag)
		}
		tags[tag] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tags, nil
}

// ReadSigningKeypair parses a private user key file into a cryptosign
// credential.  The public key recorded in the file must match the one
// derived from the private key.
func ReadSigningKeypair(r io.Reader) (SigningKeypair, error) {
	tags, err := ParseKeyFile(r, true)
	if err != nil {
		return SigningKeypair{}, err
	}
	seedHex, ok := tags[tagPrivateKey]
	if !ok {
		return SigningKeypair{}, fmt.Errorf("key file has no %s tag", tagPrivateKey)
	}
	key, err := crsign.NewSigningKeyHex(seedHex)
	if err != nil {
		return SigningKeypair{}, err
	}
	if pub, ok := tags[tagPublicKey]; ok && !strings.EqualFold(pub, key.PublicKeyHex()) {
		return SigningKeypair{}, fmt.Errorf(
			"inconsistent key file: %s does not correspond to %s",
			tagPublicKey, tagPrivateKey)
	}
	return SigningKeypair{Key: key}, nil
}

// LoadSigningKeypair reads a private user key file from path.
func LoadSigningKeypair(path string) (SigningKeypair, error) {
	f, err := os.Open(path)
	if err != nil {
		return SigningKeypair{}, err
	}
	defer f.Close()
	kp, err := ReadSigningKeypair(f)
	if err != nil {
		return SigningKeypair{}, fmt.Errorf("key file %s: %w", path, err)
	}
	return kp, nil
}
