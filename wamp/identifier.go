package wamp

import "regexp"

// IDs are integers between (inclusive) 0 and 2^53 (9007199254740992)
type ID uint64

// URIs are dot-separated identifiers, where each component *should* only
// contain letters, numbers or underscores.
type URI string

var (
	// loose URI check disallowing empty URI components
	looseURI = regexp.MustCompile(`^([^\s\.#]+\.)*([^\s\.#]+)$`)
	// strict URI check disallowing empty URI components
	strictURI = regexp.MustCompile(`^([0-9a-z_]+\.)*([0-9a-z_]+)$`)
)

// ValidURI reports whether the URI is well formed.  The strict form only
// allows lower case letters, digits and underscores in each component.
func (u URI) ValidURI(strict bool) bool {
	if strict {
		return strictURI.MatchString(string(u))
	}
	return looseURI.MatchString(string(u))
}
