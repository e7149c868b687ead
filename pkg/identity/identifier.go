// Package identity resolves arbitrary identifier tuples (user ids, emails,
// anonymous ids) into a single canonical profile id. Identifiers are
// normalized to a canonical "scheme:value" form and merged through a
// union-find structure with path compression; the root of each set is the
// canonical id for the profile.
package identity

import "strings"

// Scheme classifies an identifier value.
type Scheme string

// Recognized identifier schemes.
const (
	SchemeUser  Scheme = "user"
	SchemeEmail Scheme = "email"
	SchemeAnon  Scheme = "anon"
)

const schemeSeparator = ":"

// Identifier is a normalized identifier in "scheme:value" form.
// Construct via Normalize; the zero value is not a valid identifier.
type Identifier string

// Normalize converts a raw identifier string into canonical form. It is
// idempotent. A recognized "scheme:" prefix is honored; otherwise the value
// is classified: containing '@' makes it an email, an "anon"/"anonymous"
// prefix makes it anonymous, anything else is a user id. Whitespace is
// trimmed and email values are lowercased. Unclassifiable input degrades to
// a user-scheme identifier rather than failing.
func Normalize(raw string) Identifier {
	trimmed := strings.TrimSpace(raw)

	scheme, value, found := strings.Cut(trimmed, schemeSeparator)
	if !found || !recognizedScheme(scheme) {
		return classify(trimmed)
	}

	return build(Scheme(scheme), strings.TrimSpace(value))
}

// Scheme returns the identifier's scheme part.
func (id Identifier) Scheme() Scheme {
	scheme, _, _ := strings.Cut(string(id), schemeSeparator)

	return Scheme(scheme)
}

// Value returns the identifier's value part.
func (id Identifier) Value() string {
	_, value, _ := strings.Cut(string(id), schemeSeparator)

	return value
}

// String returns the canonical "scheme:value" representation.
func (id Identifier) String() string { return string(id) }

func recognizedScheme(s string) bool {
	switch Scheme(s) {
	case SchemeUser, SchemeEmail, SchemeAnon:
		return true
	default:
		return false
	}
}

// classify assigns a scheme to a bare value without a recognized prefix.
func classify(value string) Identifier {
	lower := strings.ToLower(value)

	switch {
	case strings.Contains(value, "@"):
		return build(SchemeEmail, value)
	case strings.HasPrefix(lower, "anon"):
		return build(SchemeAnon, value)
	default:
		return build(SchemeUser, value)
	}
}

func build(scheme Scheme, value string) Identifier {
	if scheme == SchemeEmail {
		value = strings.ToLower(value)
	}

	return Identifier(string(scheme) + schemeSeparator + value)
}
