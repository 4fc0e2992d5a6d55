package types

import "regexp"

var identityRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidIdentity checks that a participant identity is 1-50 characters
// of alphanumerics, underscore or hyphen. Identities are embedded into
// canonical room names and fan-out group names, so the character set is
// deliberately narrow.
func IsValidIdentity(identity string) bool {
	if len(identity) < 1 || len(identity) > 50 {
		return false
	}
	return identityRegex.MatchString(identity)
}
