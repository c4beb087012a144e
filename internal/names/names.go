// Package names validates and cleans the identifiers used to name
// databases, branches, and tenants. It is the only place
// names are accepted from untrusted input. The helpers in
// internal/paths do not call Validate; they assume their callers
// already have.
package names

import (
	"fmt"
	"strings"
)

// Kind identifies what a name is being validated for, so error messages
// and reserved-word checks can be precise about which entity failed.
type Kind string

const (
	KindDatabase Kind = "database"
	KindBranch   Kind = "branch"
	KindTenant   Kind = "tenant"
)

const (
	minLength = 1
	maxLength = 63
)

var reserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

func isLower(c byte) bool  { return c >= 'a' && c <= 'z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isSpecial(c byte) bool { return c == '-' || c == '_' }
func isAllowed(c byte) bool { return isLower(c) || isDigit(c) || isSpecial(c) }
func isAlnum(c byte) bool   { return isLower(c) || isDigit(c) }

// Validate checks name against the full C1 contract for the given kind
// and returns a precise error (wrapping no sentinel of its own; callers
// that need cerrors.ErrInvalidName wrap the returned error themselves).
func Validate(name string, kind Kind) error {
	if strings.Contains(name, "..") {
		return fmt.Errorf("%s name %q must not contain \"..\"", kind, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%s name %q must not contain a path separator", kind, name)
	}
	if len(name) < minLength || len(name) > maxLength {
		return fmt.Errorf("%s name %q must be %d-%d bytes, got %d", kind, name, minLength, maxLength, len(name))
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("%s name %q must not contain control characters", kind, name)
		}
		if !isAllowed(c) {
			return fmt.Errorf("%s name %q contains disallowed character %q (only a-z, 0-9, -, _ permitted)", kind, name, c)
		}
	}
	if !isAlnum(name[0]) || !isAlnum(name[len(name)-1]) {
		return fmt.Errorf("%s name %q must start and end with a letter or digit", kind, name)
	}
	for i := 1; i < len(name); i++ {
		if isSpecial(name[i-1]) && isSpecial(name[i]) {
			return fmt.Errorf("%s name %q must not contain consecutive special characters", kind, name)
		}
	}
	if reserved[name] {
		return fmt.Errorf("%s name %q is a reserved name", kind, name)
	}
	return nil
}

// Clean lowercases name and strips characters the validator would
// reject, for use in user-facing suggestions only. The result MUST be
// re-validated with Validate before any path use — Clean never
// guarantees the result is valid (e.g. an all-special-character input
// cleans to the empty string).
func Clean(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isAllowed(c) {
			b.WriteByte(c)
		}
	}
	cleaned := strings.Trim(b.String(), "-_")
	if len(cleaned) > maxLength {
		cleaned = cleaned[:maxLength]
		cleaned = strings.TrimRight(cleaned, "-_")
	}
	return cleaned
}
