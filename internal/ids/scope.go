package ids

import (
	"fmt"
	"regexp"
	"strings"
)

// ScopeKind classifies the trust/visibility domain of a workspace.
type ScopeKind string

const (
	// ScopeInternal is the shared internal scope.
	ScopeInternal ScopeKind = "internal"
	// ScopeMsgroup scopes a workspace to a message group.
	ScopeMsgroup ScopeKind = "msgroup"
	// ScopePersonal scopes a workspace to a single user.
	ScopePersonal ScopeKind = "personal"
	// ScopePrivate scopes a workspace to an opaque private key.
	ScopePrivate ScopeKind = "private"
)

var (
	uuidRe    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	privateRe = regexp.MustCompile(`^[0-9a-z]{36}$`)
	suffixRe  = regexp.MustCompile(`^[0-9A-Za-z._~-]+$`)
)

// ParseScope validates a scope literal and returns its kind.
// Accepted forms: "internal", "msgroup-<uuid>", "personal-<uuid>",
// "private-<36 base36 chars>".
func ParseScope(s string) (ScopeKind, error) {
	switch {
	case s == string(ScopeInternal):
		return ScopeInternal, nil
	case strings.HasPrefix(s, "msgroup-"):
		if !uuidRe.MatchString(strings.TrimPrefix(s, "msgroup-")) {
			return "", fmt.Errorf("ids: invalid msgroup scope %q", s)
		}
		return ScopeMsgroup, nil
	case strings.HasPrefix(s, "personal-"):
		if !uuidRe.MatchString(strings.TrimPrefix(s, "personal-")) {
			return "", fmt.Errorf("ids: invalid personal scope %q", s)
		}
		return ScopePersonal, nil
	case strings.HasPrefix(s, "private-"):
		if !privateRe.MatchString(strings.TrimPrefix(s, "private-")) {
			return "", fmt.Errorf("ids: invalid private scope %q", s)
		}
		return ScopePrivate, nil
	default:
		return "", fmt.Errorf("ids: unknown scope %q", s)
	}
}

// ValidScope reports whether s is a well-formed scope literal.
func ValidScope(s string) bool {
	_, err := ParseScope(s)
	return err == nil
}

// ValidWorkspaceSuffix reports whether s may be used as a workspace suffix.
func ValidWorkspaceSuffix(s string) bool {
	return s != "" && suffixRe.MatchString(s)
}
