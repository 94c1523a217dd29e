package ids

import (
	"fmt"
	"strings"
)

// Scheme is the URI scheme for NDP process URIs.
const Scheme = "ndp"

// ProcessURI is a hierarchical process identifier of the form
// "ndp://{scope}/{workspaceSuffix}(/{processId})+". The workspace form (no
// process ids) identifies the workspace itself.
type ProcessURI struct {
	Scope      string
	Suffix     string
	ProcessIDs []string
}

// ParseProcessURI parses and validates a process or workspace URI.
func ParseProcessURI(s string) (ProcessURI, error) {
	const prefix = Scheme + "://"
	if !strings.HasPrefix(s, prefix) {
		return ProcessURI{}, fmt.Errorf("ids: uri %q missing %q prefix", s, prefix)
	}
	parts := strings.Split(strings.TrimPrefix(s, prefix), "/")
	if len(parts) < 2 {
		return ProcessURI{}, fmt.Errorf("ids: uri %q needs scope and workspace suffix", s)
	}
	if !ValidScope(parts[0]) {
		return ProcessURI{}, fmt.Errorf("ids: uri %q has invalid scope %q", s, parts[0])
	}
	if !ValidWorkspaceSuffix(parts[1]) {
		return ProcessURI{}, fmt.Errorf("ids: uri %q has invalid workspace suffix %q", s, parts[1])
	}
	uri := ProcessURI{Scope: parts[0], Suffix: parts[1]}
	for _, id := range parts[2:] {
		if !ValidProcessID(id) {
			return ProcessURI{}, fmt.Errorf("ids: uri %q has invalid process id %q", s, id)
		}
		uri.ProcessIDs = append(uri.ProcessIDs, id)
	}
	return uri, nil
}

// String renders the URI in canonical form.
func (u ProcessURI) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(u.Scope)
	b.WriteByte('/')
	b.WriteString(u.Suffix)
	for _, id := range u.ProcessIDs {
		b.WriteByte('/')
		b.WriteString(id)
	}
	return b.String()
}

// IsWorkspace reports whether the URI names a workspace (no process ids).
func (u ProcessURI) IsWorkspace() bool { return len(u.ProcessIDs) == 0 }

// ProcessID returns the final id segment, or "" for a workspace URI.
func (u ProcessURI) ProcessID() string {
	if len(u.ProcessIDs) == 0 {
		return ""
	}
	return u.ProcessIDs[len(u.ProcessIDs)-1]
}

// Workspace returns the workspace URI (scope and suffix only).
func (u ProcessURI) Workspace() ProcessURI {
	return ProcessURI{Scope: u.Scope, Suffix: u.Suffix}
}

// WorkspaceKey returns the "{scope}/{suffix}" form used in KV key segments.
func (u ProcessURI) WorkspaceKey() string {
	return u.Scope + "/" + u.Suffix
}

// Parent returns the URI with the last process id removed. Calling Parent on
// a workspace URI returns the workspace URI unchanged.
func (u ProcessURI) Parent() ProcessURI {
	if len(u.ProcessIDs) == 0 {
		return u
	}
	parent := ProcessURI{Scope: u.Scope, Suffix: u.Suffix}
	parent.ProcessIDs = append(parent.ProcessIDs, u.ProcessIDs[:len(u.ProcessIDs)-1]...)
	return parent
}

// Child returns the URI extended with one more process id.
func (u ProcessURI) Child(id string) (ProcessURI, error) {
	if !ValidProcessID(id) {
		return ProcessURI{}, fmt.Errorf("ids: invalid child process id %q", id)
	}
	child := ProcessURI{Scope: u.Scope, Suffix: u.Suffix}
	child.ProcessIDs = append(child.ProcessIDs, u.ProcessIDs...)
	child.ProcessIDs = append(child.ProcessIDs, id)
	return child, nil
}

// MarshalText implements encoding.TextMarshaler.
func (u ProcessURI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *ProcessURI) UnmarshalText(data []byte) error {
	parsed, err := ParseProcessURI(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
