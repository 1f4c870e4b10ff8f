package dispatch

import (
	"fmt"
	"strings"
)

// Policy is the effective delivery behaviour derived from a Mode.
type Policy int

const (
	PolicyInline Policy = iota
	PolicyBlockingMarshalled
	PolicyAsyncInline
	PolicyAsyncMarshalled
)

// String returns a human-readable representation of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyInline:
		return "inline"
	case PolicyBlockingMarshalled:
		return "blocking-marshalled"
	case PolicyAsyncInline:
		return "async-inline"
	case PolicyAsyncMarshalled:
		return "async-marshalled"
	default:
		return "unknown"
	}
}

// Blocking reports whether the caller waits for every listener.
func (p Policy) Blocking() bool {
	return p == PolicyInline || p == PolicyBlockingMarshalled
}

// Mode holds the three dispatch flags of a manager.
type Mode struct {
	Sync     bool `json:"sync" yaml:"sync" toml:"sync"`
	UI       bool `json:"ui" yaml:"ui" toml:"ui"`
	Parallel bool `json:"parallel" yaml:"parallel" toml:"parallel"`
}

// DefaultMode is synchronous inline delivery.
func DefaultMode() Mode {
	return Mode{Sync: true}
}

// Policy collapses the flags into one of the four behaviours.
func (m Mode) Policy() Policy {
	marshalled := m.UI || m.Parallel
	switch {
	case m.Sync && !marshalled:
		return PolicyInline
	case m.Sync:
		return PolicyBlockingMarshalled
	case !marshalled:
		return PolicyAsyncInline
	default:
		return PolicyAsyncMarshalled
	}
}

// String renders the mode in the form accepted by ParseMode.
func (m Mode) String() string {
	var b strings.Builder
	if m.Sync {
		b.WriteString("sync")
	} else {
		b.WriteString("async")
	}
	if m.UI {
		b.WriteString("+ui")
	}
	if m.Parallel {
		b.WriteString("+parallel")
	}
	return b.String()
}

// ParseMode parses "sync" or "async" optionally followed by "+ui" and/or
// "+parallel", e.g. "async+parallel". Policy names ("inline",
// "blocking-marshalled", "async-inline", "async-marshalled") are accepted
// too; the marshalled ones imply parallel fan-out.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "inline":
		return Mode{Sync: true}, nil
	case "blocking-marshalled", "blocking":
		return Mode{Sync: true, Parallel: true}, nil
	case "async-inline":
		return Mode{}, nil
	case "async-marshalled":
		return Mode{Parallel: true}, nil
	}

	parts := strings.Split(s, "+")
	var m Mode
	switch parts[0] {
	case "sync":
		m.Sync = true
	case "async":
	default:
		return Mode{}, fmt.Errorf("dispatch: unknown mode %q", s)
	}
	for _, p := range parts[1:] {
		switch p {
		case "ui":
			m.UI = true
		case "parallel":
			m.Parallel = true
		default:
			return Mode{}, fmt.Errorf("dispatch: unknown mode flag %q in %q", p, s)
		}
	}
	return m, nil
}
