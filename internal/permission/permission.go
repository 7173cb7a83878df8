// Package permission decides whether an agent may use a tool, with an
// optional interactive confirm-and-cache path.
package permission

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a coarse capability a tool requires.
type Permission string

const (
	Read    Permission = "read"
	Write   Permission = "write"
	Execute Permission = "execute"
	Spawn   Permission = "spawn"
	Web     Permission = "web"
)

// All lists every known permission.
var All = []Permission{Read, Write, Execute, Spawn, Web}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	switch p {
	case Read, Write, Execute, Spawn, Web:
		return true
	}
	return false
}

// Parse converts a config string into a Permission.
func Parse(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

// Set is an agent's declared capability set.
type Set []Permission

// ParseSet converts config strings into a Set.
func ParseSet(values []string) (Set, error) {
	set := make(Set, 0, len(values))
	for _, v := range values {
		p, err := Parse(v)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool {
	for _, have := range s {
		if have == p {
			return true
		}
	}
	return false
}

func (s Set) String() string {
	names := make([]string, 0, len(s))
	for _, p := range s {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// HasPermission reports whether set grants required. Unknown permission
// kinds are always denied.
func HasPermission(set Set, required Permission) bool {
	if !required.Valid() {
		return false
	}
	return set.Has(required)
}

// Mode controls how RequestPermission treats non-read tool use.
type Mode string

const (
	ModeAuto    Mode = "auto"    // Grant silently
	ModeSuggest Mode = "suggest" // Log and grant
	ModeAsk     Mode = "ask"     // Prompt the operator once per tool and permission
)

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeSuggest, ModeAsk:
		return m, nil
	case "":
		return ModeAsk, nil
	default:
		return "", fmt.Errorf("unknown permission mode %q (want auto, suggest or ask)", s)
	}
}
