// Package permissions collects the filesystem access a script would need and
// checks it against a table of allowed permissions.
package permissions

import (
	"errors"
	"fmt"
	"strings"
)

// Permission bits.
const (
	PermNone   uint32 = 0
	PermStat   uint32 = 1 << 0
	PermRead   uint32 = 1 << 1
	PermWrite  uint32 = 1 << 2
	PermChmod  uint32 = 1 << 3
	PermChown  uint32 = 1 << 4
	PermChgrp  uint32 = 1 << 5
	PermSetuid uint32 = 1 << 6
	PermSetgid uint32 = 1 << 7
)

// Permission sets.
const (
	PermSetRead  = PermStat | PermRead
	PermSetWrite = PermSetRead | PermWrite
	PermSetAll   = PermStat | PermRead | PermWrite | PermChmod | PermChown |
		PermChgrp | PermSetuid | PermSetgid
)

var names = []struct {
	name string
	bit  uint32
}{
	{"stat", PermStat},
	{"read", PermRead},
	{"write", PermWrite},
	{"chmod", PermChmod},
	{"chown", PermChown},
	{"chgrp", PermChgrp},
	{"setuid", PermSetuid},
	{"setgid", PermSetgid},
}

// ErrEmptyPath is returned when a request or permission has no path.
var ErrEmptyPath = errors.New("permissions: empty path")

// Parse converts permission names ("read", "write", ... or the set names
// "none", "set_read", "set_write", "all") into a bit mask.
func Parse(list []string) (uint32, error) {
	var bits uint32
	for _, s := range list {
		switch s = strings.ToLower(strings.TrimSpace(s)); s {
		case "none":
		case "set_read":
			bits |= PermSetRead
		case "set_write":
			bits |= PermSetWrite
		case "all":
			bits |= PermSetAll
		default:
			found := false
			for _, n := range names {
				if n.name == s {
					bits |= n.bit
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("permissions: unknown permission %q", s)
			}
		}
	}
	return bits, nil
}

// Format renders a bit mask as a list of permission names. Bits outside
// PermSetAll are rendered in hex.
func Format(bits uint32) string {
	if bits == PermNone {
		return "none"
	}
	var parts []string
	for _, n := range names {
		if bits&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if extra := bits &^ PermSetAll; extra != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", extra))
	}
	return strings.Join(parts, "|")
}

// Request is one access a command would perform.
type Request struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Requested uint32 `json:"requested"`
	Allowed   uint32 `json:"allowed"`
}

// RequestList accumulates requests during a probing pass. The zero value
// is an empty list.
type RequestList struct {
	requests []Request
}

// Add appends a request. Allowed starts out as zero.
func (l *RequestList) Add(path string, recursive bool, requested uint32) error {
	if l == nil {
		return errors.New("permissions: nil request list")
	}
	if path == "" {
		return ErrEmptyPath
	}
	l.requests = append(l.requests, Request{Path: path, Recursive: recursive, Requested: requested})
	return nil
}

// Requests returns the collected requests in insertion order.
func (l *RequestList) Requests() []Request {
	if l == nil {
		return nil
	}
	return l.requests
}

// Len returns the number of requests.
func (l *RequestList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.requests)
}

// Reset empties the list.
func (l *RequestList) Reset() {
	if l != nil {
		l.requests = nil
	}
}

// Permission grants the Allowed bits on Path and everything beneath it.
type Permission struct {
	Path    string `json:"path" yaml:"path" toml:"path"`
	Allowed uint32 `json:"allowed" yaml:"allowed" toml:"allowed"`
}

// Table holds registered permissions in registration order.
type Table struct {
	entries []Permission
}

// NewTable creates an empty permission table.
func NewTable() *Table {
	return &Table{}
}

// Register appends a set of permissions. Either every entry is added or,
// if any entry is invalid, none are.
func (t *Table) Register(set ...Permission) error {
	if len(set) == 0 {
		return nil
	}
	add := make([]Permission, 0, len(set))
	for _, p := range set {
		if p.Path == "" {
			return ErrEmptyPath
		}
		add = append(add, Permission{Path: normalize(p.Path), Allowed: p.Allowed})
	}
	t.entries = append(t.entries, add...)
	return nil
}

// Len returns the number of registered permissions.
func (t *Table) Len() int {
	return len(t.entries)
}

// At returns the permission at index i.
func (t *Table) At(i int) (Permission, bool) {
	if i < 0 || i >= len(t.entries) {
		return Permission{}, false
	}
	return t.entries[i], true
}

// Allowed returns the permissions granted on path. The most specific
// registered entry that covers path wins; among equal paths the later
// registration wins. With recursive set, the result is also restricted by
// every entry registered beneath path. A path no entry covers gets
// PermSetAll.
func (t *Table) Allowed(path string, recursive bool) uint32 {
	path = normalize(path)

	allowed := PermSetAll
	best := -1
	for _, p := range t.entries {
		if covers(p.Path, path) && len(p.Path) >= best {
			best = len(p.Path)
			allowed = p.Allowed
		}
	}
	if recursive {
		for _, p := range t.entries {
			if p.Path != path && covers(path, p.Path) {
				allowed &= p.Allowed
			}
		}
	}
	return allowed
}

// CountConflicts returns the number of requests asking for bits the table
// does not allow. With updateAllowed set, each request's Allowed field is
// filled in.
func (t *Table) CountConflicts(list *RequestList, updateAllowed bool) (int, error) {
	if list == nil {
		return 0, errors.New("permissions: nil request list")
	}
	conflicts := 0
	for i := range list.requests {
		req := &list.requests[i]
		allowed := t.Allowed(req.Path, req.Recursive)
		if req.Requested&^allowed != 0 {
			conflicts++
		}
		if updateAllowed {
			req.Allowed = allowed
		}
	}
	return conflicts, nil
}

func normalize(p string) string {
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// covers reports whether prefix names path or one of its ancestors.
func covers(prefix, path string) bool {
	if prefix == path {
		return true
	}
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, prefix+"/")
}
