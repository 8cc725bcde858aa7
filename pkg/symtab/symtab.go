// Package symtab implements the insertion-ordered symbol table that backs
// command and function lookup.
//
// Entries are keyed by (name, flags). The flags value is opaque to the table;
// callers use it to keep several namespaces in one table, so the same name
// may appear once per distinct flags value.
package symtab

import "errors"

// initialCapacity is the number of entries allocated by New and the minimum
// size after growth.
const initialCapacity = 16

var (
	// ErrExists is returned by Add when the (name, flags) pair is present.
	ErrExists = errors.New("symtab: symbol already exists")

	// ErrInvalid is returned by Add for a nil table, empty name or nil cookie.
	ErrInvalid = errors.New("symtab: invalid argument")
)

type entry struct {
	name   string
	flags  int
	cookie any
}

// Table is a linear-scan symbol table. The zero value is not usable; create
// tables with New. A Table is not safe for concurrent use.
type Table struct {
	entries []entry
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make([]entry, 0, initialCapacity)}
}

// Close releases every entry. It is safe to call on a table with entries
// and on a nil table.
func (t *Table) Close() {
	if t == nil {
		return
	}
	clear(t.entries)
	t.entries = nil
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Find returns the cookie stored for (name, flags).
func (t *Table) Find(name string, flags int) (any, bool) {
	if t == nil || name == "" {
		return nil, false
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.flags == flags && e.name == name {
			return e.cookie, true
		}
	}
	return nil, false
}

// Add appends a new entry. A duplicate (name, flags) pair is rejected and
// leaves the existing entry untouched.
func (t *Table) Add(name string, flags int, cookie any) error {
	if t == nil || name == "" || cookie == nil {
		return ErrInvalid
	}
	if _, ok := t.Find(name, flags); ok {
		return ErrExists
	}

	if len(t.entries) == cap(t.entries) {
		size := cap(t.entries) * 2
		if size < initialCapacity {
			size = initialCapacity
		}
		grown := make([]entry, len(t.entries), size)
		copy(grown, t.entries)
		t.entries = grown
	}

	// Own a copy of the name so callers cannot alias table memory.
	t.entries = append(t.entries, entry{
		name:   string(append([]byte(nil), name...)),
		flags:  flags,
		cookie: cookie,
	})
	return nil
}

// Each calls fn for every entry in insertion order until fn returns false.
func (t *Table) Each(fn func(name string, flags int, cookie any) bool) {
	if t == nil {
		return
	}
	for _, e := range t.entries {
		if !fn(e.name, e.flags, e.cookie) {
			return
		}
	}
}
