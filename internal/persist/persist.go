// Package persist gives the VM's globals table optional durability
// across process restarts. It is a REPL/CLI concern only: no Lox
// syntax or standard-library function depends on it, so the VM runs
// identically with or without a backend configured.
package persist

import (
	"fmt"

	"loxvm/internal/hashtable"
	"loxvm/internal/value"
)

// Global is one persisted name/value pair for a session.
type Global struct {
	Name  string
	Value value.Value
}

// Backend loads and saves a session's globals. Load is called once,
// before the first REPL line or the script file is compiled; Save is
// called once, when the REPL reaches end of input or the script run
// ends (including after a compile or runtime error). intern is the VM's own find-or-insert
// string table: a restored string value must come back through it so
// it compares `==` correctly against identical strings the VM
// allocates or interns later, the same identity rule the compiler and
// VM already apply to every other string (see internal/compiler).
type Backend interface {
	Load(session string, intern func(string) *value.ObjString) ([]Global, error)
	Save(session string, globals []Global) error
	Close() error
}

// Memory is the zero-value default: an in-process, non-durable
// backend. It matches the book's own behavior (nothing survives past
// the running process) and exists so --persist can be omitted
// without special-casing the caller.
type Memory struct{}

func (Memory) Load(string, func(string) *value.ObjString) ([]Global, error) { return nil, nil }
func (Memory) Save(string, []Global) error                                 { return nil }
func (Memory) Close() error                                                { return nil }

// Snapshot reads every live global out of table into the flat form
// backends persist. Functions and other non-serializable values are
// not a concern here since this subset of Lox has none.
func Snapshot(table *hashtable.Table) []Global {
	keys := table.Keys()
	out := make([]Global, 0, len(keys))
	for _, k := range keys {
		v, ok := table.Get(k)
		if !ok {
			continue
		}
		out = append(out, Global{Name: k.Chars, Value: v})
	}
	return out
}

// Restore loads globals back into table, interning each name through
// intern so identity equality keeps working for any persisted string
// values.
func Restore(table *hashtable.Table, globals []Global, intern func(string) *value.ObjString) {
	for _, g := range globals {
		table.Set(intern(g.Name), g.Value)
	}
}

// encodeValue and decodeValue give the sqlite and dynamodb backends a
// shared, backend-agnostic wire format for value.Value, since neither
// store understands Lox's tagged union natively.
type encodedValue struct {
	Type string // "nil" | "bool" | "number" | "string"
	Bool bool
	Num  float64
	Str  string
}

func encodeValue(v value.Value) encodedValue {
	switch v.Type {
	case value.Bool:
		return encodedValue{Type: "bool", Bool: v.Bool}
	case value.Number:
		return encodedValue{Type: "number", Num: v.Num}
	case value.ObjType:
		return encodedValue{Type: "string", Str: v.AsString()}
	default:
		return encodedValue{Type: "nil"}
	}
}

// decodeValue reconstructs a value.Value from its wire form. A string
// value is routed through intern rather than allocated directly, so
// it carries the same canonical *ObjString identity any other string
// with that content would get.
func decodeValue(e encodedValue, intern func(string) *value.ObjString) (value.Value, error) {
	switch e.Type {
	case "nil":
		return value.NilValue(), nil
	case "bool":
		return value.BoolValue(e.Bool), nil
	case "number":
		return value.NumberValue(e.Num), nil
	case "string":
		return value.ObjValue(intern(e.Str)), nil
	default:
		return value.Value{}, fmt.Errorf("persist: unknown encoded value type %q", e.Type)
	}
}
