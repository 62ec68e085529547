// Package vars implements the shell's two-tier variable store: a global
// environment table with an export flag per entry, and a LIFO stack of
// lexical scope frames carrying named and positional parameters.
//
// The design mirrors the Environ/Variable split in mvdan.cc/sh/v3's
// interp/vars.go, simplified to mesh's data model (spec.md §3, §4.1): no
// arrays, no name references, a single string value per variable.
package vars

import (
	"fmt"
	"strconv"
	"strings"
)

// Variable is a single environment entry.
type Variable struct {
	Value    string
	Exported bool
}

// Env is the global, insertion-ordered name→value table.
type Env struct {
	order []string
	table map[string]Variable
}

// NewEnv returns an empty environment table.
func NewEnv() *Env {
	return &Env{table: make(map[string]Variable)}
}

// Import wipes the table and repopulates it from a NAME=VALUE slice (the
// shape of os.Environ()), marking every entry exported.
func (e *Env) Import(environ []string) {
	e.order = e.order[:0]
	e.table = make(map[string]Variable, len(environ))
	for _, kv := range environ {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			continue
		}
		e.setLocked(kv[:i], kv[i+1:], true)
	}
}

// Export returns a fresh NAME=VAL slice containing only exported entries,
// suitable for building a child process's environment.
func (e *Env) Export() []string {
	out := make([]string, 0, len(e.order))
	for _, name := range e.order {
		vr := e.table[name]
		if vr.Exported {
			out = append(out, name+"="+vr.Value)
		}
	}
	return out
}

// Set upserts a value without changing the export flag.
func (e *Env) Set(name, value string) {
	vr, ok := e.table[name]
	e.setLocked(name, value, ok && vr.Exported)
}

func (e *Env) setLocked(name, value string, exported bool) {
	if _, ok := e.table[name]; !ok {
		e.order = append(e.order, name)
	}
	e.table[name] = Variable{Value: value, Exported: exported}
}

// Get returns the value and whether it is present.
func (e *Env) Get(name string) (string, bool) {
	vr, ok := e.table[name]
	return vr.Value, ok
}

// Delete removes a name, returning whether it was present.
func (e *Env) Delete(name string) bool {
	if _, ok := e.table[name]; !ok {
		return false
	}
	delete(e.table, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// SetExport marks an existing name as exported, or creates it empty and
// exported (matching export(1) semantics: `export NAME` on an unset name
// creates it).
func (e *Env) SetExport(name string) bool {
	vr, ok := e.table[name]
	if !ok {
		e.setLocked(name, "", true)
		return true
	}
	vr.Exported = true
	e.table[name] = vr
	return true
}

// PrintAll returns every variable (or only exported ones) in stable
// insertion order, formatted "NAME=VALUE" (or "export NAME=VALUE" when
// exportPrefix is set, per spec.md §4.7 `export` with no args).
func (e *Env) PrintAll(exportedOnly, exportPrefix bool) []string {
	var lines []string
	for _, name := range e.order {
		vr := e.table[name]
		if exportedOnly && !vr.Exported {
			continue
		}
		if exportPrefix {
			lines = append(lines, "export "+name+"="+vr.Value)
		} else {
			lines = append(lines, name+"="+vr.Value)
		}
	}
	return lines
}

// Clone returns an independent copy of the table, used to give a command
// substitution's subshell its own variable state to mutate (spec.md §4.6's
// exec_subshell runs in a forked child in the original; mesh's in-process
// equivalent isolates mutations with a deep copy instead).
func (e *Env) Clone() *Env {
	clone := &Env{
		order: append([]string(nil), e.order...),
		table: make(map[string]Variable, len(e.table)),
	}
	for k, v := range e.table {
		clone.table[k] = v
	}
	return clone
}

// Frame is a lexical scope layer: named variables plus positional
// parameters, per spec.md §3 "Scope frame".
type Frame struct {
	order []string
	named map[string]string
	pos   []string
}

func newFrame() *Frame {
	return &Frame{named: make(map[string]string)}
}

// Scope is the LIFO stack of frames. The bottom frame is the top-level
// shell scope and is never popped by normal operation.
type Scope struct {
	frames []*Frame
}

// NewScope installs the bottom frame (scope_init in spec.md §4.1).
func NewScope() *Scope {
	s := &Scope{}
	s.frames = append(s.frames, newFrame())
	return s
}

func (s *Scope) top() *Frame { return s.frames[len(s.frames)-1] }

// Set upserts a named variable in the top frame only.
func (s *Scope) Set(name, value string) {
	f := s.top()
	if _, ok := f.named[name]; !ok {
		f.order = append(f.order, name)
	}
	f.named[name] = value
}

// Get looks up a named variable in the top frame only (scope does not
// implicitly see parent frames; the expander falls back to Env itself).
func (s *Scope) Get(name string) (string, bool) {
	v, ok := s.top().named[name]
	return v, ok
}

// Delete removes a named variable from the top frame.
func (s *Scope) Delete(name string) bool {
	f := s.top()
	if _, ok := f.named[name]; !ok {
		return false
	}
	delete(f.named, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return true
}

// AppendPos appends a 1-indexed positional parameter to the top frame.
func (s *Scope) AppendPos(value string) {
	f := s.top()
	f.pos = append(f.pos, value)
}

// SetPos replaces the entire positional list of the top frame (used by
// `mesh -c` and script invocation to seed $1..$N, per spec.md §9 last
// bullet).
func (s *Scope) SetPos(values []string) {
	f := s.top()
	f.pos = append([]string(nil), values...)
}

// GetPos returns the i-th (1-indexed) positional parameter.
func (s *Scope) GetPos(i int) (string, bool) {
	f := s.top()
	if i < 1 || i > len(f.pos) {
		return "", false
	}
	return f.pos[i-1], true
}

// Count returns $# for the top frame.
func (s *Scope) Count() int { return len(s.top().pos) }

// ListPos returns $@, the positionals space-joined (empty string when
// Count()==0).
func (s *Scope) ListPos() string {
	return strings.Join(s.top().pos, " ")
}

// CountString returns $# as a decimal string.
func (s *Scope) CountString() string {
	return strconv.Itoa(s.Count())
}

// CreateFrame pushes a new frame on top, inheriting nothing (reversible
// apply layers a fresh frame per spec.md §4.4).
func (s *Scope) CreateFrame() {
	s.frames = append(s.frames, newFrame())
}

// DeleteFrame pops the top frame. It is an error to pop the bottom frame.
func (s *Scope) DeleteFrame() error {
	if len(s.frames) <= 1 {
		return fmt.Errorf("vars: cannot delete the bottom scope frame")
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// Depth reports how many frames are currently stacked (1 = bottom only).
func (s *Scope) Depth() int { return len(s.frames) }

// Clone returns an independent copy of the whole frame stack, for the same
// subshell-isolation reason as Env.Clone.
func (s *Scope) Clone() *Scope {
	frames := make([]*Frame, len(s.frames))
	for i, f := range s.frames {
		nf := &Frame{
			order: append([]string(nil), f.order...),
			named: make(map[string]string, len(f.named)),
			pos:   append([]string(nil), f.pos...),
		}
		for k, v := range f.named {
			nf.named[k] = v
		}
		frames[i] = nf
	}
	return &Scope{frames: frames}
}
