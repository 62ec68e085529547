// Package context implements mesh's named, ordered command-string
// registries (spec.md §3 "Context", §4.8). It is deliberately separate
// from Go's standard context.Context; the name follows spec.md's own
// vocabulary.
package context

import (
	"fmt"
	"strings"
)

// HistoryName is the reserved context the registry creates at startup
// and that the evaluator records every dispatched meta-command line into.
const HistoryName = "history"

// Context is a named, ordered list of command strings.
type Context struct {
	Name     string
	Commands []string
}

// Registry holds every known context and tracks which one is current.
type Registry struct {
	order   []string
	table   map[string]*Context
	current string
}

// NewRegistry creates the registry with the reserved history context
// already present and selected as current, per spec.md §3.
func NewRegistry() *Registry {
	r := &Registry{table: make(map[string]*Context)}
	r.New(HistoryName)
	r.Select(HistoryName)
	return r
}

// reservedName reports whether a context name is reserved for internal use
// (spec.md §3: "names starting with `_` are reserved").
func reservedName(name string) bool {
	return strings.HasPrefix(name, "_")
}

// New creates an empty context. It returns an error if the name already
// exists or is reserved (unless internal use is intended by the caller;
// callers that need a reserved scratch context should use NewInternal).
func (r *Registry) New(name string) error {
	if reservedName(name) {
		return fmt.Errorf("context name '%s' is reserved", name)
	}
	return r.create(name)
}

// NewInternal creates a transient, reserved-name context for staging
// (spec.md §4.8). No caller in the evaluator uses it: `:_ctx_import`
// imports directly under the file's declared name.
func (r *Registry) NewInternal(name string) error {
	if !reservedName(name) {
		return fmt.Errorf("internal context name must start with '_'")
	}
	return r.create(name)
}

func (r *Registry) create(name string) error {
	if _, ok := r.table[name]; ok {
		return fmt.Errorf("context already exists")
	}
	ctx := &Context{Name: name}
	r.table[name] = ctx
	r.order = append(r.order, name)
	return nil
}

// Select makes name the current context. Returns an error if it doesn't
// exist.
func (r *Registry) Select(name string) error {
	if _, ok := r.table[name]; !ok {
		return fmt.Errorf("context '%s' not found", name)
	}
	r.current = name
	return nil
}

// Current returns the current context, or nil if none is selected.
func (r *Registry) Current() *Context {
	return r.table[r.current]
}

// CurrentName returns the name of the current context, or "" if none.
func (r *Registry) CurrentName() string {
	return r.current
}

// Get returns a context by name, or nil.
func (r *Registry) Get(name string) *Context {
	return r.table[name]
}

// All returns every context in insertion order.
func (r *Registry) All() []*Context {
	out := make([]*Context, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.table[name])
	}
	return out
}

// Delete removes a context by name. If it was current, the current
// selection becomes unset (spec.md §8 invariant: "leaves either no current
// context or an unchanged one if a different context was current").
func (r *Registry) Delete(name string) error {
	if _, ok := r.table[name]; !ok {
		return fmt.Errorf("context '%s' not found", name)
	}
	delete(r.table, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.current == name {
		r.current = ""
	}
	return nil
}

// Add appends a command string to ctx (or the current context if ctx is
// nil).
func (r *Registry) Add(ctx *Context, command string) error {
	if ctx == nil {
		ctx = r.Current()
		if ctx == nil {
			return fmt.Errorf("context is not set")
		}
	}
	ctx.Commands = append(ctx.Commands, command)
	return nil
}

// AddToHistory appends a command string to the reserved history context.
func (r *Registry) AddToHistory(command string) {
	if h := r.table[HistoryName]; h != nil {
		h.Commands = append(h.Commands, command)
	}
}

// Replace overwrites the item at the given index (spec.md §4.8 `:replace`
// "replace the N-th item"). Positive indices count from the start (0 is
// the oldest item) and negative indices count from the end; unlike Row,
// this is unconditional and does not honor the `:abs` toggle —
// `original_source/src/ext/context.c`'s context_replace takes an unsigned,
// always-absolute index, distinct from context_get_row_rel/_abs.
func Replace(ctx *Context, index int, command string) error {
	i, err := resolveIndex(ctx, index, true)
	if err != nil {
		return err
	}
	ctx.Commands[i] = command
	return nil
}

// Row fetches the command at the given index, honoring the absolute/
// relative indexing mode (spec.md §D / original_source's abs_index flag).
// In relative mode index 0 is the most recent command.
func Row(ctx *Context, index int, absolute bool) (string, error) {
	i, err := resolveIndex(ctx, index, absolute)
	if err != nil {
		return "", err
	}
	return ctx.Commands[i], nil
}

func resolveIndex(ctx *Context, index int, absolute bool) (int, error) {
	if ctx == nil {
		return 0, fmt.Errorf("context is not set")
	}
	n := len(ctx.Commands)
	i := index
	if !absolute && index >= 0 {
		// relative mode: 0 means most recent
		i = n - 1 - index
	} else if index < 0 {
		i = n + index
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index is out of bounds")
	}
	return i, nil
}
