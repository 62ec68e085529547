// Package eval is the evaluator: the AST walker and three-way dispatcher
// (meta / built-in / external) of spec.md §4.6, plus the built-ins (§4.7)
// and meta-commands (§4.8) it dispatches to. The three live in one package
// for the same reason mvdan.cc/sh/v3 keeps interp.go, builtin.go, and
// vars.go inside a single interp package: built-ins and meta-commands need
// an Evaluator's unexported state directly, and a split would just add an
// exported interface duplicating most of it.
package eval

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	mcontext "vladaviedov.dev/mesh/internal/context"
	"vladaviedov.dev/mesh/internal/executor"
	"vladaviedov.dev/mesh/internal/expand"
	"vladaviedov.dev/mesh/internal/flagengine"
	"vladaviedov.dev/mesh/internal/lexparse"
	"vladaviedov.dev/mesh/internal/vars"
)

// Evaluator holds the shell's entire mutable state and walks a parsed AST
// against it (spec.md §9 "model globals as fields of an explicit Shell
// value"). A fresh Evaluator is the top-level shell; sub (below) produces
// the isolated clones a pipeline branch or command substitution runs on.
type Evaluator struct {
	Env      *vars.Env
	Scope    *vars.Scope
	Contexts *mcontext.Registry
	IO       executor.IO

	// LastStatus is `?`, the status of the most recently dispatched
	// command. Named apart from the Status() method expand.Lookup requires.
	LastStatus int

	// AbsIndex is the `:abs` toggle (spec.md §D): whether `:N`/`:asroot N`
	// index contexts from the start (true) or from the most recent entry
	// backwards (false, the default).
	AbsIndex bool

	// ReadLine supplies one line of input on demand, for `:add` with no
	// arguments. The interactive line reader itself is out of spec.md's
	// scope (§1); cmd/mesh wires this to whatever it uses to read stdin.
	ReadLine func() (string, bool)

	rootProbed  bool
	rootProgram string

	storeSource map[string]string
}

// New creates the top-level evaluator, importing the real process
// environment and standard streams.
func New(io executor.IO) *Evaluator {
	env := vars.NewEnv()
	env.Import(os.Environ())
	return &Evaluator{
		Env:         env,
		Scope:       vars.NewScope(),
		Contexts:    mcontext.NewRegistry(),
		IO:          io,
		storeSource: make(map[string]string),
	}
}

// rememberSource records which store file a loaded/saved context came from,
// consulted by `:store reload`.
func (e *Evaluator) rememberSource(name, path string) {
	e.storeSource[name] = path
}

// expand.Lookup, implemented directly on *Evaluator (spec.md §4.1: "the
// expander consults scope first, then the env store").

func (e *Evaluator) Get(name string) (string, bool) {
	if v, ok := e.Scope.Get(name); ok {
		return v, true
	}
	return e.Env.Get(name)
}

func (e *Evaluator) Status() int { return e.LastStatus }

func (e *Evaluator) PID() int { return os.Getpid() }

func (e *Evaluator) CountString() string { return e.Scope.CountString() }

func (e *Evaluator) ListPositional() string { return e.Scope.ListPos() }

func (e *Evaluator) Positional(n int) (string, bool) { return e.Scope.GetPos(n) }

func (e *Evaluator) Home() (string, bool) { return e.Env.Get("HOME") }

// EvalLine parses and evaluates one full line of input, updating and
// returning LastStatus.
func (e *Evaluator) EvalLine(src string) int {
	node, err := lexparse.Parse(src)
	if err != nil {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: syntax error")
		e.LastStatus = 1
		return e.LastStatus
	}
	if node == nil {
		return e.LastStatus
	}
	e.LastStatus = e.evalNode(node, flagengine.Flags{})
	return e.LastStatus
}

// sub clones the evaluator for a pipeline branch or command-substitution
// subshell: Env and Scope are deep-copied so the branch can't corrupt the
// parent's variables, but Contexts is shared (meta-commands run inside a
// pipe segment still see and mutate the real registry), mirroring
// mvdan-sh's Runner.sub() in interp/interp.go.
func (e *Evaluator) sub() *Evaluator {
	return &Evaluator{
		Env:         e.Env.Clone(),
		Scope:       e.Scope.Clone(),
		Contexts:    e.Contexts,
		IO:          e.IO,
		LastStatus:  e.LastStatus,
		AbsIndex:    e.AbsIndex,
		ReadLine:    e.ReadLine,
		rootProbed:  e.rootProbed,
		rootProgram: e.rootProgram,
		storeSource: e.storeSource,
	}
}

// runSubshell evaluates prog on a cloned evaluator with Stdout swapped to a
// pipe, capturing everything written to it (spec.md §4.6 CmdSubst,
// §4.5 exec_subshell) — satisfies expand.CmdSubstRunner. mesh has no fork,
// so "subshell" here means "in-process clone with its own Env/Scope",
// exactly the substrate mvdan-sh's own io.Pipe()-based Pipe case uses.
func (e *Evaluator) runSubshell(prog lexparse.Node) (string, error) {
	sub := e.sub()
	pr, pw := io.Pipe()
	sub.IO.Stdout = pw

	captured := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(pr)
		captured <- string(data)
	}()

	sub.evalNode(prog, flagengine.Flags{})
	pw.Close()
	return <-captured, nil
}

// evalNode is the single recursive entry point for every AST shape
// spec.md §4.6 names. flags is the redirection/assignment set inherited
// from an enclosing RUN(apply); every other node type evaluates its
// children with a fresh empty set, since flags only accumulate along a
// single RUN(apply) → RUN(execute) chain.
func (e *Evaluator) evalNode(node lexparse.Node, flags flagengine.Flags) int {
	switch n := node.(type) {
	case *lexparse.Sequence:
		return e.evalSeq(n)
	case *lexparse.Cond:
		return e.evalCond(n)
	case *lexparse.Pipe:
		return e.evalPipe(n)
	case *lexparse.Run:
		return e.evalRun(n, flags)
	}
	panic(fmt.Sprintf("eval: unhandled node type %T", node))
}

// evalSeq evaluates a ';'/'&' separator list. Async ('&') is honored only
// syntactically (spec.md §1 Non-goals: no background asynchrony).
func (e *Evaluator) evalSeq(seq *lexparse.Sequence) int {
	status := e.evalNode(seq.Left, flagengine.Flags{})
	if seq.Right != nil {
		status = e.evalNode(seq.Right, flagengine.Flags{})
	}
	return status
}

func (e *Evaluator) evalCond(c *lexparse.Cond) int {
	left := e.evalNode(c.Left, flagengine.Flags{})
	switch c.Kind {
	case lexparse.CondAnd:
		if left == 0 {
			return e.evalNode(c.Right, flagengine.Flags{})
		}
	case lexparse.CondOr:
		if left != 0 {
			return e.evalNode(c.Right, flagengine.Flags{})
		}
	}
	return left
}

// evalPipe runs the left side on a cloned evaluator in a goroutine with
// Stdout swapped to a pipe, and the right side on the original evaluator
// with Stdin swapped to the pipe's read end — mirroring mvdan-sh's
// interp.go *syntax.BinaryCmd Pipe case (clone for the goroutine side,
// mutate the original for the foreground side) to avoid racing on shared
// mutable state.
func (e *Evaluator) evalPipe(p *lexparse.Pipe) int {
	pr, pw := io.Pipe()

	left := e.sub()
	left.IO.Stdout = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		left.evalNode(p.Left, flagengine.Flags{})
		pw.Close()
	}()

	savedStdin := e.IO.Stdin
	e.IO.Stdin = pr
	status := e.evalNode(p.Right, flagengine.Flags{})
	e.IO.Stdin = savedStdin

	pr.Close()
	<-done
	return status
}

func (e *Evaluator) evalRun(r *lexparse.Run, flags flagengine.Flags) int {
	switch r.Kind {
	case lexparse.RunApply:
		extra, err := flagengine.Build(joinItems(r.Left), e, e.runSubshell)
		if err != nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: %v\n", err)
			return 1
		}
		return e.evalNode(r.Right, mergeFlags(flags, extra))

	case lexparse.RunShellEnv:
		built, err := flagengine.Build(joinItems(r.Left), e, e.runSubshell)
		if err != nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: %v\n", err)
			return 1
		}
		return e.runShellEnv(mergeFlags(flags, built))

	case lexparse.RunExecute:
		argv := e.buildArgv(joinItems(r.Left))
		if len(argv) == 0 {
			return 0
		}
		return e.dispatch(argv, flags)
	}
	panic(fmt.Sprintf("eval: unhandled run kind %d", r.Kind))
}

func joinItems(node lexparse.Node) []lexparse.Node {
	j, _ := node.(*lexparse.Join)
	return j.Items()
}

func mergeFlags(base, extra flagengine.Flags) flagengine.Flags {
	return flagengine.Flags{
		Redirs:  append(append([]flagengine.RedirOp{}, base.Redirs...), extra.Redirs...),
		Assigns: append(append([]flagengine.Assign{}, base.Assigns...), extra.Assigns...),
	}
}

func (e *Evaluator) buildArgv(items []lexparse.Node) []string {
	var argv []string
	for _, item := range items {
		w, ok := item.(*lexparse.Word)
		if !ok {
			continue
		}
		argv = append(argv, expand.Word(w, e, e.runSubshell)...)
	}
	return argv
}

// runShellEnv applies a bare prefix-only statement's redirections and
// assignments irreversibly to the shell's own streams and environment
// (spec.md §4.4 "irreversible" / §4.6 RUN(shell_env)).
func (e *Evaluator) runShellEnv(f flagengine.Flags) int {
	streams := &flagengine.Streams{In: e.IO.Stdin, Out: e.IO.Stdout, Err: e.IO.Stderr}
	if err := flagengine.Apply(f, streams, e.Env); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: %v\n", err)
		return 1
	}
	e.IO.Stdin, e.IO.Stdout, e.IO.Stderr = streams.In, streams.Out, streams.Err
	return 0
}

// dispatch implements spec.md §4.6's three-way decision on argv[0].
func (e *Evaluator) dispatch(argv []string, flags flagengine.Flags) int {
	if strings.HasPrefix(argv[0], ":") {
		return e.dispatchMeta(argv, flags)
	}
	if fn, ok := builtinTable[argv[0]]; ok {
		return e.dispatchBuiltin(fn, argv, flags)
	}
	return e.dispatchExternal(argv, flags)
}

func (e *Evaluator) dispatchExternal(argv []string, flags flagengine.Flags) int {
	dir, _ := os.Getwd()
	status, err := executor.Run(context.Background(), argv, flags, e.Env, dir, e.IO)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: %v\n", err)
		return 1
	}
	return status
}

func (e *Evaluator) dispatchBuiltin(fn builtinFunc, argv []string, flags flagengine.Flags) int {
	streams := &flagengine.Streams{In: e.IO.Stdin, Out: e.IO.Stdout, Err: e.IO.Stderr}
	backup, err := flagengine.ApplyReversibly(flags, streams, e.Scope)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: %v\n", err)
		return 1
	}
	savedIO := e.IO
	e.IO = executor.IO{Stdin: streams.In, Stdout: streams.Out, Stderr: streams.Err}

	status := fn(e, argv)

	e.IO = savedIO
	flagengine.Revert(backup, streams, e.Scope)
	return status
}

// dispatchMeta applies flags reversibly, invokes the meta handler, records
// the dispatched line to history, reverts, and — per the handler's
// re-entry protocol (spec.md §4.6) — re-evaluates a rewritten command if
// one was returned.
func (e *Evaluator) dispatchMeta(argv []string, flags flagengine.Flags) int {
	fn, hidden, ok := lookupMeta(argv[0])
	if !ok {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: %s: no such meta-command\n", argv[0])
		return 1
	}
	if hidden {
		fmt.Fprintf(e.IO.Stderr, "mesh: warn: %s is not intended to be called directly\n", argv[0])
	}

	streams := &flagengine.Streams{In: e.IO.Stdin, Out: e.IO.Stdout, Err: e.IO.Stderr}
	backup, err := flagengine.ApplyReversibly(flags, streams, e.Scope)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: %v\n", err)
		return 1
	}
	savedIO := e.IO
	e.IO = executor.IO{Stdin: streams.In, Stdout: streams.Out, Stderr: streams.Err}

	status, rewrite := fn(e, argv)

	e.IO = savedIO
	flagengine.Revert(backup, streams, e.Scope)
	e.Contexts.AddToHistory(strings.Join(argv, " "))

	if status < 0 {
		return 1
	}
	if status > 0 {
		return e.EvalLine(rewrite)
	}
	return 0
}
