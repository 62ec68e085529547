package eval

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"vladaviedov.dev/mesh/internal/executor"
	"vladaviedov.dev/mesh/internal/mesherr"
)

// builtinFunc is one built-in's implementation: argv[0] is its own name.
// It runs with flags already applied reversibly by dispatchBuiltin, so it
// reads/writes e.IO and e.Env/e.Scope directly, same as a meta handler.
type builtinFunc func(e *Evaluator, argv []string) int

// builtinTable is the five built-ins of spec.md §4.7, grounded on
// original_source/src/core/builtins.c's shell_exit/shell_cd/shell_set/
// shell_export/shell_exec, expressed the way interp/builtin.go's
// Runner.builtin switch dispatches its (much larger) set.
var builtinTable = map[string]builtinFunc{
	"exit":   builtinExit,
	"cd":     builtinCd,
	"set":    builtinSet,
	"export": builtinExport,
	"exec":   builtinExec,
}

// usageError reports a built-in called with the wrong argument count or
// shape (mesherr.UsageError) and returns the fixed status spec.md §4.7
// assigns every such case.
func usageError(e *Evaluator, msg string) int {
	err := &mesherr.UsageError{Msg: "mesh: error: " + msg}
	fmt.Fprintln(e.IO.Stderr, err.Error())
	return int(mesherr.StatusUsage)
}

func builtinExit(e *Evaluator, argv []string) int {
	if len(argv) > 2 {
		return usageError(e, "exit: too many arguments")
	}
	if len(argv) == 1 {
		os.Exit(int(mesherr.StatusOK))
	}
	n, err := strconv.Atoi(argv[1])
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: exit: %s: numeric argument required\n", argv[1])
		return int(mesherr.StatusBadExit)
	}
	os.Exit(n)
	return 0 // unreachable
}

func builtinCd(e *Evaluator, argv []string) int {
	var target string
	switch len(argv) {
	case 1:
		home, ok := e.Env.Get("HOME")
		if !ok {
			fmt.Fprintln(e.IO.Stderr, "mesh: error: cd: HOME not set")
			return 1
		}
		target = home
	case 2:
		if argv[1] == "-" {
			oldpwd, ok := e.Env.Get("OLDPWD")
			if !ok {
				fmt.Fprintln(e.IO.Stderr, "mesh: error: cd: OLDPWD not set")
				return 1
			}
			target = oldpwd
			fmt.Fprintln(e.IO.Stdout, target)
		} else {
			target = argv[1]
		}
	default:
		return usageError(e, "cd: too many arguments")
	}

	oldwd, _ := os.Getwd()
	if err := os.Chdir(target); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: cd: %v\n", err)
		return 1
	}
	e.Env.Set("OLDPWD", oldwd)
	e.Env.SetExport("OLDPWD")
	cwd, _ := os.Getwd()
	e.Env.Set("PWD", cwd)
	e.Env.SetExport("PWD")
	return 0
}

// builtinSet implements only the no-args form; spec.md §9 carries forward
// the source's unimplemented `set` with arguments as a usage error rather
// than silently fixing it.
func builtinSet(e *Evaluator, argv []string) int {
	if len(argv) > 1 {
		return usageError(e, "set: arguments not supported")
	}
	for _, line := range e.Env.PrintAll(false, false) {
		fmt.Fprintln(e.IO.Stdout, line)
	}
	return 0
}

func builtinExport(e *Evaluator, argv []string) int {
	if len(argv) == 1 {
		for _, line := range e.Env.PrintAll(true, true) {
			fmt.Fprintln(e.IO.Stdout, line)
		}
		return 0
	}
	for _, arg := range argv[1:] {
		name, value, hasValue := strings.Cut(arg, "=")
		if hasValue {
			e.Env.Set(name, value)
		}
		e.Env.SetExport(name)
	}
	return 0
}

// builtinExec replaces the running mesh process image in place (no fork),
// matching execvp's role in shell_exec. SIGINT/SIGQUIT are reset to their
// default disposition first: exec(2) preserves an ignored signal's
// disposition across the image replacement, so the top-level shell's
// SIG_IGN (spec.md §5) would otherwise leak into the replacement program.
func builtinExec(e *Evaluator, argv []string) int {
	if len(argv) == 1 {
		return 0
	}
	path, err := executor.LookPath("", e.Env, argv[1])
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: %s: command not found\n", argv[1])
		return 1
	}
	signal.Reset(unix.SIGINT, unix.SIGQUIT)
	if err := syscall.Exec(path, argv[1:], e.Env.Export()); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: %s: command not found\n", argv[1])
		return 1
	}
	return 0 // unreachable: Exec only returns on failure
}
