// Package executor runs external programs (spec.md §4.5). It is grounded on
// two sources: original_source/src/core/exec.c's exec_normal/do_redirs/
// do_assigns for WHAT gets applied to a child process, and mvdan-sh's
// interp/handler.go (DefaultExecHandler, LookPathDir) for HOW to express it
// in Go — os/exec.Cmd's Env/Dir/Stdin/Stdout/Stderr/ExtraFiles fields stand
// in for the fork-then-dup2 sequence the C original performs by hand, since
// Go has no fork. This is also why flags applied here never touch the
// running shell's own file descriptors or *vars.Env (spec.md §4.4's
// "irreversible" case is irreversible precisely because only a doomed child
// process sees it): only the child's Cmd fields are built from Flags.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"vladaviedov.dev/mesh/internal/flagengine"
	"vladaviedov.dev/mesh/internal/vars"
)

// IO is the current standard stream set a command inherits, threaded
// through recursive evaluation so a command substitution's subshell can
// swap Stdout for an in-memory buffer without touching the real process
// file descriptors (mirroring mvdan-sh's HandlerContext.Stdin/Stdout/Stderr).
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultIO returns the real process streams.
func DefaultIO() IO {
	return IO{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run resolves argv[0] on PATH and runs it to completion, applying flags to
// the child only. The returned int is always a valid exit status; err is
// non-nil only for failures outside the child's control (e.g. context
// cancellation never started a process).
func Run(ctx context.Context, argv []string, flags flagengine.Flags, env *vars.Env, dir string, stdio IO) (int, error) {
	path, err := LookPath(dir, env, argv[0])
	if err != nil {
		// spec.md §4.5/§7 kind 5 and original_source/src/core/exec.c's
		// child (print_error + exit(1)) both specify status 1 here, not
		// the conventional POSIX 127.
		fmt.Fprintf(stdio.Stderr, "mesh: %s: command not found\n", argv[0])
		return 1, nil
	}

	cmd := exec.CommandContext(ctx, path, argv[1:]...)
	cmd.Dir = dir
	cmd.Env = childEnv(env, flags.Assigns)

	stdin, stdout, stderr, extra, closers, err := resolveStdio(stdio, flags.Redirs)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "mesh: %v\n", err)
		return 1, nil
	}
	defer closeAll(closers)

	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = extra

	// exec(2) preserves an ignored signal's disposition across the image
	// replacement inside the fork; the top-level shell's SIG_IGN (spec.md
	// §5) would otherwise leak into every child it starts. Reset right
	// before Start so the window where this process itself runs with
	// default disposition is as small as possible.
	signal.Reset(unix.SIGINT, unix.SIGQUIT)
	runErr := cmd.Start()
	resetIgnore()
	if runErr == nil {
		runErr = cmd.Wait()
	}
	if runErr == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	var startErr *exec.Error
	if errors.As(runErr, &startErr) {
		fmt.Fprintf(stdio.Stderr, "mesh: %s: command not found\n", argv[0])
		return 1, nil
	}
	return 1, runErr
}

// resetIgnore restores the top-level shell's SIG_IGN discipline after a
// child has been started; signal.Reset only needs to hold for the Start
// call itself, since the child has already exec'd with default dispositions
// by the time Start returns, and the shell then waits with SIG_IGN back in
// place.
func resetIgnore() {
	signal.Ignore(unix.SIGINT, unix.SIGQUIT)
}

// childEnv merges exported shell variables with this command's own
// assignments (the latter always exported in the child, per do_assigns'
// vars_set + vars_set_export pairing).
func childEnv(env *vars.Env, assigns []flagengine.Assign) []string {
	out := env.Export()
	for _, a := range assigns {
		out = append(out, a.Key+"="+a.Value)
	}
	return out
}

// resolveStdio builds the child's Stdin/Stdout/Stderr and any ExtraFiles
// from the inherited stdio plus this command's redirections. Only fds 0-2
// may be bound to an arbitrary Reader/Writer (e.g. a subshell's capture
// buffer); fds 3 and up must resolve to a real file, since os/exec.Cmd's
// ExtraFiles only accepts *os.File — a fd >= 3 redirected to another
// non-file stream is rejected.
func resolveStdio(stdio IO, redirs []flagengine.RedirOp) (io.Reader, io.Writer, io.Writer, []*os.File, []*os.File, error) {
	stdin, stdout, stderr := stdio.Stdin, stdio.Stdout, stdio.Stderr
	extraFiles := make(map[int]*os.File)
	var opened []*os.File

	for _, op := range redirs {
		switch op.Kind {
		case flagengine.RedirToFile:
			f, err := os.OpenFile(op.ToFile, op.OpenFlags, 0o644)
			if err != nil {
				closeAll(opened)
				return nil, nil, nil, nil, nil, fmt.Errorf("%s: %w", op.ToFile, err)
			}
			opened = append(opened, f)
			if err := bindFD(op.From, f, &stdin, &stdout, &stderr, extraFiles); err != nil {
				closeAll(opened)
				return nil, nil, nil, nil, nil, err
			}
		case flagengine.RedirToFD:
			src := streamAt(op.ToFD, stdin, stdout, stderr, extraFiles)
			if src == nil {
				closeAll(opened)
				return nil, nil, nil, nil, nil, fmt.Errorf("fd %d: bad file descriptor", op.ToFD)
			}
			if err := bindFD(op.From, src, &stdin, &stdout, &stderr, extraFiles); err != nil {
				closeAll(opened)
				return nil, nil, nil, nil, nil, err
			}
		case flagengine.RedirClose:
			clearFD(op.From, &stdin, &stdout, &stderr, extraFiles)
		}
	}

	extra, err := orderedExtraFiles(extraFiles)
	if err != nil {
		closeAll(opened)
		return nil, nil, nil, nil, nil, err
	}
	return stdin, stdout, stderr, extra, opened, nil
}

// streamAt returns whatever currently backs fd, as an `any` so the caller
// can type-assert it into the role it's being bound to.
func streamAt(fd int, stdin io.Reader, stdout, stderr io.Writer, extra map[int]*os.File) any {
	switch fd {
	case 0:
		return stdin
	case 1:
		return stdout
	case 2:
		return stderr
	default:
		if f, ok := extra[fd]; ok {
			return f
		}
		return nil
	}
}

func bindFD(fd int, v any, stdin *io.Reader, stdout, stderr *io.Writer, extra map[int]*os.File) error {
	switch fd {
	case 0:
		r, ok := v.(io.Reader)
		if !ok {
			return fmt.Errorf("fd 0: source is not readable")
		}
		*stdin = r
	case 1:
		w, ok := v.(io.Writer)
		if !ok {
			return fmt.Errorf("fd 1: source is not writable")
		}
		*stdout = w
	case 2:
		w, ok := v.(io.Writer)
		if !ok {
			return fmt.Errorf("fd 2: source is not writable")
		}
		*stderr = w
	default:
		f, ok := v.(*os.File)
		if !ok {
			return fmt.Errorf("fd %d: only plain files may be used above fd 2", fd)
		}
		extra[fd] = f
	}
	return nil
}

func clearFD(fd int, stdin *io.Reader, stdout, stderr *io.Writer, extra map[int]*os.File) {
	switch fd {
	case 0:
		*stdin = nil
	case 1:
		*stdout = nil
	case 2:
		*stderr = nil
	default:
		delete(extra, fd)
	}
}

// orderedExtraFiles lays out the fd >= 3 map into the contiguous slice
// os/exec requires (ExtraFiles[i] becomes fd 3+i), filling any gap with an
// open /dev/null so a later fd's index still lands correctly.
func orderedExtraFiles(m map[int]*os.File) ([]*os.File, error) {
	if len(m) == 0 {
		return nil, nil
	}
	maxFD := 2
	for fd := range m {
		if fd > maxFD {
			maxFD = fd
		}
	}
	out := make([]*os.File, 0, maxFD-2)
	for fd := 3; fd <= maxFD; fd++ {
		if f, ok := m[fd]; ok {
			out = append(out, f)
			continue
		}
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, null)
	}
	return out, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// LookPath resolves file against PATH taken from env, mirroring
// mvdan-sh's LookPathDir narrowed to mesh's POSIX-only target (no Windows
// extension search).
func LookPath(dir string, env *vars.Env, file string) (string, error) {
	if strings.ContainsRune(file, '/') {
		return checkExecutable(dir, file)
	}
	pathVar, _ := env.Get("PATH")
	for _, elem := range filepath.SplitList(pathVar) {
		if elem == "" {
			elem = "."
		}
		candidate := filepath.Join(elem, file)
		if path, err := checkExecutable(dir, candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%q: executable file not found in $PATH", file)
}

func checkExecutable(dir, file string) (string, error) {
	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	info, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: is a directory", file)
	}
	if info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("%s: permission denied", file)
	}
	return file, nil
}
