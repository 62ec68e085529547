// Package flagengine applies and reverts the redirections and assignments
// that prefix a command (spec.md §4.4). It has no direct teacher-Go
// equivalent: mvdan.cc/sh/v3's interp package keeps every open file as a
// Go *os.File value and never touches the raw fd table. mesh follows the
// same idiom rather than original_source/src/core/flags.c's literal
// dup2/FD_CLOEXEC approach: every command's stdio already flows through
// explicit Go Reader/Writer values (see Streams below, and
// internal/executor.IO), so "backing up fd 1" here means "remembering the
// previous io.Writer", not duplicating a descriptor. The algorithm —
// back up, apply, and on revert restore in reverse order, with assignments
// scoped to a pushed-and-popped frame — is still apply_flags_reversibly /
// revert_flags from the C original; only the substrate changed.
package flagengine

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"vladaviedov.dev/mesh/internal/expand"
	"vladaviedov.dev/mesh/internal/lexparse"
	"vladaviedov.dev/mesh/internal/mesherr"
	"vladaviedov.dev/mesh/internal/vars"
)

// RedirKind is what a redirection ultimately does to its "from" stream,
// mirroring original_source's redir_type (RDR_FD / RDR_FILE / RDR_CLOSE).
type RedirKind int

const (
	RedirToFD RedirKind = iota
	RedirToFile
	RedirClose
)

// RedirOp is one resolved redirection: a stream slot (0=stdin, 1=stdout,
// 2=stderr; executor.Run additionally honors higher fds for external
// programs) and what to point it at. ToFile/OpenFlags are set only for
// RedirToFile; ToFD only for RedirToFD.
type RedirOp struct {
	Kind      RedirKind
	From      int
	ToFD      int
	ToFile    string
	OpenFlags int
}

// Assign is one resolved NAME=VALUE assignment.
type Assign struct {
	Key, Value string
}

// Flags is a prefix's resolved redirections and assignments, ready to apply.
type Flags struct {
	Redirs  []RedirOp
	Assigns []Assign
}

// Build resolves a command's prefix items (the flattened contents of a
// RunApply/RunShellEnv's Join) into concrete Flags, expanding redirection
// targets and assignment values via the expander.
func Build(items []lexparse.Node, lookup expand.Lookup, subst expand.CmdSubstRunner) (Flags, error) {
	var f Flags
	for _, item := range items {
		switch n := item.(type) {
		case *lexparse.Assign:
			f.Assigns = append(f.Assigns, Assign{
				Key:   n.Name,
				Value: expand.Literal(n.Value, lookup, subst),
			})
		case *lexparse.Redir:
			op, err := buildRedir(n, lookup, subst)
			if err != nil {
				return Flags{}, err
			}
			f.Redirs = append(f.Redirs, op)
		}
	}
	return f, nil
}

func defaultFD(kind lexparse.RedirKind) int {
	switch kind {
	case lexparse.RedirInputNormal, lexparse.RedirInputDup, lexparse.RedirInputRW:
		return 0
	default:
		return 1
	}
}

func buildRedir(r *lexparse.Redir, lookup expand.Lookup, subst expand.CmdSubstRunner) (RedirOp, error) {
	from := defaultFD(r.Kind)
	if r.FD != nil && r.FD.Value >= 0 {
		from = r.FD.Value
	}
	target := expand.Literal(r.Word, lookup, subst)

	switch r.Kind {
	case lexparse.RedirOutputNormal, lexparse.RedirOutputClobber:
		return RedirOp{Kind: RedirToFile, From: from, ToFile: target,
			OpenFlags: os.O_WRONLY | os.O_CREATE | os.O_TRUNC}, nil
	case lexparse.RedirOutputAppend:
		return RedirOp{Kind: RedirToFile, From: from, ToFile: target,
			OpenFlags: os.O_WRONLY | os.O_CREATE | os.O_APPEND}, nil
	case lexparse.RedirInputNormal:
		return RedirOp{Kind: RedirToFile, From: from, ToFile: target, OpenFlags: os.O_RDONLY}, nil
	case lexparse.RedirInputRW:
		return RedirOp{Kind: RedirToFile, From: from, ToFile: target,
			OpenFlags: os.O_RDWR | os.O_CREATE}, nil
	case lexparse.RedirOutputDup, lexparse.RedirInputDup:
		if target == "-" {
			return RedirOp{Kind: RedirClose, From: from}, nil
		}
		toFD, err := strconv.Atoi(target)
		if err != nil {
			return RedirOp{}, &mesherr.ParseError{Msg: "invalid fd duplication target: " + target}
		}
		return RedirOp{Kind: RedirToFD, From: from, ToFD: toFD}, nil
	}
	return RedirOp{}, fmt.Errorf("flagengine: unknown redirection kind %d", r.Kind)
}

// Streams is the trio of standard streams an in-process command (a builtin
// or meta-command) reads from and writes to. It stands in for the real
// per-process fd table the C original redirects: mesh threads stdio
// through explicit values (internal/executor.IO mirrors the same shape for
// external programs) rather than relying on a shared, implicit fd 0/1/2.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

type closedStream struct{}

func (closedStream) Read([]byte) (int, error)  { return 0, fmt.Errorf("bad file descriptor") }
func (closedStream) Write([]byte) (int, error) { return 0, fmt.Errorf("bad file descriptor") }

func getStream(s *Streams, fd int) (any, error) {
	switch fd {
	case 0:
		return s.In, nil
	case 1:
		return s.Out, nil
	case 2:
		return s.Err, nil
	}
	return nil, fmt.Errorf("flagengine: fd %d is not redirectable for in-process commands", fd)
}

func setStream(s *Streams, fd int, v any) error {
	switch fd {
	case 0:
		r, _ := v.(io.Reader)
		s.In = r
	case 1:
		w, _ := v.(io.Writer)
		s.Out = w
	case 2:
		w, _ := v.(io.Writer)
		s.Err = w
	default:
		return fmt.Errorf("flagengine: fd %d is not redirectable for in-process commands", fd)
	}
	return nil
}

// Apply performs flags irreversibly and permanently — the shape used for a
// bare prefix-only statement (spec.md §4.6 RunShellEnv), which persists on
// the shell itself rather than on a disposable child (apply_flags).
// Assignments are written straight into env and marked exported, matching
// vars_set + vars_set_export. Opened files are intentionally never closed:
// they replace the shell's own stream for the remainder of its lifetime,
// same as a real shell's fd 1 staying redirected until reassigned again.
func Apply(f Flags, streams *Streams, env *vars.Env) error {
	for _, op := range f.Redirs {
		switch op.Kind {
		case RedirToFile:
			file, err := os.OpenFile(op.ToFile, op.OpenFlags, 0o644)
			if err != nil {
				return fmt.Errorf("flagengine: %s: %w", op.ToFile, err)
			}
			if err := setStream(streams, op.From, file); err != nil {
				file.Close()
				return err
			}
		case RedirToFD:
			v, err := getStream(streams, op.ToFD)
			if err != nil {
				return err
			}
			if err := setStream(streams, op.From, v); err != nil {
				return err
			}
		case RedirClose:
			if err := setStream(streams, op.From, closedStream{}); err != nil {
				return err
			}
		}
	}
	for _, a := range f.Assigns {
		env.Set(a.Key, a.Value)
		env.SetExport(a.Key)
	}
	return nil
}

// savedStream is one entry of reversible-apply backup data: the stream
// slot's previous value, and the *os.File opened for it (if any), which
// Revert closes.
type savedStream struct {
	fd     int
	value  any
	opened *os.File
}

// Backup is what ApplyReversibly hands back; Revert consumes it to restore
// Streams to its pre-apply state.
type Backup struct {
	saved []savedStream
}

// ApplyReversibly performs flags for an in-process command (a builtin or
// meta-command): each redirected stream is backed up first, then replaced;
// assignments are scoped to a freshly pushed frame rather than exported
// (apply_flags_reversibly). On any failure, every operation already applied
// is reverted before the error is returned (partial_revert_redirs).
func ApplyReversibly(f Flags, streams *Streams, scope *vars.Scope) (Backup, error) {
	scope.CreateFrame()

	backup := Backup{saved: make([]savedStream, 0, len(f.Redirs))}
	for _, op := range f.Redirs {
		saved, err := backupAndApply(op, streams)
		if err != nil {
			backup.apply(streams)
			_ = scope.DeleteFrame()
			return Backup{}, err
		}
		backup.saved = append(backup.saved, saved)
	}

	for _, a := range f.Assigns {
		scope.Set(a.Key, a.Value)
	}

	return backup, nil
}

func backupAndApply(op RedirOp, streams *Streams) (savedStream, error) {
	old, err := getStream(streams, op.From)
	if err != nil {
		return savedStream{}, err
	}
	saved := savedStream{fd: op.From, value: old}

	switch op.Kind {
	case RedirToFile:
		file, err := os.OpenFile(op.ToFile, op.OpenFlags, 0o644)
		if err != nil {
			return savedStream{}, fmt.Errorf("flagengine: %s: %w", op.ToFile, err)
		}
		if err := setStream(streams, op.From, file); err != nil {
			file.Close()
			return savedStream{}, err
		}
		saved.opened = file
	case RedirToFD:
		v, err := getStream(streams, op.ToFD)
		if err != nil {
			return savedStream{}, err
		}
		if err := setStream(streams, op.From, v); err != nil {
			return savedStream{}, err
		}
	case RedirClose:
		if err := setStream(streams, op.From, closedStream{}); err != nil {
			return savedStream{}, err
		}
	}
	return saved, nil
}

// apply restores every backed-up stream, in reverse order, and closes any
// file ApplyReversibly opened. Used both by Revert and by the partial
// rollback on a failed ApplyReversibly.
func (b Backup) apply(streams *Streams) {
	for i := len(b.saved) - 1; i >= 0; i-- {
		s := b.saved[i]
		_ = setStream(streams, s.fd, s.value)
		if s.opened != nil {
			s.opened.Close()
		}
	}
}

// Revert restores the streams named in backup and pops the scope frame that
// ApplyReversibly pushed (revert_flags). Restoring a Go value back into a
// struct field cannot itself fail, so — unlike the C original's dup2-based
// revert — this is unconditionally infallible.
func Revert(backup Backup, streams *Streams, scope *vars.Scope) {
	_ = scope.DeleteFrame()
	backup.apply(streams)
}
