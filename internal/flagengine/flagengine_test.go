package flagengine

import (
	"bytes"
	"io"
	"os"
	"testing"

	qt "github.com/frankban/quicktest"

	"vladaviedov.dev/mesh/internal/vars"
)

func TestApplyRedirectsToFile(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	target := dir + "/out.txt"

	streams := &Streams{Out: &bytes.Buffer{}}
	f := Flags{Redirs: []RedirOp{{
		Kind: RedirToFile, From: 1, ToFile: target,
		OpenFlags: os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
	}}}
	c.Assert(Apply(f, streams, vars.NewEnv()), qt.IsNil)

	_, err := streams.Out.Write([]byte("hello\n"))
	c.Assert(err, qt.IsNil)

	data, err := os.ReadFile(target)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "hello\n")
}

func TestApplySetsEnvAssignmentsExported(t *testing.T) {
	c := qt.New(t)
	env := vars.NewEnv()
	f := Flags{Assigns: []Assign{{Key: "X", Value: "hi"}}}
	c.Assert(Apply(f, &Streams{}, env), qt.IsNil)

	v, ok := env.Get("X")
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "hi")
	c.Assert(env.Export(), qt.Contains, "X=hi")
}

func TestApplyReversiblyBackupAndRevert(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	redirected := dir + "/redirected.txt"

	var original bytes.Buffer
	streams := &Streams{Out: &original}

	scope := vars.NewScope()
	f := Flags{
		Redirs: []RedirOp{{
			Kind: RedirToFile, From: 1, ToFile: redirected,
			OpenFlags: os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
		}},
		Assigns: []Assign{{Key: "Y", Value: "scoped"}},
	}

	backup, err := ApplyReversibly(f, streams, scope)
	c.Assert(err, qt.IsNil)
	c.Assert(scope.Depth(), qt.Equals, 2)
	v, ok := scope.Get("Y")
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "scoped")

	_, err = streams.Out.Write([]byte("new\n"))
	c.Assert(err, qt.IsNil)

	Revert(backup, streams, scope)
	c.Assert(scope.Depth(), qt.Equals, 1)
	_, ok = scope.Get("Y")
	c.Assert(ok, qt.IsFalse)

	c.Assert(streams.Out, qt.Equals, io.Writer(&original))

	_, err = streams.Out.Write([]byte("back\n"))
	c.Assert(err, qt.IsNil)
	c.Assert(original.String(), qt.Equals, "back\n")

	redirData, err := os.ReadFile(redirected)
	c.Assert(err, qt.IsNil)
	c.Assert(string(redirData), qt.Equals, "new\n")
}

func TestApplyReversiblyCloseThenRevert(t *testing.T) {
	c := qt.New(t)
	var out bytes.Buffer
	streams := &Streams{Out: &out}

	scope := vars.NewScope()
	f := Flags{Redirs: []RedirOp{{Kind: RedirClose, From: 1}}}

	backup, err := ApplyReversibly(f, streams, scope)
	c.Assert(err, qt.IsNil)

	_, err = streams.Out.Write([]byte("x"))
	c.Assert(err, qt.ErrorMatches, "bad file descriptor")

	Revert(backup, streams, scope)
	_, err = streams.Out.Write([]byte("ok\n"))
	c.Assert(err, qt.IsNil)
	c.Assert(out.String(), qt.Equals, "ok\n")
}

func TestApplyReversiblyDupFromStderr(t *testing.T) {
	c := qt.New(t)
	var errBuf bytes.Buffer
	streams := &Streams{Out: &bytes.Buffer{}, Err: &errBuf}

	scope := vars.NewScope()
	f := Flags{Redirs: []RedirOp{{Kind: RedirToFD, From: 1, ToFD: 2}}}

	backup, err := ApplyReversibly(f, streams, scope)
	c.Assert(err, qt.IsNil)

	_, err = streams.Out.Write([]byte("merged\n"))
	c.Assert(err, qt.IsNil)
	c.Assert(errBuf.String(), qt.Equals, "merged\n")

	Revert(backup, streams, scope)
}
