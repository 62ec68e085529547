package eval

import (
	"os"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestBuiltinCdNoArgUsesHome(t *testing.T) {
	c := qt.New(t)
	e, _, _ := newTestEvaluator()
	dir := t.TempDir()
	e.Env.Set("HOME", dir)

	status := builtinCd(e, []string{"cd"})
	c.Assert(status, qt.Equals, 0)

	cwd, err := os.Getwd()
	c.Assert(err, qt.IsNil)
	c.Assert(sameDir(cwd, dir), qt.IsTrue)

	pwd, ok := e.Env.Get("PWD")
	c.Assert(ok, qt.IsTrue)
	c.Assert(sameDir(pwd, dir), qt.IsTrue)
}

func sameDir(a, b string) bool {
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return os.SameFile(ai, bi)
}

func TestBuiltinCdDashUsesOldpwd(t *testing.T) {
	c := qt.New(t)
	e, out, _ := newTestEvaluator()
	start, err := os.Getwd()
	c.Assert(err, qt.IsNil)
	defer os.Chdir(start)

	dir := t.TempDir()
	e.Env.Set("OLDPWD", dir)

	status := builtinCd(e, []string{"cd", "-"})
	c.Assert(status, qt.Equals, 0)
	c.Assert(sameDir(mustGetwd(c), dir), qt.IsTrue)
	c.Assert(out.String(), qt.Equals, dir+"\n")
}

func mustGetwd(c *qt.C) string {
	wd, err := os.Getwd()
	c.Assert(err, qt.IsNil)
	return wd
}

func TestBuiltinSetRejectsArgs(t *testing.T) {
	c := qt.New(t)
	e, _, _ := newTestEvaluator()
	status := builtinSet(e, []string{"set", "x"})
	c.Assert(status, qt.Equals, 2)
}

func TestBuiltinSetPrintsAllVars(t *testing.T) {
	c := qt.New(t)
	e, out, _ := newTestEvaluator()
	e.Env.Set("A", "1")
	status := builtinSet(e, []string{"set"})
	c.Assert(status, qt.Equals, 0)
	c.Assert(out.String(), qt.Contains, "A=1")
}

func TestBuiltinExportNoArgsPrintsExported(t *testing.T) {
	c := qt.New(t)
	e, out, _ := newTestEvaluator()
	e.Env.Set("A", "1")
	status := builtinExport(e, []string{"export"})
	c.Assert(status, qt.Equals, 0)
	c.Assert(out.String(), qt.Not(qt.Contains), "export A=1")

	out.Reset()
	status = builtinExport(e, []string{"export", "A"})
	c.Assert(status, qt.Equals, 0)

	out.Reset()
	builtinExport(e, []string{"export"})
	c.Assert(out.String(), qt.Contains, "export A=1")
}

func TestBuiltinExportAssignsAndExports(t *testing.T) {
	c := qt.New(t)
	e, _, _ := newTestEvaluator()
	status := builtinExport(e, []string{"export", "B=2"})
	c.Assert(status, qt.Equals, 0)

	v, ok := e.Env.Get("B")
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "2")
	c.Assert(e.Env.Export(), qt.Contains, "B=2")
}

func TestBuiltinExitNonNumericIsBadExit(t *testing.T) {
	c := qt.New(t)
	e, _, errBuf := newTestEvaluator()
	status := builtinExit(e, []string{"exit", "nope"})
	c.Assert(status, qt.Equals, 128)
	c.Assert(errBuf.String(), qt.Contains, "numeric argument required")
}

func TestBuiltinExitTooManyArgsIsUsageError(t *testing.T) {
	c := qt.New(t)
	e, _, _ := newTestEvaluator()
	status := builtinExit(e, []string{"exit", "1", "2"})
	c.Assert(status, qt.Equals, 2)
}
