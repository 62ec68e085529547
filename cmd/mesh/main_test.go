package main

import (
	"os"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"vladaviedov.dev/mesh/internal/eval"
	"vladaviedov.dev/mesh/internal/executor"
)

func tempFileWithContent(c *qt.C, t *testing.T, content string) *os.File {
	f, err := os.CreateTemp(t.TempDir(), "mesh-test")
	c.Assert(err, qt.IsNil)
	_, err = f.WriteString(content)
	c.Assert(err, qt.IsNil)
	_, err = f.Seek(0, 0)
	c.Assert(err, qt.IsNil)
	return f
}

func TestEvalLinesSkipsBlankLines(t *testing.T) {
	c := qt.New(t)
	var out strings.Builder
	e := eval.New(executor.IO{Stdin: strings.NewReader(""), Stdout: &out, Stderr: &out})

	status := evalLines(e, "echo a\n\necho b\n")
	c.Assert(status, qt.Equals, 0)
	c.Assert(out.String(), qt.Equals, "a\nb\n")
}

func TestReadAllAppendsTrailingNewline(t *testing.T) {
	c := qt.New(t)
	f := tempFileWithContent(c, t, "echo one")
	defer f.Close()

	data, err := readAll(f)
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.Equals, "echo one\n")
}

// spec.md §8 scenario 7: positional parameters via -c. This checks the
// Scope.SetPos call runString and runFile make, not runString itself.
func TestScopeSetPosSeedsPositionals(t *testing.T) {
	c := qt.New(t)
	e := eval.New(executor.DefaultIO())
	e.Scope.SetPos([]string{"a", "b"})
	c.Assert(e.Scope.Count(), qt.Equals, 2)
	v, ok := e.Scope.GetPos(1)
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "a")
}
