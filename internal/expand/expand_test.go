package expand

import (
	"fmt"
	"strconv"
	"testing"

	qt "github.com/frankban/quicktest"

	"vladaviedov.dev/mesh/internal/lexparse"
)

type fakeLookup struct {
	vars   map[string]string
	status int
	pid    int
	pos    []string
	home   string
}

func (f *fakeLookup) Get(name string) (string, bool) { v, ok := f.vars[name]; return v, ok }
func (f *fakeLookup) Status() int                     { return f.status }
func (f *fakeLookup) PID() int                        { return f.pid }
func (f *fakeLookup) CountString() string             { return strconv.Itoa(len(f.pos)) }
func (f *fakeLookup) ListPositional() string {
	out := ""
	for i, v := range f.pos {
		if i > 0 {
			out += " "
		}
		out += v
	}
	return out
}
func (f *fakeLookup) Positional(n int) (string, bool) {
	if n < 1 || n > len(f.pos) {
		return "", false
	}
	return f.pos[n-1], true
}
func (f *fakeLookup) Home() (string, bool) { return f.home, f.home != "" }

func mustParse(t *testing.T, src string) *lexparse.Word {
	t.Helper()
	node, err := lexparse.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	run := node.(*lexparse.Run)
	return run.Left.(*lexparse.Join).Items()[0].(*lexparse.Word)
}

func TestLiteralVarExpansion(t *testing.T) {
	c := qt.New(t)
	w := mustParse(t, "$X")
	l := &fakeLookup{vars: map[string]string{"X": "hello"}}
	c.Assert(Literal(w, l, nil), qt.Equals, "hello")
}

func TestUnresolvedVarExpandsEmpty(t *testing.T) {
	c := qt.New(t)
	w := mustParse(t, "$MISSING")
	l := &fakeLookup{vars: map[string]string{}}
	c.Assert(Literal(w, l, nil), qt.Equals, "")
}

func TestSpecialParams(t *testing.T) {
	c := qt.New(t)
	l := &fakeLookup{status: 7, pid: 42, pos: []string{"a", "b"}}
	c.Assert(Literal(mustParse(t, "$?"), l, nil), qt.Equals, "7")
	c.Assert(Literal(mustParse(t, "$$"), l, nil), qt.Equals, "42")
	c.Assert(Literal(mustParse(t, "$#"), l, nil), qt.Equals, "2")
	c.Assert(Literal(mustParse(t, "$@"), l, nil), qt.Equals, "a b")
	c.Assert(Literal(mustParse(t, "$1"), l, nil), qt.Equals, "a")
}

func TestTildeOnlyAtWordStart(t *testing.T) {
	c := qt.New(t)
	l := &fakeLookup{home: "/home/u"}
	c.Assert(Literal(mustParse(t, "~"), l, nil), qt.Equals, "/home/u")
	c.Assert(Literal(mustParse(t, "a~b"), l, nil), qt.Equals, "a~b")
}

func TestSingleQuoteSuppressesExpansion(t *testing.T) {
	c := qt.New(t)
	l := &fakeLookup{vars: map[string]string{"X": "hello"}}
	c.Assert(Literal(mustParse(t, `'$X'`), l, nil), qt.Equals, "$X")
}

func TestCommandSubstitution(t *testing.T) {
	c := qt.New(t)
	w := mustParse(t, "$(echo inner)")
	runner := func(prog lexparse.Node) (string, error) {
		return "inner\n", nil
	}
	c.Assert(Literal(w, &fakeLookup{}, runner), qt.Equals, "inner")
}

func TestCommandSubstitutionFailureExpandsEmpty(t *testing.T) {
	c := qt.New(t)
	w := mustParse(t, "$(false)")
	runner := func(prog lexparse.Node) (string, error) {
		return "", fmt.Errorf("boom")
	}
	c.Assert(Literal(w, &fakeLookup{}, runner), qt.Equals, "")
}

func TestWordSplittingDropsEmptyUnquoted(t *testing.T) {
	c := qt.New(t)
	l := &fakeLookup{vars: map[string]string{}}
	w := mustParse(t, `$MISSING`)
	fields := Word(w, l, nil)
	c.Assert(fields, qt.HasLen, 0)
}

func TestWordSplittingKeepsEmptyQuoted(t *testing.T) {
	c := qt.New(t)
	w := mustParse(t, `""`)
	fields := Word(w, &fakeLookup{}, nil)
	c.Assert(fields, qt.DeepEquals, []string{""})
}

func TestWordSplittingOnExpandedValue(t *testing.T) {
	c := qt.New(t)
	l := &fakeLookup{vars: map[string]string{"X": "a b  c"}}
	w := mustParse(t, "$X")
	fields := Word(w, l, nil)
	c.Assert(fields, qt.DeepEquals, []string{"a", "b", "c"})
}

func TestWordSplittingProtectsQuotedSpaces(t *testing.T) {
	c := qt.New(t)
	l := &fakeLookup{vars: map[string]string{"X": "a b"}}
	w := mustParse(t, `"$X"`)
	fields := Word(w, l, nil)
	c.Assert(fields, qt.DeepEquals, []string{"a b"})
}
