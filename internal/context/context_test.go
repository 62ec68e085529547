package context

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNewRegistryHasHistory(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	c.Assert(r.CurrentName(), qt.Equals, HistoryName)
	c.Assert(r.Get(HistoryName), qt.Not(qt.IsNil))
}

func TestNewSelectDelete(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()

	c.Assert(r.New("t"), qt.IsNil)
	c.Assert(r.Select("t"), qt.IsNil)
	c.Assert(r.CurrentName(), qt.Equals, "t")

	c.Assert(r.Delete("t"), qt.IsNil)
	c.Assert(r.CurrentName(), qt.Equals, "")
}

func TestDeleteOtherContextLeavesCurrentUnchanged(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	c.Assert(r.New("a"), qt.IsNil)
	c.Assert(r.New("b"), qt.IsNil)
	c.Assert(r.Select("a"), qt.IsNil)

	c.Assert(r.Delete("b"), qt.IsNil)
	c.Assert(r.CurrentName(), qt.Equals, "a")
}

func TestAddAndRowRelative(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	r.New("t")
	r.Select("t")
	ctx := r.Current()

	r.Add(ctx, "echo first")
	r.Add(ctx, "echo second")

	got, err := Row(ctx, -1, false)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "echo second")

	got, err = Row(ctx, 0, false)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "echo second")

	got, err = Row(ctx, 1, false)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "echo first")
}

func TestRowAbsolute(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	r.New("t")
	r.Select("t")
	ctx := r.Current()
	r.Add(ctx, "a")
	r.Add(ctx, "b")

	got, err := Row(ctx, 0, true)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "a")
}

func TestReplace(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	r.New("t")
	r.Select("t")
	ctx := r.Current()
	r.Add(ctx, "a")
	r.Add(ctx, "b")

	c.Assert(Replace(ctx, 0, "z"), qt.IsNil)
	c.Assert(ctx.Commands, qt.DeepEquals, []string{"z", "b"})
}

func TestNewInternalRequiresUnderscore(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	c.Assert(r.NewInternal("noprefix"), qt.Not(qt.IsNil))
	c.Assert(r.NewInternal("_import_ctx"), qt.IsNil)
}
