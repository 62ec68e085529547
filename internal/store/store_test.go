package store

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"vladaviedov.dev/mesh/internal/context"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	c := qt.New(t)
	home := t.TempDir()

	ctx := &context.Context{Name: "work", Commands: []string{"echo one", "echo two"}}
	path, err := Save(home, ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(path, qt.Equals, filepath.Join(Dir(home), "work.ctx"))

	loaded, err := Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Name, qt.Equals, "work")
	c.Assert(loaded.Commands, qt.DeepEquals, ctx.Commands)
}

func TestLoadFallsBackToFilename(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch.ctx")
	c.Assert(os.WriteFile(path, []byte("echo hi\n"), 0o644), qt.IsNil)

	loaded, err := Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Name, qt.Equals, "scratch")
	c.Assert(loaded.Commands, qt.DeepEquals, []string{"echo hi"})
}

func TestListEmptyDirNotError(t *testing.T) {
	c := qt.New(t)
	home := t.TempDir()
	items, err := List(home)
	c.Assert(err, qt.IsNil)
	c.Assert(items, qt.HasLen, 0)
}

func TestListFindsSavedContexts(t *testing.T) {
	c := qt.New(t)
	home := t.TempDir()
	Save(home, &context.Context{Name: "b", Commands: []string{"1"}})
	Save(home, &context.Context{Name: "a", Commands: []string{"2"}})

	items, err := List(home)
	c.Assert(err, qt.IsNil)
	c.Assert(items, qt.HasLen, 2)
	c.Assert(items[0].Name, qt.Equals, "a")
	c.Assert(items[1].Name, qt.Equals, "b")
}
