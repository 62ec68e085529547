// Package store implements the on-disk persistence of contexts under
// $HOME/.config/mesh/ctx/*.ctx (spec.md §3 "Store item", §4.8 `:store`,
// §6 "On-disk store layout").
package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vladaviedov.dev/mesh/internal/context"
)

const (
	configDirName = "mesh"
	ctxDirName    = "ctx"
	ctxExt        = ".ctx"
	nameDirective = "#:name "
)

// Dir returns $HOME/.config/mesh/ctx, without creating it.
func Dir(home string) string {
	return filepath.Join(home, ".config", configDirName, ctxDirName)
}

// Item describes a store file discovered on disk: its path and the
// declared context name inside it (spec.md §3 "Store item").
type Item struct {
	Filename string
	Name     string
}

// List lazily scans the store directory and returns one Item per *.ctx
// file, reading just enough of each to learn its declared name. A missing
// directory is not an error; it yields an empty list.
func List(home string) ([]Item, error) {
	dir := Dir(home)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ctxExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		name, err := peekName(path)
		if err != nil {
			continue
		}
		items = append(items, Item{Filename: path, Name: name})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func peekName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, nameDirective) {
			return strings.TrimSpace(strings.TrimPrefix(line, nameDirective)), nil
		}
		return "", fmt.Errorf("store: %s: missing #:name directive", path)
	}
	return "", fmt.Errorf("store: %s: empty file", path)
}

// Save writes ctx to $HOME/.config/mesh/ctx/<name>.ctx, creating the
// directory (mode 0755) on first use.
func Save(home string, ctx *context.Context) (string, error) {
	dir := Dir(home)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ctx.Name+ctxExt)
	return path, WriteFile(path, ctx)
}

// WriteFile serializes ctx to an arbitrary path in the same format Save
// uses for the store directory. `:_ctx_export` reuses this to write to a
// caller-chosen location outside the store (spec.md §4.8).
func WriteFile(path string, ctx *context.Context) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%s%s\n", nameDirective, ctx.Name)
	for _, cmd := range ctx.Commands {
		fmt.Fprintln(w, cmd)
	}
	return w.Flush()
}

// Load reads a *.ctx file and returns a Context. If the file has no
// #:name directive, the context name falls back to the file's base name
// without its extension (spec.md §4.8).
func Load(path string) (*context.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx := &context.Context{}
	nameSeen := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(strings.TrimLeft(sc.Text(), " \t"), " \t")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, nameDirective) {
			if !nameSeen && ctx.Name == "" && len(ctx.Commands) == 0 {
				ctx.Name = strings.TrimSpace(strings.TrimPrefix(line, nameDirective))
				nameSeen = true
				continue
			}
			// A #:name after content is not the declaration; treat as comment.
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		ctx.Commands = append(ctx.Commands, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if ctx.Name == "" {
		base := filepath.Base(path)
		ctx.Name = strings.TrimSuffix(base, ctxExt)
	}
	return ctx, nil
}
