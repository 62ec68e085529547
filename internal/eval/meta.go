package eval

import (
	"fmt"
	"strconv"
	"strings"

	mcontext "vladaviedov.dev/mesh/internal/context"
	"vladaviedov.dev/mesh/internal/executor"
	"vladaviedov.dev/mesh/internal/mesherr"
	"vladaviedov.dev/mesh/internal/store"
)

// metaFunc is one meta-command's implementation: argv[0] is its own name
// (or, for a sub-handler reached through `:ctx`, the synthesized
// "`:_ctx_<sub>`" name). The return protocol matches spec.md §4.6 exactly:
// status < 0 is an error (rewrite ignored), status == 0 with an empty
// rewrite means "done," status > 0 means "re-evaluate rewrite."
type metaFunc func(e *Evaluator, argv []string) (status int, rewrite string)

// metaTable is every meta-command a user may type directly, grounded on
// original_source/src/ext/meta.c's static descriptor table (name, func,
// hidden). mesh has no teacher-Go equivalent for any of this: meta.c is
// the sole grounding source.
var metaTable = map[string]metaFunc{
	":add":     metaAdd,
	":a":       metaAdd,
	":replace": metaReplace,
	":r":       metaReplace,
	":ctx":     metaCtx,
	":c":       metaCtx,
	":store":   metaStore,
	":s":       metaStore,
	":asroot":  metaAsroot,
	":hcf":     metaHcf,
	":abs":     metaAbs,
}

// hiddenMetaTable holds the `:_ctx_*` sub-handlers. They are reachable
// directly (meta.c's find_meta has no notion of "private"), but dispatch
// prints a warning when a user invokes one by name instead of going
// through `:ctx`; metaCtx itself calls these functions directly, bypassing
// that warning, since it is the intended caller.
var hiddenMetaTable = map[string]metaFunc{
	":_ctx_show":   ctxShow,
	":_ctx_set":    ctxSet,
	":_ctx_ls":     ctxLs,
	":_ctx_make":   ctxMake,
	":_ctx_new":    ctxNew,
	":_ctx_del":    ctxDel,
	":_ctx_import": ctxImport,
	":_ctx_export": ctxExport,
}

// ctxSubHandlers maps `:ctx`'s explicit sub-command words to their
// `:_ctx_*` handlers.
var ctxSubHandlers = map[string]metaFunc{
	"set":    ctxSet,
	"ls":     ctxLs,
	"make":   ctxMake,
	"new":    ctxNew,
	"del":    ctxDel,
	"import": ctxImport,
	"export": ctxExport,
}

func lookupMeta(name string) (fn metaFunc, hidden bool, ok bool) {
	if fn, ok := metaTable[name]; ok {
		return fn, false, true
	}
	if fn, ok := hiddenMetaTable[name]; ok {
		return fn, true, true
	}
	if isNumericMeta(name) {
		return metaNumericShortcut, false, true
	}
	return nil, false, false
}

// isNumericMeta reports whether name is the ":N" shortcut (run_meta's
// strtoul(name+1, ...) fallback in the original), N an optionally-signed
// decimal integer.
func isNumericMeta(name string) bool {
	if len(name) < 2 {
		return false
	}
	body := name[1:]
	if body[0] == '-' {
		body = body[1:]
	}
	if body == "" {
		return false
	}
	for i := 0; i < len(body); i++ {
		if body[i] < '0' || body[i] > '9' {
			return false
		}
	}
	return true
}

func metaNumericShortcut(e *Evaluator, argv []string) (int, string) {
	n, err := strconv.Atoi(argv[0][1:])
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: %s: invalid row shortcut\n", argv[0])
		return -1, ""
	}
	cmd, err := mcontext.Row(e.Contexts.Current(), n, e.AbsIndex)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: %s: %v\n", argv[0], err)
		return -1, ""
	}
	return 1, cmd
}

// metaAdd appends to the current context: `:add text...`, or `:add` alone
// to read one line from the line-reader (spec.md §4.8).
func metaAdd(e *Evaluator, argv []string) (int, string) {
	var text string
	if len(argv) > 1 {
		text = strings.Join(argv[1:], " ")
	} else {
		if e.ReadLine == nil {
			fmt.Fprintln(e.IO.Stderr, "mesh: error: add: no input available")
			return -1, ""
		}
		line, ok := e.ReadLine()
		if !ok {
			fmt.Fprintln(e.IO.Stderr, "mesh: error: add: no input available")
			return -1, ""
		}
		text = line
	}
	if err := e.Contexts.Add(nil, text); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: add: %v\n", err)
		return -1, ""
	}
	return 0, ""
}

func metaReplace(e *Evaluator, argv []string) (int, string) {
	if len(argv) < 2 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: replace: usage: replace N [text...]")
		return -1, ""
	}
	n, err := strconv.Atoi(argv[1])
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: replace: %s: invalid index\n", argv[1])
		return -1, ""
	}
	text := strings.Join(argv[2:], " ")
	if err := mcontext.Replace(e.Contexts.Current(), n, text); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: replace: %v\n", err)
		return -1, ""
	}
	return 0, ""
}

// metaCtx is `:ctx`/`:c`: no args shows the current context directly;
// otherwise argv[1] selects a `:_ctx_*` sub-handler, called directly
// (meta_ctx in the original builds the same "`:_ctx_<sub>`" name and calls
// find_meta's func pointer without going back through run_meta/dispatch).
func metaCtx(e *Evaluator, argv []string) (int, string) {
	if len(argv) == 1 {
		return ctxShow(e, argv)
	}
	sub := argv[1]
	fn, ok := ctxSubHandlers[sub]
	if !ok {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: %s: no such sub-command\n", sub)
		return -1, ""
	}
	forwarded := append([]string{":_ctx_" + sub}, argv[2:]...)
	return fn(e, forwarded)
}

// rowIndex renders the display index for row i (0-based, oldest first) of
// an n-row context, honoring the `:abs` toggle the same way
// context.resolveIndex's relative branch does (spec.md §D).
func rowIndex(e *Evaluator, n, i int) int {
	if e.AbsIndex {
		return i
	}
	return n - 1 - i
}

func ctxShow(e *Evaluator, _ []string) (int, string) {
	cur := e.Contexts.Current()
	if cur == nil {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: ctx: no current context")
		return -1, ""
	}
	for i, cmd := range cur.Commands {
		fmt.Fprintf(e.IO.Stdout, "%d: %s\n", rowIndex(e, len(cur.Commands), i), cmd)
	}
	return 0, ""
}

func ctxSet(e *Evaluator, argv []string) (int, string) {
	if len(argv) != 2 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: ctx: set: usage: set NAME")
		return -1, ""
	}
	if err := e.Contexts.Select(argv[1]); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: %v\n", err)
		return -1, ""
	}
	return 0, ""
}

func ctxLs(e *Evaluator, _ []string) (int, string) {
	for _, ctx := range e.Contexts.All() {
		marker := " "
		if ctx.Name == e.Contexts.CurrentName() {
			marker = "*"
		}
		fmt.Fprintf(e.IO.Stdout, "%s %s\n", marker, ctx.Name)
	}
	return 0, ""
}

func ctxMake(e *Evaluator, argv []string) (int, string) {
	if len(argv) != 2 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: ctx: make: usage: make NAME")
		return -1, ""
	}
	if err := e.Contexts.New(argv[1]); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: %v\n", err)
		return -1, ""
	}
	return 0, ""
}

func ctxNew(e *Evaluator, argv []string) (int, string) {
	status, _ := ctxMake(e, argv)
	if status < 0 {
		return status, ""
	}
	_ = e.Contexts.Select(argv[1])
	return 0, ""
}

func ctxDel(e *Evaluator, argv []string) (int, string) {
	if len(argv) != 2 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: ctx: del: usage: del NAME")
		return -1, ""
	}
	if err := e.Contexts.Delete(argv[1]); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: %v\n", err)
		return -1, ""
	}
	return 0, ""
}

// ctxImport reads one or more files in the format of spec.md §4.8 and
// merges each into the context named by its `#:name` directive (or its
// filename, per store.Load's fallback); names starting with `_` are
// rejected (spec.md §4.8, §D).
func ctxImport(e *Evaluator, argv []string) (int, string) {
	if len(argv) < 2 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: ctx: import: usage: import FILE...")
		return -1, ""
	}
	for _, path := range argv[1:] {
		ctx, err := store.Load(path)
		if err != nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: import: %s: %v\n", path, err)
			return -1, ""
		}
		if strings.HasPrefix(ctx.Name, "_") {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: import: %s: reserved context name %q\n", path, ctx.Name)
			return -1, ""
		}
		if e.Contexts.Get(ctx.Name) == nil {
			if err := e.Contexts.New(ctx.Name); err != nil {
				fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: import: %v\n", err)
				return -1, ""
			}
		}
		dst := e.Contexts.Get(ctx.Name)
		dst.Commands = append(dst.Commands, ctx.Commands...)
	}
	return 0, ""
}

// ctxExport writes NAME (default: the current context) to FILE (default:
// "NAME.ctx" in the working directory) in the same format ctxImport reads
// — an arbitrary-path sibling to `:store save`'s fixed store-directory
// target.
func ctxExport(e *Evaluator, argv []string) (int, string) {
	name := e.Contexts.CurrentName()
	if len(argv) >= 2 {
		name = argv[1]
	}
	ctx := e.Contexts.Get(name)
	if ctx == nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: export: %s: no such context\n", name)
		return -1, ""
	}
	path := name + ".ctx"
	if len(argv) >= 3 {
		path = argv[2]
	}
	if err := store.WriteFile(path, ctx); err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: ctx: export: %v\n", err)
		return -1, ""
	}
	return 0, ""
}

// metaStore is `:store`/`:s`: load/save/ls/edit/reload against
// $HOME/.config/mesh/ctx (spec.md §4.8, §6 "On-disk store layout").
func metaStore(e *Evaluator, argv []string) (int, string) {
	if len(argv) < 2 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: store: usage: store {load|save|ls|edit|reload} ...")
		return -1, ""
	}
	switch argv[1] {
	case "load":
		return storeLoad(e, argv[2:])
	case "save":
		return storeSave(e, argv[2:])
	case "ls":
		return storeLs(e)
	case "edit":
		return storeEdit(e, argv[2:])
	case "reload":
		return storeReload(e)
	}
	fmt.Fprintf(e.IO.Stderr, "mesh: error: store: %s: no such sub-command\n", argv[1])
	return -1, ""
}

func findStoreItem(items []store.Item, name string) *store.Item {
	for i := range items {
		if items[i].Name == name {
			return &items[i]
		}
	}
	return nil
}

func storeLoad(e *Evaluator, names []string) (int, string) {
	if len(names) == 0 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: store: load: usage: load NAME...")
		return -1, ""
	}
	home, _ := e.Env.Get("HOME")
	items, err := store.List(home)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: store: load: %v\n", err)
		return -1, ""
	}
	for _, name := range names {
		item := findStoreItem(items, name)
		if item == nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: store: load: %s: not found\n", name)
			return -1, ""
		}
		ctx, err := store.Load(item.Filename)
		if err != nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: store: load: %v\n", err)
			return -1, ""
		}
		if e.Contexts.Get(ctx.Name) == nil {
			if err := e.Contexts.New(ctx.Name); err != nil {
				fmt.Fprintf(e.IO.Stderr, "mesh: error: store: load: %v\n", err)
				return -1, ""
			}
		}
		dst := e.Contexts.Get(ctx.Name)
		dst.Commands = append(dst.Commands[:0], ctx.Commands...)
		e.rememberSource(ctx.Name, item.Filename)
	}
	return 0, ""
}

func storeSave(e *Evaluator, names []string) (int, string) {
	if len(names) == 0 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: store: save: usage: save NAME...")
		return -1, ""
	}
	home, _ := e.Env.Get("HOME")
	for _, name := range names {
		ctx := e.Contexts.Get(name)
		if ctx == nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: store: save: %s: no such context\n", name)
			return -1, ""
		}
		path, err := store.Save(home, ctx)
		if err != nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: store: save: %v\n", err)
			return -1, ""
		}
		e.rememberSource(name, path)
	}
	return 0, ""
}

func storeLs(e *Evaluator) (int, string) {
	home, _ := e.Env.Get("HOME")
	items, err := store.List(home)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: store: ls: %v\n", err)
		return -1, ""
	}
	for _, item := range items {
		fmt.Fprintln(e.IO.Stdout, item.Name)
	}
	return 0, ""
}

// storeEdit doesn't invoke an editor itself: it returns a rewrite the
// dispatcher re-parses and evaluates, letting the ordinary expander
// resolve $EDITOR and the ordinary external-command path run it (spec.md
// §4.8: "edit NAME (returns a rewritten command `"$EDITOR /path"`)").
func storeEdit(e *Evaluator, args []string) (int, string) {
	if len(args) != 1 {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: store: edit: usage: edit NAME")
		return -1, ""
	}
	home, _ := e.Env.Get("HOME")
	items, err := store.List(home)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: store: edit: %v\n", err)
		return -1, ""
	}
	item := findStoreItem(items, args[0])
	if item == nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: store: edit: %s: not found\n", args[0])
		return -1, ""
	}
	return 1, "$EDITOR " + item.Filename
}

func storeReload(e *Evaluator) (int, string) {
	cur := e.Contexts.CurrentName()
	path, ok := e.storeSource[cur]
	if !ok {
		fmt.Fprintln(e.IO.Stderr, "mesh: error: store: reload: current context has no known store file")
		return -1, ""
	}
	ctx, err := store.Load(path)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: store: reload: %v\n", err)
		return -1, ""
	}
	dst := e.Contexts.Get(cur)
	dst.Commands = append(dst.Commands[:0], ctx.Commands...)
	return 0, ""
}

// metaAsroot reads the N-th (default -1, most recent) command from the
// current context and returns a rewrite prefixing it with a root-elevation
// program (spec.md §4.8).
func metaAsroot(e *Evaluator, argv []string) (int, string) {
	index := -1
	switch len(argv) {
	case 1:
	case 2:
		n, err := strconv.Atoi(argv[1])
		if err != nil {
			fmt.Fprintf(e.IO.Stderr, "mesh: error: asroot: %s: invalid index\n", argv[1])
			return -1, ""
		}
		index = n
	default:
		fmt.Fprintln(e.IO.Stderr, "mesh: error: asroot: usage: asroot [N]")
		return -1, ""
	}

	cmd, err := mcontext.Row(e.Contexts.Current(), index, e.AbsIndex)
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: asroot: %v\n", err)
		return -1, ""
	}

	root, err := e.rootCmd()
	if err != nil {
		fmt.Fprintf(e.IO.Stderr, "mesh: error: asroot: %v\n", err)
		return -1, ""
	}

	return 1, root + " " + cmd
}

// rootCmd resolves and caches the root-elevation program, honoring
// $ASROOTCMD first and otherwise preferring doas over sudo if present on
// PATH (spec.md §4.8, original_source/src/ext/meta.c's get_root_program).
// The original probes each candidate with a silent exec; mesh narrows that
// to a PATH existence check, since actually invoking doas/sudo here — with
// no command of the user's choosing yet resolved — risks blocking on an
// interactive password prompt for no reason.
func (e *Evaluator) rootCmd() (string, error) {
	if e.rootProbed {
		if e.rootProgram == "" {
			return "", fmt.Errorf("no root-elevation program found (doas/sudo)")
		}
		return e.rootProgram, nil
	}
	e.rootProbed = true

	if v, ok := e.Env.Get("ASROOTCMD"); ok && v != "" {
		e.rootProgram = v
		return v, nil
	}
	for _, candidate := range []string{"doas", "sudo"} {
		if _, err := executor.LookPath("", e.Env, candidate); err == nil {
			e.rootProgram = candidate
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no root-elevation program found (doas/sudo)")
}

// metaHcf is a deliberate fatal crash for testing (spec.md §4.8, §7 kind
// 7). Fatal is the one error kind allowed to escape the main loop; panic/
// recover carries it there without threading an error return through every
// intervening frame, the same shortcut mvdan-sh's own fatal runtime panics
// (interp/interp.go's `fatalError`) take.
func metaHcf(_ *Evaluator, _ []string) (int, string) {
	panic(&mesherr.Fatal{Msg: "deliberate fatal crash (:hcf)"})
}

// metaAbs toggles (no args) or sets (0/1) the `:abs` indexing mode
// (spec.md §D, original_source's abs_index static).
func metaAbs(e *Evaluator, argv []string) (int, string) {
	switch len(argv) {
	case 1:
		e.AbsIndex = !e.AbsIndex
	case 2:
		switch argv[1] {
		case "0":
			e.AbsIndex = false
		case "1":
			e.AbsIndex = true
		default:
			fmt.Fprintf(e.IO.Stderr, "mesh: error: abs: %s: expected 0 or 1\n", argv[1])
			return -1, ""
		}
	default:
		fmt.Fprintln(e.IO.Stderr, "mesh: error: abs: usage: abs [0|1]")
		return -1, ""
	}
	return 0, ""
}
