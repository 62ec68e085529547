// Package expand implements mesh's word expansion and the post-expansion
// word-splitting pass (spec.md §4.3). It mirrors the shape of
// mvdan.cc/sh/v3/expand (a Lookup-driven expander decoupled from the
// parser and the executor), adapted to mesh's smaller expansion set:
// $var, $?, $$, $#, $@, $N, ~, and $(...) command substitution.
package expand

import (
	"strconv"
	"strings"

	"vladaviedov.dev/mesh/internal/lexparse"
)

// Lookup is the read-only variable view the expander consults. The
// dispatcher implements it on top of the scope-then-env store (spec.md
// §4.1: "the expander consults scope first, then the env store").
type Lookup interface {
	Get(name string) (string, bool)
	Status() int
	PID() int
	CountString() string
	ListPositional() string
	Positional(n int) (string, bool)
	Home() (string, bool)
}

// CmdSubstRunner executes a parsed program in a subshell and returns its
// captured standard output (spec.md §4.6 CmdSubst / §4.5 exec_subshell).
// A failing substitution expands to the empty string (spec.md §4.3, §7
// kind 2) rather than propagating an error.
type CmdSubstRunner func(prog lexparse.Node) (string, error)

// span is one contiguous run of expanded text, tagged with whether it
// came from a quoted region. Only unquoted spans participate in the
// post-expansion word-splitting pass.
type span struct {
	text   string
	quoted bool
}

// Word expands w into the final argv tokens it contributes, performing
// quote-aware expansion followed by the word-splitting pass of spec.md
// §4.3. A word with no parts yields no fields at all.
func Word(w *lexparse.Word, lookup Lookup, subst CmdSubstRunner) []string {
	spans := expandParts(w.Parts, lookup, subst, true)
	return splitFields(spans)
}

// Literal expands w and joins every span verbatim, with no word-splitting
// pass — used for assignment values and redirection targets, which are
// never re-split (spec.md §4.3 describes splitting only for "the final
// argv vector for a simple command").
func Literal(w *lexparse.Word, lookup Lookup, subst CmdSubstRunner) string {
	spans := expandParts(w.Parts, lookup, subst, true)
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.text)
	}
	return b.String()
}

func expandParts(parts []lexparse.WordPart, lookup Lookup, subst CmdSubstRunner, atWordStart bool) []span {
	var out []span
	first := atWordStart
	for _, part := range parts {
		switch p := part.(type) {
		case *lexparse.Tilde:
			if first {
				if home, ok := lookup.Home(); ok {
					out = append(out, span{text: home, quoted: false})
				}
			} else {
				out = append(out, span{text: "~", quoted: false})
			}
		case *lexparse.Lit:
			out = append(out, span{text: unescapeOutsideQuotes(p.Value), quoted: false})
		case *lexparse.SglQuoted:
			out = append(out, span{text: p.Value, quoted: true})
		case *lexparse.DblQuoted:
			inner := expandParts(p.Parts, lookup, subst, false)
			var b strings.Builder
			for _, s := range inner {
				b.WriteString(s.text)
			}
			out = append(out, span{text: b.String(), quoted: true})
		case *lexparse.ParamExp:
			out = append(out, span{text: paramValue(p, lookup), quoted: false})
		case *lexparse.CmdSubst:
			out = append(out, span{text: cmdSubstValue(p, subst), quoted: false})
		}
		first = false
	}
	return out
}

func cmdSubstValue(c *lexparse.CmdSubst, subst CmdSubstRunner) string {
	if c.Prog == nil || subst == nil {
		return ""
	}
	out, err := subst(c.Prog)
	if err != nil {
		return ""
	}
	return strings.TrimRight(out, "\n")
}

func paramValue(p *lexparse.ParamExp, lookup Lookup) string {
	switch p.Kind {
	case lexparse.ParamStatus:
		return strconv.Itoa(lookup.Status())
	case lexparse.ParamPID:
		return strconv.Itoa(lookup.PID())
	case lexparse.ParamCount:
		return lookup.CountString()
	case lexparse.ParamAll:
		return lookup.ListPositional()
	case lexparse.ParamPosN:
		n, _ := strconv.Atoi(p.Name)
		v, _ := lookup.Positional(n)
		return v
	case lexparse.ParamName:
		v, _ := lookup.Get(p.Name)
		return v
	}
	return ""
}

// unescapeOutsideQuotes resolves `\X` → `X` for literal runs that sit
// outside any quoting (spec.md §4.3: "escape \X emits X verbatim").
func unescapeOutsideQuotes(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitFields performs the word-splitting pass of spec.md §4.3: tab/space
// delimiters apply only outside quoted spans. An empty unquoted chunk
// between delimiters is dropped; an empty quoted span always contributes
// an (empty) argument.
func splitFields(spans []span) []string {
	var fields []string
	var cur strings.Builder
	haveField := false

	flush := func() {
		if haveField {
			fields = append(fields, cur.String())
			cur.Reset()
			haveField = false
		}
	}

	for _, sp := range spans {
		if sp.quoted {
			cur.WriteString(sp.text)
			haveField = true
			continue
		}
		text := sp.text
		start := 0
		for i := 0; i <= len(text); i++ {
			if i == len(text) || text[i] == ' ' || text[i] == '\t' {
				if i > start {
					cur.WriteString(text[start:i])
					haveField = true
				}
				if i < len(text) {
					flush()
				}
				start = i + 1
			}
		}
	}
	flush()
	return fields
}
