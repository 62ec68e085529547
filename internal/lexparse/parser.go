package lexparse

import (
	"strconv"

	"vladaviedov.dev/mesh/internal/mesherr"
)

// Parse tokenizes and parses one line (or a whole script's worth of text)
// of mesh input per the grammar of spec.md §6. An empty or all-comment
// input yields (nil, nil) — the caller treats that as a no-op. Any
// syntactic rejection returns a *mesherr.ParseError and the whole input is
// discarded (spec.md §4.2).
func Parse(src string) (Node, error) {
	p := &parser{src: []byte(src)}
	p.skipBlank()
	if p.atEOF() {
		return nil, nil
	}
	node, err := p.seqList()
	if err != nil {
		return nil, err
	}
	p.skipBlank()
	if !p.atEOF() {
		return nil, &mesherr.ParseError{Msg: "unexpected input at offset " + strconv.Itoa(p.pos)}
	}
	return node, nil
}

type parser struct {
	src []byte
	pos int
}

func (p *parser) atEOF() bool { return p.pos >= len(p.src) }

func (p *parser) peek() (byte, bool) {
	if p.atEOF() {
		return 0, false
	}
	return p.src[p.pos], true
}

func isBlankByte(b byte) bool { return b == ' ' || b == '\t' }

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentPart(b byte) bool { return isIdentStart(b) || isDigit(b) }

func isWordBreak(b byte) bool {
	switch b {
	case ' ', '\t', '\n', ';', '&', '|', '>', '<':
		return true
	}
	return false
}

// skipSpacesTabs consumes spaces, tabs, and any comment that begins here
// (spec.md §4.2: a '#' at line start or preceded by whitespace starts a
// comment running to end of line). It never crosses a newline.
func (p *parser) skipSpacesTabs() {
	for !p.atEOF() {
		b := p.src[p.pos]
		if isBlankByte(b) {
			p.pos++
			continue
		}
		if b == '#' && p.atCommentStart() {
			for !p.atEOF() && p.src[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		break
	}
}

func (p *parser) atCommentStart() bool {
	if p.pos == 0 {
		return true
	}
	prev := p.src[p.pos-1]
	return prev == '\n' || prev == ' ' || prev == '\t'
}

// skipBlank additionally consumes newlines, for skipping blank lines and
// trailing separators between statements.
func (p *parser) skipBlank() {
	for {
		p.skipSpacesTabs()
		if !p.atEOF() && p.src[p.pos] == '\n' {
			p.pos++
			continue
		}
		break
	}
}

// seqList := cond_list ( (';' | '&' | newline) cond_list )*
func (p *parser) seqList() (Node, error) {
	left, err := p.condList()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpacesTabs()
		kind, ok := p.peekSeqSep()
		if !ok {
			break
		}
		at := Pos(p.pos + 1)
		p.pos++
		p.skipBlank()
		if p.atEOF() {
			left = &Sequence{At: at, Kind: kind, Left: left, Right: nil}
			break
		}
		right, err := p.condList()
		if err != nil {
			return nil, err
		}
		left = &Sequence{At: at, Kind: kind, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) peekSeqSep() (SeqKind, bool) {
	b, ok := p.peek()
	if !ok {
		return 0, false
	}
	switch b {
	case '\n', ';':
		return SeqNormal, true
	case '&':
		if p.pos+1 < len(p.src) && p.src[p.pos+1] == '&' {
			return 0, false
		}
		return SeqAsync, true
	}
	return 0, false
}

// cond_list := pipeline ( ('&&'|'||') pipeline )*
func (p *parser) condList() (Node, error) {
	left, err := p.pipeline()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpacesTabs()
		kind, matched := p.peekCondOp()
		if !matched {
			break
		}
		at := Pos(p.pos + 1)
		p.pos += 2
		p.skipBlank()
		right, err := p.pipeline()
		if err != nil {
			return nil, err
		}
		left = &Cond{At: at, Kind: kind, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) peekCondOp() (CondKind, bool) {
	if p.pos+1 >= len(p.src) {
		return 0, false
	}
	switch {
	case p.src[p.pos] == '&' && p.src[p.pos+1] == '&':
		return CondAnd, true
	case p.src[p.pos] == '|' && p.src[p.pos+1] == '|':
		return CondOr, true
	}
	return 0, false
}

// pipeline := command ( '|' command )*
func (p *parser) pipeline() (Node, error) {
	left, err := p.command()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpacesTabs()
		b, ok := p.peek()
		if !ok || b != '|' {
			break
		}
		if p.pos+1 < len(p.src) && p.src[p.pos+1] == '|' {
			break // that's '||', handled by condList
		}
		at := Pos(p.pos + 1)
		p.pos++
		p.skipBlank()
		right, err := p.command()
		if err != nil {
			return nil, err
		}
		left = &Pipe{At: at, Left: left, Right: right}
	}
	return left, nil
}

// command := ( prefix )* body?, where redirections may also appear among
// or after the body words
func (p *parser) command() (Node, error) {
	startPos := Pos(p.pos + 1)
	var prefixHead *Join
	for {
		p.skipSpacesTabs()
		item, ok, err := p.tryPrefix()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		prefixHead = &Join{At: item.Pos(), Left: prefixHead, Item: item}
	}

	var bodyHead *Join
	for {
		p.skipSpacesTabs()
		// Redirections may also follow or sit between body words; they join
		// the prefix list.
		r, ok, err := p.tryRedir()
		if err != nil {
			return nil, err
		}
		if ok {
			prefixHead = &Join{At: r.Pos(), Left: prefixHead, Item: r}
			continue
		}
		if !p.atWordStart() {
			break
		}
		w, err := p.word()
		if err != nil {
			return nil, err
		}
		bodyHead = &Join{At: w.Pos(), Left: bodyHead, Item: w}
	}

	switch {
	case prefixHead == nil && bodyHead == nil:
		return nil, &mesherr.ParseError{Msg: "empty command"}
	case prefixHead != nil && bodyHead == nil:
		return &Run{At: startPos, Kind: RunShellEnv, Left: prefixHead}, nil
	case prefixHead != nil:
		return &Run{At: startPos, Kind: RunApply, Left: prefixHead,
			Right: &Run{At: bodyHead.Pos(), Kind: RunExecute, Left: bodyHead}}, nil
	default:
		return &Run{At: startPos, Kind: RunExecute, Left: bodyHead}, nil
	}
}

// tryPrefix attempts to consume one assignment or redirection prefix item
// without consuming anything if neither matches.
func (p *parser) tryPrefix() (Node, bool, error) {
	if a, ok, err := p.tryAssign(); ok || err != nil {
		return a, ok, err
	}
	if r, ok, err := p.tryRedir(); ok || err != nil {
		return r, ok, err
	}
	return nil, false, nil
}

func (p *parser) tryAssign() (Node, bool, error) {
	if p.atEOF() || !isIdentStart(p.src[p.pos]) {
		return nil, false, nil
	}
	i := p.pos + 1
	for i < len(p.src) && isIdentPart(p.src[i]) {
		i++
	}
	if i >= len(p.src) || p.src[i] != '=' {
		return nil, false, nil
	}
	at := Pos(p.pos + 1)
	name := string(p.src[p.pos:i])
	p.pos = i + 1
	val, err := p.wordOrEmpty()
	if err != nil {
		return nil, false, err
	}
	return &Assign{At: at, Name: name, Value: val}, true, nil
}

func (p *parser) tryRedir() (Node, bool, error) {
	i := p.pos
	for i < len(p.src) && isDigit(p.src[i]) {
		i++
	}
	hasDigits := i > p.pos
	kind, opLen, ok := matchRedirOp(p.src, i)
	if !ok {
		return nil, false, nil
	}
	at := Pos(p.pos + 1)
	var fd *FDNum
	if hasDigits {
		n, _ := strconv.Atoi(string(p.src[p.pos:i]))
		fd = &FDNum{At: at, Value: n}
	} else {
		fd = &FDNum{At: at, Value: -1}
	}
	p.pos = i + opLen
	p.skipSpacesTabs()
	if !p.atWordStart() {
		return nil, false, &mesherr.ParseError{Msg: "redirection requires a target word"}
	}
	w, err := p.word()
	if err != nil {
		return nil, false, err
	}
	return &Redir{At: at, Kind: kind, FD: fd, Word: w}, true, nil
}

func matchRedirOp(src []byte, i int) (RedirKind, int, bool) {
	at := func(off int) byte {
		if i+off >= len(src) {
			return 0
		}
		return src[i+off]
	}
	switch at(0) {
	case '>':
		switch at(1) {
		case '>':
			return RedirOutputAppend, 2, true
		case '|':
			return RedirOutputClobber, 2, true
		case '&':
			return RedirOutputDup, 2, true
		}
		return RedirOutputNormal, 1, true
	case '<':
		switch at(1) {
		case '>':
			return RedirInputRW, 2, true
		case '&':
			return RedirInputDup, 2, true
		}
		return RedirInputNormal, 1, true
	}
	return 0, 0, false
}

func (p *parser) atWordStart() bool {
	b, ok := p.peek()
	if !ok {
		return false
	}
	return !isWordBreak(b)
}

// wordOrEmpty parses a word, or returns an empty Word if none follows
// (an assignment's value may be absent: `X=`).
func (p *parser) wordOrEmpty() (*Word, error) {
	if !p.atWordStart() {
		return &Word{At: Pos(p.pos + 1)}, nil
	}
	return p.word()
}

func (p *parser) word() (*Word, error) {
	startPos := Pos(p.pos + 1)
	var parts []WordPart
	first := true
	for !p.atEOF() {
		b := p.src[p.pos]
		if isWordBreak(b) {
			break
		}
		if first && b == '~' {
			parts = append(parts, &Tilde{At: Pos(p.pos + 1)})
			p.pos++
			first = false
			continue
		}
		first = false
		switch b {
		case '\'':
			part, err := p.singleQuoted()
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		case '"':
			part, err := p.doubleQuoted()
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		case '$':
			part, err := p.dollar()
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		case '\\':
			parts = append(parts, p.backslashLit())
		default:
			parts = append(parts, p.litRun())
		}
	}
	if len(parts) == 0 {
		return nil, &mesherr.ParseError{Msg: "expected a word"}
	}
	return &Word{At: startPos, Parts: parts}, nil
}

func (p *parser) litRun() *Lit {
	start := p.pos
	for !p.atEOF() {
		b := p.src[p.pos]
		if isWordBreak(b) || b == '\'' || b == '"' || b == '$' || b == '\\' {
			break
		}
		p.pos++
	}
	return &Lit{At: Pos(start + 1), Value: string(p.src[start:p.pos])}
}

func (p *parser) backslashLit() *Lit {
	start := p.pos
	p.pos++ // the backslash
	if !p.atEOF() {
		p.pos++ // the escaped byte
	}
	return &Lit{At: Pos(start + 1), Value: string(p.src[start:p.pos])}
}

func (p *parser) singleQuoted() (WordPart, error) {
	at := Pos(p.pos + 1)
	p.pos++ // opening quote
	start := p.pos
	for !p.atEOF() && p.src[p.pos] != '\'' {
		p.pos++
	}
	if p.atEOF() {
		return nil, &mesherr.ParseError{Msg: "unterminated single-quoted string"}
	}
	val := string(p.src[start:p.pos])
	p.pos++ // closing quote
	return &SglQuoted{At: at, Value: val}, nil
}

func (p *parser) doubleQuoted() (WordPart, error) {
	at := Pos(p.pos + 1)
	p.pos++ // opening quote
	var parts []WordPart
	for {
		if p.atEOF() {
			return nil, &mesherr.ParseError{Msg: "unterminated double-quoted string"}
		}
		b := p.src[p.pos]
		switch b {
		case '"':
			p.pos++
			return &DblQuoted{At: at, Parts: parts}, nil
		case '$':
			part, err := p.dollar()
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		case '\\':
			// Only \" and \\ are recognized escapes inside double quotes
			// (spec.md §4.3); any other backslash is kept literally.
			start := p.pos
			p.pos++
			if !p.atEOF() && (p.src[p.pos] == '"' || p.src[p.pos] == '\\') {
				parts = append(parts, &Lit{At: Pos(start + 1), Value: string(p.src[p.pos])})
				p.pos++
			} else {
				parts = append(parts, &Lit{At: Pos(start + 1), Value: "\\"})
			}
		default:
			start := p.pos
			for !p.atEOF() {
				b := p.src[p.pos]
				if b == '"' || b == '$' || b == '\\' {
					break
				}
				p.pos++
			}
			parts = append(parts, &Lit{At: Pos(start + 1), Value: string(p.src[start:p.pos])})
		}
	}
}

func (p *parser) dollar() (WordPart, error) {
	at := Pos(p.pos + 1)
	p.pos++ // the '$'
	if p.atEOF() {
		return &Lit{At: at, Value: "$"}, nil
	}
	b := p.src[p.pos]
	switch {
	case b == '(':
		p.pos++
		body, err := p.cmdSubstBody()
		if err != nil {
			return nil, err
		}
		var prog Node
		if sub, err := Parse(body); err == nil {
			prog = sub
		}
		return &CmdSubst{At: at, Prog: prog, Src: body}, nil
	case b == '?':
		p.pos++
		return &ParamExp{At: at, Kind: ParamStatus}, nil
	case b == '$':
		p.pos++
		return &ParamExp{At: at, Kind: ParamPID}, nil
	case b == '#':
		p.pos++
		return &ParamExp{At: at, Kind: ParamCount}, nil
	case b == '@':
		p.pos++
		return &ParamExp{At: at, Kind: ParamAll}, nil
	case isDigit(b):
		start := p.pos
		for !p.atEOF() && isDigit(p.src[p.pos]) {
			p.pos++
		}
		return &ParamExp{At: at, Kind: ParamPosN, Name: string(p.src[start:p.pos])}, nil
	case isIdentStart(b):
		start := p.pos
		for !p.atEOF() && isIdentPart(p.src[p.pos]) {
			p.pos++
		}
		return &ParamExp{At: at, Kind: ParamName, Name: string(p.src[start:p.pos])}, nil
	default:
		// '$' not followed by anything recognized: it is a literal dollar
		// sign, and the following byte is reprocessed normally.
		return &Lit{At: at, Value: "$"}, nil
	}
}

// cmdSubstBody scans the raw text of a $(...) up to its matching closing
// paren, respecting quoting and nested parens, and consumes that paren.
func (p *parser) cmdSubstBody() (string, error) {
	start := p.pos
	depth := 0
	for {
		if p.atEOF() {
			return "", &mesherr.ParseError{Msg: "unterminated command substitution"}
		}
		b := p.src[p.pos]
		switch b {
		case '\'':
			p.pos++
			for !p.atEOF() && p.src[p.pos] != '\'' {
				p.pos++
			}
			if p.atEOF() {
				return "", &mesherr.ParseError{Msg: "unterminated single-quoted string"}
			}
			p.pos++
		case '"':
			p.pos++
			for !p.atEOF() {
				if p.src[p.pos] == '\\' && p.pos+1 < len(p.src) {
					p.pos += 2
					continue
				}
				if p.src[p.pos] == '"' {
					p.pos++
					break
				}
				p.pos++
			}
		case '\\':
			p.pos++
			if !p.atEOF() {
				p.pos++
			}
		case '(':
			depth++
			p.pos++
		case ')':
			if depth == 0 {
				body := string(p.src[start:p.pos])
				p.pos++
				return body, nil
			}
			depth--
			p.pos++
		default:
			p.pos++
		}
	}
}
