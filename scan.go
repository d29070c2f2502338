package r3

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// SourcePosition locates a value in scanned text
type SourcePosition struct {
	Filename string
	Line     int
	Column   int
}

// String formats the position as name:line:column
func (p SourcePosition) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// scanner turns source text into cells. It tracks the line so syntax
// errors can say where they happened and the evaluator can keep newline
// markers for molding.
type scanner struct {
	rt        *Runtime
	src       []rune
	pos       int
	line      int
	lineStart int
	name      string
	newline   bool
}

// Scan converts source text into a managed block. name labels the source in
// syntax errors.
func (rt *Runtime) Scan(text, name string) (*Series, error) {
	sc := &scanner{rt: rt, src: []rune(text), line: 1, name: name}
	block, err := sc.scanBlock(0)
	if err != nil {
		return nil, err
	}
	manageDeep(block)
	rt.logger.TraceCat(CatEval, "scanned %s: %d values, %d lines", name, block.Len(), sc.line)
	return block, nil
}

// position returns the current source position
func (sc *scanner) position() SourcePosition {
	return SourcePosition{Filename: sc.name, Line: sc.line, Column: sc.pos - sc.lineStart + 1}
}

// invalid raises a syntax error for malformed text of a datatype
func (sc *scanner) invalid(what, text string) error {
	e := sc.rt.Errorf(ErrInvalid, sc.rt.wordCell(what), sc.rt.stringCell(text))
	e.Near = fmt.Sprintf("(%s) %s", sc.position(), text)
	return e
}

// missing raises a syntax error for an unclosed construct
func (sc *scanner) missing(close string, start SourcePosition) error {
	e := sc.rt.Errorf(ErrMissing, sc.rt.stringCell(start.String()), sc.rt.stringCell(close))
	e.Near = fmt.Sprintf("(%s)", start)
	return e
}

func (sc *scanner) eof() bool {
	return sc.pos >= len(sc.src)
}

func (sc *scanner) peek() rune {
	if sc.eof() {
		return 0
	}
	return sc.src[sc.pos]
}

func (sc *scanner) peekAt(n int) rune {
	if sc.pos+n >= len(sc.src) {
		return 0
	}
	return sc.src[sc.pos+n]
}

// advance consumes one rune, counting lines
func (sc *scanner) advance() rune {
	r := sc.src[sc.pos]
	sc.pos++
	if r == '\n' {
		sc.line++
		sc.lineStart = sc.pos
	}
	return r
}

// skipSpace skips whitespace and comments, noting line breaks
func (sc *scanner) skipSpace() {
	for !sc.eof() {
		switch r := sc.peek(); {
		case r == '\n':
			sc.newline = true
			sc.advance()
		case r == ';':
			for !sc.eof() && sc.peek() != '\n' {
				sc.advance()
			}
		case unicode.IsSpace(r):
			sc.advance()
		default:
			return
		}
	}
}

// isDelimiter reports whether r ends a token
func isDelimiter(r rune) bool {
	switch r {
	case '[', ']', '(', ')', '"', '{', '}', ';':
		return true
	}
	return unicode.IsSpace(r)
}

// readToken reads a run of non-delimiter runes
func (sc *scanner) readToken() string {
	start := sc.pos
	for !sc.eof() && !isDelimiter(sc.peek()) {
		sc.advance()
	}
	return string(sc.src[start:sc.pos])
}

// freeTree releases a partially scanned block and its unmanaged children
func (p *Pool) freeTree(s *Series) {
	if s == nil || s.IsManaged() || !s.isLive() {
		return
	}
	if s.IsArray() {
		for _, c := range s.Cells() {
			if c.ser != nil && (c.kind.IsSeries() || c.kind == KindMap) {
				p.freeTree(c.ser)
			}
		}
	}
	p.FreeSeries(s)
}

// scanBlock scans values until close (0 for end of text)
func (sc *scanner) scanBlock(close rune) (*Series, error) {
	start := sc.position()
	block := sc.rt.pool.MakeArray(8, 0)
	for {
		sc.skipSpace()
		if sc.eof() {
			if close != 0 {
				sc.rt.pool.freeTree(block)
				return nil, sc.missing(string(close), start)
			}
			return block, nil
		}
		r := sc.peek()
		if close != 0 && r == close {
			sc.advance()
			return block, nil
		}
		if r == ']' || r == ')' || r == '}' {
			sc.rt.pool.freeTree(block)
			return nil, sc.invalid("end-of-block", string(r))
		}
		nl := sc.newline
		sc.newline = false
		c, err := sc.scanValue()
		if err != nil {
			sc.rt.pool.freeTree(block)
			return nil, err
		}
		if nl {
			c.flags |= FlagNewline
		}
		block.Append(c)
	}
}

// scanValue scans one value at the current position
func (sc *scanner) scanValue() (Cell, error) {
	r := sc.peek()
	switch {
	case r == '[':
		sc.advance()
		sub, err := sc.scanBlock(']')
		if err != nil {
			return Cell{}, err
		}
		return SeriesCell(KindBlock, sub, 0), nil

	case r == '(':
		sc.advance()
		sub, err := sc.scanBlock(')')
		if err != nil {
			return Cell{}, err
		}
		return SeriesCell(KindParen, sub, 0), nil

	case r == '"':
		s, err := sc.scanQuoted()
		if err != nil {
			return Cell{}, err
		}
		return sc.stringValue(KindString, s), nil

	case r == '{':
		s, err := sc.scanBraced()
		if err != nil {
			return Cell{}, err
		}
		return sc.stringValue(KindString, s), nil

	case r == '#' && sc.peekAt(1) == '"':
		sc.advance()
		s, err := sc.scanQuoted()
		if err != nil {
			return Cell{}, err
		}
		rs := []rune(s)
		if len(rs) != 1 {
			return Cell{}, sc.invalid("char", s)
		}
		return Char(rs[0]), nil

	case r == '#' && sc.peekAt(1) == '{':
		sc.advance()
		return sc.scanBinary(16)

	case r == '#' && sc.peekAt(1) == '[':
		return sc.scanConstruct()

	case r == '%' && sc.peekAt(1) == '"':
		sc.advance()
		s, err := sc.scanQuoted()
		if err != nil {
			return Cell{}, err
		}
		return sc.stringValue(KindFile, s), nil

	case r == '<' && isTagStart(sc.peekAt(1)):
		return sc.scanTag()
	}

	tok := sc.readToken()
	if tok == "" {
		return Cell{}, sc.invalid("word", string(sc.advance()))
	}
	return sc.classify(tok)
}

// isTagStart reports whether r can follow < in a tag
func isTagStart(r rune) bool {
	return unicode.IsLetter(r) || r == '/' || r == '!' || r == '?'
}

// stringValue wraps text in an unmanaged series of an any-string kind
func (sc *scanner) stringValue(kind Kind, s string) Cell {
	return SeriesCell(kind, sc.rt.pool.MakeString(s), 0)
}

// escape decodes a ^ escape after the caret
func (sc *scanner) escape() (rune, error) {
	if sc.eof() {
		return 0, sc.invalid("string", "^")
	}
	r := sc.advance()
	switch r {
	case '/':
		return '\n', nil
	case '-':
		return '\t', nil
	case '@':
		return 0, nil
	case '(':
		start := sc.pos
		for !sc.eof() && sc.peek() != ')' {
			sc.advance()
		}
		if sc.eof() {
			return 0, sc.invalid("string", "^("+string(sc.src[start:sc.pos]))
		}
		name := string(sc.src[start:sc.pos])
		sc.advance()
		switch strings.ToLower(name) {
		case "line":
			return '\n', nil
		case "tab":
			return '\t', nil
		case "null":
			return 0, nil
		case "back":
			return '\b', nil
		case "esc":
			return 0x1b, nil
		case "del":
			return 0x7f, nil
		case "page":
			return '\f', nil
		}
		n, err := strconv.ParseUint(name, 16, 32)
		if err != nil {
			return 0, sc.invalid("char", "^("+name+")")
		}
		return rune(n), nil
	}
	if r >= 'A' && r <= 'Z' {
		return r - 'A' + 1, nil
	}
	if r >= 'a' && r <= 'z' {
		return r - 'a' + 1, nil
	}
	return r, nil
}

// scanQuoted reads a "..." string; it may not span lines
func (sc *scanner) scanQuoted() (string, error) {
	start := sc.position()
	sc.advance()
	var sb strings.Builder
	for {
		if sc.eof() || sc.peek() == '\n' {
			return "", sc.missing(`"`, start)
		}
		r := sc.advance()
		switch r {
		case '"':
			return sb.String(), nil
		case '^':
			e, err := sc.escape()
			if err != nil {
				return "", err
			}
			sb.WriteRune(e)
		default:
			sb.WriteRune(r)
		}
	}
}

// scanBraced reads a {...} string, which nests and may span lines
func (sc *scanner) scanBraced() (string, error) {
	start := sc.position()
	sc.advance()
	var sb strings.Builder
	depth := 1
	for {
		if sc.eof() {
			return "", sc.missing("}", start)
		}
		r := sc.advance()
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return sb.String(), nil
			}
		case '^':
			e, err := sc.escape()
			if err != nil {
				return "", err
			}
			sb.WriteRune(e)
			continue
		}
		sb.WriteRune(r)
	}
}

// scanBinary reads {...} digits in base 2, 16 or 64
func (sc *scanner) scanBinary(base int) (Cell, error) {
	start := sc.position()
	sc.advance()
	var sb strings.Builder
	for {
		if sc.eof() {
			return Cell{}, sc.missing("}", start)
		}
		r := sc.advance()
		if r == '}' {
			break
		}
		if !unicode.IsSpace(r) {
			sb.WriteRune(r)
		}
	}
	text := sb.String()
	var data []byte
	var err error
	switch base {
	case 16:
		data, err = hex.DecodeString(text)
	case 64:
		data, err = base64.StdEncoding.DecodeString(text)
	case 2:
		if len(text)%8 != 0 {
			err = fmt.Errorf("bits")
			break
		}
		data = make([]byte, len(text)/8)
		for i := range data {
			var n uint64
			n, err = strconv.ParseUint(text[i*8:i*8+8], 2, 8)
			if err != nil {
				break
			}
			data[i] = byte(n)
		}
	}
	if err != nil {
		return Cell{}, sc.invalid("binary", text)
	}
	return SeriesCell(KindBinary, sc.rt.pool.MakeBinary(data), 0), nil
}

// scanConstruct reads #[none], #[true], #[false] and #[unset]
func (sc *scanner) scanConstruct() (Cell, error) {
	sc.advance()
	sc.advance()
	start := sc.pos
	for !sc.eof() && sc.peek() != ']' {
		sc.advance()
	}
	if sc.eof() {
		return Cell{}, sc.invalid("construct", "#["+string(sc.src[start:sc.pos]))
	}
	name := strings.TrimSpace(string(sc.src[start:sc.pos]))
	sc.advance()
	switch strings.ToLower(name) {
	case "none":
		return None(), nil
	case "true":
		return Logic(true), nil
	case "false":
		return Logic(false), nil
	case "unset":
		return Unset(), nil
	}
	return Cell{}, sc.invalid("construct", "#["+name+"]")
}

// scanTag reads <...>
func (sc *scanner) scanTag() (Cell, error) {
	start := sc.position()
	sc.advance()
	from := sc.pos
	for !sc.eof() && sc.peek() != '>' {
		if sc.peek() == '\n' {
			return Cell{}, sc.missing(">", start)
		}
		sc.advance()
	}
	if sc.eof() {
		return Cell{}, sc.missing(">", start)
	}
	text := string(sc.src[from:sc.pos])
	sc.advance()
	return sc.stringValue(KindTag, text), nil
}

// classify turns a token into a value
func (sc *scanner) classify(tok string) (Cell, error) {
	first := []rune(tok)[0]
	switch {
	case (tok == "2#" || tok == "16#" || tok == "64#") && sc.peek() == '{':
		base, _ := strconv.Atoi(strings.TrimSuffix(tok, "#"))
		return sc.scanBinary(base)

	case strings.Contains(tok, "://") || strings.HasPrefix(strings.ToLower(tok), "mailto:"):
		return sc.stringValue(KindURL, tok), nil

	case first == '%':
		return sc.stringValue(KindFile, tok[1:]), nil

	case first == '#':
		if len(tok) == 1 {
			return Cell{}, sc.invalid("issue", tok)
		}
		return Word(KindIssue, sc.rt.syms.Intern(tok[1:])), nil

	case first == '$' || strings.HasPrefix(tok, "-$"):
		return sc.scanMoney(tok)

	case startsNumber(tok):
		return sc.scanNumber(tok)

	case strings.ContainsRune(tok, '@') && first != '@':
		return sc.stringValue(KindEmail, tok), nil

	case first == '\'':
		if len(tok) == 1 {
			return Cell{}, sc.invalid("lit-word", tok)
		}
		return sc.scanWordish(tok[1:], KindLitWord, KindLitPath)

	case first == ':' && len(tok) > 1:
		return sc.scanWordish(tok[1:], KindGetWord, KindGetPath)

	case first == '/':
		if tok == "/" || tok == "//" {
			return Word(KindWord, sc.rt.syms.Intern(tok)), nil
		}
		if strings.ContainsRune(tok[1:], '/') {
			return Cell{}, sc.invalid("refinement", tok)
		}
		return Word(KindRefinement, sc.rt.syms.Intern(tok[1:])), nil
	}
	return sc.scanWordish(tok, KindWord, KindPath)
}

// scanWordish scans a word or path, choosing set forms from a trailing colon
func (sc *scanner) scanWordish(tok string, wordKind, pathKind Kind) (Cell, error) {
	if strings.ContainsRune(tok, '/') && tok != "/" && tok != "//" {
		return sc.scanPath(tok, pathKind)
	}
	if strings.HasSuffix(tok, ":") && len(tok) > 1 {
		if wordKind != KindWord {
			return Cell{}, sc.invalid(wordKind.String(), tok)
		}
		return Word(KindSetWord, sc.rt.syms.Intern(strings.TrimSuffix(tok, ":"))), nil
	}
	if strings.ContainsRune(tok, ':') {
		return Cell{}, sc.invalid("word", tok)
	}
	return Word(wordKind, sc.rt.syms.Intern(tok)), nil
}

// scanPath splits a path token into segments. A segment may be a paren
// that directly follows a slash: a/(b)/c.
func (sc *scanner) scanPath(tok string, kind Kind) (Cell, error) {
	path := sc.rt.pool.MakeArray(4, 0)
	fail := func(err error) (Cell, error) {
		sc.rt.pool.freeTree(path)
		return Cell{}, err
	}
	for more := true; more; {
		more = false
		parts := strings.Split(tok, "/")
		for i, part := range parts {
			last := i == len(parts)-1
			if part == "" {
				if !last || sc.peek() != '(' || (i == 0 && path.Len() == 0) {
					return fail(sc.invalid("path", tok))
				}
				sc.advance()
				sub, err := sc.scanBlock(')')
				if err != nil {
					return fail(err)
				}
				path.Append(SeriesCell(KindParen, sub, 0))
				if sc.peek() == '/' {
					sc.advance()
					tok = sc.readToken()
					more = true
				}
				break
			}
			if last && strings.HasSuffix(part, ":") {
				if kind != KindPath {
					return fail(sc.invalid("path", tok))
				}
				kind = KindSetPath
				part = strings.TrimSuffix(part, ":")
			}
			seg, err := sc.pathSegment(part)
			if err != nil {
				return fail(err)
			}
			path.Append(seg)
		}
	}
	if path.Len() < 2 {
		return fail(sc.invalid("path", tok))
	}
	return SeriesCell(kind, path, 0), nil
}

// pathSegment scans one element of a path
func (sc *scanner) pathSegment(part string) (Cell, error) {
	switch {
	case startsNumber(part):
		return sc.scanNumber(part)
	case strings.HasPrefix(part, ":") && len(part) > 1:
		return Word(KindGetWord, sc.rt.syms.Intern(part[1:])), nil
	case strings.HasPrefix(part, "'") && len(part) > 1:
		return Word(KindLitWord, sc.rt.syms.Intern(part[1:])), nil
	case strings.ContainsRune(part, ':'):
		return Cell{}, sc.invalid("path", part)
	}
	return Word(KindWord, sc.rt.syms.Intern(part)), nil
}

// startsNumber reports whether a token begins like a number
func startsNumber(tok string) bool {
	rs := []rune(tok)
	i := 0
	if rs[0] == '+' || rs[0] == '-' {
		i++
	}
	if i < len(rs) && rs[i] == '.' {
		i++
	}
	return i < len(rs) && rs[i] >= '0' && rs[i] <= '9'
}

// scanMoney reads $12.34 and -$12.34
func (sc *scanner) scanMoney(tok string) (Cell, error) {
	neg := strings.HasPrefix(tok, "-")
	f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimPrefix(tok, "-"), "$"), 64)
	if err != nil {
		return Cell{}, sc.invalid("money", tok)
	}
	if neg {
		f = -f
	}
	return Money(f), nil
}

// scanNumber reads integer, decimal, percent, pair, tuple, time and date
// tokens
func (sc *scanner) scanNumber(tok string) (Cell, error) {
	body := strings.ReplaceAll(tok, "'", "")
	switch {
	case strings.ContainsAny(body, "xX"):
		i := strings.IndexAny(body, "xX")
		x, err1 := strconv.ParseFloat(body[:i], 32)
		y, err2 := strconv.ParseFloat(body[i+1:], 32)
		if err1 != nil || err2 != nil {
			return Cell{}, sc.invalid("pair", tok)
		}
		return Pair(float32(x), float32(y)), nil

	case strings.HasSuffix(body, "%"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(body, "%"), 64)
		if err != nil {
			return Cell{}, sc.invalid("percent", tok)
		}
		return Percent(f / 100), nil

	case isDateToken(body):
		return sc.scanDate(tok)

	case strings.ContainsRune(body, ':'):
		d, err := parseTimeText(body)
		if err != nil {
			return Cell{}, sc.invalid("time", tok)
		}
		return TimeOf(d), nil

	case strings.Count(body, ".") >= 2:
		parts := strings.Split(body, ".")
		if len(parts) > 8 {
			return Cell{}, sc.invalid("tuple", tok)
		}
		bytes := make([]byte, len(parts))
		for i, p := range parts {
			n, err := strconv.ParseUint(p, 10, 8)
			if err != nil {
				return Cell{}, sc.invalid("tuple", tok)
			}
			bytes[i] = byte(n)
		}
		return Tuple(bytes), nil

	case strings.ContainsAny(body, ".eE"):
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return Cell{}, sc.invalid("decimal", tok)
		}
		return Decimal(f), nil
	}
	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return Cell{}, sc.invalid("integer", tok)
	}
	return Integer(n), nil
}

// parseTimeText parses [-]h:mm[:ss[.frac]]
func parseTimeText(text string) (time.Duration, error) {
	neg := strings.HasPrefix(text, "-")
	text = strings.TrimPrefix(strings.TrimPrefix(text, "-"), "+")
	parts := strings.Split(text, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad time %q", text)
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || m < 0 || m > 59 && len(parts) == 3 {
		return 0, fmt.Errorf("bad minutes %q", parts[1])
	}
	var s float64
	if len(parts) == 3 {
		if s, err = strconv.ParseFloat(parts[2], 64); err != nil || s < 0 || s >= 60 {
			return 0, fmt.Errorf("bad seconds %q", parts[2])
		}
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(math.Round(s*1e9))
	if neg {
		d = -d
	}
	return d, nil
}

var monthNames = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// isDateToken reports whether text looks like 2024-01-31 or 31-Jan-2024,
// optionally followed by /time
func isDateToken(text string) bool {
	date, _, _ := strings.Cut(text, "/")
	parts := strings.Split(date, "-")
	if len(parts) != 3 || parts[0] == "" {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// scanDate reads a date with an optional time and zone
func (sc *scanner) scanDate(tok string) (Cell, error) {
	date, clock, hasClock := strings.Cut(tok, "/")
	parts := strings.Split(date, "-")
	var y, d int
	var mon time.Month
	var err error
	if len(parts[0]) == 4 {
		y, err = strconv.Atoi(parts[0])
		if err == nil {
			var m int
			m, err = strconv.Atoi(parts[1])
			mon = time.Month(m)
		}
		if err == nil {
			d, err = strconv.Atoi(parts[2])
		}
	} else {
		d, err = strconv.Atoi(parts[0])
		if err == nil {
			mon = monthOf(parts[1])
			y, err = strconv.Atoi(parts[2])
		}
	}
	if err != nil || mon < time.January || mon > time.December || d < 1 || d > 31 {
		return Cell{}, sc.invalid("date", tok)
	}

	loc := time.UTC
	var tod time.Duration
	if hasClock {
		zone := ""
		if i := strings.LastIndexAny(clock, "+-"); i > 0 {
			clock, zone = clock[:i], clock[i:]
		}
		if tod, err = parseTimeText(clock); err != nil {
			return Cell{}, sc.invalid("date", tok)
		}
		if zone != "" {
			z, err := parseTimeText(zone + ":00")
			if strings.Contains(zone, ":") {
				z, err = parseTimeText(zone)
			}
			if err != nil {
				return Cell{}, sc.invalid("date", tok)
			}
			loc = time.FixedZone("", int(z/time.Second))
		}
	}
	t := time.Date(y, mon, d, 0, 0, 0, 0, loc).Add(tod)
	return DateOf(t), nil
}

// monthOf accepts a month number or an English month name or prefix
func monthOf(s string) time.Month {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Month(n)
	}
	s = strings.ToLower(s)
	if len(s) < 3 {
		return 0
	}
	for i, name := range monthNames {
		if strings.HasPrefix(s, name) {
			return time.Month(i + 1)
		}
	}
	return 0
}
