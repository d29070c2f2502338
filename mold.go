package r3

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// molder renders values as source text (mold) or display text (form)
type molder struct {
	rt     *Runtime
	sb     strings.Builder
	all    bool
	indent int
	active []*Series // Series being molded, to cut cycles
}

// Mold returns source text for a value. With all set, none and logic use
// construction syntax so the text scans back to the same datatype.
func (rt *Runtime) Mold(c Cell, all bool) string {
	m := &molder{rt: rt, all: all}
	m.mold(&c)
	return m.sb.String()
}

// Form returns the display text of a value: strings without quotes, blocks
// without brackets
func (rt *Runtime) Form(c Cell) string {
	m := &molder{rt: rt}
	m.form(&c)
	return m.sb.String()
}

// enter records s as being molded. It reports false when s is already on
// the path, which means the value contains itself.
func (m *molder) enter(s *Series) bool {
	for _, a := range m.active {
		if a == s {
			return false
		}
	}
	m.active = append(m.active, s)
	return true
}

func (m *molder) leave() {
	m.active = m.active[:len(m.active)-1]
}

func (m *molder) write(s string) {
	m.sb.WriteString(s)
}

func (m *molder) newline() {
	m.sb.WriteByte('\n')
	for i := 0; i < m.indent; i++ {
		m.sb.WriteString("    ")
	}
}

func (m *molder) spelling(sym Symbol) string {
	return m.rt.syms.Spelling(sym)
}

// form writes the display text of c
func (m *molder) form(c *Cell) {
	switch {
	case c.kind == KindUnset || c.kind == KindEnd:
	case c.kind == KindChar:
		m.sb.WriteRune(c.Char())
	case c.kind.IsAnyString() && c.kind != KindTag:
		m.write(seriesText(c))
	case c.kind == KindTag:
		m.write("<" + seriesText(c) + ">")
	case c.kind.IsAnyWord():
		m.write(m.spelling(c.sym))
	case c.kind == KindBlock || c.kind == KindParen:
		if !m.enter(c.ser) {
			m.write("...")
			return
		}
		for i, v := range cellsFrom(c) {
			if i > 0 {
				m.write(" ")
			}
			m.form(&v)
		}
		m.leave()
	case c.kind == KindError:
		m.write(m.rt.cellToError(*c).Message())
	case c.kind == KindObject || c.kind == KindModule || c.kind == KindPort || c.kind == KindTask:
		m.moldFields(c.ser, false)
	default:
		m.mold(c)
	}
}

// mold writes the source text of c
func (m *molder) mold(c *Cell) {
	switch c.kind {
	case KindEnd:
	case KindTrash:
		m.write("#[trash]")
	case KindUnset:
		m.write("unset")
	case KindNone:
		if m.all {
			m.write("#[none]")
		} else {
			m.write("none")
		}
	case KindLogic:
		s := strconv.FormatBool(c.Logic())
		if m.all {
			s = "#[" + s + "]"
		}
		m.write(s)
	case KindInteger:
		m.write(strconv.FormatInt(c.Int(), 10))
	case KindDecimal:
		m.write(formatDecimal(c.Float()))
	case KindPercent:
		m.write(strconv.FormatFloat(c.Float()*100, 'g', 15, 64) + "%")
	case KindMoney:
		f := c.Float()
		if f < 0 {
			m.write("-")
			f = -f
		}
		m.write("$" + strconv.FormatFloat(f, 'f', 2, 64))
	case KindChar:
		m.write(`#"` + escapeRune(c.Char(), '"') + `"`)
	case KindPair:
		x, y := c.PairXY()
		m.write(formatCoord(x) + "x" + formatCoord(y))
	case KindTuple:
		parts := c.TupleBytes()
		strs := make([]string, len(parts))
		for i, b := range parts {
			strs[i] = strconv.Itoa(int(b))
		}
		m.write(strings.Join(strs, "."))
	case KindTime:
		m.write(formatTime(c.Duration()))
	case KindDate:
		m.write(formatDate(c.Time()))
	case KindDatatype:
		m.write(c.DatatypeKind().TypeName())
	case KindTypeset:
		m.moldTypeset(c.Typeset())

	case KindWord:
		m.write(m.spelling(c.sym))
	case KindSetWord:
		m.write(m.spelling(c.sym) + ":")
	case KindGetWord:
		m.write(":" + m.spelling(c.sym))
	case KindLitWord:
		m.write("'" + m.spelling(c.sym))
	case KindRefinement:
		m.write("/" + m.spelling(c.sym))
	case KindIssue:
		m.write("#" + m.spelling(c.sym))

	case KindString:
		m.moldString(seriesText(c))
	case KindFile:
		text := seriesText(c)
		if strings.ContainsAny(text, " \t\n;\"[](){}") {
			m.write("%")
			m.moldString(text)
		} else {
			m.write("%" + text)
		}
	case KindEmail, KindURL:
		m.write(seriesText(c))
	case KindTag:
		m.write("<" + seriesText(c) + ">")
	case KindBinary:
		m.write("#{" + strings.ToUpper(fmt.Sprintf("%x", bytesFrom(c))) + "}")
	case KindBitset:
		m.write("make bitset! #{" + strings.ToUpper(fmt.Sprintf("%x", c.ser.Bytes())) + "}")

	case KindBlock:
		m.moldArray(c.ser, c.index, "[", "]")
	case KindParen:
		m.moldArray(c.ser, c.index, "(", ")")
	case KindPath, KindSetPath, KindGetPath, KindLitPath:
		m.moldPath(c)
	case KindMap:
		m.write("make map! ")
		m.moldArray(c.ser, 0, "[", "]")

	case KindNative, KindAction, KindCommand, KindRoutine:
		m.write("make " + c.kind.TypeName() + " [")
		m.moldArray(c.ser.link, 0, "[", "]")
		m.write("]")
	case KindFunction, KindClosure:
		m.write("make " + c.kind.TypeName() + " [")
		m.moldArray(c.ser.link, 0, "[", "]")
		m.write(" ")
		m.moldArray(c.aux, 0, "[", "]")
		m.write("]")

	case KindObject, KindModule, KindPort, KindTask:
		m.write("make " + c.kind.TypeName() + " [")
		if !m.enter(c.ser) {
			m.write("...]")
			return
		}
		m.indent++
		m.moldFields(c.ser, true)
		m.indent--
		m.leave()
		m.newline()
		m.write("]")
	case KindError:
		m.write("make error! [")
		m.indent++
		m.moldFields(c.ser, true)
		m.indent--
		m.newline()
		m.write("]")
	case KindStruct:
		m.write("make struct! [")
		m.moldArray(c.aux, 0, "[", "]")
		m.write(" #{" + strings.ToUpper(fmt.Sprintf("%x", c.ser.Bytes())) + "}]")

	default:
		m.write("#[" + c.kind.TypeName() + "]")
	}
}

// moldArray writes the cells of s from index between open and close,
// honouring newline markers
func (m *molder) moldArray(s *Series, index int, open, close string) {
	if s == nil {
		m.write(open + close)
		return
	}
	if !m.enter(s) {
		m.write(open + "..." + close)
		return
	}
	m.write(open)
	broke := false
	m.indent++
	for i, v := range s.Cells()[min(index, s.Len()):] {
		if v.flags&FlagNewline != 0 {
			m.newline()
			broke = true
		} else if i > 0 {
			m.write(" ")
		}
		m.mold(&v)
	}
	m.indent--
	if broke {
		m.newline()
	}
	m.write(close)
	m.leave()
}

// moldPath writes a path with its kind decoration
func (m *molder) moldPath(c *Cell) {
	if c.kind == KindGetPath {
		m.write(":")
	}
	if c.kind == KindLitPath {
		m.write("'")
	}
	for i, v := range cellsFrom(c) {
		if i > 0 {
			m.write("/")
		}
		m.mold(&v)
	}
	if c.kind == KindSetPath {
		m.write(":")
	}
}

// moldFields writes the visible fields of a frame as set-words and values
func (m *molder) moldFields(vals *Series, asSource bool) {
	keys := frameKeys(vals)
	first := true
	for i := 1; i < keys.Len() && i < vals.Len(); i++ {
		k := keys.At(i)
		if k.HasFlag(FlagHidden) {
			continue
		}
		v := *vals.At(i)
		if asSource {
			m.newline()
		} else if !first {
			m.write("\n")
		}
		first = false
		m.write(m.spelling(k.sym) + ": ")
		if v.kind == KindUnset {
			m.write("unset")
			continue
		}
		m.mold(&v)
	}
}

// moldTypeset writes a typeset as its constructor
func (m *molder) moldTypeset(ts Typeset) {
	for _, nt := range namedTypesets {
		if nt.ts == ts {
			m.write(nt.name)
			return
		}
	}
	kinds := ts.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.TypeName()
	}
	m.write("make typeset! [" + strings.Join(names, " ") + "]")
}

// moldString writes text as a quoted string, or braced when it spans lines
// or holds quotes
func (m *molder) moldString(text string) {
	braced := strings.ContainsAny(text, "\n\"")
	var sb strings.Builder
	if braced {
		sb.WriteByte('{')
		depth := 0
		for _, r := range text {
			switch r {
			case '{':
				depth++
				sb.WriteRune(r)
			case '}':
				if depth == 0 {
					sb.WriteString("^}")
					continue
				}
				depth--
				sb.WriteRune(r)
			case '\n':
				sb.WriteRune(r)
			default:
				sb.WriteString(escapeRune(r, '{'))
			}
		}
		if depth > 0 {
			// unbalanced open braces would swallow the closer
			m.moldQuoted(text)
			return
		}
		sb.WriteByte('}')
		m.write(sb.String())
		return
	}
	m.moldQuoted(text)
}

func (m *molder) moldQuoted(text string) {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range text {
		sb.WriteString(escapeRune(r, '"'))
	}
	sb.WriteByte('"')
	m.write(sb.String())
}

// escapeRune returns the caret escape of r inside a string closed by quote
func escapeRune(r rune, quote rune) string {
	switch {
	case r == '^':
		return "^^"
	case r == quote:
		return "^" + string(r)
	case r == '\n':
		return "^/"
	case r == '\t':
		return "^-"
	case r == 0:
		return "^@"
	case r == 0x7f:
		return "^(del)"
	case r < 0x20:
		return "^" + string(r+'A'-1)
	}
	return string(r)
}

// formatDecimal renders a float so it scans back as a decimal
func formatDecimal(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "1.#INF"
	case math.IsInf(f, -1):
		return "-1.#INF"
	case math.IsNaN(f):
		return "1.#NaN"
	}
	s := strconv.FormatFloat(f, 'g', 15, 64)
	if strings.ContainsAny(s, ".eE") {
		return s
	}
	return s + ".0"
}

// formatCoord renders a pair coordinate without a fraction when integral
func formatCoord(f float32) string {
	if f == float32(math.Trunc(float64(f))) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// formatTime renders h:mm, adding :ss and a fraction when present
func formatTime(d time.Duration) string {
	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	fmt.Fprintf(&sb, "%d:%02d", h, mins)
	if d > 0 {
		secs := d / time.Second
		fmt.Fprintf(&sb, ":%02d", secs)
		if ns := d - secs*time.Second; ns > 0 {
			frac := strings.TrimRight(fmt.Sprintf("%09d", ns), "0")
			sb.WriteString("." + frac)
		}
	}
	return sb.String()
}

// formatDate renders d-Mon-yyyy with the time and zone when they are set
func formatDate(t time.Time) string {
	s := fmt.Sprintf("%d-%s-%d", t.Day(), t.Month().String()[:3], t.Year())
	_, offset := t.Zone()
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	if tod == 0 && offset == 0 {
		return s
	}
	s += "/" + formatTime(tod)
	if offset != 0 {
		sign := "+"
		if offset < 0 {
			sign = "-"
			offset = -offset
		}
		s += fmt.Sprintf("%s%d:%02d", sign, offset/3600, offset%3600/60)
	}
	return s
}
