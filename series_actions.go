package r3

import (
	"bytes"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// elementAt returns element i of a series value as a cell
func (rt *Runtime) elementAt(v Cell, i int) Cell {
	switch {
	case v.ser.IsArray():
		return *v.ser.At(i)
	case v.ser.Width() == WidthByte:
		return Integer(int64(v.ser.Bytes()[i]))
	}
	return Char(v.ser.Runes()[i])
}

// valueBytes converts a value to the bytes inserted into a binary
func (rt *Runtime) valueBytes(v Cell) ([]byte, error) {
	switch {
	case v.kind == KindBinary:
		return bytesFrom(&v), nil
	case v.kind.IsAnyString():
		return []byte(seriesText(&v)), nil
	case v.kind == KindChar:
		return utf8.AppendRune(nil, v.Char()), nil
	case v.kind == KindInteger:
		if v.Int() < 0 || v.Int() > 255 {
			return nil, rt.Errorf(ErrOutOfRange, v)
		}
		return []byte{byte(v.Int())}, nil
	case v.kind == KindTuple:
		return v.TupleBytes(), nil
	case v.kind == KindBlock:
		var out []byte
		for _, x := range cellsFrom(&v) {
			b, err := rt.valueBytes(x)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	}
	return nil, rt.Errorf(ErrInvalidArg, v)
}

// appendBinary appends the bytes of each element of block to s
func (rt *Runtime) appendBinary(s *Series, block Cell) error {
	b, err := rt.valueBytes(block)
	if err != nil {
		return err
	}
	s.InsertBytes(s.Len(), b)
	return nil
}

// valueText converts a value to the text inserted into a string. Blocks
// join the forms of their elements.
func (rt *Runtime) valueText(v Cell) string {
	switch {
	case v.kind == KindChar:
		return string(v.Char())
	case v.kind == KindBinary:
		return string(bytesFrom(&v))
	case v.kind == KindBlock:
		var sb strings.Builder
		for _, x := range cellsFrom(&v) {
			sb.WriteString(rt.Form(x))
		}
		return sb.String()
	}
	return rt.Form(v)
}

// insertValue puts value into the series of v at position at and returns
// the position after the insertion. A block value is spliced into an array
// unless only is set.
func (rt *Runtime) insertValue(v Cell, at int, value Cell, only bool) (int, error) {
	s := v.ser
	at = min(max(at, 0), s.Len())
	switch {
	case s.IsArray():
		value.flags &^= FlagThrown
		if value.kind.IsAnyBlock() && !only {
			cells := slices.Clone(cellsFrom(&value))
			s.Insert(at, cells...)
			return at + len(cells), nil
		}
		s.Insert(at, value)
		return at + 1, nil
	case s.Width() == WidthByte:
		b, err := rt.valueBytes(value)
		if err != nil {
			return 0, err
		}
		s.InsertBytes(at, b)
		return at + len(b), nil
	}
	rs := []rune(rt.valueText(value))
	s.InsertRunes(at, rs)
	return at + len(rs), nil
}

// partLength converts a /part range to a count from the position of v
func partLength(v Cell, r Cell) int {
	n := 0
	switch {
	case r.kind.IsNumber():
		n = int(r.Float())
	case r.ser == v.ser:
		n = r.index - v.index
	}
	return max(n, 0)
}

// foldRune lowers a rune for case-insensitive search
func foldRune(r rune) rune {
	return unicode.ToLower(r)
}

// findIn searches the series of v from its position for value. It returns
// the match position and length.
func (rt *Runtime) findIn(v Cell, value Cell, only, strict bool) (int, int, bool) {
	s := v.ser
	start := min(v.index, s.Len())
	switch {
	case s.IsArray():
		cells := s.Cells()
		if value.kind.IsAnyBlock() && !only {
			pat := cellsFrom(&value)
			if len(pat) == 0 {
				return 0, 0, false
			}
		outer:
			for i := start; i+len(pat) <= len(cells); i++ {
				for j := range pat {
					if !rt.equal(&cells[i+j], &pat[j], strict, 0) {
						continue outer
					}
				}
				return i, len(pat), true
			}
			return 0, 0, false
		}
		for i := start; i < len(cells); i++ {
			if rt.equal(&cells[i], &value, strict, 0) {
				return i, 1, true
			}
		}
		return 0, 0, false

	case s.Width() == WidthByte:
		pat, err := rt.valueBytes(value)
		if err != nil || len(pat) == 0 {
			return 0, 0, false
		}
		if i := bytes.Index(s.Bytes()[start:], pat); i >= 0 {
			return start + i, len(pat), true
		}
		return 0, 0, false
	}

	rs := s.Runes()
	pat := []rune(rt.valueText(value))
	if len(pat) == 0 {
		return 0, 0, false
	}
	match := func(a, b rune) bool {
		if strict {
			return a == b
		}
		return foldRune(a) == foldRune(b)
	}
next:
	for i := start; i+len(pat) <= len(rs); i++ {
		for j := range pat {
			if !match(rs[i+j], pat[j]) {
				continue next
			}
		}
		return i, len(pat), true
	}
	return 0, 0, false
}

// pickPosition maps a pick index to a series position relative to the
// position of v; zero and out-of-range picks report false
func pickPosition(v Cell, n int64) (int, bool) {
	var pos int
	switch {
	case n > 0:
		pos = v.index + int(n) - 1
	case n < 0:
		pos = v.index + int(n)
	default:
		return 0, false
	}
	return pos, pos >= 0 && pos < v.ser.Len()
}

// sortSeries sorts the series of v in place from its position
func (rt *Runtime) sortSeries(v Cell, strict, reverse bool) error {
	s := v.ser
	start := min(v.index, s.Len())
	dir := 1
	if reverse {
		dir = -1
	}
	switch {
	case s.IsArray():
		var failed error
		slices.SortStableFunc(s.Cells()[start:], func(a, b Cell) int {
			if strict && a.kind.IsAnyString() && b.kind.IsAnyString() {
				return dir * strings.Compare(seriesText(&a), seriesText(&b))
			}
			n, err := rt.Compare(a, b)
			if err != nil {
				if failed == nil {
					failed = err
				}
				return 0
			}
			return dir * n
		})
		return failed
	case s.Width() == WidthByte:
		slices.SortStableFunc(s.Bytes()[start:], func(a, b byte) int { return dir * (int(a) - int(b)) })
		return nil
	}
	slices.SortStableFunc(s.Runes()[start:], func(a, b rune) int {
		if !strict {
			a, b = foldRune(a), foldRune(b)
		}
		return dir * (int(a) - int(b))
	})
	return nil
}

func seriesAction(rt *Runtime, c *Call, act ActionID) error {
	v := *c.Arg(1)
	v.flags &^= FlagNewline
	s := v.ser
	out := c.Out()
	idx := min(v.index, s.Len())

	switch act {
	case ActAppend, ActInsert:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		at := s.Len()
		if act == ActInsert {
			at = idx
		}
		next, err := rt.insertValue(v, at, *c.Arg(2), c.Refined(3))
		if err != nil {
			return err
		}
		*out = v
		if act == ActInsert {
			out.index = next
		}
		return nil

	case ActRemove:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		n := 1
		if c.Refined(2) {
			n = partLength(v, *c.Arg(3))
		}
		s.Remove(idx, n)
		*out = v
		return nil

	case ActClear:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		s.Clear(idx)
		*out = v
		return nil

	case ActCopy:
		end := s.Len()
		if c.Refined(2) {
			end = min(idx+partLength(v, *c.Arg(3)), s.Len())
		}
		var cp *Series
		if s.IsArray() {
			cp = rt.pool.CopyArray(s, idx, end, c.Refined(4), true)
		} else {
			cp = rt.pool.CopySeries(s, idx, end)
			cp.Manage()
		}
		*out = SeriesCell(v.kind, cp, 0)
		return nil

	case ActLength:
		*out = Integer(int64(s.Len() - idx))
		return nil

	case ActHead:
		*out = v
		out.index = 0
		return nil

	case ActTail:
		*out = v
		out.index = s.Len()
		return nil

	case ActNext:
		*out = v
		out.index = min(idx+1, s.Len())
		return nil

	case ActBack:
		*out = v
		out.index = max(idx-1, 0)
		return nil

	case ActSkip, ActAt:
		arg := *c.Arg(2)
		var n int
		switch {
		case arg.kind == KindLogic:
			if !arg.Logic() {
				n = 1
			}
		default:
			n = int(arg.Float())
		}
		if act == ActAt && n > 0 {
			n--
		}
		*out = v
		out.index = min(max(idx+n, 0), s.Len())
		return nil

	case ActIndex:
		*out = Integer(int64(v.index + 1))
		return nil

	case ActHeadQ:
		*out = Logic(v.index == 0)
		return nil

	case ActTailQ:
		*out = Logic(v.index >= s.Len())
		return nil

	case ActPick, ActFirst, ActSecond, ActThird, ActLast:
		var n int64
		switch act {
		case ActPick:
			k := *c.Arg(2)
			switch {
			case k.kind.IsNumber():
				n = int64(k.Float())
			case k.kind == KindLogic:
				n = 2
				if k.Logic() {
					n = 1
				}
			default:
				return rt.pickValue(c, act)
			}
		case ActFirst:
			n = 1
		case ActSecond:
			n = 2
		case ActThird:
			n = 3
		case ActLast:
			n = int64(s.Len() - idx)
		}
		pos, ok := pickPosition(v, n)
		if !ok {
			*out = None()
			return nil
		}
		*out = rt.elementAt(v, pos)
		out.flags &^= FlagNewline
		return nil

	case ActPoke:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		k := *c.Arg(2)
		if !k.kind.IsNumber() {
			return rt.Errorf(ErrInvalidArg, k)
		}
		pos, ok := pickPosition(v, int64(k.Float()))
		if !ok {
			return rt.Errorf(ErrOutOfRange, k)
		}
		val := *c.Arg(3)
		switch {
		case s.IsArray():
			val.flags &^= FlagThrown | FlagNewline
			*s.At(pos) = val
		case s.Width() == WidthByte:
			if val.kind != KindInteger || val.Int() < 0 || val.Int() > 255 {
				return rt.Errorf(ErrOutOfRange, val)
			}
			s.Bytes()[pos] = byte(val.Int())
		default:
			switch val.kind {
			case KindChar:
				s.Runes()[pos] = val.Char()
			case KindInteger:
				ch, err := rt.checkChar(val.Int())
				if err != nil {
					return err
				}
				s.Runes()[pos] = ch.Char()
			default:
				return rt.Errorf(ErrInvalidArg, val)
			}
		}
		*out = val
		return nil

	case ActSelect, ActFind:
		pos, n, ok := rt.findIn(v, *c.Arg(2), c.Refined(3), c.Refined(4))
		switch {
		case !ok:
			*out = None()
		case act == ActSelect:
			if pos+n >= s.Len() {
				*out = None()
			} else {
				*out = rt.elementAt(v, pos+n)
				out.flags &^= FlagNewline
			}
		default:
			*out = v
			out.index = pos
			if c.Refined(5) {
				out.index = pos + n
			}
		}
		return nil

	case ActReverse:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		switch {
		case s.IsArray():
			slices.Reverse(s.Cells()[idx:])
		case s.Width() == WidthByte:
			slices.Reverse(s.Bytes()[idx:])
		default:
			slices.Reverse(s.Runes()[idx:])
		}
		*out = v
		return nil

	case ActSort:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		if err := rt.sortSeries(v, c.Refined(2), c.Refined(3)); err != nil {
			return err
		}
		*out = v
		return nil

	case ActTake:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		if idx >= s.Len() {
			*out = None()
			return nil
		}
		pos, n := idx, 1
		if c.Refined(3) {
			n = min(partLength(v, *c.Arg(4)), s.Len()-idx)
		}
		if c.Refined(2) {
			pos = s.Len() - n
		}
		if c.Refined(3) {
			var cp *Series
			if s.IsArray() {
				cp = rt.pool.CopyArray(s, pos, pos+n, false, true)
			} else {
				cp = rt.pool.CopySeries(s, pos, pos+n)
				cp.Manage()
			}
			*out = SeriesCell(v.kind, cp, 0)
		} else {
			*out = rt.elementAt(v, pos)
			out.flags &^= FlagNewline
		}
		s.Remove(pos, n)
		return nil
	}
	return rt.cannotUse(act, v.kind)
}

func mapAction(rt *Runtime, c *Call, act ActionID) error {
	m := *c.Arg(1)
	s := m.ser
	out := c.Out()
	switch act {
	case ActAppend:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		val := *c.Arg(2)
		if val.kind != KindBlock {
			return rt.Errorf(ErrInvalidArg, val)
		}
		pairs := cellsFrom(&val)
		if len(pairs)%2 != 0 {
			return rt.Errorf(ErrInvalidArg, val)
		}
		for i := 0; i < len(pairs); i += 2 {
			rt.mapPut(s, pairs[i], pairs[i+1])
		}
		*out = m
		return nil

	case ActRemove:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		if !c.Refined(4) {
			return rt.Errorf(ErrBadRefine, rt.wordCell("key"))
		}
		rt.mapRemove(s, *c.Arg(5))
		*out = m
		return nil

	case ActClear:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		s.Clear(0)
		s.hash = nil
		*out = m
		return nil

	case ActCopy:
		*out = Cell{kind: KindMap, ser: rt.pool.CopyArray(s, 0, s.Len(), c.Refined(4), true)}
		return nil

	case ActLength:
		*out = Integer(int64(s.Len() / 2))
		return nil

	case ActTailQ:
		*out = Logic(s.Len() == 0)
		return nil

	case ActPick, ActSelect:
		if i, ok := rt.mapFind(s, *c.Arg(2)); ok {
			*out = *s.At(i + 1)
			return nil
		}
		*out = None()
		return nil

	case ActFind:
		if i, ok := rt.mapFind(s, *c.Arg(2)); ok {
			*out = *s.At(i)
			return nil
		}
		*out = None()
		return nil

	case ActPoke:
		if err := rt.checkModify(s); err != nil {
			return err
		}
		rt.mapPut(s, *c.Arg(2), *c.Arg(3))
		*out = *c.Arg(3)
		return nil
	}
	return rt.cannotUse(act, KindMap)
}

func objectAction(rt *Runtime, c *Call, act ActionID) error {
	obj := *c.Arg(1)
	vals := obj.ser
	keys := frameKeys(vals)
	out := c.Out()
	switch act {
	case ActLength:
		n := 0
		for i := 1; i < keys.Len(); i++ {
			if !keys.At(i).HasFlag(FlagHidden) {
				n++
			}
		}
		*out = Integer(int64(n))
		return nil

	case ActTailQ:
		*out = Logic(vals.Len() <= 1)
		return nil

	case ActPick, ActSelect:
		k := *c.Arg(2)
		if k.kind.IsAnyWord() {
			if v, ok := rt.frameValue(vals, k.sym); ok {
				*out = v
				return nil
			}
		}
		*out = None()
		return nil

	case ActFind:
		k := *c.Arg(2)
		*out = Logic(k.kind.IsAnyWord() && rt.FindKey(vals, k.sym) > 0)
		return nil

	case ActCopy:
		*out = ObjectCell(obj.kind, rt.CopyFrame(vals, c.Refined(4)))
		return nil

	case ActAppend:
		val := *c.Arg(2)
		if val.kind != KindBlock {
			return rt.Errorf(ErrInvalidArg, val)
		}
		pairs := cellsFrom(&val)
		for i := 0; i < len(pairs); i += 2 {
			w := pairs[i]
			if !w.kind.IsAnyWord() {
				return rt.Errorf(ErrInvalidArg, w)
			}
			slot := rt.FindKey(vals, w.sym)
			if slot == 0 {
				var err error
				if slot, err = rt.AppendKey(vals, w.sym); err != nil {
					return err
				}
			}
			v := None()
			if i+1 < len(pairs) {
				v = pairs[i+1]
			}
			bound := Word(KindWord, w.sym)
			bound.ser, bound.index = vals, slot
			if err := rt.SetVar(bound, v); err != nil {
				return err
			}
		}
		*out = obj
		return nil
	}
	return rt.cannotUse(act, obj.kind)
}
