package r3

import (
	"bytes"
	"cmp"
	"strings"
)

// Equal reports whether two values are equal. The loose form compares
// strings and words without case and numbers across integer and decimal;
// the strict form also requires the same datatype and case.
func (rt *Runtime) Equal(a, b Cell, strict bool) bool {
	return rt.equal(&a, &b, strict, 0)
}

func (rt *Runtime) equal(a, b *Cell, strict bool, depth int) bool {
	if depth > 64 {
		return a.ser == b.ser && a.index == b.index
	}
	if a.kind != b.kind {
		if strict {
			return false
		}
		switch {
		case a.kind.IsNumber() && b.kind.IsNumber():
			return a.Float() == b.Float()
		case a.kind.IsAnyWord() && b.kind.IsAnyWord():
			return rt.syms.Same(a.sym, b.sym)
		case a.kind.IsAnyString() && b.kind.IsAnyString():
			return strings.EqualFold(seriesText(a), seriesText(b))
		}
		return false
	}

	switch {
	case a.kind == KindUnset || a.kind == KindNone || a.kind == KindEnd:
		return true
	case a.kind == KindDecimal || a.kind == KindPercent || a.kind == KindMoney:
		return a.Float() == b.Float()
	case a.kind.IsScalar() || a.kind == KindDatatype || a.kind == KindTypeset:
		return a.num == b.num && a.index == b.index
	case a.kind.IsAnyWord():
		if strict {
			return a.sym == b.sym
		}
		return rt.syms.Same(a.sym, b.sym)
	case a.kind.IsAnyString():
		if strict {
			return seriesText(a) == seriesText(b)
		}
		return strings.EqualFold(seriesText(a), seriesText(b))
	case a.kind == KindBinary || a.kind == KindBitset:
		return bytes.Equal(bytesFrom(a), bytesFrom(b))
	case a.kind.IsAnyBlock():
		if a.ser == b.ser && a.index == b.index {
			return true
		}
		ac, bc := cellsFrom(a), cellsFrom(b)
		if len(ac) != len(bc) {
			return false
		}
		for i := range ac {
			if !rt.equal(&ac[i], &bc[i], strict, depth+1) {
				return false
			}
		}
		return true
	case a.kind == KindMap:
		if a.ser == b.ser {
			return true
		}
		if a.ser.Len() != b.ser.Len() {
			return false
		}
		for i := 0; i+1 < a.ser.Len(); i += 2 {
			j, ok := rt.mapFind(b.ser, *a.ser.At(i))
			if !ok || !rt.equal(a.ser.At(i+1), b.ser.At(j+1), strict, depth+1) {
				return false
			}
		}
		return true
	case a.kind.IsAnyObject():
		if a.ser == b.ser {
			return true
		}
		if a.ser.Len() != b.ser.Len() {
			return false
		}
		ak, bk := frameKeys(a.ser), frameKeys(b.ser)
		for i := 1; i < a.ser.Len(); i++ {
			if !rt.syms.Same(ak.At(i).sym, bk.At(i).sym) ||
				!rt.equal(a.ser.At(i), b.ser.At(i), strict, depth+1) {
				return false
			}
		}
		return true
	case a.kind.IsAnyFunction():
		return a.ser == b.ser
	case a.kind == KindStruct:
		return bytes.Equal(a.ser.Bytes(), b.ser.Bytes())
	case a.kind == KindHandle || a.kind == KindLibrary || a.kind == KindTask:
		return a.handle == b.handle
	}
	return a.ser == b.ser && a.index == b.index
}

// seriesText returns a string value from its position
func seriesText(c *Cell) string {
	rs := c.ser.Runes()
	if c.index >= len(rs) {
		return ""
	}
	return string(rs[c.index:])
}

// bytesFrom returns a binary value from its position
func bytesFrom(c *Cell) []byte {
	b := c.ser.Bytes()
	return b[min(c.index, len(b)):]
}

// cellsFrom returns a block value from its position
func cellsFrom(c *Cell) []Cell {
	cells := c.ser.Cells()
	return cells[min(c.index, len(cells)):]
}

// Compare orders two values: -1, 0 or 1. Values without an order raise
// an error.
func (rt *Runtime) Compare(a, b Cell) (int, error) {
	switch {
	case a.kind.IsNumber() && b.kind.IsNumber():
		if a.kind == KindInteger && b.kind == KindInteger {
			return cmp.Compare(a.Int(), b.Int()), nil
		}
		return cmp.Compare(a.Float(), b.Float()), nil
	case a.kind != b.kind:
		if a.kind.IsAnyString() && b.kind.IsAnyString() {
			return strings.Compare(strings.ToLower(seriesText(&a)), strings.ToLower(seriesText(&b))), nil
		}
	case a.kind == KindChar:
		return cmp.Compare(a.Char(), b.Char()), nil
	case a.kind == KindTime:
		return cmp.Compare(a.Duration(), b.Duration()), nil
	case a.kind == KindDate:
		return cmp.Compare(a.Time().Unix(), b.Time().Unix()), nil
	case a.kind == KindLogic:
		return cmp.Compare(a.num, b.num), nil
	case a.kind == KindPair:
		ax, ay := a.PairXY()
		bx, by := b.PairXY()
		if ay != by {
			return cmp.Compare(ay, by), nil
		}
		return cmp.Compare(ax, bx), nil
	case a.kind == KindTuple:
		return bytes.Compare(a.TupleBytes(), b.TupleBytes()), nil
	case a.kind.IsAnyString():
		return strings.Compare(strings.ToLower(seriesText(&a)), strings.ToLower(seriesText(&b))), nil
	case a.kind == KindBinary:
		return bytes.Compare(bytesFrom(&a), bytesFrom(&b)), nil
	case a.kind.IsAnyWord():
		return strings.Compare(strings.ToLower(rt.syms.Spelling(a.sym)), strings.ToLower(rt.syms.Spelling(b.sym))), nil
	case a.kind == KindDatatype:
		return cmp.Compare(a.num, b.num), nil
	case a.kind.IsAnyBlock():
		ac, bc := cellsFrom(&a), cellsFrom(&b)
		for i := 0; i < len(ac) && i < len(bc); i++ {
			if n, err := rt.Compare(ac[i], bc[i]); err != nil || n != 0 {
				return n, err
			}
		}
		return cmp.Compare(len(ac), len(bc)), nil
	case a.kind == KindNone:
		return 0, nil
	}
	return 0, rt.Errorf(ErrInvalidType, Datatype(b.kind))
}
