package r3

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ActionID names a polymorphic action. An action has one spec for every
// datatype and dispatches on the type of its first argument.
type ActionID int

const (
	ActAdd ActionID = iota
	ActSubtract
	ActMultiply
	ActDivide
	ActRemainder
	ActNegate
	ActAbsolute
	ActMake
	ActTo
	ActAppend
	ActInsert
	ActRemove
	ActClear
	ActCopy
	ActLength
	ActHead
	ActTail
	ActNext
	ActBack
	ActSkip
	ActAt
	ActIndex
	ActHeadQ
	ActTailQ
	ActPick
	ActPoke
	ActFirst
	ActSecond
	ActThird
	ActLast
	ActSelect
	ActFind
	ActReverse
	ActSort
	ActTake
	ActOpen
	ActClose
	ActRead
	ActWrite
	ActQuery
	actionCount
)

var actionSpecs = [actionCount]struct {
	name string
	spec string
}{
	ActAdd:       {"add", "value1 [scalar! date!] value2 [scalar! date!]"},
	ActSubtract:  {"subtract", "value1 [scalar! date!] value2 [scalar! date!]"},
	ActMultiply:  {"multiply", "value1 [scalar!] value2 [scalar!]"},
	ActDivide:    {"divide", "value1 [scalar!] value2 [scalar!]"},
	ActRemainder: {"remainder", "value1 [scalar!] value2 [scalar!]"},
	ActNegate:    {"negate", "number [scalar!]"},
	ActAbsolute:  {"absolute", "value [scalar!]"},
	ActMake:      {"make", "type [any-type!] spec [any-type!]"},
	ActTo:        {"to", "type [any-type!] spec [any-type!]"},
	ActAppend:    {"append", "series [series! map! any-object! port!] value [any-type!] /only"},
	ActInsert:    {"insert", "series [series! port!] value [any-type!] /only"},
	ActRemove:    {"remove", "series [series! map!] /part range [number! series!] /key k [any-value!]"},
	ActClear:     {"clear", "series [series! map! none!]"},
	ActCopy:      {"copy", "value [any-value!] /part range [number! series!] /deep"},
	ActLength:    {"length?", "series [series! map! any-object! struct! port! none!]"},
	ActHead:      {"head", "series [series!]"},
	ActTail:      {"tail", "series [series!]"},
	ActNext:      {"next", "series [series!]"},
	ActBack:      {"back", "series [series!]"},
	ActSkip:      {"skip", "series [series!] offset [number! logic!]"},
	ActAt:        {"at", "series [series!] index [number!]"},
	ActIndex:     {"index?", "series [series!]"},
	ActHeadQ:     {"head?", "series [series!]"},
	ActTailQ:     {"tail?", "series [series! map! any-object! none!]"},
	ActPick:      {"pick", "aggregate [any-value!] index [any-value!]"},
	ActPoke:      {"poke", "aggregate [series! map! struct!] index [any-value!] value [any-type!]"},
	ActFirst:     {"first", "value [any-value!]"},
	ActSecond:    {"second", "value [any-value!]"},
	ActThird:     {"third", "value [any-value!]"},
	ActLast:      {"last", "value [series! tuple!]"},
	ActSelect:    {"select", "series [series! map! any-object! none!] value [any-type!] /only /case"},
	ActFind:      {"find", "series [series! map! any-object! none!] value [any-type!] /only /case /tail"},
	ActReverse:   {"reverse", "series [series! tuple! pair!]"},
	ActSort:      {"sort", "series [series!] /case /reverse"},
	ActTake:      {"take", "series [series! none!] /last /part range [number!]"},
	ActOpen:      {"open", "spec [file! url! block! port!] /new"},
	ActClose:     {"close", "port [port!]"},
	ActRead:      {"read", "source [file! url! port!] /string"},
	ActWrite:     {"write", "destination [file! url! port!] data [binary! string! block!] /append"},
	ActQuery:     {"query", "target [file! url! port!]"},
}

// actionHandler implements the actions of one datatype
type actionHandler func(rt *Runtime, c *Call, act ActionID) error

var actionHandlers [KindMax]actionHandler

func init() {
	for _, k := range []Kind{KindInteger, KindDecimal, KindPercent, KindMoney} {
		actionHandlers[k] = numberAction
	}
	actionHandlers[KindChar] = charAction
	actionHandlers[KindPair] = pairAction
	actionHandlers[KindTuple] = tupleAction
	actionHandlers[KindTime] = timeAction
	actionHandlers[KindDate] = dateAction
	for k := KindBinary; k <= KindLitPath; k++ {
		actionHandlers[k] = seriesAction
	}
	actionHandlers[KindFile] = fileAction
	actionHandlers[KindURL] = fileAction
	actionHandlers[KindMap] = mapAction
	for k := KindObject; k <= KindError; k++ {
		actionHandlers[k] = objectAction
	}
	actionHandlers[KindPort] = portAction
	actionHandlers[KindNone] = noneAction
	actionHandlers[KindStruct] = structAction
}

func (rt *Runtime) registerActions() {
	for id, a := range actionSpecs {
		cell := rt.makeBuiltin(KindAction, a.spec, id)
		rt.defineLib(a.name, cell)
	}
}

// doAction dispatches an action on the type of its first argument. make and
// to dispatch on the datatype they build, and open on a block opens a port
// from it.
func (rt *Runtime) doAction(c *Call, act ActionID) error {
	if act == ActMake || act == ActTo {
		return rt.makeAction(c, act)
	}
	kind := c.Arg(1).kind
	if act == ActOpen && kind == KindBlock {
		return rt.openPort(c.Out(), *c.Arg(1), c.Refined(2))
	}
	if h := actionHandlers[kind]; h != nil {
		return h(rt, c, act)
	}
	return rt.cannotUse(act, kind)
}

func (rt *Runtime) cannotUse(act ActionID, kind Kind) error {
	return rt.Errorf(ErrCannotUse, rt.wordCell(actionSpecs[act].name), Datatype(kind))
}

// checkModify refuses changes to locked or protected series
func (rt *Runtime) checkModify(s *Series) error {
	switch {
	case s.IsLocked():
		return rt.Errorf(ErrLockedSeries)
	case s.IsProtected():
		return rt.Errorf(ErrProtected)
	}
	return nil
}

// numeric rank: the result of mixed arithmetic takes the higher kind
func numberRank(k Kind) int {
	switch k {
	case KindInteger:
		return 0
	case KindPercent:
		return 1
	case KindDecimal:
		return 2
	case KindMoney:
		return 3
	}
	return -1
}

func numberOf(kind Kind, f float64) Cell {
	switch kind {
	case KindPercent:
		return Percent(f)
	case KindMoney:
		return Money(f)
	}
	return Decimal(f)
}

// intMath applies an operator to two integers, raising overflow and
// zero-divide. Inexact division yields a decimal.
func (rt *Runtime) intMath(act ActionID, a, b int64) (Cell, error) {
	switch act {
	case ActAdd:
		r := a + b
		if (r > a) != (b > 0) {
			return Cell{}, rt.Errorf(ErrOverflow)
		}
		return Integer(r), nil
	case ActSubtract:
		r := a - b
		if (r < a) != (b > 0) {
			return Cell{}, rt.Errorf(ErrOverflow)
		}
		return Integer(r), nil
	case ActMultiply:
		if a == 0 || b == 0 {
			return Integer(0), nil
		}
		r := a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return Cell{}, rt.Errorf(ErrOverflow)
		}
		return Integer(r), nil
	case ActDivide:
		if b == 0 {
			return Cell{}, rt.Errorf(ErrZeroDivide)
		}
		if a == math.MinInt64 && b == -1 {
			return Cell{}, rt.Errorf(ErrOverflow)
		}
		if a%b != 0 {
			return Decimal(float64(a) / float64(b)), nil
		}
		return Integer(a / b), nil
	case ActRemainder:
		if b == 0 {
			return Cell{}, rt.Errorf(ErrZeroDivide)
		}
		if b == -1 {
			return Integer(0), nil
		}
		return Integer(a % b), nil
	}
	return Cell{}, rt.cannotUse(act, KindInteger)
}

// floatMath applies an operator to two decimal payloads
func (rt *Runtime) floatMath(act ActionID, a, b float64) (float64, error) {
	var r float64
	switch act {
	case ActAdd:
		r = a + b
	case ActSubtract:
		r = a - b
	case ActMultiply:
		r = a * b
	case ActDivide:
		if b == 0 {
			return 0, rt.Errorf(ErrZeroDivide)
		}
		r = a / b
	case ActRemainder:
		if b == 0 {
			return 0, rt.Errorf(ErrZeroDivide)
		}
		r = math.Mod(a, b)
	default:
		return 0, rt.cannotUse(act, KindDecimal)
	}
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return 0, rt.Errorf(ErrOverflow)
	}
	return r, nil
}

// Arith applies a binary math action to two values
func (rt *Runtime) Arith(act ActionID, a, b Cell) (Cell, error) {
	ra, rb := numberRank(a.kind), numberRank(b.kind)
	if ra < 0 || rb < 0 {
		return Cell{}, rt.Errorf(ErrExpectArg, rt.wordCell(actionSpecs[act].name), rt.wordCell("value2"), Datatype(b.kind))
	}
	if ra == 0 && rb == 0 {
		return rt.intMath(act, a.Int(), b.Int())
	}
	kind := a.kind
	if rb > ra {
		kind = b.kind
	}
	// percent scales the other operand in multiplication
	if act == ActMultiply && kind == KindPercent && ra != rb {
		kind = a.kind
		if ra == 1 {
			kind = b.kind
		}
		if kind == KindInteger {
			kind = KindDecimal
		}
	}
	r, err := rt.floatMath(act, a.Float(), b.Float())
	if err != nil {
		return Cell{}, err
	}
	return numberOf(kind, r), nil
}

func numberAction(rt *Runtime, c *Call, act ActionID) error {
	a := *c.Arg(1)
	out := c.Out()
	switch act {
	case ActAdd, ActSubtract, ActMultiply, ActDivide, ActRemainder:
		b := *c.Arg(2)
		switch {
		case b.kind == KindPair || b.kind == KindTuple || b.kind == KindTime:
			if act == ActAdd || act == ActMultiply {
				c.args[1], c.args[2] = b, a
				return actionHandlers[b.kind](rt, c, act)
			}
			if b.kind == KindTime && a.kind != KindMoney {
				r, err := rt.floatMath(act, a.Float(), b.Duration().Seconds())
				if err != nil {
					return err
				}
				*out = TimeOf(time.Duration(r * float64(time.Second)))
				return nil
			}
			return rt.Errorf(ErrExpectArg, rt.wordCell(actionSpecs[act].name), rt.wordCell("value2"), Datatype(b.kind))
		case b.kind == KindChar:
			b = Integer(int64(b.Char()))
		case b.kind == KindDate && act == ActAdd:
			c.args[1], c.args[2] = b, a
			return dateAction(rt, c, act)
		}
		r, err := rt.Arith(act, a, b)
		if err != nil {
			return err
		}
		*out = r
		return nil
	case ActNegate:
		if a.kind == KindInteger {
			if a.Int() == math.MinInt64 {
				return rt.Errorf(ErrOverflow)
			}
			*out = Integer(-a.Int())
			return nil
		}
		*out = numberOf(a.kind, -a.Float())
		return nil
	case ActAbsolute:
		if a.kind == KindInteger {
			n := a.Int()
			if n == math.MinInt64 {
				return rt.Errorf(ErrOverflow)
			}
			if n < 0 {
				n = -n
			}
			*out = Integer(n)
			return nil
		}
		*out = numberOf(a.kind, math.Abs(a.Float()))
		return nil
	}
	return rt.cannotUse(act, a.kind)
}

func (rt *Runtime) checkChar(n int64) (Cell, error) {
	if n < 0 || n > 0x10FFFF {
		return Cell{}, rt.Errorf(ErrOverflow)
	}
	return Char(rune(n)), nil
}

func charAction(rt *Runtime, c *Call, act ActionID) error {
	a := *c.Arg(1)
	switch act {
	case ActAdd, ActSubtract, ActMultiply, ActDivide, ActRemainder:
		b := *c.Arg(2)
		var n int64
		switch b.kind {
		case KindChar:
			n = int64(b.Char())
		case KindInteger:
			n = b.Int()
		default:
			return rt.Errorf(ErrExpectArg, rt.wordCell(actionSpecs[act].name), rt.wordCell("value2"), Datatype(b.kind))
		}
		r, err := rt.intMath(act, int64(a.Char()), n)
		if err != nil {
			return err
		}
		if r.kind != KindInteger {
			r = Integer(int64(r.Float()))
		}
		ch, err := rt.checkChar(r.Int())
		if err != nil {
			return err
		}
		*c.Out() = ch
		return nil
	}
	return rt.cannotUse(act, a.kind)
}

func pairAction(rt *Runtime, c *Call, act ActionID) error {
	a := *c.Arg(1)
	ax, ay := a.PairXY()
	switch act {
	case ActAdd, ActSubtract, ActMultiply, ActDivide, ActRemainder:
		b := *c.Arg(2)
		var bx, by float32
		switch {
		case b.kind == KindPair:
			bx, by = b.PairXY()
		case b.kind.IsNumber():
			bx, by = float32(b.Float()), float32(b.Float())
		default:
			return rt.Errorf(ErrExpectArg, rt.wordCell(actionSpecs[act].name), rt.wordCell("value2"), Datatype(b.kind))
		}
		x, err := rt.floatMath(act, float64(ax), float64(bx))
		if err != nil {
			return err
		}
		y, err := rt.floatMath(act, float64(ay), float64(by))
		if err != nil {
			return err
		}
		*c.Out() = Pair(float32(x), float32(y))
		return nil
	case ActNegate:
		*c.Out() = Pair(-ax, -ay)
		return nil
	case ActAbsolute:
		*c.Out() = Pair(float32(math.Abs(float64(ax))), float32(math.Abs(float64(ay))))
		return nil
	case ActReverse:
		*c.Out() = Pair(ay, ax)
		return nil
	case ActPick, ActFirst, ActSecond:
		return rt.pickValue(c, act)
	}
	return rt.cannotUse(act, a.kind)
}

func tupleAction(rt *Runtime, c *Call, act ActionID) error {
	a := *c.Arg(1)
	parts := a.TupleBytes()
	switch act {
	case ActAdd, ActSubtract, ActMultiply, ActDivide, ActRemainder:
		b := *c.Arg(2)
		other := make([]int64, len(parts))
		switch {
		case b.kind == KindTuple:
			bp := b.TupleBytes()
			for i := range other {
				if i < len(bp) {
					other[i] = int64(bp[i])
				}
			}
			for len(parts) < len(bp) {
				parts = append(parts, 0)
				other = append(other, int64(bp[len(other)]))
			}
		case b.kind == KindInteger || b.kind == KindDecimal:
			for i := range other {
				other[i] = int64(b.Float())
			}
		default:
			return rt.Errorf(ErrExpectArg, rt.wordCell(actionSpecs[act].name), rt.wordCell("value2"), Datatype(b.kind))
		}
		for i, p := range parts {
			r, err := rt.intMath(act, int64(p), other[i])
			if err != nil {
				return err
			}
			n := int64(r.Float())
			parts[i] = byte(min(max(n, 0), 255))
		}
		*c.Out() = Tuple(parts)
		return nil
	case ActReverse:
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
		*c.Out() = Tuple(parts)
		return nil
	case ActLength:
		*c.Out() = Integer(int64(len(parts)))
		return nil
	case ActPick, ActFirst, ActSecond, ActThird, ActLast:
		return rt.pickValue(c, act)
	}
	return rt.cannotUse(act, a.kind)
}

func timeAction(rt *Runtime, c *Call, act ActionID) error {
	a := *c.Arg(1)
	secs := a.Duration().Seconds()
	switch act {
	case ActAdd, ActSubtract, ActMultiply, ActDivide, ActRemainder:
		b := *c.Arg(2)
		var n float64
		switch {
		case b.kind == KindTime:
			n = b.Duration().Seconds()
		case b.kind.IsNumber():
			n = b.Float()
		default:
			return rt.Errorf(ErrExpectArg, rt.wordCell(actionSpecs[act].name), rt.wordCell("value2"), Datatype(b.kind))
		}
		r, err := rt.floatMath(act, secs, n)
		if err != nil {
			return err
		}
		if act == ActDivide && b.kind == KindTime {
			*c.Out() = Decimal(r)
			return nil
		}
		*c.Out() = TimeOf(time.Duration(math.Round(r * float64(time.Second))))
		return nil
	case ActNegate:
		*c.Out() = TimeOf(-a.Duration())
		return nil
	case ActAbsolute:
		*c.Out() = TimeOf(a.Duration().Abs())
		return nil
	case ActPick:
		return rt.pickValue(c, act)
	}
	return rt.cannotUse(act, a.kind)
}

func dateAction(rt *Runtime, c *Call, act ActionID) error {
	a := *c.Arg(1)
	t := a.Time()
	switch act {
	case ActAdd, ActSubtract:
		b := *c.Arg(2)
		sign := 1
		if act == ActSubtract {
			sign = -1
		}
		switch b.kind {
		case KindInteger:
			*c.Out() = DateOf(t.AddDate(0, 0, sign*int(b.Int())))
			return nil
		case KindTime:
			*c.Out() = DateOf(t.Add(time.Duration(sign) * b.Duration()))
			return nil
		case KindDate:
			if act == ActSubtract {
				days := t.Sub(b.Time()).Hours() / 24
				*c.Out() = Integer(int64(math.Round(days)))
				return nil
			}
		}
		return rt.Errorf(ErrExpectArg, rt.wordCell(actionSpecs[act].name), rt.wordCell("value2"), Datatype(b.kind))
	case ActPick:
		return rt.pickValue(c, act)
	}
	return rt.cannotUse(act, a.kind)
}

func noneAction(rt *Runtime, c *Call, act ActionID) error {
	switch act {
	case ActLength, ActSelect, ActFind, ActTake, ActClear:
		*c.Out() = None()
		return nil
	case ActTailQ:
		*c.Out() = Logic(true)
		return nil
	}
	return rt.cannotUse(act, KindNone)
}

// pickValue implements pick and its fixed-position forms for values that
// are not series
func (rt *Runtime) pickValue(c *Call, act ActionID) error {
	v := *c.Arg(1)
	var k Cell
	switch act {
	case ActPick:
		k = *c.Arg(2)
	case ActFirst:
		k = Integer(1)
	case ActSecond:
		k = Integer(2)
	case ActThird:
		k = Integer(3)
	case ActLast:
		n := 1
		if v.kind == KindTuple {
			n = len(v.TupleBytes())
		}
		k = Integer(int64(n))
	}
	var scratch Cell
	slot, status := rt.pathPick(v, k, &scratch)
	switch status {
	case pathFound:
		*c.Out() = *slot
	case pathStored:
		*c.Out() = scratch
	default:
		*c.Out() = None()
	}
	return nil
}

// makeAction builds a value of a datatype, or of the type of a prototype
// value, from a spec
func (rt *Runtime) makeAction(c *Call, act ActionID) error {
	t := *c.Arg(1)
	spec := *c.Arg(2)
	out := c.Out()
	kind := t.kind
	var proto *Cell
	if t.kind == KindDatatype {
		kind = t.DatatypeKind()
	} else {
		proto = &t
	}
	to := act == ActTo
	bad := func() error {
		return rt.Errorf(ErrBadMake, Datatype(kind), spec)
	}

	switch {
	case kind == KindInteger:
		switch {
		case spec.kind == KindInteger:
			*out = spec
		case spec.kind.IsNumber():
			f := spec.Float()
			if f > math.MaxInt64 || f < math.MinInt64 || math.IsNaN(f) {
				return rt.Errorf(ErrOverflow)
			}
			*out = Integer(int64(f))
		case spec.kind == KindLogic:
			*out = Integer(int64(spec.num))
		case spec.kind == KindChar:
			*out = Integer(int64(spec.Char()))
		case spec.kind == KindTime:
			*out = Integer(int64(spec.Duration().Seconds()))
		case spec.kind.IsAnyString():
			n, err := strconv.ParseInt(strings.TrimSpace(seriesText(&spec)), 10, 64)
			if err != nil {
				f, ferr := strconv.ParseFloat(strings.TrimSpace(seriesText(&spec)), 64)
				if ferr != nil {
					return bad()
				}
				n = int64(f)
			}
			*out = Integer(n)
		default:
			return bad()
		}
		return nil

	case kind == KindDecimal || kind == KindPercent || kind == KindMoney:
		switch {
		case spec.kind.IsNumber():
			*out = numberOf(kind, spec.Float())
		case spec.kind.IsAnyString():
			text := strings.TrimSpace(seriesText(&spec))
			text = strings.TrimPrefix(strings.TrimSuffix(text, "%"), "$")
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return bad()
			}
			if kind == KindPercent && strings.HasSuffix(seriesText(&spec), "%") {
				f /= 100
			}
			*out = numberOf(kind, f)
		case spec.kind == KindTime:
			*out = numberOf(kind, spec.Duration().Seconds())
		default:
			return bad()
		}
		return nil

	case kind == KindLogic:
		switch {
		case spec.kind.IsNumber():
			*out = Logic(spec.Float() != 0)
		default:
			*out = Logic(spec.IsTruthy())
		}
		return nil

	case kind == KindChar:
		switch {
		case spec.kind == KindInteger:
			ch, err := rt.checkChar(spec.Int())
			if err != nil {
				return err
			}
			*out = ch
		case spec.kind == KindChar:
			*out = spec
		case spec.kind.IsAnyString():
			rs := []rune(seriesText(&spec))
			if len(rs) == 0 {
				return bad()
			}
			*out = Char(rs[0])
		default:
			return bad()
		}
		return nil

	case kind == KindNone:
		*out = None()
		return nil

	case kind == KindPair:
		switch {
		case spec.kind == KindPair:
			*out = spec
		case spec.kind.IsNumber():
			*out = Pair(float32(spec.Float()), float32(spec.Float()))
		case spec.kind == KindBlock:
			xs := cellsFrom(&spec)
			if len(xs) != 2 || !xs[0].kind.IsNumber() || !xs[1].kind.IsNumber() {
				return bad()
			}
			*out = Pair(float32(xs[0].Float()), float32(xs[1].Float()))
		default:
			return bad()
		}
		return nil

	case kind == KindTuple:
		switch {
		case spec.kind == KindTuple:
			*out = spec
		case spec.kind == KindBlock || spec.kind == KindBinary:
			var parts []byte
			if spec.kind == KindBinary {
				parts = bytesFrom(&spec)
			} else {
				for _, x := range cellsFrom(&spec) {
					if x.kind != KindInteger || x.Int() < 0 || x.Int() > 255 {
						return bad()
					}
					parts = append(parts, byte(x.Int()))
				}
			}
			if len(parts) < 3 || len(parts) > 8 {
				return bad()
			}
			*out = Tuple(parts)
		default:
			return bad()
		}
		return nil

	case kind == KindTime:
		switch {
		case spec.kind == KindTime:
			*out = spec
		case spec.kind.IsNumber():
			*out = TimeOf(time.Duration(spec.Float() * float64(time.Second)))
		case spec.kind.IsAnyString():
			d, err := parseTimeText(seriesText(&spec))
			if err != nil {
				return bad()
			}
			*out = TimeOf(d)
		default:
			return bad()
		}
		return nil

	case kind == KindDate:
		switch {
		case spec.kind == KindDate:
			*out = spec
		case spec.kind.IsAnyString():
			v, err := rt.scanOne(seriesText(&spec))
			if err != nil || v.kind != KindDate {
				return bad()
			}
			*out = v
		case spec.kind == KindBlock:
			xs := cellsFrom(&spec)
			if len(xs) < 3 || xs[0].kind != KindInteger || xs[1].kind != KindInteger || xs[2].kind != KindInteger {
				return bad()
			}
			t := time.Date(int(xs[2].Int()), time.Month(xs[1].Int()), int(xs[0].Int()), 0, 0, 0, 0, time.UTC)
			if len(xs) > 3 && xs[3].kind == KindTime {
				t = t.Add(xs[3].Duration())
			}
			*out = DateOf(t)
		default:
			return bad()
		}
		return nil

	case kind == KindDatatype:
		*out = Datatype(spec.kind)
		if spec.kind.IsAnyWord() {
			if k, ok := KindFromTypeName(rt.syms.Spelling(spec.sym)); ok {
				*out = Datatype(k)
			}
		}
		return nil

	case kind == KindTypeset:
		if spec.kind != KindBlock {
			return bad()
		}
		ts, err := rt.typesetFromBlock(spec.ser)
		if err != nil {
			return err
		}
		*out = TypesetCell(ts)
		return nil

	case kind.IsAnyWord():
		switch {
		case spec.kind.IsAnyWord():
			*out = Word(kind, spec.sym)
		case spec.kind.IsAnyString():
			text := seriesText(&spec)
			if text == "" || strings.ContainsAny(text, " \t\n[](){}\";") {
				return bad()
			}
			*out = Word(kind, rt.syms.Intern(text))
		case spec.kind == KindDatatype:
			*out = Word(kind, rt.syms.Intern(spec.DatatypeKind().TypeName()))
		case spec.kind == KindLogic || spec.kind == KindNone:
			*out = Word(kind, rt.syms.Intern(rt.Form(spec)))
		default:
			return bad()
		}
		return nil

	case kind.IsAnyString():
		var text string
		switch {
		case !to && spec.kind.IsNumber():
			*out = SeriesCell(kind, rt.pool.MakeSeries(int(spec.Float()), WidthRune, SerManaged), 0)
			return nil
		case spec.kind == KindBinary:
			text = string(bytesFrom(&spec))
		case spec.kind == KindBlock && !to:
			var sb strings.Builder
			for _, x := range cellsFrom(&spec) {
				sb.WriteString(rt.Form(x))
			}
			text = sb.String()
		default:
			text = rt.Form(spec)
		}
		*out = rt.stringCell(text).asKind(kind)
		return nil

	case kind == KindBinary:
		switch {
		case !to && spec.kind.IsNumber():
			*out = SeriesCell(KindBinary, rt.pool.MakeSeries(int(spec.Float()), WidthByte, SerManaged), 0)
		case spec.kind == KindBinary:
			b := rt.pool.MakeBinary(bytesFrom(&spec))
			b.Manage()
			*out = SeriesCell(KindBinary, b, 0)
		case spec.kind.IsAnyString():
			b := rt.pool.MakeBinary([]byte(seriesText(&spec)))
			b.Manage()
			*out = SeriesCell(KindBinary, b, 0)
		case spec.kind == KindBlock:
			s := rt.pool.MakeSeries(spec.ser.Len(), WidthByte, 0)
			if err := rt.appendBinary(s, spec); err != nil {
				rt.pool.FreeSeries(s)
				return err
			}
			s.Manage()
			*out = SeriesCell(KindBinary, s, 0)
		case spec.kind == KindTuple:
			b := rt.pool.MakeBinary(spec.TupleBytes())
			b.Manage()
			*out = SeriesCell(KindBinary, b, 0)
		default:
			return bad()
		}
		return nil

	case kind.IsAnyBlock():
		switch {
		case !to && spec.kind.IsNumber():
			*out = SeriesCell(kind, rt.pool.MakeArray(int(spec.Float()), SerManaged), 0)
		case spec.kind.IsAnyBlock():
			s := rt.pool.CopyArray(spec.ser, spec.index, spec.ser.Len(), !to, true)
			*out = SeriesCell(kind, s, 0)
		case spec.kind == KindString && !to:
			s, err := rt.Scan(seriesText(&spec), "make")
			if err != nil {
				return err
			}
			*out = SeriesCell(kind, s, 0)
		case spec.kind.IsAnyObject():
			s := rt.pool.MakeArray(spec.ser.Len()*2, 0)
			keys := frameKeys(spec.ser)
			for i := 1; i < spec.ser.Len(); i++ {
				if keys.At(i).HasFlag(FlagHidden) {
					continue
				}
				s.Append(Word(KindSetWord, keys.At(i).sym), *spec.ser.At(i))
			}
			s.Manage()
			*out = SeriesCell(kind, s, 0)
		case spec.kind == KindMap:
			s := rt.pool.CopyArray(spec.ser, 0, spec.ser.Len(), false, true)
			*out = SeriesCell(kind, s, 0)
		default:
			*out = rt.blockCell(kind, spec)
		}
		return nil

	case kind == KindMap:
		switch {
		case spec.kind.IsNumber():
			m := rt.pool.MakeArray(int(spec.Float())*2, SerManaged)
			*out = Cell{kind: KindMap, ser: m}
			return nil
		case spec.kind == KindBlock:
			m, err := rt.makeMap(cellsFrom(&spec))
			if err != nil {
				return err
			}
			*out = m
			return nil
		case spec.kind == KindMap:
			m, err := rt.makeMap(spec.ser.Cells())
			if err != nil {
				return err
			}
			*out = m
			return nil
		}
		return bad()

	case kind == KindObject || kind == KindModule:
		var parent *Series
		if proto != nil && proto.kind.IsAnyObject() {
			parent = proto.ser
		}
		switch {
		case spec.kind == KindBlock:
			body := rt.pool.CopyArray(spec.ser, spec.index, spec.ser.Len(), true, true)
			rt.PushGuard(body)
			defer rt.DropGuard(body)
			return rt.MakeObject(out, body, 0, parent, kind)
		case spec.kind.IsAnyObject() && parent != nil:
			vals := rt.CopyFrame(parent, true)
			*out = ObjectCell(kind, vals)
			for i, k := range frameKeys(spec.ser).Cells() {
				if i == 0 {
					continue
				}
				w, ok := rt.wordIn(vals, k.sym)
				if !ok {
					continue
				}
				*vals.At(w.index) = *spec.ser.At(i)
			}
			return nil
		case spec.kind == KindNone && parent != nil:
			*out = ObjectCell(kind, rt.CopyFrame(parent, true))
			return nil
		}
		return bad()

	case kind == KindError:
		return rt.makeError(out, spec)

	case kind == KindFunction || kind == KindClosure:
		xs := cellsFrom(&spec)
		if spec.kind != KindBlock || len(xs) != 2 || xs[0].kind != KindBlock || xs[1].kind != KindBlock {
			return bad()
		}
		return rt.makeFunc(out, kind, xs[0].ser, xs[1].ser)

	case kind == KindPort:
		return rt.openPort(out, spec, false)

	case kind == KindStruct:
		return rt.makeStruct(out, spec)

	case kind == KindRoutine:
		return rt.makeRoutine(out, spec)

	case kind == KindUnset:
		*out = Unset()
		return nil
	}
	return bad()
}

// makeError builds an error! value from a message or a field block. Words
// in the block bind to the error fields; the code follows from the id.
func (rt *Runtime) makeError(out *Cell, spec Cell) error {
	switch spec.kind {
	case KindString:
		*out = rt.errorToCell(rt.UserError(seriesText(&spec)))
		return nil
	case KindError:
		*out = spec
		return nil
	case KindBlock:
	default:
		return rt.Errorf(ErrBadMake, Datatype(KindError), spec)
	}
	e := rt.UserError("")
	e.Custom = ""
	errVal := rt.errorToCell(e)
	*errVal.ser.At(4) = None()
	vals := errVal.ser
	rt.PushGuard(vals)
	defer rt.DropGuard(vals)

	body := rt.pool.CopyArray(spec.ser, spec.index, spec.ser.Len(), true, true)
	rt.PushGuard(body)
	defer rt.DropGuard(body)
	if err := rt.Bind(body, 0, vals, BindDeep); err != nil {
		return err
	}
	var tmp Cell
	if err := rt.DoBlock(&tmp, body, 0); err != nil {
		return err
	}
	if tmp.IsThrown() {
		*out = tmp
		return nil
	}
	id := vals.At(3)
	if id.kind.IsAnyWord() {
		if found, ok := errorIDByName(rt.syms.Spelling(id.sym)); ok {
			*vals.At(1) = Integer(int64(codeOf(found)))
			*vals.At(2) = Word(KindWord, categoryInfo[errorCatalog[found].cat].sym)
		}
	}
	*out = errVal
	return nil
}

// scanOne scans text holding a single value
func (rt *Runtime) scanOne(text string) (Cell, error) {
	block, err := rt.Scan(text, "load")
	if err != nil {
		return Cell{}, err
	}
	if block.Len() != 1 {
		return Cell{}, rt.Errorf(ErrInvalid, rt.wordCell("value"), rt.stringCell(text))
	}
	return *block.At(0), nil
}
