package r3

import (
	"math"
	"time"
)

// CellFlags are per-cell extension bits
type CellFlags uint16

const (
	FlagThrown      CellFlags = 1 << iota // Cell is the payload of a non-local control transfer
	FlagInfix                             // Function is invoked after its first argument
	FlagNewline                           // Molded on a new line
	FlagProtected                         // Key: the word cannot be set
	FlagHidden                            // Key: not listed by words-of
	FlagLocked                            // Key: the word cannot be set or unset, permanently
	FlagParamLit                          // Key: literal ('word) parameter
	FlagParamGet                          // Key: get (:word) parameter
	FlagParamRefine                       // Key: refinement (/word)
	FlagParamLocal                        // Key: local, never filled from source
)

// paramMask covers the parameter class bits of a key
const paramMask = FlagParamLit | FlagParamGet | FlagParamRefine | FlagParamLocal

// Cell is the fixed-size tagged value used for every runtime datum.
//
// Payload use by kind:
//   - scalars keep their bits in num (integer, decimal bits, char, logic,
//     pair as two float32, tuple bytes with length in index, time in ns,
//     date as unix seconds with the zone offset in minutes in index)
//   - series kinds reference ser at position index
//   - word kinds keep sym and their binding (ser, index); see words.go
//   - function kinds keep the paramlist in ser and the body in aux
//   - object kinds keep the frame values in ser
//   - a frame marker (slot 0 of a frame) keeps the keylist in ser and the
//     values in aux
type Cell struct {
	kind    Kind
	flags   CellFlags
	sym     Symbol
	index   int
	num     uint64
	ser     *Series
	aux     *Series
	routine *RoutineInfo
	handle  *Handle
}

// Kind returns the datatype of the cell
func (c *Cell) Kind() Kind {
	return c.kind
}

// Is reports whether the cell has the given kind
func (c *Cell) Is(k Kind) bool {
	return c.kind == k
}

// Flags returns the extension bits of the cell
func (c *Cell) Flags() CellFlags {
	return c.flags
}

// HasFlag reports whether all bits of f are set
func (c *Cell) HasFlag(f CellFlags) bool {
	return c.flags&f == f
}

// SetFlag sets the bits of f
func (c *Cell) SetFlag(f CellFlags) {
	c.flags |= f
}

// ClearFlag clears the bits of f
func (c *Cell) ClearFlag(f CellFlags) {
	c.flags &^= f
}

// IsThrown reports whether the cell carries a thrown payload
func (c *Cell) IsThrown() bool {
	return c.flags&FlagThrown != 0
}

// IsTruthy follows the language rule: only none, false and unset are false
func (c *Cell) IsTruthy() bool {
	switch c.kind {
	case KindNone, KindUnset, KindEnd:
		return false
	case KindLogic:
		return c.num != 0
	}
	return true
}

// Series returns the referenced series, if any
func (c *Cell) Series() *Series {
	return c.ser
}

// Index returns the series position or binding index
func (c *Cell) Index() int {
	return c.index
}

// Symbol returns the word symbol
func (c *Cell) Symbol() Symbol {
	return c.sym
}

// Int returns the integer payload
func (c *Cell) Int() int64 {
	return int64(c.num)
}

// Float returns the decimal payload, converting integers
func (c *Cell) Float() float64 {
	if c.kind == KindInteger {
		return float64(int64(c.num))
	}
	return math.Float64frombits(c.num)
}

// Logic returns the logic payload
func (c *Cell) Logic() bool {
	return c.num != 0
}

// Char returns the char payload
func (c *Cell) Char() rune {
	return rune(c.num)
}

// PairXY returns the two pair coordinates
func (c *Cell) PairXY() (float32, float32) {
	return math.Float32frombits(uint32(c.num >> 32)), math.Float32frombits(uint32(c.num))
}

// TupleBytes returns the tuple components
func (c *Cell) TupleBytes() []byte {
	out := make([]byte, c.index)
	for i := 0; i < c.index; i++ {
		out[i] = byte(c.num >> (8 * uint(i)))
	}
	return out
}

// Duration returns the time payload
func (c *Cell) Duration() time.Duration {
	return time.Duration(int64(c.num))
}

// Time returns the date payload in its stored zone
func (c *Cell) Time() time.Time {
	zone := time.FixedZone("", c.index*60)
	return time.Unix(int64(c.num), 0).In(zone)
}

// DatatypeKind returns the kind a datatype cell denotes
func (c *Cell) DatatypeKind() Kind {
	return Kind(c.num)
}

// Typeset returns the typeset payload of a typeset or key cell
func (c *Cell) Typeset() Typeset {
	return Typeset(c.num)
}

// Routine returns the routine info node of a routine cell
func (c *Cell) Routine() *RoutineInfo {
	return c.routine
}

// Handle returns the handle node of a handle or library cell
func (c *Cell) Handle() *Handle {
	return c.handle
}

// Constructors. All of them return a value; cells are copied freely.

// EndCell returns the end-of-block sentinel
func EndCell() Cell { return Cell{kind: KindEnd} }

// Unset returns the unset value
func Unset() Cell { return Cell{kind: KindUnset} }

// None returns the none value
func None() Cell { return Cell{kind: KindNone} }

// Logic returns a logic value
func Logic(b bool) Cell {
	c := Cell{kind: KindLogic}
	if b {
		c.num = 1
	}
	return c
}

// Integer returns an integer value
func Integer(i int64) Cell { return Cell{kind: KindInteger, num: uint64(i)} }

// Decimal returns a decimal value
func Decimal(f float64) Cell { return Cell{kind: KindDecimal, num: math.Float64bits(f)} }

// Percent returns a percent value (stored as the fraction, 50% == 0.5)
func Percent(f float64) Cell { return Cell{kind: KindPercent, num: math.Float64bits(f)} }

// Money returns a money value
func Money(f float64) Cell { return Cell{kind: KindMoney, num: math.Float64bits(f)} }

// Char returns a char value
func Char(r rune) Cell { return Cell{kind: KindChar, num: uint64(r)} }

// Pair returns a pair value
func Pair(x, y float32) Cell {
	return Cell{kind: KindPair, num: uint64(math.Float32bits(x))<<32 | uint64(math.Float32bits(y))}
}

// Tuple returns a tuple value of up to 8 components
func Tuple(parts []byte) Cell {
	c := Cell{kind: KindTuple, index: len(parts)}
	if c.index > 8 {
		c.index = 8
	}
	for i := 0; i < c.index; i++ {
		c.num |= uint64(parts[i]) << (8 * uint(i))
	}
	return c
}

// TimeOf returns a time value
func TimeOf(d time.Duration) Cell { return Cell{kind: KindTime, num: uint64(int64(d))} }

// DateOf returns a date value with second precision
func DateOf(t time.Time) Cell {
	_, offset := t.Zone()
	return Cell{kind: KindDate, num: uint64(t.Unix()), index: offset / 60}
}

// Datatype returns the datatype value for k
func Datatype(k Kind) Cell { return Cell{kind: KindDatatype, num: uint64(k)} }

// TypesetCell returns a typeset value
func TypesetCell(ts Typeset) Cell { return Cell{kind: KindTypeset, num: uint64(ts)} }

// Word returns an unbound word of the given kind
func Word(kind Kind, sym Symbol) Cell { return Cell{kind: kind, sym: sym} }

// SeriesCell returns a series value of the given kind at index
func SeriesCell(kind Kind, s *Series, index int) Cell {
	return Cell{kind: kind, ser: s, index: index}
}

// ObjectCell returns an object-like value for the frame values series
func ObjectCell(kind Kind, frame *Series) Cell {
	return Cell{kind: kind, ser: frame}
}

// key returns a frame key for sym accepting the typeset ts
func key(sym Symbol, ts Typeset) Cell {
	return Cell{kind: KindTypeset, sym: sym, num: uint64(ts)}
}

// trash returns a slot-freshness marker
func trash() Cell { return Cell{kind: KindTrash} }

// setThrown marks the cell as a thrown payload
func (c *Cell) setThrown() {
	c.flags |= FlagThrown
}

// clearThrown removes the thrown marker
func (c *Cell) clearThrown() {
	c.flags &^= FlagThrown
}

// asKind returns a copy of the cell re-tagged as kind, used for word and path
// form conversions (lit-word to word and so on)
func (c Cell) asKind(kind Kind) Cell {
	c.kind = kind
	c.flags &^= FlagThrown | FlagNewline
	return c
}

// isFunctionValue reports whether c holds something the evaluator invokes
func (c *Cell) isFunctionValue() bool {
	return c.kind.IsAnyFunction()
}

// ExitStatus converts a QUIT/EXIT payload to a process exit code: integers
// pass through 32-bit truncation, none and unset map to 0, errors to their
// numeric code and anything else to 1.
func ExitStatus(c Cell) int {
	switch c.kind {
	case KindInteger:
		return int(int32(c.Int()))
	case KindNone, KindUnset, KindEnd:
		return 0
	case KindError:
		if code, ok := errorCodeOf(c); ok {
			return code
		}
		return 1
	}
	return 1
}
