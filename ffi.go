package r3

import (
	"encoding/binary"
	"math"
	"strings"
)

// FFIType tags the native representation of a routine argument, result or
// struct field
type FFIType uint8

const (
	FFIVoid FFIType = iota
	FFIInt8
	FFIInt16
	FFIInt32
	FFIInt64
	FFIUint8
	FFIUint16
	FFIUint32
	FFIUint64
	FFIFloat
	FFIDouble
	FFIPointer
	FFIStruct
)

var ffiTypeNames = [...]string{
	FFIVoid:    "void",
	FFIInt8:    "int8",
	FFIInt16:   "int16",
	FFIInt32:   "int32",
	FFIInt64:   "int64",
	FFIUint8:   "uint8",
	FFIUint16:  "uint16",
	FFIUint32:  "uint32",
	FFIUint64:  "uint64",
	FFIFloat:   "float",
	FFIDouble:  "double",
	FFIPointer: "pointer",
	FFIStruct:  "struct",
}

func (t FFIType) String() string {
	if int(t) < len(ffiTypeNames) {
		return ffiTypeNames[t]
	}
	return "unknown"
}

// Size returns the byte size of a scalar type; struct and void are 0
func (t FFIType) Size() int {
	switch t {
	case FFIInt8, FFIUint8:
		return 1
	case FFIInt16, FFIUint16:
		return 2
	case FFIInt32, FFIUint32, FFIFloat:
		return 4
	case FFIInt64, FFIUint64, FFIDouble, FFIPointer:
		return 8
	}
	return 0
}

// ffiTypeByName resolves a type tag word
func ffiTypeByName(name string) (FFIType, bool) {
	name = strings.ToLower(name)
	for i, n := range ffiTypeNames {
		if n == name {
			return FFIType(i), true
		}
	}
	return 0, false
}

// typesetFor is the set of values a parameter of type t accepts
func typesetFor(t FFIType) Typeset {
	switch t {
	case FFIFloat, FFIDouble:
		return TypesetOf(KindDecimal, KindInteger)
	case FFIStruct:
		return TypesetOf(KindStruct)
	case FFIPointer:
		return TypesetOf(KindInteger, KindNone)
	}
	return TypesetOf(KindInteger, KindChar, KindLogic)
}

// RoutineInfo describes a foreign function
type RoutineInfo struct {
	nodeHeader
	spec *Series
	lib  *Handle
	name string
	args []FFIType
	ret  FFIType
}

// Name returns the symbol name of the routine in its library
func (r *RoutineInfo) Name() string { return r.name }

// ArgTypes returns the argument type tags
func (r *RoutineInfo) ArgTypes() []FFIType { return r.args }

// Result returns the return type tag
func (r *RoutineInfo) Result() FFIType { return r.ret }

// Handle is an opaque host resource. When the collector frees an
// unreferenced handle it runs free first. Pinned handles are never freed.
type Handle struct {
	nodeHeader
	pinned bool
	free   func(*Handle)
	value  any
}

// Value returns the host resource
func (h *Handle) Value() any { return h.value }

// ForeignCaller performs native calls for routine! values. The runtime
// only marshals: arguments and the result are little-endian byte images of
// their type tags, struct arguments are the struct's bytes.
type ForeignCaller interface {
	Open(path string) (any, error)
	Close(lib any) error
	Call(lib any, name string, args [][]byte, argTypes []FFIType, ret FFIType) ([]byte, error)
}

// NewHandle wraps a host resource in a collectable handle
func (rt *Runtime) NewHandle(value any, free func(*Handle)) *Handle {
	h := rt.pool.AllocHandle()
	h.value = value
	h.free = free
	return h
}

// HandleCell returns a handle! value for h
func HandleCell(h *Handle) Cell {
	return Cell{kind: KindHandle, handle: h}
}

func (rt *Runtime) ffiError(detail string) error {
	return rt.Errorf(ErrFFICall, rt.stringCell(detail))
}

// marshal converts a value to the byte image of type t
func (rt *Runtime) marshal(t FFIType, v Cell) ([]byte, error) {
	if t == FFIStruct {
		if v.kind != KindStruct {
			return nil, rt.Errorf(ErrInvalidArg, v)
		}
		return append([]byte(nil), v.ser.Bytes()...), nil
	}
	buf := make([]byte, t.Size())
	if err := rt.marshalInto(buf, t, v); err != nil {
		return nil, err
	}
	return buf, nil
}

// marshalInto stores v into buf, which has the size of t
func (rt *Runtime) marshalInto(buf []byte, t FFIType, v Cell) error {
	switch t {
	case FFIFloat, FFIDouble:
		var f float64
		switch v.kind {
		case KindDecimal, KindPercent, KindMoney:
			f = v.Float()
		case KindInteger:
			f = float64(v.Int())
		default:
			return rt.Errorf(ErrInvalidArg, v)
		}
		if t == FFIFloat {
			if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
				return rt.Errorf(ErrOutOfRange, v)
			}
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
			return nil
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return nil
	case FFIVoid, FFIStruct:
		return rt.Errorf(ErrBadFFIType, rt.wordCell(t.String()))
	}

	var n int64
	switch v.kind {
	case KindInteger:
		n = v.Int()
	case KindChar:
		n = int64(v.Char())
	case KindLogic:
		if v.Logic() {
			n = 1
		}
	case KindNone:
		if t != FFIPointer {
			return rt.Errorf(ErrInvalidArg, v)
		}
	default:
		return rt.Errorf(ErrInvalidArg, v)
	}
	if !fitsType(t, n) {
		return rt.Errorf(ErrOutOfRange, v)
	}
	switch t.Size() {
	case 1:
		buf[0] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(n))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(n))
	}
	return nil
}

// fitsType reports whether n is representable in t. Unsigned 64-bit and
// pointer values carry their bit pattern in an integer.
func fitsType(t FFIType, n int64) bool {
	switch t {
	case FFIInt8:
		return n >= math.MinInt8 && n <= math.MaxInt8
	case FFIInt16:
		return n >= math.MinInt16 && n <= math.MaxInt16
	case FFIInt32:
		return n >= math.MinInt32 && n <= math.MaxInt32
	case FFIUint8:
		return n >= 0 && n <= math.MaxUint8
	case FFIUint16:
		return n >= 0 && n <= math.MaxUint16
	case FFIUint32:
		return n >= 0 && n <= math.MaxUint32
	}
	return true
}

// unmarshal converts the byte image of type t back to a value
func (rt *Runtime) unmarshal(t FFIType, b []byte) (Cell, error) {
	if t == FFIVoid {
		return Unset(), nil
	}
	if t == FFIStruct {
		s := rt.pool.MakeBinary(b)
		s.Manage()
		return SeriesCell(KindBinary, s, 0), nil
	}
	if len(b) < t.Size() {
		return Cell{}, rt.ffiError("short " + t.String() + " result")
	}
	switch t {
	case FFIInt8:
		return Integer(int64(int8(b[0]))), nil
	case FFIInt16:
		return Integer(int64(int16(binary.LittleEndian.Uint16(b)))), nil
	case FFIInt32:
		return Integer(int64(int32(binary.LittleEndian.Uint32(b)))), nil
	case FFIInt64:
		return Integer(int64(binary.LittleEndian.Uint64(b))), nil
	case FFIUint8:
		return Integer(int64(b[0])), nil
	case FFIUint16:
		return Integer(int64(binary.LittleEndian.Uint16(b))), nil
	case FFIUint32:
		return Integer(int64(binary.LittleEndian.Uint32(b))), nil
	case FFIUint64, FFIPointer:
		return Integer(int64(binary.LittleEndian.Uint64(b))), nil
	case FFIFloat:
		return Decimal(float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))), nil
	case FFIDouble:
		return Decimal(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	}
	return Cell{}, rt.Errorf(ErrBadFFIType, rt.wordCell(t.String()))
}

// typeTag reads a type block such as [int32]
func (rt *Runtime) typeTag(c *Cell) (FFIType, error) {
	if c.kind != KindBlock || c.ser.Len()-c.index != 1 || !c.ser.At(c.index).kind.IsAnyWord() {
		return 0, rt.Errorf(ErrBadFFIType, *c)
	}
	t, ok := ffiTypeByName(rt.syms.Spelling(c.ser.At(c.index).sym))
	if !ok {
		return 0, rt.Errorf(ErrBadFFIType, *c.ser.At(c.index))
	}
	return t, nil
}

// load-library opens a library through the foreign caller. The handle
// closes the library when it is collected.
func (rt *Runtime) loadLibrary(out *Cell, path Cell) error {
	if rt.ffi == nil {
		return rt.ffiError("no foreign caller installed")
	}
	if thrown, err := rt.checkSecurity(out, ResCall, "load-library "+seriesText(&path)); thrown || err != nil {
		return err
	}
	lib, err := rt.ffi.Open(hostPath(path))
	if err != nil {
		return rt.cannotOpen(path, err)
	}
	fc := rt.ffi
	logger := rt.logger
	h := rt.NewHandle(lib, func(h *Handle) {
		if err := fc.Close(h.value); err != nil {
			logger.WarnCat(CatFFI, "closing library: %v", err)
		}
	})
	*out = Cell{kind: KindLibrary, handle: h}
	rt.logger.DebugCat(CatFFI, "opened library %s", seriesText(&path))
	return nil
}

// makeRoutine builds a routine! from [spec library name]. The spec lists
// arguments as word [type] pairs and may end with return: [type].
func (rt *Runtime) makeRoutine(out *Cell, spec Cell) error {
	bad := func() error {
		return rt.Errorf(ErrBadMake, Datatype(KindRoutine), spec)
	}
	var reduced Cell
	if spec.kind != KindBlock {
		return bad()
	}
	if err := rt.reduce(&reduced, spec); err != nil {
		return err
	}
	if reduced.IsThrown() {
		*out = reduced
		return nil
	}
	xs := cellsFrom(&reduced)
	if len(xs) != 3 || xs[0].kind != KindBlock || xs[1].kind != KindLibrary || xs[2].kind != KindString {
		return bad()
	}
	argSpec := xs[0].ser

	info := rt.pool.AllocRoutine()
	info.lib = xs[1].handle
	info.name = seriesText(&xs[2])
	info.ret = FFIVoid

	b := rt.binder
	b.Start(CollectNoDup|CollectNoSelf, nil)
	cells := argSpec.Cells()[xs[0].index:]
	for i := 0; i < len(cells); i++ {
		c := &cells[i]
		switch {
		case c.kind == KindString:
			continue
		case c.kind == KindSetWord && rt.syms.Canon(c.sym) == SymReturn && i+1 < len(cells):
			t, err := rt.typeTag(&cells[i+1])
			if err != nil {
				b.Abort()
				return err
			}
			info.ret = t
			i++
		case c.kind == KindWord && i+1 < len(cells):
			t, err := rt.typeTag(&cells[i+1])
			if err != nil {
				b.Abort()
				return err
			}
			if t == FFIVoid {
				b.Abort()
				return rt.Errorf(ErrBadFFIType, cells[i+1])
			}
			if _, err := b.Add(key(c.sym, typesetFor(t))); err != nil {
				b.Abort()
				return err
			}
			info.args = append(info.args, t)
			i++
		default:
			b.Abort()
			return rt.Errorf(ErrBadFuncDef, *c)
		}
	}
	params := b.End(nil)
	info.spec = rt.pool.CopyArray(argSpec, xs[0].index, argSpec.Len(), true, true)
	params.link = info.spec
	fn := Cell{kind: KindRoutine, ser: params, routine: info}
	*params.At(0) = fn
	params.Manage()
	*out = fn
	return nil
}

// callRoutine marshals the arguments of a routine call, performs it and
// unmarshals the result
func (rt *Runtime) callRoutine(c *Call) error {
	info := c.fn.routine
	if rt.ffi == nil {
		return rt.ffiError("no foreign caller installed")
	}
	if thrown, err := rt.checkSecurity(c.Out(), ResCall, info.name); thrown || err != nil {
		return err
	}
	args := make([][]byte, len(info.args))
	for i, t := range info.args {
		b, err := rt.marshal(t, *c.Arg(i + 1))
		if err != nil {
			return err
		}
		args[i] = b
	}
	var lib any
	if info.lib != nil {
		lib = info.lib.value
	}
	res, err := rt.ffi.Call(lib, info.name, args, info.args, info.ret)
	if err != nil {
		return rt.ffiError(info.name + ": " + err.Error())
	}
	v, err := rt.unmarshal(info.ret, res)
	if err != nil {
		return err
	}
	*c.Out() = v
	return nil
}

// structField is one field of a struct layout
type structField struct {
	sym    Symbol
	typ    FFIType
	offset int
}

// structLayout lays out the word [type] pairs of a normalized struct spec
// with natural alignment
func (rt *Runtime) structLayout(spec *Series) ([]structField, int, error) {
	var fields []structField
	off := 0
	cells := spec.Cells()
	for i := 0; i+1 < len(cells); i += 2 {
		t, err := rt.typeTag(&cells[i+1])
		if err != nil {
			return nil, 0, err
		}
		size := t.Size()
		if size == 0 {
			return nil, 0, rt.Errorf(ErrBadFFIType, cells[i+1])
		}
		off = (off + size - 1) / size * size
		fields = append(fields, structField{sym: cells[i].sym, typ: t, offset: off})
		off += size
	}
	// Pad to the largest member
	align := 1
	for _, f := range fields {
		align = max(align, f.typ.Size())
	}
	return fields, (off + align - 1) / align * align, nil
}

// makeStruct builds a struct! from field specs. Each field is a word, a
// type block and an optional initial value. The molded form, a block of
// the normalized spec followed by the binary image, is accepted too.
func (rt *Runtime) makeStruct(out *Cell, spec Cell) error {
	bad := func() error {
		return rt.Errorf(ErrBadMake, Datatype(KindStruct), spec)
	}
	if spec.kind != KindBlock {
		return bad()
	}
	xs := cellsFrom(&spec)
	if len(xs) == 2 && xs[0].kind == KindBlock && xs[1].kind == KindBinary {
		norm := rt.pool.CopyArray(xs[0].ser, xs[0].index, xs[0].ser.Len(), true, true)
		_, size, err := rt.structLayout(norm)
		if err != nil {
			return err
		}
		data := bytesFrom(&xs[1])
		if len(data) != size {
			return bad()
		}
		s := rt.pool.MakeBinary(data)
		s.Manage()
		*out = Cell{kind: KindStruct, ser: s, aux: norm}
		return nil
	}

	norm := rt.pool.MakeArray(len(xs), 0)
	var inits []Cell
	for i := 0; i < len(xs); {
		if xs[i].kind != KindWord || i+1 >= len(xs) || xs[i+1].kind != KindBlock {
			rt.pool.FreeSeries(norm)
			return bad()
		}
		norm.Append(xs[i], rt.blockCell(KindBlock, cellsFrom(&xs[i+1])...))
		init := None()
		i += 2
		if i < len(xs) && xs[i].kind != KindWord {
			init = xs[i]
			i++
		}
		inits = append(inits, init)
	}
	norm.Manage()
	fields, size, err := rt.structLayout(norm)
	if err != nil {
		return err
	}
	s := rt.pool.MakeBinary(make([]byte, size))
	s.Manage()
	v := Cell{kind: KindStruct, ser: s, aux: norm}
	for i, f := range fields {
		if inits[i].kind == KindNone {
			continue
		}
		buf := s.Bytes()[f.offset : f.offset+f.typ.Size()]
		if err := rt.marshalInto(buf, f.typ, inits[i]); err != nil {
			return err
		}
	}
	*out = v
	return nil
}

// findStructField looks up a field by word
func (rt *Runtime) findStructField(v Cell, sym Symbol) (structField, bool) {
	fields, _, err := rt.structLayout(v.aux)
	if err != nil {
		return structField{}, false
	}
	canon := rt.syms.Canon(sym)
	for _, f := range fields {
		if rt.syms.Canon(f.sym) == canon {
			return f, true
		}
	}
	return structField{}, false
}

// structField reads a field of a struct
func (rt *Runtime) structField(v Cell, sym Symbol) (Cell, bool) {
	f, ok := rt.findStructField(v, sym)
	if !ok {
		return Cell{}, false
	}
	c, err := rt.unmarshal(f.typ, v.ser.Bytes()[f.offset:])
	if err != nil {
		return Cell{}, false
	}
	return c, true
}

// setStructField stores a field of a struct
func (rt *Runtime) setStructField(v Cell, sym Symbol, x Cell) error {
	f, ok := rt.findStructField(v, sym)
	if !ok {
		return rt.Errorf(ErrInvalidPath, Word(KindWord, sym), Datatype(KindStruct))
	}
	if err := rt.checkModify(v.ser); err != nil {
		return err
	}
	return rt.marshalInto(v.ser.Bytes()[f.offset:f.offset+f.typ.Size()], f.typ, x)
}

func structAction(rt *Runtime, c *Call, act ActionID) error {
	v := *c.Arg(1)
	out := c.Out()
	switch act {
	case ActLength:
		*out = Integer(int64(v.ser.Len()))
		return nil
	case ActCopy:
		s := rt.pool.CopySeries(v.ser, 0, v.ser.Len())
		s.Manage()
		*out = Cell{kind: KindStruct, ser: s, aux: v.aux}
		return nil
	case ActPick, ActSelect:
		k := *c.Arg(2)
		if !k.kind.IsAnyWord() {
			return rt.Errorf(ErrInvalidArg, k)
		}
		x, ok := rt.structField(v, k.sym)
		if !ok {
			*out = None()
			return nil
		}
		*out = x
		return nil
	case ActPoke:
		k := *c.Arg(2)
		if !k.kind.IsAnyWord() {
			return rt.Errorf(ErrInvalidArg, k)
		}
		if err := rt.setStructField(v, k.sym, *c.Arg(3)); err != nil {
			return err
		}
		*out = *c.Arg(3)
		return nil
	}
	return rt.cannotUse(act, KindStruct)
}
