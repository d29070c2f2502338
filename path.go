package r3

import (
	"strings"
	"time"
)

// pathStatus is the outcome of dispatching one path element
type pathStatus int

const (
	pathFound       pathStatus = iota // Value found in addressable storage
	pathStored                        // Value computed into a scratch cell
	pathNotFound                      // The element selects nothing
	pathNotSettable                   // The element cannot be assigned
)

// pathSelector resolves a path element to the value it selects by: words
// select by name, get-words and parens are evaluated, anything else is
// used as is
func (rt *Runtime) pathSelector(sel *Cell) (Cell, error) {
	switch sel.kind {
	case KindGetWord:
		return rt.GetVar(*sel)
	case KindParen:
		var out Cell
		if err := rt.DoBlock(&out, sel.ser, sel.index); err != nil {
			return Cell{}, err
		}
		if out.IsThrown() {
			return Cell{}, rt.Errorf(ErrInvalidArg, out)
		}
		return out, nil
	}
	return *sel, nil
}

// pathHead fetches the value the first element of a path names
func (rt *Runtime) pathHead(path Cell) (Cell, *Cell, Symbol, error) {
	elems := path.ser
	if path.index >= elems.Len() {
		return Cell{}, nil, 0, rt.Errorf(ErrInvalidPath, path, None())
	}
	head := elems.At(path.index)
	switch head.kind {
	case KindWord, KindGetWord:
		if head.ser != nil && head.index == 0 {
			v, err := rt.GetVar(*head)
			return v, nil, head.sym, err
		}
		slot, err := rt.varSlot(head)
		if err != nil {
			return Cell{}, nil, 0, err
		}
		if slot.kind == KindUnset && head.kind == KindWord {
			return Cell{}, nil, 0, rt.Errorf(ErrNoValue, head.asKind(KindWord))
		}
		return *slot, slot, head.sym, nil
	case KindParen:
		v, err := rt.pathSelector(head)
		return v, nil, SymNone, err
	}
	return *head, nil, SymNone, nil
}

// evalPath evaluates a path. When the path reaches a function the
// remaining elements are its refinements and the function is invoked with
// arguments from block at index.
func (rt *Runtime) evalPath(out *Cell, path Cell, block *Series, index int) (int, error) {
	val, slot, label, err := rt.pathHead(path)
	if err != nil {
		return 0, err
	}
	elems := path.ser
	i := path.index + 1
	for ; i < elems.Len() && !val.kind.IsAnyFunction(); i++ {
		sel := elems.At(i)
		if val, slot, err = rt.pathStep(path, val, slot, sel); err != nil {
			return 0, err
		}
		if sel.kind == KindWord {
			label = sel.sym
		}
	}
	if val.kind.IsAnyFunction() {
		refines := make([]Cell, 0, elems.Len()-i)
		for ; i < elems.Len(); i++ {
			r := elems.At(i)
			if r.kind != KindWord {
				return 0, rt.Errorf(ErrBadRefine, *r)
			}
			refines = append(refines, *r)
		}
		return rt.invoke(out, val, label, block, index, rt.sourceArgs(block, index, refines, nil))
	}
	*out = val
	return index, nil
}

// getPath evaluates a get-path: the path is followed without invoking
// functions
func (rt *Runtime) getPath(out *Cell, path Cell) error {
	val, slot, _, err := rt.pathHead(path)
	if err != nil {
		return err
	}
	for i := path.index + 1; i < path.ser.Len(); i++ {
		if val, slot, err = rt.pathStep(path, val, slot, path.ser.At(i)); err != nil {
			return err
		}
	}
	*out = val
	return nil
}

// setPath stores v at the location a set-path names
func (rt *Runtime) setPath(path Cell, v Cell) error {
	elems := path.ser
	if elems.Len()-path.index < 2 {
		return rt.Errorf(ErrInvalidPath, path, None())
	}
	val, slot, _, err := rt.pathHead(path)
	if err != nil {
		return err
	}
	last := elems.Len() - 1
	for i := path.index + 1; i < last; i++ {
		if val, slot, err = rt.pathStep(path, val, slot, elems.At(i)); err != nil {
			return err
		}
	}
	sel := elems.At(last)
	st, err := rt.pathSet(val, slot, sel, v)
	if err != nil {
		return err
	}
	switch st {
	case pathNotFound:
		return rt.Errorf(ErrInvalidPath, path.asKind(KindPath), *sel)
	case pathNotSettable:
		return rt.Errorf(ErrBadPathSet, path.asKind(KindPath), *sel)
	}
	return nil
}

// pathStep selects element sel of val. slot is the storage holding val, or
// nil when val is a computed value.
func (rt *Runtime) pathStep(path, val Cell, slot *Cell, sel *Cell) (Cell, *Cell, error) {
	key, err := rt.pathSelector(sel)
	if err != nil {
		return Cell{}, nil, err
	}
	var scratch Cell
	next, st := rt.pathPick(val, key, &scratch)
	switch st {
	case pathFound:
		return *next, next, nil
	case pathStored:
		return scratch, nil, nil
	case pathNotFound:
		return Cell{}, nil, rt.Errorf(ErrInvalidPath, path.asKind(KindPath), *sel)
	}
	return Cell{}, nil, rt.Errorf(ErrBadPathType, path.asKind(KindPath), Datatype(val.kind))
}

// pathPick is the per-kind element handler for reading
func (rt *Runtime) pathPick(val, key Cell, scratch *Cell) (*Cell, pathStatus) {
	switch {
	case val.kind.IsAnyObject():
		if !key.kind.IsAnyWord() {
			return nil, pathNotFound
		}
		if i := rt.FindKey(val.ser, key.sym); i > 0 {
			return val.ser.At(i), pathFound
		}
		return nil, pathNotFound

	case val.kind.IsAnyBlock():
		if key.kind == KindInteger {
			i := val.index + int(key.Int()) - 1
			if key.Int() < 1 || i >= val.ser.Len() {
				*scratch = None()
				return nil, pathStored
			}
			return val.ser.At(i), pathFound
		}
		if key.kind.IsAnyWord() {
			for i := val.index; i+1 < val.ser.Len(); i++ {
				c := val.ser.At(i)
				if c.kind.IsAnyWord() && rt.syms.Same(c.sym, key.sym) {
					return val.ser.At(i + 1), pathFound
				}
			}
			*scratch = None()
			return nil, pathStored
		}
		return nil, pathNotFound

	case val.kind.IsAnyString() || val.kind == KindBinary:
		if key.kind != KindInteger {
			return nil, pathNotFound
		}
		i := val.index + int(key.Int()) - 1
		if key.Int() < 1 || i >= val.ser.Len() {
			*scratch = None()
		} else if val.kind == KindBinary {
			*scratch = Integer(int64(val.ser.Bytes()[i]))
		} else {
			*scratch = Char(val.ser.Runes()[i])
		}
		return nil, pathStored

	case val.kind == KindPair:
		x, y := val.PairXY()
		switch rt.pairAxis(key) {
		case 1:
			*scratch = pairComponent(x)
		case 2:
			*scratch = pairComponent(y)
		default:
			return nil, pathNotFound
		}
		return nil, pathStored

	case val.kind == KindTuple:
		if key.kind != KindInteger {
			return nil, pathNotFound
		}
		parts := val.TupleBytes()
		if n := key.Int(); n >= 1 && int(n) <= len(parts) {
			*scratch = Integer(int64(parts[n-1]))
		} else {
			*scratch = None()
		}
		return nil, pathStored

	case val.kind == KindDate || val.kind == KindTime:
		if !key.kind.IsAnyWord() {
			return nil, pathNotFound
		}
		if v, ok := rt.timeField(val, strings.ToLower(rt.syms.Spelling(key.sym))); ok {
			*scratch = v
			return nil, pathStored
		}
		return nil, pathNotFound

	case val.kind == KindMap:
		if i, ok := rt.mapFind(val.ser, key); ok {
			return val.ser.At(i + 1), pathFound
		}
		*scratch = None()
		return nil, pathStored

	case val.kind == KindStruct:
		if !key.kind.IsAnyWord() {
			return nil, pathNotFound
		}
		v, ok := rt.structField(val, key.sym)
		if !ok {
			return nil, pathNotFound
		}
		*scratch = v
		return nil, pathStored
	}
	return nil, pathNotSettable
}

// pathSet is the per-kind element handler for storing
func (rt *Runtime) pathSet(val Cell, slot *Cell, sel *Cell, v Cell) (pathStatus, error) {
	key, err := rt.pathSelector(sel)
	if err != nil {
		return 0, err
	}
	v.flags &^= FlagThrown | FlagNewline
	switch {
	case val.kind.IsAnyObject():
		if !key.kind.IsAnyWord() {
			return pathNotFound, nil
		}
		w, ok := rt.wordIn(val.ser, key.sym)
		if !ok {
			return pathNotFound, nil
		}
		return pathFound, rt.SetVar(w, v)

	case val.kind.IsAnyBlock():
		if err := rt.checkModify(val.ser); err != nil {
			return 0, err
		}
		var i int
		switch {
		case key.kind == KindInteger:
			i = val.index + int(key.Int()) - 1
			if key.Int() < 1 || i >= val.ser.Len() {
				return 0, rt.Errorf(ErrOutOfRange, key)
			}
		case key.kind.IsAnyWord():
			i = -1
			for j := val.index; j+1 < val.ser.Len(); j++ {
				c := val.ser.At(j)
				if c.kind.IsAnyWord() && rt.syms.Same(c.sym, key.sym) {
					i = j + 1
					break
				}
			}
			if i < 0 {
				return pathNotFound, nil
			}
		default:
			return pathNotFound, nil
		}
		*val.ser.At(i) = v
		return pathFound, nil

	case val.kind.IsAnyString() || val.kind == KindBinary:
		if err := rt.checkModify(val.ser); err != nil {
			return 0, err
		}
		if key.kind != KindInteger {
			return pathNotFound, nil
		}
		i := val.index + int(key.Int()) - 1
		if key.Int() < 1 || i >= val.ser.Len() {
			return 0, rt.Errorf(ErrOutOfRange, key)
		}
		if val.kind == KindBinary {
			if v.kind != KindInteger || v.Int() < 0 || v.Int() > 255 {
				return 0, rt.Errorf(ErrInvalidArg, v)
			}
			val.ser.Bytes()[i] = byte(v.Int())
			return pathFound, nil
		}
		if v.kind != KindChar {
			return 0, rt.Errorf(ErrInvalidArg, v)
		}
		val.ser.Runes()[i] = v.Char()
		return pathFound, nil

	case val.kind == KindPair:
		if slot == nil {
			return pathNotSettable, nil
		}
		if !v.kind.IsNumber() {
			return 0, rt.Errorf(ErrInvalidArg, v)
		}
		x, y := val.PairXY()
		switch rt.pairAxis(key) {
		case 1:
			x = float32(v.Float())
		case 2:
			y = float32(v.Float())
		default:
			return pathNotFound, nil
		}
		*slot = Pair(x, y)
		return pathFound, nil

	case val.kind == KindMap:
		if err := rt.checkModify(val.ser); err != nil {
			return 0, err
		}
		rt.mapPut(val.ser, key, v)
		return pathFound, nil

	case val.kind == KindStruct:
		if !key.kind.IsAnyWord() {
			return pathNotFound, nil
		}
		return pathFound, rt.setStructField(val, key.sym, v)
	}
	return pathNotSettable, nil
}

// pairAxis maps x/y or 1/2 to an axis number, 0 for neither
func (rt *Runtime) pairAxis(key Cell) int {
	switch {
	case key.kind == KindInteger && (key.Int() == 1 || key.Int() == 2):
		return int(key.Int())
	case key.kind.IsAnyWord():
		switch rt.syms.Canon(key.sym) {
		case SymX:
			return 1
		case SymY:
			return 2
		}
	}
	return 0
}

// pairComponent returns a pair coordinate as an integer when whole
func pairComponent(f float32) Cell {
	if f == float32(int64(f)) {
		return Integer(int64(f))
	}
	return Decimal(float64(f))
}

// timeField reads a named field of a date or time
func (rt *Runtime) timeField(val Cell, name string) (Cell, bool) {
	if val.kind == KindTime {
		d := val.Duration()
		switch name {
		case "hour":
			return Integer(int64(d.Hours())), true
		case "minute":
			return Integer(int64(d.Minutes()) % 60), true
		case "second":
			return Integer(int64(d.Seconds()) % 60), true
		}
		return Cell{}, false
	}
	t := val.Time()
	switch name {
	case "year":
		return Integer(int64(t.Year())), true
	case "month":
		return Integer(int64(t.Month())), true
	case "day":
		return Integer(int64(t.Day())), true
	case "weekday":
		wd := int64(t.Weekday())
		if wd == 0 {
			wd = 7
		}
		return Integer(wd), true
	case "hour":
		return Integer(int64(t.Hour())), true
	case "minute":
		return Integer(int64(t.Minute())), true
	case "second":
		return Integer(int64(t.Second())), true
	case "date":
		y, m, d := t.Date()
		return DateOf(time.Date(y, m, d, 0, 0, 0, 0, t.Location())), true
	}
	return Cell{}, false
}
