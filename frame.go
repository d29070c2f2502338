package r3

// A frame is a pair of parallel arrays. The values array has the SerFrame
// flag and holds at slot 0 a marker cell {KindFrame, ser: keys, aux: values,
// num: object kind}. The keys array has the SerKeylist flag and holds at slot
// 0 the SELF key (or the function cell, for a paramlist).

// frameKeys returns the keylist of frame values
func frameKeys(vals *Series) *Series {
	return vals.At(0).ser
}

// frameKind returns the object kind recorded in the frame marker
func frameKind(vals *Series) Kind {
	return Kind(vals.At(0).num)
}

// frameMarker builds the slot-0 cell of a values array
func frameMarker(keys, vals *Series, kind Kind) Cell {
	return Cell{kind: KindFrame, ser: keys, aux: vals, num: uint64(kind)}
}

// allowsSelf reports whether the frame binds the word self to slot 0
func allowsSelf(vals *Series) bool {
	keys := frameKeys(vals)
	return keys.Len() > 0 && keys.At(0).sym == SymSelf
}

// MakeFrame creates an empty unmanaged frame with room for capacity words
func (rt *Runtime) MakeFrame(capacity int, kind Kind) *Series {
	keys := rt.pool.MakeArray(capacity+1, SerKeylist)
	keys.Append(key(SymSelf, TypesAnyType))
	vals := rt.pool.MakeArray(capacity+1, SerFrame)
	vals.Append(frameMarker(keys, vals, kind))
	return vals
}

// makeFrameValues creates a values array for an existing keylist, all
// fields none. The keylist is marked shared.
func (rt *Runtime) makeFrameValues(keys *Series, kind Kind) *Series {
	n := keys.Len()
	vals := rt.pool.MakeArray(n, SerFrame)
	vals.Append(frameMarker(keys, vals, kind))
	for i := 1; i < n; i++ {
		vals.Append(None())
	}
	keys.SetFlags(SerShared)
	return vals
}

// manageFrame hands the values and keys of a frame to the collector
func manageFrame(vals *Series) {
	frameKeys(vals).Manage()
	vals.Manage()
}

// ownKeys gives the frame a private keylist before it is extended
func (rt *Runtime) ownKeys(vals *Series) *Series {
	keys := frameKeys(vals)
	if !keys.Has(SerShared) {
		return keys
	}
	fresh := rt.pool.CopyArray(keys, 0, keys.Len(), false, keys.IsManaged())
	fresh.SetFlags(SerKeylist)
	vals.At(0).ser = fresh
	return fresh
}

// AppendKey adds the word sym to the frame with an unset value and returns
// its index
func (rt *Runtime) AppendKey(vals *Series, sym Symbol) (int, error) {
	if vals.IsLocked() {
		return 0, rt.Errorf(ErrLockedSeries)
	}
	keys := rt.ownKeys(vals)
	keys.Append(key(sym, TypesAnyType))
	vals.Append(Unset())
	return vals.Len() - 1, nil
}

// FindKey returns the index of sym in the frame, comparing canonical forms,
// or 0 when the frame has no such word
func (rt *Runtime) FindKey(vals *Series, sym Symbol) int {
	keys := frameKeys(vals)
	canon := rt.syms.Canon(sym)
	for i := 1; i < keys.Len(); i++ {
		if rt.syms.Canon(keys.At(i).sym) == canon {
			return i
		}
	}
	return 0
}

// frameValue returns the value of field sym, if present
func (rt *Runtime) frameValue(vals *Series, sym Symbol) (Cell, bool) {
	if i := rt.FindKey(vals, sym); i > 0 {
		return *vals.At(i), true
	}
	return Cell{}, false
}

// CopyFrame copies a frame into a managed frame. The keylist is shared with
// the original; the values are copied, deeply for nested blocks when deep is
// set, and words bound to the original frame are rebound to the copy.
func (rt *Runtime) CopyFrame(vals *Series, deep bool) *Series {
	keys := frameKeys(vals)
	out := rt.pool.CopyArray(vals, 0, vals.Len(), deep, true)
	out.SetFlags(SerFrame)
	*out.At(0) = frameMarker(keys, out, frameKind(vals))
	keys.SetFlags(SerShared)
	if deep {
		for i := 1; i < out.Len(); i++ {
			c := out.At(i)
			if c.kind.IsAnyBlock() && c.ser != nil {
				rebindSeries(c.ser, vals, out)
			}
		}
	}
	return out
}

// rebindSeries retargets words bound to from so they bind to to, deeply
func rebindSeries(block, from, to *Series) {
	for i := 0; i < block.Len(); i++ {
		c := block.At(i)
		switch {
		case c.kind.IsAnyWord() && c.ser == from:
			c.ser = to
		case c.kind.IsAnyBlock() && c.ser != nil:
			rebindSeries(c.ser, from, to)
		}
	}
}

// MakeObject builds an object from a spec block: the spec's set-words
// become the fields (on top of the parent's), the spec is bound to the new
// frame and evaluated. The spec block is bound in place. The result is
// written to out; a thrown result leaves out thrown.
func (rt *Runtime) MakeObject(out *Cell, spec *Series, index int, parent *Series, kind Kind) error {
	var prior *Series
	if parent != nil {
		prior = frameKeys(parent)
	}
	keys, err := rt.binder.CollectKeys(spec, index, CollectSetWords, prior)
	if err != nil {
		return err
	}

	var vals *Series
	if parent != nil {
		vals = rt.CopyFrame(parent, true)
		if keys != prior {
			// new fields
			*vals.At(0) = frameMarker(keys, vals, kind)
			for vals.Len() < keys.Len() {
				vals.Append(Unset())
			}
		} else {
			vals.At(0).num = uint64(kind)
		}
	} else {
		vals = rt.makeFrameValues(keys, kind)
		keys.ClearFlags(SerShared)
		for i := 1; i < vals.Len(); i++ {
			*vals.At(i) = Unset()
		}
	}
	manageFrame(vals)
	obj := ObjectCell(kind, vals)

	if err := rt.Bind(spec, index, vals, BindDeep); err != nil {
		return err
	}
	// Keep the object reachable while its spec runs
	rt.PushGuard(vals)
	defer rt.DropGuard(vals)

	var tmp Cell
	if err := rt.DoBlock(&tmp, spec, index); err != nil {
		return err
	}
	if tmp.IsThrown() {
		*out = tmp
		return nil
	}
	*out = obj
	return nil
}

// ObjectField reads field name of an object value
func (rt *Runtime) ObjectField(obj Cell, name string) (Cell, bool) {
	if !obj.kind.IsAnyObject() || obj.ser == nil {
		return Cell{}, false
	}
	sym, ok := rt.syms.Lookup(name)
	if !ok {
		sym = rt.syms.Intern(name)
	}
	return rt.frameValue(obj.ser, sym)
}

// wordsOf lists the visible keys of a frame as words
func (rt *Runtime) wordsOf(vals *Series) *Series {
	keys := frameKeys(vals)
	out := rt.pool.MakeArray(keys.Len(), 0)
	for i := 1; i < keys.Len(); i++ {
		k := keys.At(i)
		if k.HasFlag(FlagHidden) {
			continue
		}
		w := Word(KindWord, k.sym)
		w.ser, w.index = vals, i
		out.Append(w)
	}
	return out
}

// valuesOf lists the visible values of a frame
func (rt *Runtime) valuesOf(vals *Series) *Series {
	keys := frameKeys(vals)
	out := rt.pool.MakeArray(keys.Len(), 0)
	for i := 1; i < keys.Len(); i++ {
		if keys.At(i).HasFlag(FlagHidden) {
			continue
		}
		out.Append(*vals.At(i))
	}
	return out
}
