package r3

// Word binding: a bound word keeps the frame values (or, for stack-relative
// words, the function paramlist) in ser and the slot in index. Positive
// indexes address a frame slot directly, 0 is SELF, negative indexes are
// argument positions of the innermost live call of the function.

// keyOf returns the key describing the slot a word is bound to
func keyOf(w *Cell) *Cell {
	if w.index < 0 {
		return w.ser.At(-w.index)
	}
	return frameKeys(w.ser).At(w.index)
}

// varSlot returns the storage cell of a bound word
func (rt *Runtime) varSlot(w *Cell) (*Cell, error) {
	if w.ser == nil {
		return nil, rt.Errorf(ErrNotBound, w.asKind(KindWord))
	}
	if w.index < 0 {
		c := rt.relativeCall(w.ser)
		if c == nil || -w.index >= len(c.args) {
			return nil, rt.Errorf(ErrNotAvailable, w.asKind(KindWord))
		}
		if c.frame != nil {
			return c.frame.At(-w.index), nil
		}
		return &c.args[-w.index], nil
	}
	if !w.ser.Has(SerFrame) || w.index >= w.ser.Len() {
		return nil, rt.Errorf(ErrNotBound, w.asKind(KindWord))
	}
	return w.ser.At(w.index), nil
}

// GetVar reads the value of a word. The SELF slot reads as the object that
// owns the frame.
func (rt *Runtime) GetVar(w Cell) (Cell, error) {
	if w.ser != nil && w.index == 0 {
		if !w.ser.Has(SerFrame) {
			return Cell{}, rt.Errorf(ErrNotBound, w.asKind(KindWord))
		}
		return ObjectCell(frameKind(w.ser), w.ser), nil
	}
	slot, err := rt.varSlot(&w)
	if err != nil {
		return Cell{}, err
	}
	return *slot, nil
}

// SetVar writes the value of a word. SELF and protected or locked keys
// refuse the write.
func (rt *Runtime) SetVar(w Cell, v Cell) error {
	if w.ser != nil && w.index == 0 {
		return rt.Errorf(ErrLockedWord, w.asKind(KindWord))
	}
	slot, err := rt.varSlot(&w)
	if err != nil {
		return err
	}
	if k := keyOf(&w); k.flags&(FlagProtected|FlagLocked) != 0 {
		return rt.Errorf(ErrLockedWord, w.asKind(KindWord))
	}
	if w.index > 0 && w.ser.IsProtected() {
		return rt.Errorf(ErrProtected)
	}
	v.flags &^= FlagThrown | FlagNewline
	*slot = v
	return nil
}

// ProtectWord sets or clears write protection on the key of a bound word.
// Locked keys stay protected.
func (rt *Runtime) ProtectWord(w Cell, on bool) error {
	if w.ser == nil {
		return rt.Errorf(ErrNotBound, w.asKind(KindWord))
	}
	if w.index == 0 {
		return nil
	}
	if w.index > 0 {
		rt.ownKeys(w.ser)
	}
	k := keyOf(&w)
	if on {
		k.flags |= FlagProtected
		return nil
	}
	if k.flags&FlagLocked != 0 {
		return rt.Errorf(ErrLockedWord, w.asKind(KindWord))
	}
	k.flags &^= FlagProtected
	return nil
}

// LockWord permanently protects the key of a bound word
func (rt *Runtime) LockWord(w Cell) error {
	if err := rt.ProtectWord(w, true); err != nil {
		return err
	}
	if w.index != 0 {
		keyOf(&w).flags |= FlagLocked
	}
	return nil
}

// wordIn returns a word for sym bound into the frame vals, if present
func (rt *Runtime) wordIn(vals *Series, sym Symbol) (Cell, bool) {
	i := rt.FindKey(vals, sym)
	if i == 0 {
		return Cell{}, false
	}
	w := Word(KindWord, sym)
	w.ser, w.index = vals, i
	return w, true
}

// Get looks up name in the user frame, then lib
func (rt *Runtime) Get(name string) (Cell, bool) {
	sym, ok := rt.syms.Lookup(name)
	if !ok {
		return Cell{}, false
	}
	for _, vals := range []*Series{rt.user, rt.lib} {
		if w, ok := rt.wordIn(vals, sym); ok {
			v := *w.ser.At(w.index)
			if v.kind != KindUnset {
				return v, true
			}
		}
	}
	return Cell{}, false
}

// Set assigns name in the user frame, adding the word if needed
func (rt *Runtime) Set(name string, v Cell) error {
	sym := rt.syms.Intern(name)
	w, ok := rt.wordIn(rt.user, sym)
	if !ok {
		i, err := rt.AppendKey(rt.user, sym)
		if err != nil {
			return err
		}
		w = Word(KindWord, sym)
		w.ser, w.index = rt.user, i
	}
	return rt.SetVar(w, v)
}
