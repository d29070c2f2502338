package r3

// functionSpec returns a copy of spec with the set-words of body that are
// not already parameters appended as locals
func (rt *Runtime) functionSpec(spec, body *Series) (*Series, error) {
	params, err := rt.makeParamlist(spec, 0)
	if err != nil {
		return nil, err
	}
	defer rt.pool.FreeSeries(params)
	locals, err := rt.binder.CollectKeys(body, 0, CollectSetWords|CollectDeep|CollectNoSelf, params)
	if err != nil {
		return nil, err
	}
	out := rt.pool.CopyArray(spec, 0, spec.Len(), false, false)
	if locals == params {
		return out, nil
	}
	defer rt.pool.FreeSeries(locals)
	hasLocal := false
	for _, c := range spec.Cells() {
		if c.kind == KindRefinement && rt.syms.Canon(c.sym) == SymLocal {
			hasLocal = true
		}
	}
	if !hasLocal {
		out.Append(Word(KindRefinement, SymLocal))
	}
	for i := params.Len(); i < locals.Len(); i++ {
		out.Append(Word(KindWord, locals.At(i).sym))
	}
	return out, nil
}

// makeFunc builds a function value from spec and body blocks
func (rt *Runtime) makeFunc(out *Cell, kind Kind, spec, body *Series) error {
	fn, err := rt.MakeFunction(kind, spec, body)
	if err != nil {
		return err
	}
	*out = fn
	return nil
}

// setWords assigns a word or each word of a block. With a block of values
// the words take successive values; otherwise every word takes the value.
func (rt *Runtime) setWords(target, v Cell, any bool) error {
	if v.kind == KindUnset && !any {
		return rt.Errorf(ErrNeedValue, target)
	}
	if target.kind.IsAnyWord() {
		return rt.SetVar(target, v)
	}
	words := cellsFrom(&target)
	var values []Cell
	if v.kind == KindBlock {
		values = cellsFrom(&v)
	}
	for i, w := range words {
		if !w.kind.IsAnyWord() {
			return rt.Errorf(ErrInvalidArg, w)
		}
		x := v
		if v.kind == KindBlock {
			x = None()
			if i < len(values) {
				x = values[i]
			}
		}
		if err := rt.SetVar(w, x); err != nil {
			return err
		}
	}
	return nil
}

// protectValue applies protection to a word, a block of words or a series
func (rt *Runtime) protectValue(v Cell, on, deep, lock bool) error {
	switch {
	case v.kind.IsAnyWord():
		if lock {
			return rt.LockWord(v)
		}
		return rt.ProtectWord(v, on)
	case v.kind.IsAnyObject():
		keys := rt.ownKeys(v.ser)
		for i := 1; i < keys.Len(); i++ {
			if on {
				keys.At(i).flags |= FlagProtected
			} else {
				keys.At(i).flags &^= FlagProtected
			}
		}
		return nil
	case v.kind == KindBlock && !deep:
		for _, w := range cellsFrom(&v) {
			if w.kind.IsAnyWord() {
				if err := rt.protectValue(w, on, false, lock); err != nil {
					return err
				}
			}
		}
		return nil
	case v.kind.IsSeries():
		switch {
		case lock:
			v.ser.Lock()
		case on:
			v.ser.Protect(true)
		default:
			if v.ser.IsLocked() {
				return rt.Errorf(ErrLockedSeries)
			}
			v.ser.Protect(false)
		}
		if deep && v.ser.IsArray() {
			for _, c := range v.ser.Cells() {
				if c.kind.IsSeries() && c.ser != nil && c.ser != v.ser {
					if err := rt.protectValue(c, on, true, lock); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	return rt.Errorf(ErrInvalidArg, v)
}

func (rt *Runtime) registerFrameNatives() {
	rt.defineNative("func", "spec [block!] body [block!]", func(c *Call) error {
		return c.rt.makeFunc(c.Out(), KindFunction, c.Arg(1).ser, c.Arg(2).ser)
	})

	rt.defineNative("closure", "spec [block!] body [block!]", func(c *Call) error {
		return c.rt.makeFunc(c.Out(), KindClosure, c.Arg(1).ser, c.Arg(2).ser)
	})

	rt.defineNative("function", "spec [block!] body [block!]", func(c *Call) error {
		rt := c.rt
		spec, err := rt.functionSpec(c.Arg(1).ser, c.Arg(2).ser)
		if err != nil {
			return err
		}
		defer rt.pool.FreeSeries(spec)
		return rt.makeFunc(c.Out(), KindFunction, spec, c.Arg(2).ser)
	})

	rt.defineNative("does", "body [block!]", func(c *Call) error {
		rt := c.rt
		spec := rt.pool.MakeArray(0, 0)
		defer rt.pool.FreeSeries(spec)
		return rt.makeFunc(c.Out(), KindFunction, spec, c.Arg(1).ser)
	})

	rt.defineNative("has", "vars [block!] body [block!]", func(c *Call) error {
		rt := c.rt
		spec := rt.pool.MakeArray(c.Arg(1).ser.Len()+1, 0)
		defer rt.pool.FreeSeries(spec)
		spec.Append(Word(KindRefinement, SymLocal))
		spec.Append(cellsFrom(c.Arg(1))...)
		return rt.makeFunc(c.Out(), KindFunction, spec, c.Arg(2).ser)
	})

	rt.defineNative("infix", "fn [any-function!]", func(c *Call) error {
		fn := *c.Arg(1)
		if fn.ser.Len() < 3 {
			return c.rt.Errorf(ErrInvalidArg, fn)
		}
		fn.flags |= FlagInfix
		*c.Out() = fn
		return nil
	})

	makeObject := func(c *Call) error {
		rt := c.rt
		spec := c.Arg(1)
		body := rt.pool.CopyArray(spec.ser, spec.index, spec.ser.Len(), true, true)
		rt.PushGuard(body)
		defer rt.DropGuard(body)
		return rt.MakeObject(c.Out(), body, 0, nil, KindObject)
	}
	rt.defineNative("context", "spec [block!]", makeObject)
	rt.defineNative("object", "spec [block!]", makeObject)

	rt.defineNative("set", "word [any-word! block!] value [any-type!] /any", func(c *Call) error {
		*c.Out() = *c.Arg(2)
		return c.rt.setWords(*c.Arg(1), *c.Arg(2), c.Refined(3))
	})

	rt.defineNative("get", "word [any-word! any-object! none!] /any", func(c *Call) error {
		rt := c.rt
		w := *c.Arg(1)
		switch {
		case w.kind == KindNone:
			*c.Out() = None()
			return nil
		case w.kind.IsAnyObject():
			s := rt.valuesOf(w.ser)
			s.Manage()
			*c.Out() = SeriesCell(KindBlock, s, 0)
			return nil
		}
		v, err := rt.GetVar(w)
		if err != nil {
			return err
		}
		if v.kind == KindUnset && !c.Refined(2) {
			return rt.Errorf(ErrNoValue, w.asKind(KindWord))
		}
		*c.Out() = v
		return nil
	})

	rt.defineNative("value?", "value [any-type!]", func(c *Call) error {
		w := *c.Arg(1)
		if !w.kind.IsAnyWord() {
			*c.Out() = Logic(true)
			return nil
		}
		v, err := c.rt.GetVar(w)
		*c.Out() = Logic(err == nil && v.kind != KindUnset)
		return nil
	})

	rt.defineNative("unset", "word [word! block!]", func(c *Call) error {
		rt := c.rt
		for _, w := range loopWords(c.Arg(1)) {
			if w.ser == nil {
				continue
			}
			if err := rt.SetVar(w, Unset()); err != nil {
				return err
			}
		}
		*c.Out() = Unset()
		return nil
	})

	rt.defineNative("bind", "words [block! any-word!] context [any-word! any-object!] /copy /new", func(c *Call) error {
		rt := c.rt
		ctx := *c.Arg(2)
		var vals *Series
		switch {
		case ctx.kind.IsAnyObject():
			vals = ctx.ser
		case ctx.ser != nil && ctx.index >= 0 && ctx.ser.Has(SerFrame):
			vals = ctx.ser
		default:
			return rt.Errorf(ErrNotBound, ctx.asKind(KindWord))
		}
		target := *c.Arg(1)
		if target.kind.IsAnyWord() {
			w, ok := rt.wordIn(vals, target.sym)
			if !ok {
				return rt.Errorf(ErrNotBound, target.asKind(KindWord))
			}
			w.kind = target.kind
			*c.Out() = w
			return nil
		}
		block := target.ser
		index := target.index
		if c.Refined(3) {
			block = rt.pool.CopyArray(block, index, block.Len(), true, true)
			index = 0
		}
		mode := BindDeep
		if c.Refined(4) {
			mode |= BindAll
		}
		if err := rt.Bind(block, index, vals, mode); err != nil {
			return err
		}
		*c.Out() = SeriesCell(KindBlock, block, index)
		return nil
	})

	rt.defineNative("use", "vars [block! word!] body [block!]", func(c *Call) error {
		rt := c.rt
		_, body, release, err := rt.loopFrame(loopWords(c.Arg(1)), *c.Arg(2))
		if err != nil {
			return err
		}
		defer release()
		return rt.DoBlock(c.Out(), body, 0)
	})

	rt.defineNative("in", "object [any-object!] word [any-word!]", func(c *Call) error {
		w, ok := c.rt.wordIn(c.Arg(1).ser, c.Arg(2).sym)
		if !ok {
			*c.Out() = None()
			return nil
		}
		w.kind = c.Arg(2).kind
		*c.Out() = w
		return nil
	})

	rt.defineNative("bound?", "word [any-word!]", func(c *Call) error {
		w := c.Arg(1)
		switch {
		case w.ser == nil:
			*c.Out() = None()
		case w.index < 0:
			*c.Out() = Logic(true)
		default:
			*c.Out() = ObjectCell(frameKind(w.ser), w.ser)
		}
		return nil
	})

	rt.defineNative("words-of", "value [any-object! any-function! map!]", func(c *Call) error {
		return c.rt.reflect(c.Out(), *c.Arg(1), SymNone)
	})

	rt.defineNative("values-of", "value [any-object! map!]", func(c *Call) error {
		return c.rt.reflect(c.Out(), *c.Arg(1), SymValue)
	})

	rt.defineNative("protect", "value [word! block! any-object! series!] /deep /lock", func(c *Call) error {
		*c.Out() = *c.Arg(1)
		return c.rt.protectValue(*c.Arg(1), true, c.Refined(2), c.Refined(3))
	})

	rt.defineNative("unprotect", "value [word! block! any-object! series!] /deep", func(c *Call) error {
		*c.Out() = *c.Arg(1)
		return c.rt.protectValue(*c.Arg(1), false, c.Refined(2), false)
	})
}

// reflect lists the words (which is SymNone) or values of an object, map
// or function
func (rt *Runtime) reflect(out *Cell, v Cell, which Symbol) error {
	var s *Series
	switch {
	case v.kind.IsAnyObject():
		if which == SymValue {
			s = rt.valuesOf(v.ser)
		} else {
			s = rt.wordsOf(v.ser)
		}
	case v.kind == KindMap:
		s = rt.pool.MakeArray(v.ser.Len()/2, 0)
		for i := 0; i+1 < v.ser.Len(); i += 2 {
			if which == SymValue {
				s.Append(*v.ser.At(i + 1))
			} else {
				s.Append(*v.ser.At(i))
			}
		}
	case v.kind.IsAnyFunction():
		params := v.ser
		s = rt.pool.MakeArray(params.Len(), 0)
		for i := 1; i < params.Len(); i++ {
			k := params.At(i)
			kind := KindWord
			switch {
			case k.flags&FlagParamRefine != 0:
				kind = KindRefinement
			case k.flags&FlagParamLit != 0:
				kind = KindLitWord
			case k.flags&FlagParamGet != 0:
				kind = KindGetWord
			}
			s.Append(Word(kind, k.sym))
		}
	default:
		return rt.Errorf(ErrCannotUse, rt.wordCell("reflect"), Datatype(v.kind))
	}
	s.Manage()
	*out = SeriesCell(KindBlock, s, 0)
	return nil
}
