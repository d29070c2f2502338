package r3

// loopThrow handles a thrown result seen by a loop body. It reports whether
// the loop stops; break and continue are consumed, any other throw stays in
// out for the caller.
func (rt *Runtime) loopThrow(out *Cell) bool {
	switch rt.thrownSym() {
	case SymBreak:
		rt.catchThrown(out)
		return true
	case SymContinue:
		rt.catchThrown(out)
		return false
	}
	return true
}

// doBody evaluates a block argument into out. It reports whether the
// caller must stop: an error or a thrown result.
func (rt *Runtime) doBody(out *Cell, body *Cell) (bool, error) {
	if err := rt.DoBlock(out, body.ser, body.index); err != nil {
		return true, err
	}
	return out.IsThrown(), nil
}

// loopFrame creates a managed frame for loop variables and binds a deep
// copy of body to it. The copy is guarded until release is called.
func (rt *Runtime) loopFrame(words []Cell, body Cell) (vals *Series, copied *Series, release func(), err error) {
	b := rt.binder
	b.Start(CollectNoDup|CollectNoSelf, nil)
	for _, w := range words {
		if !w.kind.IsAnyWord() {
			b.Abort()
			return nil, nil, nil, rt.Errorf(ErrInvalidArg, w)
		}
		if _, err := b.Add(key(w.sym, TypesAnyType)); err != nil {
			b.Abort()
			return nil, nil, nil, err
		}
	}
	keys := b.End(nil)
	vals = rt.makeFrameValues(keys, KindObject)
	keys.ClearFlags(SerShared)
	manageFrame(vals)
	copied = rt.pool.CopyArray(body.ser, body.index, body.ser.Len(), true, true)
	if err := rt.Bind(copied, 0, vals, BindDeep); err != nil {
		return nil, nil, nil, err
	}
	rt.PushGuard(copied)
	return vals, copied, func() { rt.DropGuard(copied) }, nil
}

// loopWords returns the variable words of a foreach or repeat
func loopWords(spec *Cell) []Cell {
	if spec.kind == KindBlock {
		return cellsFrom(spec)
	}
	return []Cell{*spec}
}

func (rt *Runtime) registerControlNatives() {
	rt.defineNative("if", "condition [any-type!] then-block [block!] /else else-block [block!]", func(c *Call) error {
		switch {
		case c.Arg(1).IsTruthy():
			_, err := c.rt.doBody(c.Out(), c.Arg(2))
			return err
		case c.Refined(3):
			_, err := c.rt.doBody(c.Out(), c.Arg(4))
			return err
		}
		*c.Out() = None()
		return nil
	})

	rt.defineNative("unless", "condition [any-type!] block [block!]", func(c *Call) error {
		if c.Arg(1).IsTruthy() {
			*c.Out() = None()
			return nil
		}
		_, err := c.rt.doBody(c.Out(), c.Arg(2))
		return err
	})

	rt.defineNative("either", "condition [any-type!] true-block [block!] false-block [block!]", func(c *Call) error {
		branch := c.Arg(3)
		if c.Arg(1).IsTruthy() {
			branch = c.Arg(2)
		}
		_, err := c.rt.doBody(c.Out(), branch)
		return err
	})

	rt.defineNative("all", "block [block!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		*out = Logic(true)
		blk := c.Arg(1)
		for i := blk.index; i < blk.ser.Len(); {
			next, err := rt.DoCore(out, blk.ser, i, true)
			if err != nil || next == ThrownFlag {
				return err
			}
			if next == EndFlag {
				break
			}
			if !out.IsTruthy() && out.kind != KindUnset {
				*out = None()
				return nil
			}
			i = next
		}
		return nil
	})

	rt.defineNative("any", "block [block!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		blk := c.Arg(1)
		for i := blk.index; i < blk.ser.Len(); {
			next, err := rt.DoCore(out, blk.ser, i, true)
			if err != nil || next == ThrownFlag {
				return err
			}
			if next == EndFlag {
				break
			}
			if out.IsTruthy() {
				return nil
			}
			i = next
		}
		*out = None()
		return nil
	})

	rt.defineNative("loop", "count [number!] block [block!]", func(c *Call) error {
		out := c.Out()
		*out = None()
		for n := int64(c.Arg(1).Float()); n > 0; n-- {
			stop, err := c.rt.doBody(out, c.Arg(2))
			if err != nil {
				return err
			}
			if stop && c.rt.loopThrow(out) {
				return nil
			}
		}
		return nil
	})

	rt.defineNative("repeat", "'word [word!] value [number! series!] body [block!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		*out = None()
		vals, body, release, err := rt.loopFrame(loopWords(c.Arg(1)), *c.Arg(3))
		if err != nil {
			return err
		}
		defer release()
		limit := *c.Arg(2)
		if limit.kind.IsSeries() {
			return rt.foreach(out, vals, body, limit)
		}
		for i := int64(1); i <= int64(limit.Float()); i++ {
			*vals.At(1) = Integer(i)
			if err := rt.DoBlock(out, body, 0); err != nil {
				return err
			}
			if out.IsThrown() && rt.loopThrow(out) {
				return nil
			}
		}
		return nil
	})

	rt.defineNative("foreach", "'word [word! block!] data [series! map! any-object! none!] body [block!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		*out = None()
		if c.Arg(2).kind == KindNone {
			return nil
		}
		vals, body, release, err := rt.loopFrame(loopWords(c.Arg(1)), *c.Arg(3))
		if err != nil {
			return err
		}
		defer release()
		return rt.foreach(out, vals, body, *c.Arg(2))
	})

	rt.defineNative("while", "cond-block [block!] body-block [block!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		*out = None()
		var cond Cell
		for {
			if stop, err := rt.doBody(&cond, c.Arg(1)); err != nil || stop {
				if stop && err == nil {
					*out = cond
					rt.loopThrow(out)
				}
				return err
			}
			if !cond.IsTruthy() {
				return nil
			}
			stop, err := rt.doBody(out, c.Arg(2))
			if err != nil {
				return err
			}
			if stop && rt.loopThrow(out) {
				return nil
			}
		}
	})

	rt.defineNative("until", "block [block!]", func(c *Call) error {
		out := c.Out()
		for {
			stop, err := c.rt.doBody(out, c.Arg(1))
			if err != nil {
				return err
			}
			if stop {
				if c.rt.loopThrow(out) {
					return nil
				}
				continue
			}
			if out.IsTruthy() {
				return nil
			}
		}
	})

	rt.defineNative("forever", "body [block!]", func(c *Call) error {
		out := c.Out()
		for {
			stop, err := c.rt.doBody(out, c.Arg(1))
			if err != nil {
				return err
			}
			if stop && c.rt.loopThrow(out) {
				return nil
			}
		}
	})

	rt.defineNative("break", "/return value [any-type!]", func(c *Call) error {
		out := c.Out()
		*out = None()
		if c.Refined(1) {
			*out = *c.Arg(2)
		}
		c.rt.throwOut(out, Word(KindWord, SymBreak))
		return nil
	})

	rt.defineNative("continue", "", func(c *Call) error {
		*c.Out() = Unset()
		c.rt.throwOut(c.Out(), Word(KindWord, SymContinue))
		return nil
	})

	rt.defineNative("return", "value [any-type!]", func(c *Call) error {
		*c.Out() = *c.Arg(1)
		c.rt.throwOut(c.Out(), Word(KindWord, SymReturn))
		return nil
	})

	rt.defineNative("throw", "value [any-type!] /name word [word!]", func(c *Call) error {
		*c.Out() = *c.Arg(1)
		name := None()
		if c.Refined(2) {
			name = Word(KindWord, c.Arg(3).sym)
		}
		c.rt.throwOut(c.Out(), name)
		return nil
	})

	rt.defineNative("catch", "block [block!] /name word [word! block!] /quit", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		if stop, err := rt.doBody(out, c.Arg(1)); err != nil || !stop {
			return err
		}
		if rt.isProcessExit() {
			if c.Refined(4) {
				rt.catchThrown(out)
			}
			return nil
		}
		sym := rt.thrownSym()
		if sym == SymBreak || sym == SymContinue || sym == SymReturn {
			return nil
		}
		if !c.Refined(2) {
			if rt.thrownName.kind == KindNone {
				rt.catchThrown(out)
			}
			return nil
		}
		for _, w := range loopWords(c.Arg(3)) {
			if w.kind.IsAnyWord() && rt.thrownName.kind.IsAnyWord() && rt.syms.Same(w.sym, rt.thrownName.sym) {
				rt.catchThrown(out)
				return nil
			}
		}
		return nil
	})

	rt.defineNative("try", "block [block!] /except code [block! any-function!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		caught, err := rt.Trap(func() error {
			return rt.DoBlock(out, c.Arg(1).ser, c.Arg(1).index)
		})
		if err != nil || caught == nil {
			return err
		}
		*out = rt.errorToCell(caught)
		if !c.Refined(2) {
			return nil
		}
		handler := *c.Arg(3)
		if handler.kind == KindBlock {
			_, err := rt.doBody(out, &handler)
			return err
		}
		errVal := *out
		_, err = rt.invoke(out, handler, SymNone, nil, 0, rt.valueArgs([]Cell{errVal}))
		return err
	})

	rt.defineNative("do", "value [any-type!]", func(c *Call) error {
		return c.rt.doValue(c.Out(), *c.Arg(1))
	})

	rt.defineNative("reduce", "value [any-type!]", func(c *Call) error {
		v := *c.Arg(1)
		if v.kind != KindBlock && v.kind != KindParen {
			*c.Out() = v
			return nil
		}
		return c.rt.reduce(c.Out(), v)
	})

	rt.defineNative("compose", "value [any-type!] /deep /only", func(c *Call) error {
		v := *c.Arg(1)
		if v.kind != KindBlock {
			*c.Out() = v
			return nil
		}
		return c.rt.compose(c.Out(), v, c.Refined(2), c.Refined(3))
	})

	rt.defineNative("halt", "", func(c *Call) error {
		return c.rt.Errorf(ErrHaltID)
	})

	quit := func(name Symbol) NativeFunc {
		return func(c *Call) error {
			out := c.Out()
			*out = None()
			if c.Refined(1) {
				*out = *c.Arg(2)
			}
			c.rt.throwOut(out, Word(KindWord, name))
			return nil
		}
	}
	rt.defineNative("quit", "/return value [any-type!]", quit(SymQuit))
	rt.defineNative("exit", "/return value [any-type!]", quit(SymExit))

	rt.defineNative("comment", "'value [any-type!]", func(c *Call) error {
		*c.Out() = Unset()
		return nil
	})

	rt.defineNative("apply", "func [any-function!] block [block!] /only", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		base := rt.dsp
		blk := *c.Arg(2)
		if c.Refined(3) {
			for _, v := range cellsFrom(&blk) {
				if err := rt.dsPush(v); err != nil {
					return err
				}
			}
		} else if thrown, err := rt.reduceToStack(out, blk); err != nil || thrown {
			return err
		}
		args := append([]Cell(nil), rt.dsCells(base)...)
		_, err := rt.invoke(out, *c.Arg(1), SymNone, nil, 0, rt.valueArgs(args))
		rt.dsDrop(base)
		return err
	})

	rt.defineNative("attempt", "block [block!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		caught, err := rt.Trap(func() error {
			return rt.DoBlock(out, c.Arg(1).ser, c.Arg(1).index)
		})
		if err != nil {
			return err
		}
		if caught != nil {
			*out = None()
		}
		return nil
	})

	rt.defineNative("cause-error", "err-type [word!] err-id [word!] args [any-type!]", func(c *Call) error {
		rt := c.rt
		id, ok := errorIDByName(rt.syms.Spelling(c.Arg(2).sym))
		if !ok {
			return rt.Errorf(ErrInvalidArg, *c.Arg(2))
		}
		args := loopWords(c.Arg(3))
		return rt.Errorf(id, args...)
	})
}

// doValue evaluates a value the way the do native does
func (rt *Runtime) doValue(out *Cell, v Cell) error {
	switch {
	case v.kind == KindBlock || v.kind == KindParen:
		return rt.DoBlock(out, v.ser, v.index)
	case v.kind == KindString:
		block, err := rt.Scan(seriesText(&v), "do")
		if err != nil {
			return err
		}
		rt.PushGuard(block)
		defer rt.DropGuard(block)
		if err := rt.Intern(block); err != nil {
			return err
		}
		return rt.DoBlock(out, block, 0)
	case v.kind == KindFile || v.kind == KindURL:
		data, err := rt.readSource(out, v)
		if err != nil || out.IsThrown() {
			return err
		}
		block, err := rt.Scan(string(data), seriesText(&v))
		if err != nil {
			return err
		}
		rt.PushGuard(block)
		defer rt.DropGuard(block)
		if err := rt.Intern(block); err != nil {
			return err
		}
		return rt.DoBlock(out, block, 0)
	case v.kind == KindError:
		return rt.cellToError(v)
	case v.kind.IsAnyFunction():
		_, err := rt.invoke(out, v, SymNone, nil, 0, rt.valueArgs(nil))
		return err
	case v.kind == KindWord:
		val, err := rt.GetVar(v)
		if err != nil {
			return err
		}
		*out = val
		return nil
	}
	*out = v
	return nil
}

// reduceToStack evaluates each expression of a block and pushes the
// results on the data stack. It reports a thrown result left in out.
func (rt *Runtime) reduceToStack(out *Cell, blk Cell) (bool, error) {
	var tmp Cell
	for i := blk.index; i < blk.ser.Len(); {
		next, err := rt.DoCore(&tmp, blk.ser, i, true)
		if err != nil {
			return false, err
		}
		if next == ThrownFlag {
			*out = tmp
			return true, nil
		}
		if next == EndFlag {
			break
		}
		if err := rt.dsPush(tmp); err != nil {
			return false, err
		}
		i = next
	}
	return false, nil
}

// reduce evaluates each expression of a block into a new block
func (rt *Runtime) reduce(out *Cell, blk Cell) error {
	base := rt.dsp
	thrown, err := rt.reduceToStack(out, blk)
	if err != nil || thrown {
		rt.dsDrop(base)
		return err
	}
	s := rt.pool.ArrayOf(rt.dsCells(base)...)
	s.Manage()
	rt.dsDrop(base)
	*out = SeriesCell(KindBlock, s, 0)
	return nil
}

// compose evaluates the parens of a block, splicing block results unless
// only is set
func (rt *Runtime) compose(out *Cell, blk Cell, deep, only bool) error {
	base := rt.dsp
	fail := func(err error) error {
		rt.dsDrop(base)
		return err
	}
	for _, v := range cellsFrom(&blk) {
		switch {
		case v.kind == KindParen:
			var tmp Cell
			if err := rt.DoBlock(&tmp, v.ser, v.index); err != nil {
				return fail(err)
			}
			if tmp.IsThrown() {
				*out = tmp
				rt.dsDrop(base)
				return nil
			}
			switch {
			case tmp.kind == KindUnset:
			case tmp.kind == KindBlock && !only:
				for _, x := range cellsFrom(&tmp) {
					if err := rt.dsPush(x); err != nil {
						return fail(err)
					}
				}
			default:
				if err := rt.dsPush(tmp); err != nil {
					return fail(err)
				}
			}
		case deep && v.kind == KindBlock:
			var sub Cell
			if err := rt.compose(&sub, v, true, only); err != nil {
				return fail(err)
			}
			if sub.IsThrown() {
				*out = sub
				rt.dsDrop(base)
				return nil
			}
			sub.flags = v.flags &^ FlagThrown
			if err := rt.dsPush(sub); err != nil {
				return fail(err)
			}
		default:
			if err := rt.dsPush(v); err != nil {
				return fail(err)
			}
		}
	}
	s := rt.pool.ArrayOf(rt.dsCells(base)...)
	s.Manage()
	rt.dsDrop(base)
	*out = SeriesCell(KindBlock, s, 0)
	return nil
}

// foreach runs body once per element group of data, with the loop
// variables of vals set from the elements
func (rt *Runtime) foreach(out *Cell, vals *Series, body *Series, data Cell) error {
	n := vals.Len() - 1
	step := func() (bool, error) {
		if err := rt.DoBlock(out, body, 0); err != nil {
			return true, err
		}
		if out.IsThrown() {
			return rt.loopThrow(out), nil
		}
		return false, nil
	}

	switch {
	case data.kind.IsAnyObject():
		if n > 2 {
			return rt.Errorf(ErrInvalidArg, data)
		}
		keys := frameKeys(data.ser)
		for i := 1; i < data.ser.Len(); i++ {
			if keys.At(i).HasFlag(FlagHidden) {
				continue
			}
			*vals.At(1) = Word(KindWord, keys.At(i).sym)
			vals.At(1).ser, vals.At(1).index = data.ser, i
			if n == 2 {
				*vals.At(2) = *data.ser.At(i)
			}
			if stop, err := step(); stop || err != nil {
				return err
			}
		}
		return nil

	case data.kind == KindMap:
		for i := 0; i+1 < data.ser.Len(); i += 2 {
			*vals.At(1) = *data.ser.At(i)
			if n >= 2 {
				*vals.At(2) = *data.ser.At(i + 1)
			}
			if stop, err := step(); stop || err != nil {
				return err
			}
		}
		return nil
	}

	for i := data.index; i < data.ser.Len(); i += n {
		for j := 0; j < n; j++ {
			if i+j < data.ser.Len() {
				*vals.At(1 + j) = rt.elementAt(data, i+j)
			} else {
				*vals.At(1 + j) = None()
			}
		}
		if stop, err := step(); stop || err != nil {
			return err
		}
	}
	return nil
}
