package r3

// Results of DoCore besides a next index
const (
	EndFlag    = -1 // The block was exhausted before an expression started
	ThrownFlag = -2 // out holds a thrown payload
)

// DoCore evaluates block from index into out. With next set one expression
// is evaluated and the index after it is returned; otherwise the whole rest
// of the block is evaluated and EndFlag is returned. ThrownFlag reports a
// thrown result in out.
func (rt *Runtime) DoCore(out *Cell, block *Series, index int, next bool) (int, error) {
	if next {
		return rt.doNext(out, block, index, true)
	}
	*out = Unset()
	if index >= block.Len() {
		// An empty block still counts as a step
		rt.countdown--
		if rt.countdown <= 0 {
			thrown, err := rt.safePoint(out)
			if err != nil {
				return 0, err
			}
			if thrown {
				return ThrownFlag, nil
			}
		}
		return EndFlag, nil
	}
	mark := rt.save(block)
	defer rt.unsave(mark)
	for index < block.Len() {
		i, err := rt.doNext(out, block, index, true)
		if err != nil {
			return 0, err
		}
		if i == ThrownFlag {
			return ThrownFlag, nil
		}
		if i == EndFlag {
			break
		}
		index = i
	}
	return EndFlag, nil
}

// DoBlock evaluates the rest of block from index into out. A thrown result
// is left in out.
func (rt *Runtime) DoBlock(out *Cell, block *Series, index int) error {
	_, err := rt.DoCore(out, block, index, false)
	return err
}

// doNext evaluates one expression. With lookahead set, infix functions that
// follow the expression consume it as their first argument.
func (rt *Runtime) doNext(out *Cell, block *Series, index int, lookahead bool) (int, error) {
	if index >= block.Len() {
		*out = Unset()
		return EndFlag, nil
	}
	rt.countdown--
	if rt.countdown <= 0 {
		thrown, err := rt.safePoint(out)
		if err != nil {
			return 0, err
		}
		if thrown {
			return ThrownFlag, nil
		}
	}

	v := *block.At(index)
	index++
	var err error

	switch v.kind {
	case KindWord:
		var fv Cell
		if fv, err = rt.GetVar(v); err != nil {
			return 0, err
		}
		switch {
		case fv.kind == KindUnset:
			return 0, rt.Errorf(ErrNoValue, v)
		case fv.kind.IsAnyFunction():
			if fv.flags&FlagInfix != 0 {
				return 0, rt.Errorf(ErrInfixFirst, v)
			}
			index, err = rt.invoke(out, fv, v.sym, block, index, rt.sourceArgs(block, index, nil, nil))
		default:
			*out = fv
		}

	case KindSetWord:
		index, err = rt.doNext(out, block, index, true)
		if err != nil || index == ThrownFlag {
			return index, err
		}
		if index == EndFlag || out.kind == KindUnset {
			return 0, rt.Errorf(ErrNeedValue, v)
		}
		err = rt.SetVar(v, *out)

	case KindGetWord:
		*out, err = rt.GetVar(v)

	case KindLitWord:
		*out = v.asKind(KindWord)

	case KindLitPath:
		*out = v.asKind(KindPath)

	case KindParen:
		if err = rt.DoBlock(out, v.ser, v.index); err == nil && out.IsThrown() {
			return ThrownFlag, nil
		}

	case KindPath:
		index, err = rt.evalPath(out, v, block, index)

	case KindSetPath:
		index, err = rt.doNext(out, block, index, true)
		if err != nil || index == ThrownFlag {
			return index, err
		}
		if index == EndFlag || out.kind == KindUnset {
			return 0, rt.Errorf(ErrNeedValue, v)
		}
		err = rt.setPath(v, *out)

	case KindGetPath:
		err = rt.getPath(out, v)

	case KindNative, KindAction, KindRoutine, KindCommand, KindFunction, KindClosure:
		if v.flags&FlagInfix != 0 {
			return 0, rt.Errorf(ErrInfixFirst, Datatype(v.kind))
		}
		index, err = rt.invoke(out, v, SymNone, block, index, rt.sourceArgs(block, index, nil, nil))

	case KindEnd, KindFrame, KindTrash:
		panicf("evaluator reached a %s cell", v.kind)

	default:
		*out = v
		out.flags &^= FlagNewline
	}

	if err != nil {
		return 0, err
	}
	if index == ThrownFlag || out.IsThrown() {
		return ThrownFlag, nil
	}
	if lookahead {
		return rt.lookahead(out, block, index)
	}
	return index, nil
}

// lookahead applies infix functions following the value in out, left to
// right. It peeks exactly one cell.
func (rt *Runtime) lookahead(out *Cell, block *Series, index int) (int, error) {
	for index < block.Len() {
		next := block.At(index)
		fn, label, ok := rt.peekInfix(next)
		if !ok {
			return index, nil
		}
		left := *out
		i, err := rt.invoke(out, fn, label, block, index+1, rt.sourceArgs(block, index+1, nil, &left))
		if err != nil || i == ThrownFlag {
			return i, err
		}
		index = i
	}
	return index, nil
}

// peekInfix resolves c to an infix function without raising errors
func (rt *Runtime) peekInfix(c *Cell) (Cell, Symbol, bool) {
	switch {
	case c.kind == KindWord && c.ser != nil && c.index != 0:
		slot, err := rt.peekSlot(c)
		if err != nil || slot == nil {
			return Cell{}, 0, false
		}
		if slot.kind.IsAnyFunction() && slot.flags&FlagInfix != 0 {
			return *slot, c.sym, true
		}
	case c.kind.IsAnyFunction() && c.flags&FlagInfix != 0:
		return *c, SymNone, true
	}
	return Cell{}, 0, false
}

// peekSlot is varSlot without error values
func (rt *Runtime) peekSlot(w *Cell) (*Cell, error) {
	if w.index < 0 {
		c := rt.relativeCall(w.ser)
		if c == nil || -w.index >= len(c.args) {
			return nil, nil
		}
		if c.frame != nil {
			return c.frame.At(-w.index), nil
		}
		return &c.args[-w.index], nil
	}
	if !w.ser.Has(SerFrame) || w.index >= w.ser.Len() {
		return nil, nil
	}
	return w.ser.At(w.index), nil
}

// argFiller gathers the arguments of a call and returns the index after the
// consumed source, or ThrownFlag
type argFiller func(c *Call) (int, error)

// invoke runs fn with a new call frame. The arguments are gathered by fill;
// index is the source position they start at, used for error locations.
func (rt *Runtime) invoke(out *Cell, fn Cell, label Symbol, block *Series, index int, fill argFiller) (int, error) {
	c := &Call{out: out, fn: fn, label: label, block: block, index: index}
	if err := rt.pushCall(c); err != nil {
		return 0, err
	}
	argc := fn.ser.Len() - 1
	base, err := rt.dsReserve(argc + 1)
	if err != nil {
		rt.popCall(c)
		return 0, err
	}
	c.dsBase = base
	c.args = rt.stack[base : base+argc+1 : base+argc+1]
	c.args[0] = fn

	next, err := fill(c)
	if err != nil || next == ThrownFlag {
		rt.finishCall(c)
		return next, err
	}
	c.argsReady = true
	rt.logger.TraceCat(CatEval, "call %s depth %d", c.Label(), c.depth)

	for {
		*c.out = Unset()
		if err = rt.dispatch(c); err != nil || c.redo == nil {
			break
		}
		redo := *c.redo
		c.redo = nil
		if !redo.kind.IsAnyFunction() || redo.ser.Len() != len(c.args) {
			err = rt.Errorf(ErrBadFuncDef, redo)
			break
		}
		if err = rt.checkArgTypes(c, redo); err != nil {
			break
		}
		c.fn = redo
		c.args[0] = redo
	}
	rt.finishCall(c)
	if err != nil {
		return 0, err
	}

	if out.IsThrown() {
		if (fn.kind == KindFunction || fn.kind == KindClosure) && rt.thrownSym() == SymReturn {
			rt.catchThrown(out)
			return next, nil
		}
		return ThrownFlag, nil
	}
	return next, nil
}

// finishCall releases the arguments and unlinks the call
func (rt *Runtime) finishCall(c *Call) {
	rt.dsDrop(c.dsBase)
	rt.popCall(c)
}

// dispatch runs the body of the function of c
func (rt *Runtime) dispatch(c *Call) error {
	switch c.fn.kind {
	case KindNative:
		return rt.natives[c.fn.num].fn(c)
	case KindCommand:
		return rt.commands[c.fn.num].fn(c)
	case KindAction:
		return rt.doAction(c, ActionID(c.fn.num))
	case KindFunction:
		return rt.DoBlock(c.out, c.fn.aux, 0)
	case KindClosure:
		return rt.doClosure(c)
	case KindRoutine:
		return rt.callRoutine(c)
	}
	panicf("dispatch: %s is not a function", c.fn.kind)
	return nil
}

// doClosure copies the arguments into a heap frame and runs a copy of the
// body bound to it, so the frame outlives the call
func (rt *Runtime) doClosure(c *Call) error {
	params := c.fn.ser
	keys := rt.pool.CopyArray(params, 0, params.Len(), false, true)
	keys.SetFlags(SerKeylist)
	*keys.At(0) = key(SymSelf, TypesAnyType)
	vals := rt.pool.MakeArray(len(c.args), SerFrame)
	vals.Append(frameMarker(keys, vals, KindObject))
	vals.Append(c.args[1:]...)
	vals.Manage()
	c.frame = vals

	body := rt.pool.CopyArray(c.fn.aux, 0, c.fn.aux.Len(), true, true)
	rebindRelative(body, params, vals)
	return rt.DoBlock(c.out, body, 0)
}

// safePoint runs every EvalCountdown steps: it observes halt requests,
// enforces the evaluation and memory ceilings and runs a pending
// collection
func (rt *Runtime) safePoint(out *Cell) (bool, error) {
	rt.countdown = rt.config.EvalCountdown
	rt.evalSteps += int64(rt.config.EvalCountdown)

	if rt.halted.Swap(false) {
		rt.logger.DebugCat(CatEval, "halt observed")
		return false, rt.Errorf(ErrHaltID)
	}
	policy := rt.config.Security
	if policy.EvalLimit > 0 && rt.evalSteps > policy.EvalLimit {
		rt.evalSteps = 0
		if thrown, err := rt.checkSecurity(out, ResEval, "evaluation limit reached"); thrown || err != nil {
			return thrown, err
		}
	}
	if policy.MemoryCeiling > 0 && rt.pool.InUse() > policy.MemoryCeiling {
		if thrown, err := rt.checkSecurity(out, ResMemory, "memory ceiling reached"); thrown || err != nil {
			return thrown, err
		}
	}
	if rt.gc.disabled == 0 && (rt.gc.pending || rt.pool.BallastExhausted()) {
		rt.Recycle()
	}
	return false, nil
}

// Halt requests cooperative cancellation of the running evaluation. It is
// the only method safe to call from another goroutine.
func (rt *Runtime) Halt() {
	rt.halted.Store(true)
	select {
	case rt.haltWake <- struct{}{}:
	default:
	}
	rt.haltChildren()
}
