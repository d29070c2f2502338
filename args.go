package r3

// sourceArgs gathers arguments from the cells of block at index. refines
// are the refinement words of a path call, in path order; left is the
// value already produced before an infix function.
//
// Parameters before the first refinement are filled in order. Then each
// requested refinement is switched on and its arguments are filled, in the
// order the path names them. Refinements not requested keep none in their
// slot and in their arguments.
func (rt *Runtime) sourceArgs(block *Series, index int, refines []Cell, left *Cell) argFiller {
	return func(c *Call) (int, error) {
		params := c.fn.ser
		n := params.Len()
		infix := left != nil
		i := 1
		for ; i < n; i++ {
			k := params.At(i)
			if k.flags&(FlagParamRefine|FlagParamLocal) != 0 {
				break
			}
			var err error
			if left != nil {
				c.args[i] = *left
				left = nil
				if err = rt.checkArg(c, i); err != nil {
					return 0, err
				}
				continue
			}
			if index, err = rt.fillArg(c, i, block, index, infix); err != nil || index == ThrownFlag {
				return index, err
			}
		}
		if len(refines) == 0 {
			return index, nil
		}

		positions := refinementPositions(rt, params, i)
		for _, r := range refines {
			if !r.kind.IsAnyWord() {
				return 0, rt.Errorf(ErrBadRefine, r)
			}
			pos, ok := positions[rt.syms.Canon(r.sym)]
			if !ok || c.args[pos].kind == KindLogic {
				return 0, rt.Errorf(ErrBadRefine, Word(KindRefinement, r.sym))
			}
			c.args[pos] = Logic(true)
			for j := pos + 1; j < n; j++ {
				k := params.At(j)
				if k.flags&(FlagParamRefine|FlagParamLocal) != 0 {
					break
				}
				var err error
				if index, err = rt.fillArg(c, j, block, index, infix); err != nil || index == ThrownFlag {
					return index, err
				}
			}
		}
		return index, nil
	}
}

// refinementPositions maps the canonical symbol of each refinement of a
// paramlist to its slot
func refinementPositions(rt *Runtime, params *Series, from int) map[Symbol]int {
	positions := make(map[Symbol]int)
	for i := from; i < params.Len(); i++ {
		k := params.At(i)
		if k.flags&FlagParamLocal != 0 {
			break
		}
		if k.flags&FlagParamRefine != 0 {
			positions[rt.syms.Canon(k.sym)] = i
		}
	}
	return positions
}

// fillArg fills argument i of c from block at index according to the
// parameter class and returns the index after the consumed source
func (rt *Runtime) fillArg(c *Call, i int, block *Series, index int, infix bool) (int, error) {
	k := c.fn.ser.At(i)
	slot := &c.args[i]
	if index >= block.Len() {
		return 0, rt.Errorf(ErrNoArg, c.labelWord(), Word(KindWord, k.sym))
	}
	switch {
	case k.flags&FlagParamGet != 0:
		*slot = *block.At(index)
		index++

	case k.flags&FlagParamLit != 0:
		v := block.At(index)
		index++
		switch v.kind {
		case KindParen:
			if err := rt.DoBlock(slot, v.ser, v.index); err != nil {
				return 0, err
			}
			if slot.IsThrown() {
				*c.out = *slot
				return ThrownFlag, nil
			}
		case KindGetWord:
			val, err := rt.GetVar(*v)
			if err != nil {
				return 0, err
			}
			*slot = val
		case KindGetPath:
			if err := rt.getPath(slot, *v); err != nil {
				return 0, err
			}
		default:
			*slot = *v
		}

	default:
		next, err := rt.doNext(slot, block, index, !infix)
		if err != nil {
			return 0, err
		}
		if next == ThrownFlag {
			*c.out = *slot
			return ThrownFlag, nil
		}
		if next == EndFlag {
			return 0, rt.Errorf(ErrNoArg, c.labelWord(), Word(KindWord, k.sym))
		}
		index = next
	}
	slot.flags &^= FlagNewline
	return index, rt.checkArg(c, i)
}

// checkArg verifies argument i against the typeset of its parameter
func (rt *Runtime) checkArg(c *Call, i int) error {
	k := c.fn.ser.At(i)
	v := &c.args[i]
	if k.Typeset().Has(v.kind) {
		return nil
	}
	return rt.Errorf(ErrExpectArg, c.labelWord(), Word(KindWord, k.sym), Datatype(v.kind))
}

// checkArgTypes rechecks all supplied arguments of c against fn, used when
// a call is redone with another function
func (rt *Runtime) checkArgTypes(c *Call, fn Cell) error {
	for i := 1; i < len(c.args); i++ {
		k := fn.ser.At(i)
		v := &c.args[i]
		if k.flags&FlagParamLocal != 0 || (k.flags&FlagParamRefine == 0 && v.kind == KindNone && !k.Typeset().Has(KindNone)) {
			continue
		}
		if !k.Typeset().Has(v.kind) {
			return rt.Errorf(ErrExpectArg, c.labelWord(), Word(KindWord, k.sym), Datatype(v.kind))
		}
	}
	return nil
}

// valueArgs fills arguments from already evaluated values in parameter
// order. A refinement slot takes logic from the truth of its value; the
// arguments of an unused refinement are none.
func (rt *Runtime) valueArgs(values []Cell) argFiller {
	return func(c *Call) (int, error) {
		params := c.fn.ser
		on := true
		for i := 1; i < params.Len(); i++ {
			k := params.At(i)
			if k.flags&FlagParamLocal != 0 {
				break
			}
			var v Cell
			if i-1 < len(values) {
				v = values[i-1]
			} else {
				v = None()
			}
			if k.flags&FlagParamRefine != 0 {
				on = v.IsTruthy()
				if on {
					c.args[i] = Logic(true)
				}
				continue
			}
			if !on {
				continue
			}
			if i-1 >= len(values) {
				return 0, rt.Errorf(ErrNoArg, c.labelWord(), Word(KindWord, k.sym))
			}
			c.args[i] = v
			if err := rt.checkArg(c, i); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
}

// Apply calls fn with argument values in parameter order
func (rt *Runtime) Apply(fn Cell, args []Cell) (Cell, error) {
	if !fn.kind.IsAnyFunction() {
		return Cell{}, rt.Errorf(ErrInvalidArg, fn)
	}
	var out Cell
	var result Cell
	caught, err := rt.Trap(func() error {
		_, err := rt.invoke(&out, fn, SymNone, nil, 0, rt.valueArgs(args))
		result = out
		return err
	})
	if err != nil {
		return Cell{}, err
	}
	if caught != nil {
		return Cell{}, caught
	}
	if result.IsThrown() {
		return rt.uncaughtThrow(&result)
	}
	return result, nil
}
