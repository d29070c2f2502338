package r3

import "strings"

// NativeFunc implements a native or command. Arguments are read with
// c.Arg(i); the result goes into c.Out(). A native that evaluates code and
// sees a thrown result leaves it in c.Out() and returns nil.
type NativeFunc func(c *Call) error

// nativeEntry is a registered native or command
type nativeEntry struct {
	name string
	fn   NativeFunc
}

// typesetFromBlock builds a typeset from a block of datatype and typeset
// names such as [integer! any-string!]
func (rt *Runtime) typesetFromBlock(block *Series) (Typeset, error) {
	var ts Typeset
	for _, c := range block.Cells() {
		switch {
		case c.kind == KindDatatype:
			ts |= TypesetOf(c.DatatypeKind())
			continue
		case c.kind == KindTypeset:
			ts |= c.Typeset()
			continue
		case c.kind != KindWord:
			return 0, rt.Errorf(ErrBadFuncDef, SeriesCell(KindBlock, block, 0))
		}
		name := strings.ToLower(rt.syms.Spelling(c.sym))
		if k, ok := KindFromTypeName(name); ok {
			ts |= TypesetOf(k)
			continue
		}
		found := false
		for _, nt := range namedTypesets {
			if nt.name == name {
				ts |= nt.ts
				found = true
				break
			}
		}
		if !found {
			return 0, rt.Errorf(ErrBadFuncDef, c)
		}
	}
	return ts, nil
}

// makeParamlist parses a function spec into a paramlist. Slot 0 is left
// for the function value itself.
//
// Spec grammar: word, 'word and :word declare parameters; /refinement
// starts an optional group; /local makes the following words locals; a
// block after a parameter restricts its types; strings and tags are
// documentation.
func (rt *Runtime) makeParamlist(spec *Series, index int) (*Series, error) {
	b := rt.binder
	b.Start(CollectNoDup|CollectNoSelf, nil)
	last := -1
	local := false
	for i := index; i < spec.Len(); i++ {
		c := spec.At(i)
		var k Cell
		switch c.kind {
		case KindString, KindTag:
			continue
		case KindBlock:
			if last < 1 || b.keys[last].flags&FlagParamRefine != 0 {
				b.Abort()
				return nil, rt.Errorf(ErrBadFuncDef, *c)
			}
			ts, err := rt.typesetFromBlock(c.ser)
			if err != nil {
				b.Abort()
				return nil, err
			}
			b.keys[last].num = uint64(ts)
			continue
		case KindSetWord:
			// return: [types] documents the result
			if i+1 < spec.Len() && spec.At(i+1).kind == KindBlock {
				i++
			}
			continue
		case KindWord:
			k = key(c.sym, TypesAnyValue)
			if local {
				k = key(c.sym, TypesAnyType)
				k.flags |= FlagParamLocal
			}
		case KindLitWord:
			k = key(c.sym, TypesAnyValue)
			k.flags |= FlagParamLit
		case KindGetWord:
			k = key(c.sym, TypesAnyType)
			k.flags |= FlagParamGet
		case KindRefinement:
			if rt.syms.Canon(c.sym) == SymLocal {
				local = true
				continue
			}
			k = key(c.sym, TypesetOf(KindLogic, KindNone))
			k.flags |= FlagParamRefine
		default:
			b.Abort()
			return nil, rt.Errorf(ErrBadFuncDef, *c)
		}
		if local && c.kind != KindWord {
			b.Abort()
			return nil, rt.Errorf(ErrBadFuncDef, *c)
		}
		n, err := b.Add(k)
		if err != nil {
			b.Abort()
			return nil, err
		}
		last = n
	}
	return b.End(nil), nil
}

// MakeFunction creates a function or closure from spec and body blocks. The
// body is deep copied and its parameter words bound relative to the
// paramlist.
func (rt *Runtime) MakeFunction(kind Kind, spec, body *Series) (Cell, error) {
	params, err := rt.makeParamlist(spec, 0)
	if err != nil {
		return Cell{}, err
	}
	params.link = rt.pool.CopyArray(spec, 0, spec.Len(), true, true)
	copied := rt.pool.CopyArray(body, 0, body.Len(), true, true)
	rt.BindRelative(copied, params)
	fn := Cell{kind: kind, ser: params, aux: copied}
	*params.At(0) = fn
	params.Manage()
	return fn, nil
}

// makeBuiltin creates a native, action or command from a spec text
func (rt *Runtime) makeBuiltin(kind Kind, specText string, index int) Cell {
	spec, err := rt.Scan(specText, "native spec")
	if err != nil {
		panicf("bad spec %q: %v", specText, err)
	}
	params, err := rt.makeParamlist(spec, 0)
	if err != nil {
		panicf("bad spec %q: %v", specText, err)
	}
	params.link = spec
	fn := Cell{kind: kind, ser: params, num: uint64(index)}
	*params.At(0) = fn
	params.Manage()
	return fn
}

// defineLib binds name in the lib frame to v
func (rt *Runtime) defineLib(name string, v Cell) {
	sym := rt.syms.Intern(name)
	i := rt.FindKey(rt.lib, sym)
	if i == 0 {
		var err error
		if i, err = rt.AppendKey(rt.lib, sym); err != nil {
			panicf("define %s: %v", name, err)
		}
	}
	*rt.lib.At(i) = v
}

// defineNative registers a native in lib
func (rt *Runtime) defineNative(name, spec string, fn NativeFunc) Cell {
	rt.natives = append(rt.natives, nativeEntry{name: name, fn: fn})
	cell := rt.makeBuiltin(KindNative, spec, len(rt.natives)-1)
	rt.defineLib(name, cell)
	return cell
}

// defineOp registers an infix native in lib
func (rt *Runtime) defineOp(name, spec string, fn NativeFunc) {
	cell := rt.defineNative(name, spec, fn)
	cell.flags |= FlagInfix
	cell.ser.At(0).flags |= FlagInfix
	rt.defineLib(name, cell)
}

// RegisterCommand adds a host command callable from scripts. The spec uses
// the function spec dialect, for example "value [integer!] /twice".
func (rt *Runtime) RegisterCommand(name, spec string, fn NativeFunc) error {
	specBlock, err := rt.Scan(spec, name)
	if err != nil {
		return err
	}
	params, err := rt.makeParamlist(specBlock, 0)
	if err != nil {
		return err
	}
	rt.commands = append(rt.commands, nativeEntry{name: name, fn: fn})
	params.link = specBlock
	cell := Cell{kind: KindCommand, ser: params, num: uint64(len(rt.commands) - 1)}
	*params.At(0) = cell
	params.Manage()
	rt.defineLib(name, cell)
	rt.logger.DebugCat(CatEval, "registered command %s", name)
	return nil
}

// paramName returns the word naming parameter i of a function
func paramName(fn Cell, i int) Cell {
	return Word(KindWord, fn.ser.At(i).sym)
}

// labelWord returns a word naming the call for error messages
func (c *Call) labelWord() Cell {
	if c.label == SymNone {
		return c.rt.wordCell("anonymous")
	}
	return Word(KindWord, c.label)
}
