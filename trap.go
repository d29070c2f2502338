package r3

import "errors"

// trapRecord remembers the interpreter state at a recovery point
type trapRecord struct {
	dsp        int
	depth      int
	guarded    int
	saved      int
	gcDisabled int
	unhaltable bool
}

// Trap runs fn under a recovery point. A language error escaping fn is
// returned as caught, after the data stack, call stack, guard list, save
// stack and collector disable depth are restored to their values at entry.
// Halt is not caught: the state is restored and halt comes back as err.
// Other failures are converted to language errors.
func (rt *Runtime) Trap(fn func() error) (caught *Error, err error) {
	return rt.trap(fn, false)
}

// TrapUnhaltable is Trap that also catches halt. It is meant for startup
// and shutdown code that must run to completion or report an error.
func (rt *Runtime) TrapUnhaltable(fn func() error) (*Error, error) {
	return rt.trap(fn, true)
}

func (rt *Runtime) trap(fn func() error, unhaltable bool) (*Error, error) {
	rec := &trapRecord{
		dsp:        rt.dsp,
		depth:      rt.calls.depth,
		guarded:    len(rt.guarded),
		saved:      len(rt.saved),
		gcDisabled: rt.gc.disabled,
		unhaltable: unhaltable,
	}
	level := len(rt.traps)
	rt.traps = append(rt.traps, rec)
	rt.logger.TraceCat(CatTrap, "push trap %d", level)

	ferr := fn()

	if len(rt.traps) != level+1 || rt.traps[level] != rec {
		panicf("trap: unbalanced recovery points (%d open, expected %d)", len(rt.traps), level+1)
	}
	rt.traps = rt.traps[:level]

	if ferr == nil {
		if rt.dsp != rec.dsp || rt.calls.depth != rec.depth {
			panicf("trap: stack imbalance on normal exit (data %d/%d, calls %d/%d)",
				rt.dsp, rec.dsp, rt.calls.depth, rec.depth)
		}
		return nil, nil
	}

	rt.restore(rec)
	e := rt.asError(ferr)
	if e.ID == ErrHaltID && !unhaltable {
		rt.logger.DebugCat(CatTrap, "halt passes trap %d", level)
		return nil, e
	}
	rt.logger.DebugCat(CatTrap, "trapped at %d: %s", level, e.Error())
	return e, nil
}

// restore resets the interpreter state to a trap record
func (rt *Runtime) restore(rec *trapRecord) {
	rt.truncateCalls(rec.depth)
	rt.dsDrop(rec.dsp)
	if len(rt.guarded) < rec.guarded || len(rt.saved) < rec.saved {
		panicf("trap: guard lists shrank below the recovery point")
	}
	rt.guarded = rt.guarded[:rec.guarded]
	rt.saved = rt.saved[:rec.saved]
	rt.gc.disabled = rec.gcDisabled
	rt.thrownName = None()
	rt.throwing = false
}

// asError converts any failure into a language error
func (rt *Runtime) asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return rt.UserError(err.Error())
}

// throwOut marks out as a thrown payload with the given name
func (rt *Runtime) throwOut(out *Cell, name Cell) {
	out.setThrown()
	rt.thrownName = name
	rt.throwing = true
}

// catchThrown unpacks a thrown out cell: the name is returned and the
// task-local slot is reset
func (rt *Runtime) catchThrown(out *Cell) Cell {
	name := rt.thrownName
	rt.thrownName = None()
	rt.throwing = false
	out.clearThrown()
	return name
}

// thrownSym returns the symbol of the in-flight throw name, SymNone when
// the name is not a word
func (rt *Runtime) thrownSym() Symbol {
	if rt.thrownName.kind.IsAnyWord() {
		return rt.syms.Canon(rt.thrownName.sym)
	}
	return SymNone
}

// isProcessExit reports whether the in-flight throw terminates the process
func (rt *Runtime) isProcessExit() bool {
	s := rt.thrownSym()
	return s == SymQuit || s == SymExit
}

// Guards keep managed series alive while only Go code refers to them.

// PushGuard protects s from collection until DropGuard
func (rt *Runtime) PushGuard(s *Series) {
	rt.guarded = append(rt.guarded, s)
}

// DropGuard removes the most recent guard of s along with any guards pushed
// after it and left behind by an error exit
func (rt *Runtime) DropGuard(s *Series) {
	for i := len(rt.guarded) - 1; i >= 0; i-- {
		if rt.guarded[i] == s {
			rt.guarded = rt.guarded[:i]
			return
		}
	}
}

// save pushes a series under construction onto the save stack. Saved series
// may be manual; their contents are traced.
func (rt *Runtime) save(s *Series) int {
	rt.saved = append(rt.saved, s)
	return len(rt.saved) - 1
}

// unsave pops the save stack back to mark
func (rt *Runtime) unsave(mark int) {
	if mark > len(rt.saved) {
		panicf("save stack: unsave to %d above %d", mark, len(rt.saved))
	}
	rt.saved = rt.saved[:mark]
}
