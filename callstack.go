package r3

// Call is one activation of a function. Its arguments live on the data
// stack (args[1:] in paramlist order, args[0] holds the function) except for
// closures, which copy them into a heap frame once they are all gathered.
type Call struct {
	rt        *Runtime
	prior     *Call
	out       *Cell
	fn        Cell
	label     Symbol
	block     *Series // Where the call was made
	index     int
	dsBase    int
	args      []Cell
	argsReady bool
	frame     *Series // Closure frame
	redo      *Cell
	depth     int
}

// Runtime returns the runtime running the call
func (c *Call) Runtime() *Runtime {
	return c.rt
}

// Out returns the output cell of the call
func (c *Call) Out() *Cell {
	return c.out
}

// Arg returns argument i, counting from 1 in parameter order
func (c *Call) Arg(i int) *Cell {
	return &c.args[i]
}

// Argc returns the number of parameter slots
func (c *Call) Argc() int {
	return len(c.args) - 1
}

// Label returns the word the function was invoked through
func (c *Call) Label() string {
	if c.label == SymNone {
		return "anonymous"
	}
	return c.rt.syms.Spelling(c.label)
}

// Func returns the function value being run
func (c *Call) Func() Cell {
	return c.fn
}

// Refined reports whether refinement argument i was supplied
func (c *Call) Refined(i int) bool {
	return c.args[i].IsTruthy()
}

// Redo asks the evaluator to run fn with the same arguments once the
// current dispatch returns
func (c *Call) Redo(fn Cell) {
	c.redo = &fn
}

// callStack is the linked list of live activations
type callStack struct {
	top   *Call
	depth int
	limit int
}

// push links a new activation, failing with stack-overflow at the limit
func (rt *Runtime) pushCall(c *Call) error {
	cs := &rt.calls
	if cs.depth >= cs.limit {
		return rt.Errorf(ErrStackOverflow)
	}
	c.rt = rt
	c.prior = cs.top
	cs.depth++
	c.depth = cs.depth
	cs.top = c
	return nil
}

// popCall unlinks c, which must be the innermost activation
func (rt *Runtime) popCall(c *Call) {
	cs := &rt.calls
	if cs.top != c {
		panicf("call stack: popping %s which is not the innermost call", c.Label())
	}
	cs.top = c.prior
	cs.depth--
	c.argsReady = false
}

// truncateCalls unwinds the call stack to depth
func (rt *Runtime) truncateCalls(depth int) {
	cs := &rt.calls
	for cs.depth > depth && cs.top != nil {
		cs.top.argsReady = false
		cs.top = cs.top.prior
		cs.depth--
	}
	if cs.depth != depth {
		panicf("call stack: cannot unwind to depth %d from %d", depth, cs.depth)
	}
}

// Depth returns the number of live calls
func (rt *Runtime) Depth() int {
	return rt.calls.depth
}

// backtrace returns the labels of the live calls, innermost first
func (cs *callStack) backtrace(rt *Runtime) []string {
	var out []string
	for c := cs.top; c != nil && len(out) < 16; c = c.prior {
		out = append(out, c.Label())
	}
	return out
}

// relativeCall finds the innermost call with gathered arguments whose
// paramlist is the given one
func (rt *Runtime) relativeCall(paramlist *Series) *Call {
	for c := rt.calls.top; c != nil; c = c.prior {
		if c.argsReady && c.fn.ser == paramlist {
			return c
		}
	}
	return nil
}

// Data stack. Its capacity is fixed at startup so argument slices stay
// valid while calls nest.

// dsReserve takes n cells from the data stack, initialised to none, and
// returns the index of the first one
func (rt *Runtime) dsReserve(n int) (int, error) {
	base := rt.dsp
	if base+n > len(rt.stack) {
		return 0, rt.Errorf(ErrStackOverflow)
	}
	for i := base; i < base+n; i++ {
		rt.stack[i] = None()
	}
	rt.dsp = base + n
	return base, nil
}

// dsPush pushes one cell
func (rt *Runtime) dsPush(c Cell) error {
	base, err := rt.dsReserve(1)
	if err != nil {
		return err
	}
	rt.stack[base] = c
	return nil
}

// dsDrop pops the data stack back to depth
func (rt *Runtime) dsDrop(depth int) {
	if depth > rt.dsp {
		panicf("data stack: drop to %d above top %d", depth, rt.dsp)
	}
	clear(rt.stack[depth:rt.dsp])
	rt.dsp = depth
}

// dsCells returns the cells pushed since depth
func (rt *Runtime) dsCells(depth int) []Cell {
	return rt.stack[depth:rt.dsp]
}

// DataStackDepth returns the number of cells on the data stack
func (rt *Runtime) DataStackDepth() int {
	return rt.dsp
}
