package r3

// collector holds the collection state of a runtime
type collector struct {
	markStack []*Series
	disabled  int
	pending   bool
	threshold int64
	min       int64
	max       int64
	runs      int
	freed     int64
	marked    int
}

// GCStats reports collector activity
type GCStats struct {
	Runs      int
	Freed     int64 // Nodes freed over all runs
	Threshold int64 // Current ballast threshold in bytes
	Disabled  bool
}

// queue marks s and, for arrays, pushes it for its children to be marked.
// Tracing reaches only managed series; anything else is a fault.
func (rt *Runtime) queue(s *Series) {
	if s == nil {
		return
	}
	if !s.isLive() {
		panicf("gc: traced a freed series")
	}
	if !s.IsManaged() {
		panicf("gc: traced an unmanaged series (flags %#x)", s.flags)
	}
	if s.flags&SerMark != 0 {
		return
	}
	s.flags |= SerMark
	rt.gc.marked++
	if s.flags&SerArray != 0 || s.link != nil {
		rt.gc.markStack = append(rt.gc.markStack, s)
	}
}

// markRoot marks a root series, which may be manual. Its children are
// traced either way.
func (rt *Runtime) markRoot(s *Series) {
	if s == nil {
		return
	}
	if s.IsManaged() {
		rt.queue(s)
		return
	}
	if !s.isLive() {
		panicf("gc: root series was freed")
	}
	if s.flags&SerMark != 0 {
		return
	}
	s.flags |= SerMark
	rt.gc.markStack = append(rt.gc.markStack, s)
}

// markCell marks the series and nodes a cell references
func (rt *Runtime) markCell(c *Cell) {
	switch {
	case c.kind == KindEnd || c.kind == KindTrash:
		return
	case c.kind.IsAnyWord():
		// Binding is a frame or paramlist
		rt.queue(c.ser)
	case c.kind == KindFrame:
		rt.queue(c.ser)
		rt.queue(c.aux)
	case c.kind == KindRoutine:
		rt.queue(c.ser)
		rt.markRoutine(c.routine)
	case c.kind.IsAnyFunction():
		rt.queue(c.ser)
		rt.queue(c.aux)
	case c.kind == KindHandle || c.kind == KindLibrary:
		if c.handle != nil {
			c.handle.setMarked(true)
		}
	case c.kind == KindTask:
		rt.queue(c.ser)
		if c.handle != nil {
			c.handle.setMarked(true)
		}
	default:
		rt.queue(c.ser)
		rt.queue(c.aux)
	}
}

// markRoutine marks a routine-info node and the descriptor it points into
func (rt *Runtime) markRoutine(r *RoutineInfo) {
	if r == nil || r.isMarked() {
		return
	}
	r.setMarked(true)
	rt.queue(r.spec)
	if r.lib != nil {
		r.lib.setMarked(true)
	}
}

// drain marks the children of queued arrays until the mark stack is empty
func (rt *Runtime) drain() {
	for n := len(rt.gc.markStack); n > 0; n = len(rt.gc.markStack) {
		s := rt.gc.markStack[n-1]
		rt.gc.markStack = rt.gc.markStack[:n-1]
		rt.queue(s.link)
		if s.flags&SerArray == 0 {
			continue
		}
		cells := s.Cells()
		for i := range cells {
			rt.markCell(&cells[i])
		}
	}
}

// markRoots marks everything reachable from the root set
func (rt *Runtime) markRoots() {
	rt.queue(rt.lib)
	rt.queue(rt.user)
	rt.queue(rt.errorKeys)
	for _, s := range rt.guarded {
		rt.markRoot(s)
	}
	for _, s := range rt.saved {
		rt.markRoot(s)
	}
	rt.drain()

	for i := 0; i < rt.dsp; i++ {
		rt.markCell(&rt.stack[i])
	}
	for c := rt.calls.top; c != nil; c = c.prior {
		rt.markCell(c.out)
		rt.markCell(&c.fn)
		rt.markRoot(c.block)
		rt.queue(c.frame)
		if c.redo != nil {
			rt.markCell(c.redo)
		}
	}
	if !rt.throwing {
		rt.markCell(&rt.thrownName)
	}
	for _, req := range rt.requests {
		rt.markCell(&req.Target)
	}
	rt.drain()
}

// sweepRoutines frees unmarked routine-info nodes. It runs before the series
// sweep: the nodes point into series that sweep may free.
func (rt *Runtime) sweepRoutines() int {
	n := 0
	rt.pool.routines.each(func(r *RoutineInfo) {
		if r.isMarked() {
			r.setMarked(false)
			return
		}
		rt.pool.routines.release(r)
		n++
	})
	return n
}

// sweepSeries frees managed, unmarked, unpinned series and clears marks
func (rt *Runtime) sweepSeries() int {
	n := 0
	rt.pool.series.each(func(s *Series) {
		if s.flags&SerMark != 0 {
			s.flags &^= SerMark
			return
		}
		if s.flags&SerManaged == 0 || s.flags&SerKeep != 0 {
			return
		}
		rt.pool.releaseSeries(s)
		n++
	})
	return n
}

// sweepHandles frees unmarked handle nodes, running their finalizers
func (rt *Runtime) sweepHandles() int {
	n := 0
	rt.pool.handles.each(func(h *Handle) {
		if h.isMarked() || h.pinned {
			h.setMarked(false)
			return
		}
		if h.free != nil {
			h.free(h)
		}
		h.free, h.value = nil, nil
		rt.pool.handles.release(h)
		n++
	})
	return n
}

// Recycle runs a full collection and returns the number of nodes freed
func (rt *Runtime) Recycle() int {
	if rt.gc.disabled > 0 {
		return 0
	}
	before := rt.pool.InUse()
	rt.gc.marked = 0
	rt.markRoots()
	n := rt.sweepRoutines()
	n += rt.sweepSeries()
	n += rt.sweepHandles()
	rt.gc.pending = false
	rt.gc.runs++
	rt.gc.freed += int64(n)
	rt.pace()
	rt.logger.DebugCat(CatGC, "collection %d: marked %d, freed %d nodes, %d -> %d bytes, threshold %d",
		rt.gc.runs, rt.gc.marked, n, before, rt.pool.InUse(), rt.gc.threshold)
	return n
}

// pace adjusts the ballast threshold after a collection: it doubles when the
// heap outgrows twice the threshold and halves when the heap falls under a
// quarter of it, within the configured bounds
func (rt *Runtime) pace() {
	g := &rt.gc
	inUse := rt.pool.InUse()
	switch {
	case inUse > 2*g.threshold:
		g.threshold *= 2
		if g.threshold > g.max {
			g.threshold = g.max
		}
	case inUse < g.threshold/4:
		g.threshold /= 2
		if g.threshold < g.min {
			g.threshold = g.min
		}
	}
	rt.pool.ResetBallast(g.threshold)
}

// RequestGC sets the pending flag; the collection runs at the next safe
// point
func (rt *Runtime) RequestGC() {
	rt.gc.pending = true
}

// DisableGC increments the disable depth
func (rt *Runtime) DisableGC() {
	rt.gc.disabled++
}

// EnableGC decrements the disable depth
func (rt *Runtime) EnableGC() {
	if rt.gc.disabled > 0 {
		rt.gc.disabled--
	}
}

// GCStats returns collector statistics
func (rt *Runtime) GCStats() GCStats {
	return GCStats{
		Runs:      rt.gc.runs,
		Freed:     rt.gc.freed,
		Threshold: rt.gc.threshold,
		Disabled:  rt.gc.disabled > 0,
	}
}
