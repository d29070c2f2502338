package r3

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// taskState is shared between a parent runtime and the goroutine of a
// spawned task. The goroutine writes the outcome before closing done; the
// parent reads it only after done is closed.
type taskState struct {
	id      int64
	done    chan struct{}
	result  string // Molded result, empty for unset
	failure string
	exit    *Exit
}

// spawn starts code on a new runtime and returns a task! value for it.
// The child shares nothing with rt: code and its result cross as text.
func (rt *Runtime) spawn(out *Cell, code string) error {
	id := rt.taskCount.Add(1)
	st := &taskState{id: id, done: make(chan struct{})}

	cfg := *rt.config
	cfg.Args = nil
	logger := rt.logger.Derive(fmt.Sprintf("%s task-%d", rt.logger.prefix, id))
	host, fc := rt.host, rt.ffi

	rt.tasks.Go(func() error {
		defer close(st.done)
		child, err := New(&cfg, WithHost(host), WithForeignCaller(fc), WithLogger(logger))
		if err != nil {
			st.failure = err.Error()
			return fmt.Errorf("task %d: %w", id, err)
		}
		rt.adopt(child)
		defer rt.disown(child)
		defer child.Close()

		v, err := child.Do(code)
		var exit *Exit
		var scriptErr *Error
		switch {
		case errors.As(err, &exit):
			st.exit = &Exit{Status: exit.Status}
		case errors.As(err, &scriptErr):
			st.failure = scriptErr.Report()
		case err != nil:
			st.failure = err.Error()
		case v.kind != KindUnset:
			st.result = child.Mold(v, true)
		}
		logger.DebugCat(CatTask, "task %d finished", id)
		return nil
	})

	if err := rt.objectOf(out, []string{"id", "code"}, Integer(id), rt.stringCell(code)); err != nil {
		return err
	}
	out.kind = KindTask
	out.ser.At(0).num = uint64(KindTask)
	out.handle = rt.NewHandle(st, nil)
	rt.logger.DebugCat(CatTask, "spawned task %d", id)
	return nil
}

// adopt records a running child so halts reach it
func (rt *Runtime) adopt(child *Runtime) {
	rt.taskMu.Lock()
	defer rt.taskMu.Unlock()
	if rt.children == nil {
		rt.children = make(map[*Runtime]struct{})
	}
	rt.children[child] = struct{}{}
	if rt.halted.Load() {
		child.Halt()
	}
}

func (rt *Runtime) disown(child *Runtime) {
	rt.taskMu.Lock()
	defer rt.taskMu.Unlock()
	delete(rt.children, child)
}

// haltChildren forwards a halt to every running child
func (rt *Runtime) haltChildren() {
	rt.taskMu.Lock()
	defer rt.taskMu.Unlock()
	for child := range rt.children {
		child.Halt()
	}
}

// taskOf returns the shared state behind a task! value
func taskOf(v Cell) (*taskState, bool) {
	if v.kind != KindTask || v.handle == nil {
		return nil, false
	}
	st, ok := v.handle.value.(*taskState)
	return st, ok
}

// taskResult converts the outcome of a finished task back into a value.
// A result that molds as a construction is rebuilt by evaluating it.
func (rt *Runtime) taskResult(out *Cell, st *taskState) error {
	switch {
	case st.failure != "":
		return rt.Errorf(ErrMessage, rt.stringCell(fmt.Sprintf("task %d failed: %s", st.id, st.failure)))
	case st.exit != nil:
		*out = Integer(int64(st.exit.Status))
		return nil
	case st.result == "":
		*out = Unset()
		return nil
	}
	block, err := rt.Scan(st.result, "task")
	if err != nil {
		return err
	}
	if block.Len() == 0 {
		*out = Unset()
		return nil
	}
	first := block.At(0)
	if first.kind == KindWord && rt.syms.Spelling(first.sym) == "make" {
		rt.PushGuard(block)
		defer rt.DropGuard(block)
		if err := rt.Intern(block); err != nil {
			return err
		}
		return rt.DoBlock(out, block, 0)
	}
	*out = *first
	out.flags &^= FlagNewline
	return nil
}

// watchHalt cancels a blocking host wait when Halt is called. The returned
// function stops the watcher.
func (rt *Runtime) watchHalt(cancel context.CancelFunc) func() {
	quit := make(chan struct{})
	go func() {
		select {
		case <-rt.haltWake:
			cancel()
		case <-quit:
		}
	}()
	return func() { close(quit) }
}

var closedDone = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// wait blocks until a target completes or timeout passes; with all set it
// waits for every target. A negative timeout waits without limit. Tasks
// complete when their script ends; ports are always ready.
func (rt *Runtime) wait(out *Cell, targets []Cell, timeout time.Duration, all bool) error {
	select {
	case <-rt.haltWake:
	default:
	}
	if rt.halted.Swap(false) {
		return rt.Errorf(ErrHaltID)
	}

	reqs := make([]*Request, 0, len(targets))
	for _, t := range targets {
		switch t.kind {
		case KindTask:
			st, ok := taskOf(t)
			if !ok {
				return rt.Errorf(ErrInvalidArg, t)
			}
			reqs = append(reqs, &Request{Target: t, Done: st.done})
		case KindPort:
			reqs = append(reqs, &Request{Target: t, Done: closedDone})
		default:
			return rt.Errorf(ErrInvalidArg, t)
		}
	}
	if len(reqs) == 0 && timeout < 0 {
		*out = None()
		return nil
	}

	base := len(rt.requests)
	rt.requests = append(rt.requests, reqs...)
	defer func() { rt.requests = rt.requests[:base] }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := rt.watchHalt(cancel)
	defer stop()

	start := rt.host.Now()
	pending := reqs
	finished := make(map[*Request]bool)
	for {
		remaining := timeout
		if timeout >= 0 {
			remaining = max(timeout-rt.host.Now().Sub(start), 0)
		}
		fired, err := rt.host.Wait(ctx, pending, remaining)
		if rt.halted.Swap(false) {
			return rt.Errorf(ErrHaltID)
		}
		if err != nil {
			return rt.Errorf(ErrMessage, rt.stringCell(err.Error()))
		}
		if len(fired) == 0 {
			break
		}
		for _, r := range fired {
			finished[r] = true
		}
		if !all || len(finished) == len(reqs) {
			break
		}
		next := pending[:0:0]
		for _, r := range pending {
			if !finished[r] {
				next = append(next, r)
			}
		}
		pending = next
	}

	if !all {
		for _, r := range reqs {
			if finished[r] {
				return rt.requestResult(out, r)
			}
		}
		*out = None()
		return nil
	}
	results := rt.pool.MakeArray(len(reqs), 0)
	rt.PushGuard(results)
	defer rt.DropGuard(results)
	for _, r := range reqs {
		if !finished[r] {
			continue
		}
		var v Cell
		if err := rt.requestResult(&v, r); err != nil {
			return err
		}
		if v.IsThrown() {
			*out = v
			return nil
		}
		results.Append(v)
	}
	results.Manage()
	*out = SeriesCell(KindBlock, results, 0)
	return nil
}

func (rt *Runtime) requestResult(out *Cell, r *Request) error {
	if st, ok := taskOf(r.Target); ok {
		return rt.taskResult(out, st)
	}
	*out = r.Target
	return nil
}
