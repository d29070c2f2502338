package r3

import (
	"context"
	"strings"
	"time"
)

// waitTargets splits the argument of wait into targets and a timeout
func (rt *Runtime) waitTargets(out *Cell, v Cell) ([]Cell, time.Duration, error) {
	timeout := time.Duration(-1)
	var values []Cell
	switch v.kind {
	case KindNone:
	case KindBlock:
		var reduced Cell
		if err := rt.reduce(&reduced, v); err != nil {
			return nil, 0, err
		}
		if reduced.IsThrown() {
			*out = reduced
			return nil, 0, nil
		}
		values = cellsFrom(&reduced)
	default:
		values = []Cell{v}
	}
	var targets []Cell
	for _, x := range values {
		var d time.Duration
		switch x.kind {
		case KindInteger, KindDecimal:
			d = secondsDuration(x.Float())
		case KindTime:
			d = x.Duration()
		case KindNone:
			continue
		default:
			targets = append(targets, x)
			continue
		}
		if d < 0 {
			return nil, 0, rt.Errorf(ErrOutOfRange, x)
		}
		if timeout < 0 || d < timeout {
			timeout = d
		}
	}
	return targets, timeout, nil
}

// commandLine splits the argument of call into a program and arguments
func (rt *Runtime) commandLine(v Cell) ([]string, error) {
	var parts []string
	if v.kind == KindBlock {
		for _, x := range cellsFrom(&v) {
			if x.kind.IsAnyString() {
				parts = append(parts, seriesText(&x))
			} else {
				parts = append(parts, rt.Form(x))
			}
		}
	} else {
		parts = strings.Fields(seriesText(&v))
	}
	if len(parts) == 0 {
		return nil, rt.Errorf(ErrInvalidArg, v)
	}
	return parts, nil
}

func (rt *Runtime) registerSystemNatives() {
	rt.defineNative("recycle", "/off /on", func(c *Call) error {
		rt := c.rt
		switch {
		case c.Refined(1):
			rt.gc.disabled++
			*c.Out() = Unset()
		case c.Refined(2):
			if rt.gc.disabled > 0 {
				rt.gc.disabled--
			}
			*c.Out() = Unset()
		default:
			*c.Out() = Integer(int64(rt.Recycle()))
		}
		return nil
	})

	rt.defineNative("stats", "", func(c *Call) error {
		rt := c.rt
		ps := rt.pool.Stats()
		gs := rt.GCStats()
		return rt.objectOf(c.Out(),
			[]string{"memory", "peak", "series", "routines", "handles", "collections", "freed", "ballast", "evals", "depth"},
			Integer(ps.InUse), Integer(ps.Peak), Integer(int64(ps.Series)),
			Integer(int64(ps.Routines)), Integer(int64(ps.Handles)),
			Integer(int64(gs.Runs)), Integer(gs.Freed), Integer(gs.Threshold),
			Integer(rt.evalSteps), Integer(int64(rt.Depth())))
	})

	rt.defineNative("now", "/year /month /day /time /zone /weekday /precise", func(c *Call) error {
		rt := c.rt
		t := rt.host.Now()
		if !c.Refined(7) {
			t = t.Truncate(time.Second)
		}
		date := DateOf(t)
		for _, f := range [...]struct {
			arg  int
			name string
		}{{1, "year"}, {2, "month"}, {3, "day"}, {6, "weekday"}} {
			if c.Refined(f.arg) {
				v, _ := rt.timeField(date, f.name)
				*c.Out() = v
				return nil
			}
		}
		switch {
		case c.Refined(4):
			h, m, sec := t.Clock()
			d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
			*c.Out() = TimeOf(d + time.Duration(t.Nanosecond()))
		case c.Refined(5):
			_, offset := t.Zone()
			*c.Out() = TimeOf(time.Duration(offset) * time.Second)
		default:
			*c.Out() = date
		}
		return nil
	})

	rt.defineNative("get-env", "name [any-string! any-word!]", func(c *Call) error {
		rt := c.rt
		name := codecName(rt, *c.Arg(1))
		if thrown, err := rt.checkSecurity(c.Out(), ResFile, "get-env "+name); thrown || err != nil {
			return err
		}
		v, ok := rt.host.Getenv(name)
		if !ok {
			*c.Out() = None()
			return nil
		}
		*c.Out() = rt.stringCell(v)
		return nil
	})

	rt.defineNative("args", "", func(c *Call) error {
		rt := c.rt
		args := rt.host.Args()
		cells := make([]Cell, len(args))
		for i, a := range args {
			cells[i] = rt.stringCell(a)
		}
		*c.Out() = rt.blockCell(KindBlock, cells...)
		return nil
	})

	rt.defineNative("call", "command [string! block!] /input data [string! binary!] /output", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		parts, err := rt.commandLine(*c.Arg(1))
		if err != nil {
			return err
		}
		if thrown, err := rt.checkSecurity(out, ResCall, strings.Join(parts, " ")); thrown || err != nil {
			return err
		}
		var stdin []byte
		if c.Refined(2) {
			stdin = bytesOrText(c.Arg(3))
		}
		res, err := rt.host.Run(context.Background(), parts[0], parts[1:], stdin)
		if err != nil {
			return rt.cannotOpen(rt.stringCell(parts[0]), err)
		}
		if c.Refined(4) {
			*out = rt.stringCell(string(res.Output))
			return nil
		}
		if len(res.Output) > 0 {
			if _, err := rt.host.Console().Write(res.Output); err != nil {
				return err
			}
		}
		*out = Integer(int64(res.Status))
		return nil
	})

	rt.defineNative("wait", "value [number! time! task! port! block! none!] /all", func(c *Call) error {
		rt := c.rt
		targets, timeout, err := rt.waitTargets(c.Out(), *c.Arg(1))
		if err != nil || c.Out().IsThrown() {
			return err
		}
		return rt.wait(c.Out(), targets, timeout, c.Refined(2))
	})

	rt.defineNative("spawn", "code [block! string!]", func(c *Call) error {
		rt := c.rt
		v := *c.Arg(1)
		if v.kind != KindBlock {
			return rt.spawn(c.Out(), seriesText(&v))
		}
		parts := make([]string, 0, v.ser.Len())
		for _, x := range cellsFrom(&v) {
			parts = append(parts, rt.Mold(x, true))
		}
		return rt.spawn(c.Out(), strings.Join(parts, " "))
	})

	rt.defineNative("load-library", "file [file!]", func(c *Call) error {
		return c.rt.loadLibrary(c.Out(), *c.Arg(1))
	})
}

// bytesOrText returns the bytes of a binary or the UTF-8 of a string
func bytesOrText(v *Cell) []byte {
	if v.kind == KindBinary {
		return bytesFrom(v)
	}
	return []byte(seriesText(v))
}
