package r3

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// formReduced forms a value for output; blocks are reduced first and their
// results joined with spaces
func (rt *Runtime) formReduced(out *Cell, v Cell) (string, error) {
	if v.kind != KindBlock {
		return rt.Form(v), nil
	}
	var reduced Cell
	if err := rt.reduce(&reduced, v); err != nil {
		return "", err
	}
	if reduced.IsThrown() {
		*out = reduced
		return "", nil
	}
	return rt.Form(reduced), nil
}

// join copies base and appends rest to it, reducing a rest block first
// when reduce is set. A base that is not a series becomes a string.
func (rt *Runtime) join(out *Cell, base, rest Cell, reduce bool) error {
	if reduce && rest.kind == KindBlock {
		var reduced Cell
		if err := rt.reduce(&reduced, rest); err != nil {
			return err
		}
		if reduced.IsThrown() {
			*out = reduced
			return nil
		}
		rest = reduced
	}
	var target Cell
	switch {
	case base.kind.IsAnyBlock():
		target = SeriesCell(base.kind, rt.pool.CopyArray(base.ser, base.index, base.ser.Len(), false, true), 0)
	case base.kind.IsSeries():
		s := rt.pool.CopySeries(base.ser, base.index, base.ser.Len())
		s.Manage()
		target = SeriesCell(base.kind, s, 0)
	default:
		target = rt.stringCell(rt.Form(base))
	}
	if _, err := rt.insertValue(target, target.ser.Len(), rest, false); err != nil {
		return err
	}
	*out = target
	return nil
}

// changeCase rewrites the text of a string value in place
func (rt *Runtime) changeCase(c *Call, caser cases.Caser) error {
	v := *c.Arg(1)
	if v.kind == KindChar {
		rs := []rune(caser.String(string(v.Char())))
		*c.Out() = v
		if len(rs) == 1 {
			*c.Out() = Char(rs[0])
		}
		return nil
	}
	if err := rt.checkModify(v.ser); err != nil {
		return err
	}
	idx := min(v.index, v.ser.Len())
	rs := []rune(caser.String(seriesText(&v)))
	v.ser.Clear(idx)
	v.ser.InsertRunes(idx, rs)
	*c.Out() = v
	return nil
}

func (rt *Runtime) registerSeriesNatives() {
	rt.defineNative("print", "value [any-type!]", func(c *Call) error {
		text, err := c.rt.formReduced(c.Out(), *c.Arg(1))
		if err != nil || c.Out().IsThrown() {
			return err
		}
		*c.Out() = Unset()
		return c.rt.Print(text)
	})

	rt.defineNative("prin", "value [any-type!]", func(c *Call) error {
		text, err := c.rt.formReduced(c.Out(), *c.Arg(1))
		if err != nil || c.Out().IsThrown() {
			return err
		}
		*c.Out() = Unset()
		_, err = c.rt.host.Console().Write([]byte(text))
		return err
	})

	rt.defineNative("probe", "value [any-type!]", func(c *Call) error {
		*c.Out() = *c.Arg(1)
		return c.rt.Print(c.rt.Mold(*c.Arg(1), false))
	})

	rt.defineNative("mold", "value [any-type!] /all /only", func(c *Call) error {
		rt := c.rt
		v := *c.Arg(1)
		text := rt.Mold(v, c.Refined(2))
		if c.Refined(3) && v.kind == KindBlock {
			parts := make([]string, 0, v.ser.Len())
			for _, x := range cellsFrom(&v) {
				parts = append(parts, rt.Mold(x, c.Refined(2)))
			}
			text = strings.Join(parts, " ")
		}
		*c.Out() = rt.stringCell(text)
		return nil
	})

	rt.defineNative("form", "value [any-type!]", func(c *Call) error {
		*c.Out() = c.rt.stringCell(c.rt.Form(*c.Arg(1)))
		return nil
	})

	rt.defineNative("join", "value [any-value!] rest [any-value!]", func(c *Call) error {
		return c.rt.join(c.Out(), *c.Arg(1), *c.Arg(2), true)
	})

	rt.defineNative("rejoin", "block [block!]", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		var reduced Cell
		if err := rt.reduce(&reduced, *c.Arg(1)); err != nil {
			return err
		}
		if reduced.IsThrown() {
			*out = reduced
			return nil
		}
		parts := cellsFrom(&reduced)
		if len(parts) == 0 {
			*out = rt.blockCell(KindBlock)
			return nil
		}
		return rt.join(out, parts[0], rt.blockCell(KindBlock, parts[1:]...), false)
	})

	rt.defineNative("empty?", "series [series! map! any-object! none!]", func(c *Call) error {
		v := *c.Arg(1)
		switch {
		case v.kind == KindNone:
			*c.Out() = Logic(true)
		case v.kind == KindMap:
			*c.Out() = Logic(v.ser.Len() == 0)
		case v.kind.IsAnyObject():
			*c.Out() = Logic(v.ser.Len() <= 1)
		default:
			*c.Out() = Logic(v.index >= v.ser.Len())
		}
		return nil
	})

	rt.defineNative("lock", "value [word! block! any-object! series!]", func(c *Call) error {
		v := *c.Arg(1)
		*c.Out() = v
		if v.kind.IsAnyObject() {
			v.ser.Lock()
			keys := c.rt.ownKeys(v.ser)
			for i := 1; i < keys.Len(); i++ {
				keys.At(i).flags |= FlagProtected | FlagLocked
			}
			return nil
		}
		return c.rt.protectValue(v, true, v.kind == KindBlock && v.ser != nil && !isWordBlock(v), true)
	})

	rt.defineNative("load", "source [string! binary! file! url!] /all", func(c *Call) error {
		rt := c.rt
		out := c.Out()
		v := *c.Arg(1)
		var text string
		switch v.kind {
		case KindString:
			text = seriesText(&v)
		case KindBinary:
			text = string(bytesFrom(&v))
		default:
			data, err := rt.readSource(out, v)
			if err != nil || out.IsThrown() {
				return err
			}
			text = string(data)
		}
		block, err := rt.Scan(text, "load")
		if err != nil {
			return err
		}
		rt.PushGuard(block)
		defer rt.DropGuard(block)
		if err := rt.Intern(block); err != nil {
			return err
		}
		if block.Len() == 1 && !c.Refined(2) {
			*out = *block.At(0)
			out.flags &^= FlagNewline
			return nil
		}
		*out = SeriesCell(KindBlock, block, 0)
		return nil
	})

	rt.defineNative("trim", "series [any-string!] /head /tail", func(c *Call) error {
		v := *c.Arg(1)
		if err := c.rt.checkModify(v.ser); err != nil {
			return err
		}
		text := seriesText(&v)
		switch {
		case c.Refined(2):
			text = strings.TrimLeft(text, " \t\r\n")
		case c.Refined(3):
			text = strings.TrimRight(text, " \t\r\n")
		default:
			text = strings.TrimSpace(text)
		}
		idx := min(v.index, v.ser.Len())
		v.ser.Clear(idx)
		v.ser.InsertRunes(idx, []rune(text))
		*c.Out() = v
		return nil
	})

	rt.defineNative("uppercase", "string [any-string! char!]", func(c *Call) error {
		return c.rt.changeCase(c, cases.Upper(language.Und))
	})

	rt.defineNative("lowercase", "string [any-string! char!]", func(c *Call) error {
		return c.rt.changeCase(c, cases.Lower(language.Und))
	})
}

// isWordBlock reports whether a block holds only words, the form protect
// and lock take for a list of variables
func isWordBlock(v Cell) bool {
	for _, x := range cellsFrom(&v) {
		if !x.kind.IsAnyWord() {
			return false
		}
	}
	return true
}
