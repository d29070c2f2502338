package r3

import "strings"

// defineDatatypes binds the datatype and typeset words, the logic and none
// words and a type predicate for each of them
func (rt *Runtime) defineDatatypes() {
	for k := KindUnset; k < KindMax; k++ {
		if k == KindFrame {
			continue
		}
		rt.defineLib(k.TypeName(), Datatype(k))
		kind := k
		rt.defineNative(k.String()+"?", "value [any-type!]", func(c *Call) error {
			*c.Out() = Logic(c.Arg(1).kind == kind)
			return nil
		})
	}
	for _, nt := range namedTypesets {
		rt.defineLib(nt.name, TypesetCell(nt.ts))
		ts := nt.ts
		rt.defineNative(strings.TrimSuffix(nt.name, "!")+"?", "value [any-type!]", func(c *Call) error {
			*c.Out() = Logic(ts.Has(c.Arg(1).kind))
			return nil
		})
	}

	rt.defineLib("none", None())
	for _, name := range []string{"true", "on", "yes"} {
		rt.defineLib(name, Logic(true))
	}
	for _, name := range []string{"false", "off", "no"} {
		rt.defineLib(name, Logic(false))
	}

	rt.defineNative("type?", "value [any-type!] /word", func(c *Call) error {
		k := c.Arg(1).kind
		if c.Refined(2) {
			*c.Out() = c.rt.wordCell(k.TypeName())
			return nil
		}
		*c.Out() = Datatype(k)
		return nil
	})
}
