package r3

import (
	"math"
	"time"
)

// secondsDuration converts seconds to a duration rounded to the nanosecond
func secondsDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// compareOp builds a comparison native from a test on the ordering
func compareOp(test func(n int) bool) NativeFunc {
	return func(c *Call) error {
		n, err := c.rt.Compare(*c.Arg(1), *c.Arg(2))
		if err != nil {
			return err
		}
		*c.Out() = Logic(test(n))
		return nil
	}
}

// logicOp builds and, or and xor: logic operands combine as truth values,
// integers bitwise
func logicOp(fl func(a, b bool) bool, fi func(a, b int64) int64) NativeFunc {
	return func(c *Call) error {
		a, b := *c.Arg(1), *c.Arg(2)
		if a.kind == KindInteger && b.kind == KindInteger {
			*c.Out() = Integer(fi(a.Int(), b.Int()))
			return nil
		}
		if a.kind == KindInteger || b.kind == KindInteger {
			return c.rt.Errorf(ErrExpectArg, c.labelWord(), badOperand(c, a), Datatype(b.kind))
		}
		*c.Out() = Logic(fl(a.IsTruthy(), b.IsTruthy()))
		return nil
	}
}

// badOperand names the offending operand of a mixed logic operation
func badOperand(c *Call, a Cell) Cell {
	if a.kind == KindInteger {
		return paramName(c.fn, 2)
	}
	return paramName(c.fn, 1)
}

func (rt *Runtime) registerMathNatives() {
	ops := []struct {
		name string
		act  ActionID
	}{
		{"+", ActAdd},
		{"-", ActSubtract},
		{"*", ActMultiply},
		{"/", ActDivide},
		{"//", ActRemainder},
	}
	for _, op := range ops {
		act := op.act
		rt.defineOp(op.name, "value1 [scalar! date!] value2 [scalar! date!]", func(c *Call) error {
			return c.rt.doAction(c, act)
		})
	}

	equal := func(strict, want bool) NativeFunc {
		return func(c *Call) error {
			*c.Out() = Logic(c.rt.Equal(*c.Arg(1), *c.Arg(2), strict) == want)
			return nil
		}
	}
	for _, def := range []struct {
		op, name string
		fn       NativeFunc
	}{
		{"=", "equal?", equal(false, true)},
		{"<>", "not-equal?", equal(false, false)},
		{"==", "strict-equal?", equal(true, true)},
		{"!=", "strict-not-equal?", equal(true, false)},
		{"<", "lesser?", compareOp(func(n int) bool { return n < 0 })},
		{">", "greater?", compareOp(func(n int) bool { return n > 0 })},
		{"<=", "lesser-or-equal?", compareOp(func(n int) bool { return n <= 0 })},
		{">=", "greater-or-equal?", compareOp(func(n int) bool { return n >= 0 })},
	} {
		rt.defineOp(def.op, "value1 [any-type!] value2 [any-type!]", def.fn)
		rt.defineNative(def.name, "value1 [any-type!] value2 [any-type!]", def.fn)
	}

	rt.defineNative("same?", "value1 [any-type!] value2 [any-type!]", func(c *Call) error {
		a, b := *c.Arg(1), *c.Arg(2)
		same := a.kind == b.kind
		switch {
		case !same:
		case a.kind.IsSeries() || a.kind.IsAnyObject() || a.kind == KindMap || a.kind.IsAnyFunction():
			same = a.ser == b.ser && a.index == b.index
		case a.kind.IsAnyWord():
			same = a.sym == b.sym && a.ser == b.ser && a.index == b.index
		default:
			same = c.rt.Equal(a, b, true)
		}
		*c.Out() = Logic(same)
		return nil
	})

	rt.defineNative("not", "value [any-type!]", func(c *Call) error {
		*c.Out() = Logic(!c.Arg(1).IsTruthy())
		return nil
	})

	rt.defineOp("and", "value1 [any-type!] value2 [any-type!]", logicOp(
		func(a, b bool) bool { return a && b },
		func(a, b int64) int64 { return a & b }))
	rt.defineOp("or", "value1 [any-type!] value2 [any-type!]", logicOp(
		func(a, b bool) bool { return a || b },
		func(a, b int64) int64 { return a | b }))
	rt.defineOp("xor", "value1 [any-type!] value2 [any-type!]", logicOp(
		func(a, b bool) bool { return a != b },
		func(a, b int64) int64 { return a ^ b }))

	rt.defineNative("zero?", "value [any-type!]", func(c *Call) error {
		v := *c.Arg(1)
		switch {
		case v.kind.IsNumber():
			*c.Out() = Logic(v.Float() == 0)
		case v.kind == KindChar || v.kind == KindTime:
			*c.Out() = Logic(v.num == 0)
		case v.kind == KindPair:
			x, y := v.PairXY()
			*c.Out() = Logic(x == 0 && y == 0)
		default:
			*c.Out() = Logic(false)
		}
		return nil
	})

	sign := func(test func(f float64) bool) NativeFunc {
		return func(c *Call) error {
			v := *c.Arg(1)
			f := v.Float()
			if v.kind == KindTime {
				f = v.Duration().Seconds()
			}
			*c.Out() = Logic(test(f))
			return nil
		}
	}
	rt.defineNative("positive?", "number [number! time!]", sign(func(f float64) bool { return f > 0 }))
	rt.defineNative("negative?", "number [number! time!]", sign(func(f float64) bool { return f < 0 }))

	rt.defineNative("sign?", "number [number! time!]", func(c *Call) error {
		v := *c.Arg(1)
		f := v.Float()
		if v.kind == KindTime {
			f = v.Duration().Seconds()
		}
		switch {
		case f > 0:
			*c.Out() = Integer(1)
		case f < 0:
			*c.Out() = Integer(-1)
		default:
			*c.Out() = Integer(0)
		}
		return nil
	})

	parity := func(want int64) NativeFunc {
		return func(c *Call) error {
			v := *c.Arg(1)
			n := v.Int()
			switch v.kind {
			case KindChar:
				n = int64(v.Char())
			case KindDecimal, KindPercent, KindMoney:
				n = int64(math.Trunc(v.Float()))
			}
			*c.Out() = Logic(n&1 == want)
			return nil
		}
	}
	rt.defineNative("even?", "number [number! char!]", parity(0))
	rt.defineNative("odd?", "number [number! char!]", parity(1))

	pick := func(wantLess bool) NativeFunc {
		return func(c *Call) error {
			a, b := *c.Arg(1), *c.Arg(2)
			n, err := c.rt.Compare(a, b)
			if err != nil {
				return err
			}
			if (n < 0) == wantLess {
				*c.Out() = a
			} else {
				*c.Out() = b
			}
			return nil
		}
	}
	rt.defineNative("min", "value1 [scalar! series!] value2 [scalar! series!]", pick(true))
	rt.defineNative("max", "value1 [scalar! series!] value2 [scalar! series!]", pick(false))

	rt.defineNative("round", "value [number! time!] /to scale [number! time!] /down /floor /ceiling", func(c *Call) error {
		v := *c.Arg(1)
		f := v.Float()
		if v.kind == KindTime {
			f = v.Duration().Seconds()
		}
		scale := 1.0
		if c.Refined(2) {
			s := *c.Arg(3)
			scale = s.Float()
			if s.kind == KindTime {
				scale = s.Duration().Seconds()
			}
			if scale == 0 {
				return c.rt.Errorf(ErrZeroDivide)
			}
		}
		var r float64
		switch {
		case c.Refined(4):
			r = math.Trunc(f/scale) * scale
		case c.Refined(5):
			r = math.Floor(f/scale) * scale
		case c.Refined(6):
			r = math.Ceil(f/scale) * scale
		default:
			r = math.Round(f/scale) * scale
		}
		switch {
		case v.kind == KindTime:
			*c.Out() = TimeOf(secondsDuration(r))
		case v.kind == KindInteger || (c.Refined(2) && c.Arg(3).kind == KindInteger) || !c.Refined(2) && v.kind == KindDecimal:
			if r > math.MaxInt64 || r < math.MinInt64 {
				return c.rt.Errorf(ErrOverflow)
			}
			*c.Out() = Integer(int64(r))
		default:
			*c.Out() = numberOf(v.kind, r)
		}
		return nil
	})
}
