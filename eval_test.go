package r3

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluation(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"literal", "42", "42"},
		{"last value wins", "1 2 3", "3"},
		{"empty block", "", "unset!"},
		{"infix is left to right", "1 + 2 * 3", "9"},
		{"parens group", "1 + (2 * 3)", "7"},
		{"prefix argument takes infix", "negate 1 + 2", "-3"},
		{"set-word returns the value", "x: y: 5", "5"},
		{"get-word does not call", "type? :add", "action!"},
		{"lit-word", "'foo", "foo"},
		{"lit-path", "'a/b", "a/b"},
		{"word lookup", "z: 3 z * z", "9"},
		{"named comparison", "equal? 2 2.0", "true"},
		{"infix comparison", "1 < 2", "true"},
		{"logic ops", "true and false", "false"},
		{"nested blocks are data", "[1 + 2]", "[1 + 2]"},
		{"do a block", "do [1 + 2]", "3"},
		{"do a string", `do "2 * 21"`, "42"},
		{"reduce", "reduce [1 + 1 2 * 2]", "[2 4]"},
		{"compose", "compose [a (1 + 1) [(3)]]", "[a 2 [(3)]]"},
		{"compose deep", "compose/deep [a [(1 + 1)]]", "[a [2]]"},
		{"compose only", "compose/only [(reduce [1 2])]", "[[1 2]]"},
		{"compose splices", "compose [(reduce [1 2])]", "[1 2]"},
		{"comment", "comment [ignored] 1", "1"},
		{"path past the end", "b: [1 2] b/5", "none"},
		{"path by word", "b: [x 10 y 20] b/y", "20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := rt.Do(tt.src)
			require.NoError(t, err)
			got := rt.Mold(v, false)
			if v.Kind() == KindUnset {
				got = "unset!"
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestControlFlow(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"if true", "if 1 < 2 ['yes]", "yes"},
		{"if false is none", "if 1 > 2 ['yes]", "none"},
		{"if else", "if/else false [1] [2]", "2"},
		{"unless", "unless false [3]", "3"},
		{"either", "either none ['a] ['b]", "b"},
		{"all", "all [1 2 3]", "3"},
		{"all fails", "all [1 none 3]", "none"},
		{"any", "any [none false 7]", "7"},
		{"any fails", "any [none false]", "none"},
		{"loop", "n: 0 loop 4 [n: n + 2] n", "8"},
		{"repeat", "s: 0 repeat i 4 [s: s + i] s", "10"},
		{"repeat over series", "out: copy [] repeat x [a b] [append out x] out", "[a b]"},
		{"foreach", "s: 0 foreach v [1 2 3] [s: s + v] s", "6"},
		{"foreach pairs", "out: copy [] foreach [k v] [a 1 b 2] [append out v] out", "[1 2]"},
		{"foreach none", "foreach v none [1]", "none"},
		{"while", "i: 0 while [i < 5] [i: i + 1] i", "5"},
		{"until", "i: 0 until [i: i + 1 i = 3] i", "3"},
		{"forever with break", "i: 0 forever [i: i + 1 if i = 4 [break]] i", "4"},
		{"break/return", "loop 10 [break/return 'done]", "done"},
		{"continue", "s: 0 foreach v [1 2 3 4] [if even? v [continue] s: s + v] s", "4"},
		{"catch", "catch [throw 5 6]", "5"},
		{"catch name", "catch/name [throw/name 7 'inner] 'inner", "7"},
		{"catch name list", "catch/name [throw/name 8 'b] [a b]", "8"},
		{"catch passes other names", "catch/name [catch [throw/name 9 'outer]] 'outer", "9"},
		{"loop variables are local", "i: 'outer repeat i 2 [] i", "outer"},
		{"use", "u: 1 use [u] [u: 2] u", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, doMold(t, rt, tt.src))
		})
	}

	t.Run("catch/quit", func(t *testing.T) {
		assert.Equal(t, "2", doMold(t, rt, "catch/quit [quit/return 2]"))
	})

	t.Run("quit passes ordinary catch", func(t *testing.T) {
		_, err := rt.Do("catch [quit/return 4]")
		var exit *Exit
		require.True(t, errors.As(err, &exit))
		assert.Equal(t, 4, exit.Status)
	})
}

func TestFunctions(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"call", "f: func [a b] [a - b] f 10 3", "7"},
		{"return", `sgn: func [x] [if x < 0 [return "neg"] "pos"] reduce [sgn -1 sgn 1]`, `["neg" "pos"]`},
		{"recursion", "fact: func [n] [either n <= 1 [1] [n * fact n - 1]] fact 10", "3628800"},
		{"refinement off", "r: func [a /double] [either double [a * 2] [a]] r 4", "4"},
		{"refinement on", "r: func [a /double] [either double [a * 2] [a]] r/double 4", "8"},
		{"refinement args in path order", "p: func [/x a /y b] [reduce [a b]] p/y/x 1 2", "[2 1]"},
		{"unused refinement args are none", "p: func [/x a /y b] [reduce [a b]] p/y 5", "[none 5]"},
		{"lit-word parameter", "q: func ['w] [w] q hello", "hello"},
		{"lit-word parameter evaluates parens", "q: func ['w] [w] q (1 + 1)", "2"},
		{"get-word parameter", "g: func [:v] [v] g (1 + 2)", "(1 + 2)"},
		{"locals start as none", "l: func [a /local t] [t] l 1", "none"},
		{"function collects locals", "v: 1 h: function [] [v: 2 v] reduce [h v]", "[2 1]"},
		{"does", "d: does [10] d", "10"},
		{"has", "h2: has [t] [t: 3 t * t] h2", "9"},
		{"closure keeps its frame", "mk: closure [n] [func [x] [x + n]] add5: mk 5 add5 10", "15"},
		{"closure frames are separate", "mk: closure [n] [does [n]] a: mk 1 b: mk 2 reduce [a b]", "[1 2]"},
		{"type checked", "t: func [a [integer!]] [a] t 3", "3"},
		{"typeset names", "t2: func [a [any-string!]] [a] t2 <tag>", "<tag>"},
		{"return spec is documentation", "rs: func [a return: [integer!]] [a] rs 1", "1"},
		{"custom infix", "plus: infix func [a b] [a + b] 1 plus 2 * 3", "9"},
		{"apply", "apply :add [1 2]", "3"},
		{"apply reduces", "apply :add [1 + 1 2]", "4"},
		{"apply only", "apply/only func [a] [a] [x]", "x"},
		{"apply refinements", "r: func [a /double] [either double [a * 2] [a]] apply :r [3 true]", "6"},
		{"function value in a block", "do reduce [:add 1 2]", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, doMold(t, rt, tt.src))
		})
	}

	t.Run("argument words need a live call", func(t *testing.T) {
		e := doError(t, rt, "mk2: func [n] [func [x] [x + n]] f2: mk2 5 f2 1")
		assert.Equal(t, ErrNotAvailable, e.ID)
	})

	t.Run("Go apply", func(t *testing.T) {
		add, ok := rt.Get("add")
		require.True(t, ok)
		v, err := rt.Apply(add, []Cell{Integer(2), Integer(5)})
		require.NoError(t, err)
		assert.Equal(t, int64(7), v.Int())

		_, err = rt.Apply(add, []Cell{Integer(2)})
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrNoArg, e.ID)

		_, err = rt.Apply(Integer(1), nil)
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrInvalidArg, e.ID)
	})

	t.Run("bad specs", func(t *testing.T) {
		assert.Equal(t, ErrDupVars, doError(t, rt, "func [a a] []").ID)
		assert.Equal(t, ErrBadFuncDef, doError(t, rt, "func [[integer!] a] []").ID)
		assert.Equal(t, ErrBadFuncDef, doError(t, rt, "func [a [no-such-type!]] []").ID)
		assert.Equal(t, ErrBadFuncDef, doError(t, rt, "func [1] []").ID)
	})
}

func TestEvalErrors(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	tests := []struct {
		name string
		src  string
		id   ErrorID
	}{
		{"no value", "undefined-word", ErrNoValue},
		{"need value at end", "x:", ErrNeedValue},
		{"need value from unset", "x: ()", ErrNeedValue},
		{"infix first", "+ 1 2", ErrInfixFirst},
		{"missing argument", "add 1", ErrNoArg},
		{"wrong type", `add "a" 1`, ErrExpectArg},
		{"unknown refinement", "append/nope [] 1", ErrBadRefine},
		{"repeated refinement", "f: func [/a] [] f/a/a", ErrBadRefine},
		{"typed parameter", `t: func [a [integer!]] [a] t "x"`, ErrExpectArg},
		{"bad path", "o: make object! [a: 1] o/b", ErrInvalidPath},
		{"divide by zero", "1 / 0", ErrZeroDivide},
		{"overflow", "9223372036854775807 + 1", ErrOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := doError(t, rt, tt.src)
			assert.Equal(t, tt.id, e.ID, e.Error())
		})
	}

	t.Run("error location", func(t *testing.T) {
		e := doError(t, rt, "f: func [x] [x undefined-thing] f 1")
		assert.Equal(t, ErrNoValue, e.ID)
		assert.Equal(t, []string{"f"}, e.Where)
		assert.Contains(t, e.Report(), "** Script error: undefined-thing has no value")
		assert.Contains(t, e.Report(), "** Where: f")
	})

	t.Run("state is clean after errors", func(t *testing.T) {
		assert.Zero(t, rt.Depth())
		assert.Zero(t, rt.DataStackDepth())
		assert.Empty(t, rt.traps)
	})
}

func TestStackOverflow(t *testing.T) {
	rt, _ := newTestRuntime(t, false, func(c *Config) { c.StackLimit = 64 })
	e := doError(t, rt, "down: func [] [down] down")
	assert.Equal(t, ErrStackOverflow, e.ID)
	assert.Equal(t, CatInternal, e.Category())
	assert.Zero(t, rt.Depth())

	// the overflow is catchable and the runtime keeps working
	assert.Equal(t, "true", doMold(t, rt, "error? try [down]"))
	assert.Equal(t, "2", doMold(t, rt, "1 + 1"))
}

func TestDataStackOverflow(t *testing.T) {
	rt, _ := newTestRuntime(t, false, func(c *Config) {
		c.DataStackSize = 64
		c.StackLimit = 10000
	})
	e := doError(t, rt, "deep: func [a b c d] [deep a b c d] deep 1 2 3 4")
	assert.Equal(t, ErrStackOverflow, e.ID)
	assert.Zero(t, rt.DataStackDepth())
}

func TestDoCoreStepping(t *testing.T) {
	rt, _ := newTestRuntime(t, false)
	block, err := rt.Scan("1 + 2 add 3 4 10", "step")
	require.NoError(t, err)
	require.NoError(t, rt.Intern(block))
	rt.PushGuard(block)
	defer rt.DropGuard(block)

	var out Cell
	var values []int64
	index := 0
	_, err = rt.Trap(func() error {
		for {
			next, err := rt.DoCore(&out, block, index, true)
			if err != nil {
				return err
			}
			if next == EndFlag {
				return nil
			}
			values = append(values, out.Int())
			index = next
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7, 10}, values)
}

func TestSafePoints(t *testing.T) {
	t.Run("halt stops a loop", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false, func(c *Config) { c.EvalCountdown = 10 })
		rt.Halt()
		_, err := rt.Do("forever []")
		require.Error(t, err)
		assert.True(t, IsHalt(err))
		assert.Zero(t, rt.Depth())
		assert.Equal(t, "3", doMold(t, rt, "1 + 2"))
	})

	t.Run("halt is not caught by try", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		_, err := rt.Do("try [halt] 1")
		assert.True(t, IsHalt(err))
	})

	t.Run("evaluation limit throws", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false, func(c *Config) {
			c.EvalCountdown = 10
			c.Security = DefaultSecurityPolicy()
			c.Security.EvalLimit = 100
			c.Security.Levels[ResEval] = SecThrow
		})
		e := doError(t, rt, "forever [1]")
		assert.Equal(t, ErrSecurity, e.ID)
		assert.Contains(t, e.Message(), "eval")
	})

	t.Run("evaluation limit quits", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false, func(c *Config) {
			c.EvalCountdown = 10
			c.Security = DefaultSecurityPolicy()
			c.Security.EvalLimit = 100
			c.Security.Levels[ResEval] = SecQuit
		})
		_, err := rt.Do("catch [forever [1]]")
		var exit *Exit
		require.True(t, errors.As(err, &exit))
		assert.Equal(t, 500, exit.Status)
	})
}

func TestShadowing(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	t.Run("infix in an object", func(t *testing.T) {
		assert.Equal(t, "12", doMold(t, rt, "o: make object! [+: infix func [a b] [a * b] r: 3 + 4] o/r"))
		assert.Equal(t, "3", doMold(t, rt, "1 + 2"))
		assert.Equal(t, "3", doMold(t, rt, "f: func [n] [n + 1] f 2"))
	})

	t.Run("infix local to a function", func(t *testing.T) {
		assert.Equal(t, "4", doMold(t, rt, "g: function [] [-: infix func [a b] [a + b] 3 - 1] g"))
		assert.Equal(t, "2", doMold(t, rt, "3 - 1"))
	})

	t.Run("parameter named like a native", func(t *testing.T) {
		assert.Equal(t, "[5 3]", doMold(t, rt, "h: func [print] [print + 2] reduce [h 3 length? [a b c]]"))
		assert.Equal(t, "action!", doMold(t, rt, "type? :length?"))
	})

	t.Run("top level definitions still win", func(t *testing.T) {
		assert.Equal(t, "10", doMold(t, rt, "*: infix func [a b] [a + b] 4 * 6"))
		assert.Equal(t, "10", doMold(t, rt, "4 * 6"))
	})
}

func TestDeterminism(t *testing.T) {
	src := `
		acc: copy []
		repeat i 40 [append acc either even? i [i * i] [form i]]
		o: make object! [total: 0 foreach x acc [if integer? x [total: total + x]]]
		reduce [length? acc o/total copy/part skip acc 10 4 find acc "7"]
	`
	run := func() string {
		rt, _ := newTestRuntime(t, false)
		return doMold(t, rt, src)
	}
	first := run()
	assert.Equal(t, `[40 11480 ["11" 144 "13" 196] ["7" 64 "9" 100 "11" 144 "13" 196 "15" 256 "17" 324 "19" 400 "21" 484 "23" 576 "25" 676 "27" 784 "29" 900 "31" 1024 "33" 1156 "35" 1296 "37" 1444 "39" 1600]]`, first)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, run())
	}
}
