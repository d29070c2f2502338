package r3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keySpellings(rt *Runtime, keys *Series) []string {
	var out []string
	for i := 1; i < keys.Len(); i++ {
		out = append(out, rt.syms.Spelling(keys.At(i).sym))
	}
	return out
}

func TestCollectKeys(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	t.Run("set-words only", func(t *testing.T) {
		block, err := rt.Scan("a: 1 b: [c: 2] d a: 3", "test")
		require.NoError(t, err)
		keys, err := rt.binder.CollectKeys(block, 0, CollectSetWords, nil)
		require.NoError(t, err)
		assert.Equal(t, SymSelf, keys.At(0).sym)
		assert.Equal(t, []string{"a", "b"}, keySpellings(rt, keys))
	})

	t.Run("deep and all words", func(t *testing.T) {
		block, err := rt.Scan("a: [b 'c :d /e #f] (g)", "test")
		require.NoError(t, err)
		keys, err := rt.binder.CollectKeys(block, 0, CollectAllWords|CollectDeep, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "g"}, keySpellings(rt, keys))
	})

	t.Run("duplicates folded by case", func(t *testing.T) {
		block, err := rt.Scan("Abc: 1 abc: 2", "test")
		require.NoError(t, err)
		keys, err := rt.binder.CollectKeys(block, 0, CollectSetWords, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Abc"}, keySpellings(rt, keys))
	})

	t.Run("no-dup mode rejects repeats", func(t *testing.T) {
		block, err := rt.Scan("x: 1 x: 2", "test")
		require.NoError(t, err)
		_, err = rt.binder.CollectKeys(block, 0, CollectSetWords|CollectNoDup, nil)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrDupVars, e.ID)
		// binder was released
		_, err = rt.binder.CollectKeys(block, 0, CollectSetWords, nil)
		assert.NoError(t, err)
	})

	t.Run("prior keylist is reused when nothing is added", func(t *testing.T) {
		first, err := rt.Scan("p: 1 q: 2", "test")
		require.NoError(t, err)
		prior, err := rt.binder.CollectKeys(first, 0, CollectSetWords, nil)
		require.NoError(t, err)

		same, err := rt.Scan("q: 3", "test")
		require.NoError(t, err)
		keys, err := rt.binder.CollectKeys(same, 0, CollectSetWords, prior)
		require.NoError(t, err)
		assert.Same(t, prior, keys)

		more, err := rt.Scan("r: 4 p: 5", "test")
		require.NoError(t, err)
		keys, err = rt.binder.CollectKeys(more, 0, CollectSetWords, prior)
		require.NoError(t, err)
		assert.NotSame(t, prior, keys)
		assert.Equal(t, []string{"p", "q", "r"}, keySpellings(rt, keys))
	})

	t.Run("self is implicit", func(t *testing.T) {
		block, err := rt.Scan("self: 1 z: 2", "test")
		require.NoError(t, err)
		keys, err := rt.binder.CollectKeys(block, 0, CollectSetWords, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"z"}, keySpellings(rt, keys))
	})

	t.Run("opening twice is a fault", func(t *testing.T) {
		rt.binder.Start(CollectSetWords, nil)
		defer rt.binder.Abort()
		f := requireFault(t, func() { rt.binder.Start(CollectSetWords, nil) })
		assert.Contains(t, f.Message, "already in progress")
	})
}

func TestBind(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	frame := func(names ...string) *Series {
		vals := rt.MakeFrame(len(names), KindObject)
		for _, n := range names {
			_, err := rt.AppendKey(vals, rt.syms.Intern(n))
			require.NoError(t, err)
		}
		return vals
	}

	t.Run("binds known words only", func(t *testing.T) {
		vals := frame("a")
		block, err := rt.Scan("a b [a]", "test")
		require.NoError(t, err)
		require.NoError(t, rt.Bind(block, 0, vals, 0))
		assert.Same(t, vals, block.At(0).Series())
		assert.Equal(t, 1, block.At(0).Index())
		assert.Nil(t, block.At(1).Series())
		assert.Nil(t, block.At(2).Series().At(0).Series())
	})

	t.Run("deep", func(t *testing.T) {
		vals := frame("a")
		block, err := rt.Scan("[a (a)]", "test")
		require.NoError(t, err)
		require.NoError(t, rt.Bind(block, 0, vals, BindDeep))
		inner := block.At(0).Series()
		assert.Same(t, vals, inner.At(0).Series())
		assert.Same(t, vals, inner.At(1).Series().At(0).Series())
	})

	t.Run("set mode adds set-words", func(t *testing.T) {
		vals := frame()
		block, err := rt.Scan("n: m", "test")
		require.NoError(t, err)
		require.NoError(t, rt.Bind(block, 0, vals, BindSet))
		assert.Equal(t, 1, rt.FindKey(vals, rt.syms.Intern("n")))
		assert.Zero(t, rt.FindKey(vals, rt.syms.Intern("m")))
		assert.Nil(t, block.At(1).Series())
	})

	t.Run("all mode adds every word", func(t *testing.T) {
		vals := frame()
		block, err := rt.Scan("n: m 'k", "test")
		require.NoError(t, err)
		require.NoError(t, rt.Bind(block, 0, vals, BindAll))
		assert.Equal(t, 4, vals.Len())
		assert.Equal(t, 3, block.At(2).Index())
	})

	t.Run("self binds to slot zero", func(t *testing.T) {
		vals := frame("a")
		block, err := rt.Scan("self", "test")
		require.NoError(t, err)
		require.NoError(t, rt.Bind(block, 0, vals, 0))
		w := *block.At(0)
		assert.Zero(t, w.Index())
		obj, err := rt.GetVar(w)
		require.NoError(t, err)
		assert.Equal(t, KindObject, obj.Kind())
		assert.Same(t, vals, obj.Series())
	})

	t.Run("refinements and issues stay unbound", func(t *testing.T) {
		vals := frame("a")
		block, err := rt.Scan("/a #a", "test")
		require.NoError(t, err)
		require.NoError(t, rt.Bind(block, 0, vals, BindAll))
		assert.Nil(t, block.At(0).Series())
		assert.Nil(t, block.At(1).Series())
	})

	t.Run("locked frames refuse new keys", func(t *testing.T) {
		vals := frame("a")
		vals.Lock()
		block, err := rt.Scan("b: 1", "test")
		require.NoError(t, err)
		err = rt.Bind(block, 0, vals, BindSet)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrLockedSeries, e.ID)
	})

	t.Run("unbind", func(t *testing.T) {
		vals := frame("a")
		block, err := rt.Scan("a [a]", "test")
		require.NoError(t, err)
		require.NoError(t, rt.Bind(block, 0, vals, BindDeep))
		Unbind(block, false)
		assert.Nil(t, block.At(0).Series())
		assert.NotNil(t, block.At(1).Series().At(0).Series())
		Unbind(block, true)
		assert.Nil(t, block.At(1).Series().At(0).Series())
	})
}

func TestBindRelative(t *testing.T) {
	rt, _ := newTestRuntime(t, false)
	fn, err := rt.Do("func [x y] [x + y]")
	require.NoError(t, err)
	params := fn.Series()
	body := fn.aux
	w := body.At(0)
	assert.Same(t, params, w.Series())
	assert.Equal(t, -1, w.Index())
	assert.Equal(t, -2, body.At(2).Index())

	// outside a live call the argument slot is unavailable
	_, err = rt.GetVar(*w)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrNotAvailable, e.ID)
}

func TestFrames(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	t.Run("marker cell", func(t *testing.T) {
		vals := rt.MakeFrame(4, KindObject)
		m := vals.At(0)
		assert.Equal(t, KindFrame, m.Kind())
		assert.True(t, vals.Has(SerFrame))
		assert.True(t, frameKeys(vals).Has(SerKeylist))
		assert.Equal(t, KindObject, frameKind(vals))
		assert.Same(t, vals, m.aux)
		assert.False(t, vals.IsManaged())
	})

	t.Run("append and find", func(t *testing.T) {
		vals := rt.MakeFrame(1, KindObject)
		i, err := rt.AppendKey(vals, rt.syms.Intern("Alpha"))
		require.NoError(t, err)
		assert.Equal(t, 1, i)
		assert.Equal(t, i, rt.FindKey(vals, rt.syms.Intern("ALPHA")))
		assert.Zero(t, rt.FindKey(vals, rt.syms.Intern("beta")))
		v := vals.At(i)
		assert.Equal(t, KindUnset, v.Kind())
	})

	t.Run("shared keys are copied before extension", func(t *testing.T) {
		keys := rt.pool.ArrayOf(key(SymSelf, TypesAnyType), key(rt.syms.Intern("a"), TypesAnyType))
		keys.SetFlags(SerKeylist)
		one := rt.makeFrameValues(keys, KindObject)
		two := rt.makeFrameValues(keys, KindObject)
		assert.True(t, keys.Has(SerShared))
		_, err := rt.AppendKey(one, rt.syms.Intern("b"))
		require.NoError(t, err)
		assert.NotSame(t, keys, frameKeys(one))
		assert.Same(t, keys, frameKeys(two))
		assert.Equal(t, 2, keys.Len())
		assert.Equal(t, 3, frameKeys(one).Len())
	})

	t.Run("copy frame rebinds its words", func(t *testing.T) {
		obj, err := rt.Do("o: make object! [a: 1 f: [a]]")
		require.NoError(t, err)
		orig := obj.Series()
		cp := rt.CopyFrame(orig, true)
		assert.True(t, cp.IsManaged())
		assert.Same(t, frameKeys(orig), frameKeys(cp))
		assert.True(t, frameKeys(orig).Has(SerShared))
		blk := cp.At(2).Series()
		assert.NotSame(t, orig.At(2).Series(), blk)
		assert.Same(t, cp, blk.At(0).Series())
	})

	t.Run("object fields", func(t *testing.T) {
		obj, err := rt.Do("make object! [x: 10 y: x * 2]")
		require.NoError(t, err)
		y, ok := rt.ObjectField(obj, "y")
		require.True(t, ok)
		assert.Equal(t, int64(20), y.Int())
		_, ok = rt.ObjectField(obj, "nope")
		assert.False(t, ok)
		i := Integer(1)
		_, ok = rt.ObjectField(i, "x")
		assert.False(t, ok)
	})

	t.Run("derived objects", func(t *testing.T) {
		assert.Equal(t, "[1 3]", doMold(t, rt, `
			base: make object! [a: 1 b: 2]
			child: make base [b: 3 c: 4]
			reduce [child/a child/b]
		`))
		assert.Equal(t, "2", doMold(t, rt, "base/b"))
		assert.Equal(t, "[a b c]", doMold(t, rt, "words-of child"))
		assert.Equal(t, "[1 2]", doMold(t, rt, "values-of base"))
	})

	t.Run("self in a method", func(t *testing.T) {
		assert.Equal(t, "5", doMold(t, rt, `
			counter: make object! [n: 4 bump: does [self/n: n + 1]]
			counter/bump
			counter/n
		`))
	})
}
