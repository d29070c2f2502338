package r3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecycle(t *testing.T) {
	t.Run("unreachable series are freed", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		rt.Recycle()

		garbage := rt.pool.MakeArray(2, 0)
		garbage.Append(SeriesCell(KindBlock, garbage, 0))
		garbage.Manage()
		kept := rt.pool.MakeString("keep")
		kept.Manage()
		rt.PushGuard(kept)
		manual := rt.pool.MakeArray(1, 0)

		assert.GreaterOrEqual(t, rt.Recycle(), 1)
		assert.False(t, garbage.isLive())
		assert.True(t, kept.isLive())
		assert.True(t, manual.isLive())
		assert.Zero(t, rt.Recycle())

		rt.DropGuard(kept)
		assert.Equal(t, 1, rt.Recycle())
		assert.False(t, kept.isLive())
		rt.pool.FreeSeries(manual)
	})

	t.Run("words keep their values alive", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		_, err := rt.Do(`keep: [1 [2 "three"]] obj: make object! [f: func [x] [x + 1]] drop: [x]`)
		require.NoError(t, err)
		_, err = rt.Do("drop: none")
		require.NoError(t, err)
		rt.Recycle()
		assert.Equal(t, `[1 [2 "three"]]`, doMold(t, rt, "keep"))
		assert.Equal(t, "3", doMold(t, rt, "obj/f 2"))
	})

	t.Run("closure frames survive", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		_, err := rt.Do("mk: closure [n] [does [n]] one: mk [1 2 3]")
		require.NoError(t, err)
		rt.Recycle()
		assert.Equal(t, "[1 2 3]", doMold(t, rt, "one"))
	})

	t.Run("collection during evaluation", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false, func(c *Config) {
			c.EvalCountdown = 5
			c.GCBallast = 4096
			c.GCMinBallast = 4096
		})
		v, err := rt.Do(`
			out: copy []
			repeat i 200 [append out reduce [i form i copy [a b c]]]
			length? out
		`)
		require.NoError(t, err)
		assert.Equal(t, int64(600), v.Int())
		assert.Greater(t, rt.GCStats().Runs, 0)
		assert.Equal(t, `[200 "200" [a b c]]`, doMold(t, rt, "copy skip out 597"))
	})

	t.Run("disabled", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		rt.Recycle()
		rt.DisableGC()
		garbage := rt.pool.MakeArray(1, 0)
		garbage.Manage()
		assert.Zero(t, rt.Recycle())
		assert.True(t, rt.GCStats().Disabled)
		assert.True(t, garbage.isLive())
		rt.EnableGC()
		assert.Equal(t, 1, rt.Recycle())
	})

	t.Run("recycle native", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		_, err := rt.Do("recycle/off")
		require.NoError(t, err)
		assert.True(t, rt.GCStats().Disabled)
		assert.Equal(t, "0", doMold(t, rt, "recycle"))
		_, err = rt.Do("recycle/on")
		require.NoError(t, err)
		assert.False(t, rt.GCStats().Disabled)
		v, err := rt.Do("recycle")
		require.NoError(t, err)
		assert.Equal(t, KindInteger, v.Kind())
	})

	t.Run("reachable cycles survive", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		_, err := rt.Do("b: [1] append/only b b o: make object! [me: none] o/me: o")
		require.NoError(t, err)
		rt.Recycle()
		assert.Equal(t, "[1 [...]]", doMold(t, rt, "b"))
		assert.Equal(t, "true", doMold(t, rt, "same? o o/me/me"))
	})

	t.Run("ephemeral allocations are all returned", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		churn := func() {
			for i := 0; i < 1000; i++ {
				s := rt.pool.MakeArray(4, 0)
				s.Append(Integer(int64(i)), Logic(true))
				s.Manage()
			}
		}
		churn()
		rt.Recycle()
		baseline := rt.pool.InUse()
		live := rt.pool.Stats().Series

		churn()
		assert.Greater(t, rt.pool.InUse(), baseline)
		assert.Equal(t, 1000, rt.Recycle())
		assert.Equal(t, baseline, rt.pool.InUse())
		assert.Equal(t, live, rt.pool.Stats().Series)
	})

	t.Run("deeply nested blocks", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		rt.Recycle()
		const depth = 150_000
		outer := rt.pool.MakeArray(1, 0)
		outer.Manage()
		cur := outer
		for i := 0; i < depth; i++ {
			inner := rt.pool.MakeArray(1, 0)
			inner.Manage()
			cur.Append(SeriesCell(KindBlock, inner, 0))
			cur = inner
		}
		cur.Append(Integer(7))
		require.NoError(t, rt.Set("deep", SeriesCell(KindBlock, outer, 0)))

		rt.Recycle()
		assert.True(t, outer.isLive())
		assert.True(t, cur.isLive())
		assert.Equal(t, int64(7), cur.At(0).Int())

		_, err := rt.Do("deep: none")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rt.Recycle(), depth+1)
		assert.False(t, cur.isLive())
	})

	t.Run("names of a throw in flight are not roots", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		rt.Recycle()
		name := rt.pool.MakeArray(1, 0)
		name.Manage()
		var out Cell
		rt.throwOut(&out, SeriesCell(KindBlock, name, 0))
		assert.Equal(t, 1, rt.Recycle())
		assert.False(t, name.isLive())
		rt.catchThrown(&out)
		assert.Equal(t, KindNone, rt.thrownName.Kind())
	})

	t.Run("pending request runs at the next safe point", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false, func(c *Config) { c.EvalCountdown = 2 })
		runs := rt.GCStats().Runs
		rt.RequestGC()
		_, err := rt.Do("loop 10 [1]")
		require.NoError(t, err)
		assert.Greater(t, rt.GCStats().Runs, runs)
	})
}

func TestHandles(t *testing.T) {
	rt, _ := newTestRuntime(t, false)
	var released []any
	free := func(h *Handle) { released = append(released, h.Value()) }

	lost := rt.NewHandle("lost", free)
	held := rt.NewHandle("held", free)
	require.NoError(t, rt.Set("held", HandleCell(held)))
	assert.Equal(t, "lost", lost.Value())

	rt.Recycle()
	assert.Equal(t, []any{"lost"}, released)
	v, ok := rt.Get("held")
	require.True(t, ok)
	assert.Same(t, held, v.Handle())
	assert.Equal(t, "held", v.Handle().Value())
	assert.Equal(t, 1, rt.pool.Stats().Handles)
}

func TestPacing(t *testing.T) {
	rt, _ := newTestRuntime(t, false, func(c *Config) {
		c.GCBallast = 1 << 22
		c.GCMinBallast = 1 << 16
		c.GCMaxBallast = 1 << 24
	})
	start := rt.GCStats().Threshold
	rt.Recycle()
	// a small heap halves the threshold down toward the minimum
	assert.Less(t, rt.GCStats().Threshold, start)
	prev := rt.GCStats().Threshold
	for i := 0; i < 10; i++ {
		rt.Recycle()
		assert.LessOrEqual(t, rt.GCStats().Threshold, prev)
		prev = rt.GCStats().Threshold
	}
	assert.GreaterOrEqual(t, prev, int64(1<<16))
	assert.False(t, rt.pool.BallastExhausted())
}
