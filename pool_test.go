package r3

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireFault runs fn and returns the internal fault it raised
func requireFault(t *testing.T, fn func()) (p *Panic) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a fault")
		var ok bool
		p, ok = r.(*Panic)
		require.True(t, ok, "expected *Panic, got %T", r)
	}()
	fn()
	return nil
}

func TestPoolAccounting(t *testing.T) {
	t.Run("free returns the charged bytes", func(t *testing.T) {
		p := NewPool(DefaultPoolConfig(), nil)
		first := p.MakeArray(3, 0)
		before := p.Stats()
		assert.Equal(t, 1, before.Series)

		s := p.MakeArray(3, 0)
		assert.Greater(t, p.InUse(), before.InUse)
		p.FreeSeries(s)
		after := p.Stats()
		assert.Equal(t, before.InUse, after.InUse)
		assert.Equal(t, 1, after.Series)
		assert.Equal(t, before.Frees+1, after.Frees)
		p.FreeSeries(first)
		assert.Zero(t, p.Stats().Series)
	})

	t.Run("freed buffers are reused", func(t *testing.T) {
		p := NewPool(DefaultPoolConfig(), nil)
		s := p.MakeBinary([]byte("abcdef"))
		p.FreeSeries(s)
		peak := p.Stats().Peak
		for i := 0; i < 20; i++ {
			p.FreeSeries(p.MakeBinary([]byte("abcdef")))
		}
		assert.Equal(t, peak, p.Stats().Peak)
	})

	t.Run("segments grow in whole refills", func(t *testing.T) {
		p := NewPool(PoolConfig{SegmentNodes: 4, LargeAlign: 16}, nil)
		var keep []*Series
		for i := 0; i < 9; i++ {
			keep = append(keep, p.MakeArray(0, 0))
		}
		st := p.Stats()
		assert.Equal(t, 9, st.Series)
		assert.Equal(t, 3, st.Segments)
		for _, s := range keep {
			p.FreeSeries(s)
		}
		assert.Equal(t, 3, p.Stats().Segments)
	})

	t.Run("ballast", func(t *testing.T) {
		p := NewPool(PoolConfig{SegmentNodes: 8, Ballast: 100}, nil)
		assert.False(t, p.BallastExhausted())
		p.MakeBinary(make([]byte, 200))
		assert.True(t, p.BallastExhausted())
		p.ResetBallast(1 << 20)
		assert.False(t, p.BallastExhausted())
		assert.Equal(t, int64(1<<20), p.Stats().Ballast)
	})

	t.Run("hard memory limit is fatal", func(t *testing.T) {
		p := NewPool(PoolConfig{SegmentNodes: 8, MemoryLimit: 64 * 1024}, nil)
		f := requireFault(t, func() { p.MakeBinary(make([]byte, 128*1024)) })
		assert.Contains(t, f.Message, "out of memory")
	})
}

func TestPoolSizeChecks(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)
	assert.NoError(t, p.CheckSize(10, WidthRune))
	assert.NoError(t, p.CheckSize(math.MaxInt32, WidthByte))
	assert.Error(t, p.CheckSize(math.MaxInt32/WidthRune+1, WidthRune))
	assert.Error(t, p.CheckSize(-1, WidthByte))
}

func TestPoolLargeAllocations(t *testing.T) {
	p := NewPool(PoolConfig{SegmentNodes: 8, LargeAlign: 16}, nil)

	t.Run("aligned", func(t *testing.T) {
		s := p.MakeSeries(1500, WidthByte, 0)
		assert.Equal(t, 1504, s.Rest())
		p.FreeSeries(s)
	})

	t.Run("power of two", func(t *testing.T) {
		s := p.MakeSeries(1500, WidthByte, SerPower2)
		assert.Equal(t, 2048, s.Rest())
		p.FreeSeries(s)
	})

	t.Run("small requests use size classes", func(t *testing.T) {
		s := p.MakeSeries(5, WidthByte, 0)
		assert.Equal(t, 8, s.Rest())
		p.FreeSeries(s)
	})
}

func TestPoolFaults(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)

	t.Run("freeing a managed series", func(t *testing.T) {
		s := p.MakeArray(2, 0)
		s.Manage()
		f := requireFault(t, func() { p.FreeSeries(s) })
		assert.Contains(t, f.Message, "managed")
	})

	t.Run("double free", func(t *testing.T) {
		s := p.MakeString("x")
		p.FreeSeries(s)
		f := requireFault(t, func() { p.FreeSeries(s) })
		assert.Contains(t, f.Message, "double free")
	})

	t.Run("unsupported width", func(t *testing.T) {
		requireFault(t, func() { p.MakeSeries(4, 3, 0) })
	})
}

func TestNodeKinds(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)
	r := p.AllocRoutine()
	h := p.AllocHandle()
	st := p.Stats()
	assert.Equal(t, 1, st.Routines)
	assert.Equal(t, 1, st.Handles)
	p.routines.release(r)
	p.handles.release(h)
	st = p.Stats()
	assert.Zero(t, st.Routines)
	assert.Zero(t, st.Handles)
}
