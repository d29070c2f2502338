package r3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(s *Series) []int64 {
	var out []int64
	for _, c := range s.Cells() {
		out = append(out, c.Int())
	}
	return out
}

func intArray(p *Pool, vals ...int64) *Series {
	cells := make([]Cell, len(vals))
	for i, v := range vals {
		cells[i] = Integer(v)
	}
	return p.ArrayOf(cells...)
}

func TestArrayEndCell(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)

	t.Run("empty", func(t *testing.T) {
		s := p.MakeArray(0, 0)
		assert.Zero(t, s.Len())
		assert.True(t, s.validEnd())
		assert.Equal(t, KindEnd, s.At(0).Kind())
	})

	t.Run("growth keeps one end cell", func(t *testing.T) {
		s := p.MakeArray(0, 0)
		for i := int64(0); i < 40; i++ {
			s.Append(Integer(i))
			require.True(t, s.validEnd(), "after %d appends", i+1)
		}
		assert.Equal(t, 40, s.Len())
		assert.Equal(t, int64(39), s.At(39).Int())
		assert.Equal(t, KindEnd, s.At(40).Kind())
	})

	t.Run("remove and clear", func(t *testing.T) {
		s := intArray(p, 1, 2, 3, 4, 5)
		s.Remove(1, 2)
		assert.Equal(t, []int64{1, 4, 5}, ints(s))
		assert.True(t, s.validEnd())

		s.Remove(2, 10)
		assert.Equal(t, []int64{1, 4}, ints(s))
		assert.True(t, s.validEnd())

		s.Clear(1)
		assert.Equal(t, []int64{1}, ints(s))
		assert.True(t, s.validEnd())
	})

	t.Run("out of range removals are ignored", func(t *testing.T) {
		s := intArray(p, 1, 2)
		s.Remove(5, 1)
		s.Remove(0, 0)
		s.Clear(9)
		assert.Equal(t, []int64{1, 2}, ints(s))
	})
}

func TestSeriesBias(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)

	t.Run("head removal moves the bias", func(t *testing.T) {
		s := intArray(p, 1, 2, 3, 4, 5)
		s.Remove(0, 2)
		assert.Equal(t, 2, s.Bias())
		assert.Equal(t, []int64{3, 4, 5}, ints(s))
		assert.True(t, s.validEnd())
	})

	t.Run("head insertion reuses the bias", func(t *testing.T) {
		s := intArray(p, 1, 2, 3, 4, 5)
		s.Remove(0, 2)
		s.Insert(0, Integer(9))
		assert.Equal(t, 1, s.Bias())
		assert.Equal(t, []int64{9, 3, 4, 5}, ints(s))
		assert.True(t, s.validEnd())
	})

	t.Run("bias is reclaimed before reallocating", func(t *testing.T) {
		s := intArray(p, 1, 2, 3, 4, 5, 6, 7)
		cap0 := s.capacity()
		s.Remove(0, 3)
		s.Append(Integer(8), Integer(9), Integer(10))
		assert.Equal(t, cap0, s.capacity())
		assert.Zero(t, s.Bias())
		assert.Equal(t, []int64{4, 5, 6, 7, 8, 9, 10}, ints(s))
		assert.True(t, s.validEnd())
	})
}

func TestSeriesInsert(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)

	t.Run("middle", func(t *testing.T) {
		s := intArray(p, 1, 4)
		s.Insert(1, Integer(2), Integer(3))
		assert.Equal(t, []int64{1, 2, 3, 4}, ints(s))
	})

	t.Run("past the tail is a fault", func(t *testing.T) {
		s := intArray(p, 1)
		requireFault(t, func() { s.Insert(3, Integer(2)) })
	})

	t.Run("clamped", func(t *testing.T) {
		s := intArray(p, 1)
		assert.Equal(t, 2, s.InsertClamped(99, Integer(2)))
		assert.Equal(t, 1, s.InsertClamped(-4, Integer(0)))
		assert.Equal(t, []int64{0, 1, 2}, ints(s))
	})

	t.Run("reserve keeps the length", func(t *testing.T) {
		s := intArray(p, 1, 2)
		s.ReserveTail(100)
		assert.Equal(t, 2, s.Len())
		assert.GreaterOrEqual(t, s.Rest(), 103)
		assert.True(t, s.validEnd())
		assert.Equal(t, []int64{1, 2}, ints(s))
	})
}

func TestStringSeries(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)

	s := p.MakeString("héllo")
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, WidthRune, s.Width())

	s.InsertRunes(5, []rune(" wörld"))
	assert.Equal(t, "héllo wörld", s.String())

	s.Remove(0, 6)
	assert.Equal(t, "wörld", s.String())

	s.InsertRunes(0, []rune("¡"))
	assert.Equal(t, "¡wörld", s.String())

	c := p.CopySeries(s, 1, 3)
	assert.Equal(t, "wö", c.String())
}

func TestBinarySeries(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)

	t.Run("insert", func(t *testing.T) {
		s := p.MakeBinary([]byte{1, 2, 5})
		s.InsertBytes(2, []byte{3, 4})
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, s.Bytes())
		s.ExpandTail(2)
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 0, 0}, s.Bytes())
	})

	t.Run("external buffers are copied on growth", func(t *testing.T) {
		buf := []byte{7, 8}
		s := p.MakeExternal(buf)
		assert.True(t, s.Has(SerExternal))
		s.InsertBytes(2, []byte{9, 10, 11})
		assert.False(t, s.Has(SerExternal))
		assert.Equal(t, []byte{7, 8, 9, 10, 11}, s.Bytes())
		assert.Equal(t, []byte{7, 8}, buf)
	})
}

func TestCopyArray(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)
	inner := intArray(p, 2, 3)
	outer := p.ArrayOf(Integer(1), SeriesCell(KindBlock, inner, 0), Integer(4))

	t.Run("shallow shares nested blocks", func(t *testing.T) {
		c := p.CopyArray(outer, 0, outer.Len(), false, false)
		assert.Same(t, inner, c.At(1).Series())
		assert.False(t, c.IsManaged())
	})

	t.Run("deep copies nested blocks", func(t *testing.T) {
		c := p.CopyArray(outer, 0, outer.Len(), true, true)
		nested := c.At(1).Series()
		assert.NotSame(t, inner, nested)
		assert.Equal(t, []int64{2, 3}, ints(nested))
		assert.True(t, c.IsManaged())
		assert.True(t, nested.IsManaged())
		assert.True(t, nested.validEnd())
	})

	t.Run("part", func(t *testing.T) {
		c := p.CopyArray(outer, 2, 10, false, false)
		assert.Equal(t, []int64{4}, ints(c))
		assert.True(t, c.validEnd())
	})
}

func TestManageDeep(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)
	inner := intArray(p, 1)
	str := p.MakeString("x")
	outer := p.ArrayOf(SeriesCell(KindBlock, inner, 0), SeriesCell(KindString, str, 0))
	manageDeep(outer)
	assert.True(t, outer.IsManaged())
	assert.True(t, inner.IsManaged())
	assert.True(t, str.IsManaged())
}

func TestSeriesFlags(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), nil)
	s := p.MakeArray(1, 0)
	assert.True(t, s.IsArray())
	s.Lock()
	assert.True(t, s.IsLocked())
	s.Protect(true)
	assert.True(t, s.IsProtected())
	s.Protect(false)
	assert.False(t, s.IsProtected())
	s.SetFlags(SerKeep | SerShared)
	assert.True(t, s.Has(SerKeep|SerShared))
	s.ClearFlags(SerShared)
	assert.False(t, s.Has(SerShared))
	assert.True(t, s.Has(SerKeep))
}
