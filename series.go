package r3

// SeriesFlags describe the layout and lifecycle state of a series
type SeriesFlags uint32

const (
	SerManaged   SeriesFlags = 1 << iota // Owned by the collector, freed only by sweep
	SerMark                              // Reached during the current mark phase
	SerLocked                            // Structure is immutable (no insert/remove)
	SerProtected                         // Content is immutable
	SerExternal                          // Buffer supplied by the caller, never freed
	SerArray                             // Elements are cells, end-terminated
	SerFrame                             // Values of a frame, slot 0 is the frame marker
	SerKeylist                           // Keys of a frame or parameters of a function
	SerKeep                              // Pinned system series, never swept
	SerPower2                            // Large buffer rounded to a power of two
	SerShared                            // Keylist referenced by more than one frame
	serLive                              // Node is allocated
)

// Series is the resizable vector behind every variable-length datatype: byte
// buffers (binary), rune buffers (strings) and end-terminated cell arrays
// (blocks, frames, keylists).
//
// The logical content lives at buf[bias : bias+tail]. Arrays always hold an
// end cell at buf[bias+tail] within their capacity.
type Series struct {
	pool  *Pool
	flags SeriesFlags
	width int
	bias  int
	tail  int
	cells []Cell
	bytes []byte
	runes []rune
	link  *Series      // Frame values: none; keylists of functions: the spec block
	hash  map[string]int // map! index from key to pair position
}

func (s *Series) isLive() bool { return s.flags&serLive != 0 }

func (s *Series) setLive(on bool) {
	if on {
		s.flags |= serLive
	} else {
		s.flags &^= serLive
	}
}

// Len returns the number of elements (the tail)
func (s *Series) Len() int {
	return s.tail
}

// Width returns the element width in bytes
func (s *Series) Width() int {
	return s.width
}

// capacity returns the allocated element count
func (s *Series) capacity() int {
	switch {
	case s.flags&SerArray != 0:
		return len(s.cells)
	case s.width == WidthRune:
		return len(s.runes)
	default:
		return len(s.bytes)
	}
}

// Rest returns the usable element count after the bias
func (s *Series) Rest() int {
	return s.capacity() - s.bias
}

// Bias returns the head-bias element count
func (s *Series) Bias() int {
	return s.bias
}

// Has reports whether all the given flags are set
func (s *Series) Has(f SeriesFlags) bool {
	return s.flags&f == f
}

// SetFlags sets flags on the series
func (s *Series) SetFlags(f SeriesFlags) {
	s.flags |= f
}

// ClearFlags clears flags on the series
func (s *Series) ClearFlags(f SeriesFlags) {
	s.flags &^= f
}

// IsArray reports whether the series holds cells
func (s *Series) IsArray() bool {
	return s.flags&SerArray != 0
}

// IsManaged reports whether the collector owns the series
func (s *Series) IsManaged() bool {
	return s.flags&SerManaged != 0
}

// IsLocked reports whether the series structure is immutable
func (s *Series) IsLocked() bool {
	return s.flags&SerLocked != 0
}

// IsProtected reports whether the series content is immutable
func (s *Series) IsProtected() bool {
	return s.flags&SerProtected != 0
}

// Lock makes the structure immutable
func (s *Series) Lock() {
	s.flags |= SerLocked
}

// Protect makes the content immutable
func (s *Series) Protect(on bool) {
	if on {
		s.flags |= SerProtected
	} else {
		s.flags &^= SerProtected
	}
}

// Manage hands the series to the collector. A managed series is freed only
// by the sweep phase once unreachable.
func (s *Series) Manage() {
	s.flags |= SerManaged
}

// At returns the cell at index i; At(Len()) is the end cell
func (s *Series) At(i int) *Cell {
	return &s.cells[s.bias+i]
}

// Cells returns the logical content of an array
func (s *Series) Cells() []Cell {
	return s.cells[s.bias : s.bias+s.tail]
}

// Bytes returns the logical content of a byte series
func (s *Series) Bytes() []byte {
	return s.bytes[s.bias : s.bias+s.tail]
}

// Runes returns the logical content of a rune series
func (s *Series) Runes() []rune {
	return s.runes[s.bias : s.bias+s.tail]
}

// String returns a rune or byte series as a Go string
func (s *Series) String() string {
	if s.width == WidthRune {
		return string(s.Runes())
	}
	return string(s.Bytes())
}

// term writes the end cell at the tail of an array
func (s *Series) term() {
	if s.flags&SerArray != 0 {
		s.cells[s.bias+s.tail] = Cell{}
	}
}

// validEnd reports whether an array holds exactly one end cell, at its tail
func (s *Series) validEnd() bool {
	if s.flags&SerArray == 0 {
		return true
	}
	if s.bias+s.tail >= len(s.cells) || s.cells[s.bias+s.tail].kind != KindEnd {
		return false
	}
	for _, c := range s.Cells() {
		if c.kind == KindEnd {
			return false
		}
	}
	return true
}

// extra is the number of slots reserved past the tail (the end cell)
func (s *Series) extra() int {
	if s.flags&SerArray != 0 {
		return 1
	}
	return 0
}

// MakeSeries allocates a byte or rune series with room for capacity elements
func (p *Pool) MakeSeries(capacity, width int, flags SeriesFlags) *Series {
	s := p.allocSeriesNode()
	s.flags |= flags &^ (SerArray | serLive)
	s.width = width
	pow2 := flags&SerPower2 != 0
	switch width {
	case WidthRune:
		s.runes = allocData(p, p.runes, capacity, pow2)
	case WidthByte:
		s.bytes = allocData(p, p.bytes, capacity, pow2)
	default:
		panicf("MakeSeries: unsupported width %d", width)
	}
	return s
}

// MakeArray allocates an end-terminated cell array with room for capacity
// cells
func (p *Pool) MakeArray(capacity int, flags SeriesFlags) *Series {
	s := p.allocSeriesNode()
	s.flags |= flags | SerArray
	s.width = WidthCell
	s.cells = allocData(p, p.cells, capacity+1, flags&SerPower2 != 0)
	return s
}

// MakeExternal wraps a caller-owned byte buffer. The series never frees it.
func (p *Pool) MakeExternal(buf []byte) *Series {
	s := p.allocSeriesNode()
	s.flags |= SerExternal
	s.width = WidthByte
	s.bytes = buf
	s.tail = len(buf)
	return s
}

// MakeString allocates a string series holding str
func (p *Pool) MakeString(str string) *Series {
	r := []rune(str)
	s := p.MakeSeries(len(r), WidthRune, 0)
	copy(s.runes, r)
	s.tail = len(r)
	return s
}

// MakeBinary allocates a binary series holding a copy of b
func (p *Pool) MakeBinary(b []byte) *Series {
	s := p.MakeSeries(len(b), WidthByte, 0)
	copy(s.bytes, b)
	s.tail = len(b)
	return s
}

// ArrayOf allocates an array holding copies of cells
func (p *Pool) ArrayOf(cells ...Cell) *Series {
	s := p.MakeArray(len(cells), 0)
	copy(s.cells, cells)
	s.tail = len(cells)
	s.term()
	return s
}

// FreeSeries releases a manual series. Freeing a managed series is a fault:
// only the sweep phase may do that.
func (p *Pool) FreeSeries(s *Series) {
	if s.flags&SerManaged != 0 {
		panicf("FreeSeries: series is managed")
	}
	p.releaseSeries(s)
}

// releaseSeries returns the buffer and the node to their pools
func (p *Pool) releaseSeries(s *Series) {
	if s.flags&SerExternal == 0 {
		switch {
		case s.flags&SerArray != 0:
			freeData(p, p.cells, s.cells)
		case s.width == WidthRune:
			freeData(p, p.runes, s.runes)
		default:
			freeData(p, p.bytes, s.bytes)
		}
	}
	s.cells, s.bytes, s.runes, s.link, s.hash = nil, nil, nil, nil, nil
	p.series.release(s)
}

// slide opens delta elements at index inside buf, either in place or in a
// new buffer, and returns the buffer to keep. The tail and bias of s are
// updated; extra trailing slots (the end cell) move with the content.
func slide[E any](p *Pool, dp *dataPool[E], s *Series, buf []E, index, delta int) []E {
	extra := s.extra()
	tail := s.tail

	// Head insertion into bias slack
	if index == 0 && s.bias >= delta {
		s.bias -= delta
		s.tail += delta
		return buf
	}

	need := tail + delta + extra
	if s.bias+need <= len(buf) {
		start := s.bias + index
		copy(buf[start+delta:], buf[start:s.bias+tail+extra])
		s.tail += delta
		return buf
	}

	// Room exists once the bias is reclaimed
	if need <= len(buf) {
		copy(buf, buf[s.bias:s.bias+index])
		copy(buf[index+delta:], buf[s.bias+index:s.bias+tail+extra])
		s.bias = 0
		s.tail += delta
		if s.flags&SerArray == 0 {
			return buf
		}
		clear(buf[s.tail+extra:])
		return buf
	}

	size := len(buf) * 2
	if size < need {
		size = need
	}
	fresh := allocData(p, dp, size, s.flags&SerPower2 != 0)
	copy(fresh, buf[s.bias:s.bias+index])
	copy(fresh[index+delta:], buf[s.bias+index:s.bias+tail+extra])
	if s.flags&SerExternal != 0 {
		s.flags &^= SerExternal
	} else {
		freeData(p, dp, buf)
	}
	s.bias = 0
	s.tail += delta
	p.logger.TraceCat(CatMemory, "series expanded to %d elements", len(fresh))
	return fresh
}

// Expand opens delta elements at index, moving the elements after it. The
// new elements are zeroed for byte/rune series; for arrays they hold stale
// or end cells and must be written by the caller before anything observes
// the series.
func (s *Series) Expand(index, delta int) {
	if index < 0 || index > s.tail {
		panicf("Expand: index %d past tail %d", index, s.tail)
	}
	if delta <= 0 {
		return
	}
	p := s.pool
	switch {
	case s.flags&SerArray != 0:
		s.cells = slide(p, p.cells, s, s.cells, index, delta)
	case s.width == WidthRune:
		s.runes = slide(p, p.runes, s, s.runes, index, delta)
		clear(s.runes[s.bias+index : s.bias+index+delta])
	default:
		s.bytes = slide(p, p.bytes, s, s.bytes, index, delta)
		clear(s.bytes[s.bias+index : s.bias+index+delta])
	}
}

// ExpandTail grows the tail by n elements
func (s *Series) ExpandTail(n int) {
	s.Expand(s.tail, n)
}

// ReserveTail makes room for n more elements without changing the length
func (s *Series) ReserveTail(n int) {
	if s.Rest() >= s.tail+n+s.extra() {
		return
	}
	tail := s.tail
	s.Expand(tail, n)
	s.tail = tail
	s.term()
}

// Remove deletes count elements at index. Removing from the head only moves
// the bias.
func (s *Series) Remove(index, count int) {
	if index < 0 || index >= s.tail || count <= 0 {
		return
	}
	if index+count > s.tail {
		count = s.tail - index
	}
	extra := s.extra()
	if index == 0 {
		if s.flags&SerArray != 0 {
			clear(s.cells[s.bias : s.bias+count])
		}
		s.bias += count
		s.tail -= count
		return
	}
	start := s.bias + index
	end := s.bias + s.tail + extra
	switch {
	case s.flags&SerArray != 0:
		copy(s.cells[start:], s.cells[start+count:end])
		clear(s.cells[end-count : end])
	case s.width == WidthRune:
		copy(s.runes[start:], s.runes[start+count:end])
	default:
		copy(s.bytes[start:], s.bytes[start+count:end])
	}
	s.tail -= count
}

// Clear truncates the series at index
func (s *Series) Clear(index int) {
	if index < 0 {
		index = 0
	}
	if index >= s.tail {
		return
	}
	if s.flags&SerArray != 0 {
		clear(s.cells[s.bias+index : s.bias+s.tail])
	}
	s.tail = index
	s.term()
}

// Append adds cells at the tail of an array
func (s *Series) Append(cells ...Cell) {
	s.Insert(s.tail, cells...)
}

// Insert puts cells at index of an array. Inserting past the tail is a
// fault; clamping callers use InsertClamped.
func (s *Series) Insert(index int, cells ...Cell) {
	if index > s.tail {
		panicf("Insert: index %d past tail %d", index, s.tail)
	}
	if len(cells) == 0 {
		return
	}
	s.Expand(index, len(cells))
	copy(s.cells[s.bias+index:], cells)
}

// InsertClamped inserts cells, clamping index into [0, tail]
func (s *Series) InsertClamped(index int, cells ...Cell) int {
	if index < 0 {
		index = 0
	}
	if index > s.tail {
		index = s.tail
	}
	s.Insert(index, cells...)
	return index + len(cells)
}

// InsertRunes puts runes at index of a string series
func (s *Series) InsertRunes(index int, r []rune) {
	if index > s.tail {
		panicf("InsertRunes: index %d past tail %d", index, s.tail)
	}
	s.Expand(index, len(r))
	copy(s.runes[s.bias+index:], r)
}

// InsertBytes puts bytes at index of a binary series
func (s *Series) InsertBytes(index int, b []byte) {
	if index > s.tail {
		panicf("InsertBytes: index %d past tail %d", index, s.tail)
	}
	s.Expand(index, len(b))
	copy(s.bytes[s.bias+index:], b)
}

// CopyArray copies cells [index, end) of an array. With deep set, nested
// any-block values are copied too. The copy and its nested copies are
// managed when managed is set.
func (p *Pool) CopyArray(s *Series, index, end int, deep, managed bool) *Series {
	if end > s.tail {
		end = s.tail
	}
	if index > end {
		index = end
	}
	out := p.MakeArray(end-index, 0)
	copy(out.cells, s.cells[s.bias+index:s.bias+end])
	out.tail = end - index
	out.term()
	if deep {
		for i := range out.Cells() {
			c := out.At(i)
			if c.kind.IsAnyBlock() && c.ser != nil {
				c.ser = p.CopyArray(c.ser, 0, c.ser.tail, true, managed)
			}
		}
	}
	if managed {
		out.Manage()
	}
	return out
}

// CopySeries copies elements [index, end) of a byte or rune series
func (p *Pool) CopySeries(s *Series, index, end int) *Series {
	if s.flags&SerArray != 0 {
		return p.CopyArray(s, index, end, false, false)
	}
	if end > s.tail {
		end = s.tail
	}
	if index > end {
		index = end
	}
	out := p.MakeSeries(end-index, s.width, 0)
	if s.width == WidthRune {
		copy(out.runes, s.runes[s.bias+index:s.bias+end])
	} else {
		copy(out.bytes, s.bytes[s.bias+index:s.bias+end])
	}
	out.tail = end - index
	return out
}

// manageDeep manages an array and every array it references
func manageDeep(s *Series) {
	if s == nil || s.IsManaged() {
		return
	}
	s.Manage()
	if s.flags&SerArray == 0 {
		return
	}
	for i := range s.Cells() {
		c := s.At(i)
		if c.ser != nil && (c.kind.IsSeries() || c.kind == KindMap) {
			manageDeep(c.ser)
		}
	}
}
