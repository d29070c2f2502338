package r3

import (
	"fmt"
	"math"
	"math/bits"
	"unsafe"
)

// Element widths in bytes for the three series layouts
const (
	WidthByte = 1
	WidthRune = 4
)

// WidthCell is the accounting width of one Cell
var WidthCell = int(unsafe.Sizeof(Cell{}))

// sizeClasses are the element counts served from free lists. Anything larger
// goes through the large-allocation path.
var sizeClasses = []int{4, 8, 16, 32, 64, 128, 256, 512, 1024}

// maxAllocBytes is the 32-bit-safe ceiling for a single series buffer
const maxAllocBytes = math.MaxInt32

// PoolConfig sizes the allocator
type PoolConfig struct {
	SegmentNodes int   // Nodes allocated per segment refill
	LargeAlign   int   // Element alignment for large allocations
	MemoryLimit  int64 // Hard ceiling in bytes, 0 for none; exceeding it is fatal
	Ballast      int64 // Bytes allocated between collection requests
}

// DefaultPoolConfig returns the allocator defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		SegmentNodes: 256,
		LargeAlign:   16,
		Ballast:      3 * 1024 * 1024,
	}
}

// nodeHeader is embedded by pooled node types that carry no flag word of
// their own
type nodeHeader struct {
	live bool
	mark bool
}

func (h *nodeHeader) isLive() bool     { return h.live }
func (h *nodeHeader) setLive(on bool)  { h.live = on }
func (h *nodeHeader) isMarked() bool   { return h.mark }
func (h *nodeHeader) setMarked(m bool) { h.mark = m }

// poolNode is satisfied by pointers to types a nodePool can hold
type poolNode[T any] interface {
	*T
	isLive() bool
	setLive(bool)
}

// nodePool is a segmented fixed-size node pool with a free list. Segments
// are never moved, so node pointers stay valid until the node is freed.
type nodePool[T any, P poolNode[T]] struct {
	name     string
	segSize  int
	nodeSize int
	segments [][]T
	free     []P
	live     int
}

func newNodePool[T any, P poolNode[T]](name string, segSize int) *nodePool[T, P] {
	var zero T
	if segSize <= 0 {
		segSize = 256
	}
	return &nodePool[T, P]{
		name:     name,
		segSize:  segSize,
		nodeSize: int(unsafe.Sizeof(zero)),
	}
}

// refill links a freshly allocated segment into the free list
func (np *nodePool[T, P]) refill(owner *Pool) {
	owner.charge(int64(np.segSize * np.nodeSize))
	seg := make([]T, np.segSize)
	np.segments = append(np.segments, seg)
	for i := len(seg) - 1; i >= 0; i-- {
		np.free = append(np.free, P(&seg[i]))
	}
	owner.logger.DebugCat(CatMemory, "pool %s: new segment (%d segments)", np.name, len(np.segments))
}

// alloc pops a zeroed live node, refilling when the free list is empty
func (np *nodePool[T, P]) alloc(owner *Pool) P {
	if len(np.free) == 0 {
		np.refill(owner)
	}
	n := np.free[len(np.free)-1]
	np.free = np.free[:len(np.free)-1]
	var zero T
	*(*T)(n) = zero
	n.setLive(true)
	np.live++
	return n
}

// release pushes n back onto the free list. n must come from this pool.
func (np *nodePool[T, P]) release(n P) {
	if !n.isLive() {
		panicf("pool %s: double free", np.name)
	}
	n.setLive(false)
	np.free = append(np.free, n)
	np.live--
}

// each calls fn for every live node, walking all segments. fn may release
// the node it is given.
func (np *nodePool[T, P]) each(fn func(P)) {
	for _, seg := range np.segments {
		for i := range seg {
			n := P(&seg[i])
			if n.isLive() {
				fn(n)
			}
		}
	}
}

// dataPool keeps per-size-class free lists of element buffers
type dataPool[E any] struct {
	width int
	free  [][][]E
}

func newDataPool[E any](width int) *dataPool[E] {
	return &dataPool[E]{width: width, free: make([][][]E, len(sizeClasses))}
}

// classFor returns the smallest size class holding units, or -1
func classFor(units int) int {
	for i, n := range sizeClasses {
		if units <= n {
			return i
		}
	}
	return -1
}

// exactClass returns the class whose size is exactly units, or -1
func exactClass(units int) int {
	for i, n := range sizeClasses {
		if n == units {
			return i
		}
	}
	return -1
}

// Pool is the allocator behind every series, node and data buffer of one
// runtime. It is not safe for concurrent use; each task owns its own Pool.
type Pool struct {
	config   PoolConfig
	logger   *Logger
	series   *nodePool[Series, *Series]
	routines *nodePool[RoutineInfo, *RoutineInfo]
	handles  *nodePool[Handle, *Handle]
	cells    *dataPool[Cell]
	bytes    *dataPool[byte]
	runes    *dataPool[rune]
	inUse    int64
	peak     int64
	ballast  int64
	allocs   int64
	frees    int64
}

// PoolStats is a snapshot of allocator usage
type PoolStats struct {
	InUse       int64 // Bytes currently allocated (nodes and data)
	Peak        int64
	Ballast     int64 // Bytes left before a collection is requested
	Series      int   // Live series nodes
	Routines    int
	Handles     int
	Segments    int
	Allocations int64
	Frees       int64
}

// NewPool creates an allocator
func NewPool(config PoolConfig, logger *Logger) *Pool {
	if logger == nil {
		logger = NewLogger(false)
	}
	if config.LargeAlign <= 0 {
		config.LargeAlign = 1
	}
	p := &Pool{
		config:  config,
		logger:  logger,
		cells:   newDataPool[Cell](WidthCell),
		bytes:   newDataPool[byte](WidthByte),
		runes:   newDataPool[rune](WidthRune),
		ballast: config.Ballast,
	}
	p.series = newNodePool[Series, *Series]("series", config.SegmentNodes)
	p.routines = newNodePool[RoutineInfo, *RoutineInfo]("routine", config.SegmentNodes/8)
	p.handles = newNodePool[Handle, *Handle]("handle", config.SegmentNodes/8)
	return p
}

// charge accounts n more bytes in use, drawing down the ballast
func (p *Pool) charge(n int64) {
	p.inUse += n
	p.ballast -= n
	p.allocs++
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
	if p.config.MemoryLimit > 0 && p.inUse > p.config.MemoryLimit {
		panicf("out of memory: %d bytes in use exceeds hard limit %d", p.inUse, p.config.MemoryLimit)
	}
}

// credit accounts n bytes returned
func (p *Pool) credit(n int64) {
	p.inUse -= n
	p.frees++
}

// CheckSize reports an allocation error when units elements of width bytes
// would exceed the 32-bit-safe buffer bound. Callers taking sizes from user
// input check first; the allocator itself treats the overflow as fatal.
func (p *Pool) CheckSize(units, width int) error {
	if units < 0 || int64(units)*int64(width) > maxAllocBytes {
		return fmt.Errorf("allocation of %d x %d bytes exceeds limit", units, width)
	}
	return nil
}

// roundLarge rounds a large allocation to the alignment or a power of two
func (p *Pool) roundLarge(units int, pow2 bool) int {
	if pow2 {
		if units <= 1 {
			return 1
		}
		return 1 << bits.Len(uint(units-1))
	}
	a := p.config.LargeAlign
	return (units + a - 1) / a * a
}

// allocData serves a buffer of at least units elements. Small requests come
// from the size-class free lists, large ones are allocated directly. The
// returned length is the usable capacity.
func allocData[E any](p *Pool, dp *dataPool[E], units int, pow2 bool) []E {
	if err := p.CheckSize(units, dp.width); err != nil {
		panicf("%v", err)
	}
	if ci := classFor(units); ci >= 0 && !pow2 {
		units = sizeClasses[ci]
		p.charge(int64(units * dp.width))
		if n := len(dp.free[ci]); n > 0 {
			buf := dp.free[ci][n-1]
			dp.free[ci] = dp.free[ci][:n-1]
			clear(buf)
			return buf
		}
		return make([]E, units)
	}
	units = p.roundLarge(units, pow2)
	if err := p.CheckSize(units, dp.width); err != nil {
		panicf("%v", err)
	}
	p.charge(int64(units * dp.width))
	return make([]E, units)
}

// freeData returns a buffer obtained from allocData. The buffer length must
// be the one allocData returned.
func freeData[E any](p *Pool, dp *dataPool[E], buf []E) {
	units := len(buf)
	if units == 0 {
		return
	}
	p.credit(int64(units * dp.width))
	if ci := exactClass(units); ci >= 0 {
		dp.free[ci] = append(dp.free[ci], buf[:units:units])
	}
}

// allocSeriesNode takes a series header from the node pool
func (p *Pool) allocSeriesNode() *Series {
	s := p.series.alloc(p)
	s.pool = p
	return s
}

// AllocRoutine takes a routine-info node from its pool
func (p *Pool) AllocRoutine() *RoutineInfo {
	return p.routines.alloc(p)
}

// AllocHandle takes a handle node from its pool
func (p *Pool) AllocHandle() *Handle {
	return p.handles.alloc(p)
}

// BallastExhausted reports whether enough has been allocated to request a
// collection
func (p *Pool) BallastExhausted() bool {
	return p.ballast <= 0
}

// ResetBallast sets the bytes allowed before the next collection request
func (p *Pool) ResetBallast(n int64) {
	p.ballast = n
}

// InUse returns the bytes currently allocated
func (p *Pool) InUse() int64 {
	return p.inUse
}

// Stats returns a usage snapshot
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		InUse:       p.inUse,
		Peak:        p.peak,
		Ballast:     p.ballast,
		Series:      p.series.live,
		Routines:    p.routines.live,
		Handles:     p.handles.live,
		Segments:    len(p.series.segments) + len(p.routines.segments) + len(p.handles.segments),
		Allocations: p.allocs,
		Frees:       p.frees,
	}
}
