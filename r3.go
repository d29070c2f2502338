// Package r3 is the execution core of a homoiconic, dynamically typed
// language in the Rebol family: a tagged-cell evaluator, a frame and
// binding model, and a mark-and-sweep collector over a pooled allocator.
//
// Each Runtime is a complete, isolated interpreter. Runtimes share nothing
// and may run on separate goroutines; a single Runtime is not safe for
// concurrent use except for Halt.
package r3

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Runtime is one interpreter instance
type Runtime struct {
	config *Config
	logger *Logger
	pool   *Pool
	syms   *SymbolTable
	binder *Binder
	host   Host
	codecs *CodecRegistry
	ffi    ForeignCaller

	lib       *Series // Natives, actions, datatypes and the boot words
	user      *Series // Words of the running scripts
	errorKeys *Series

	stack []Cell
	dsp   int
	calls callStack

	traps   []*trapRecord
	guarded []*Series
	saved   []*Series
	gc      collector

	thrownName Cell
	throwing   bool

	natives  []nativeEntry
	commands []nativeEntry
	requests []*Request

	halted    atomic.Bool
	haltWake  chan struct{}
	countdown int
	evalSteps int64
	ready     bool

	tasks     *errgroup.Group
	taskCount atomic.Int64
	taskMu    sync.Mutex
	children  map[*Runtime]struct{}
}

// Exit reports a quit or exit that reached the top level
type Exit struct {
	Status int
	Value  Cell
}

// Error implements the error interface
func (e *Exit) Error() string {
	return fmt.Sprintf("exit with status %d", e.Status)
}

// Option configures a Runtime at construction
type Option func(*Runtime)

// WithHost replaces the default OS host
func WithHost(h Host) Option {
	return func(rt *Runtime) { rt.host = h }
}

// WithForeignCaller installs the bridge used by routine! values
func WithForeignCaller(fc ForeignCaller) Option {
	return func(rt *Runtime) { rt.ffi = fc }
}

// WithLogger replaces the logger built from the configuration
func WithLogger(l *Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// New creates and boots a runtime. A nil config means DefaultConfig().
func New(config *Config, opts ...Option) (*Runtime, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.normalize()

	rt := &Runtime{config: &cfg}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.logger == nil {
		rt.logger = NewLogger(cfg.Debug)
		for _, name := range cfg.LogCategories {
			if name == "all" {
				rt.logger.EnableAllCategories()
				continue
			}
			rt.logger.EnableCategory(LogCategory(strings.ToLower(name)))
		}
	}
	if rt.host == nil {
		rt.host = NewOSHost(cfg.Args)
	}

	rt.pool = NewPool(cfg.poolConfig(), rt.logger)
	rt.syms = NewSymbolTable()
	rt.binder = newBinder(rt)
	rt.codecs = NewCodecRegistry(rt.logger)
	rt.stack = make([]Cell, cfg.DataStackSize)
	rt.calls.limit = cfg.StackLimit
	rt.countdown = cfg.EvalCountdown
	rt.thrownName = None()
	rt.gc = collector{
		threshold: cfg.GCBallast,
		min:       cfg.GCMinBallast,
		max:       cfg.GCMaxBallast,
	}
	rt.tasks = new(errgroup.Group)
	rt.haltWake = make(chan struct{}, 1)

	rt.initFrames()
	rt.ready = true
	rt.logger.DebugCat(CatBoot, "core ready: %d lib words", rt.lib.Len()-1)

	if !cfg.SkipBoot {
		if err := rt.boot(); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// initFrames builds lib and user, the error keylist and the builtins
func (rt *Runtime) initFrames() {
	rt.lib = rt.MakeFrame(512, KindModule)
	frameKeys(rt.lib).SetFlags(SerKeep)
	rt.lib.SetFlags(SerKeep)
	manageFrame(rt.lib)

	rt.user = rt.MakeFrame(256, KindModule)
	frameKeys(rt.user).SetFlags(SerKeep)
	rt.user.SetFlags(SerKeep)
	manageFrame(rt.user)

	rt.errorKeys = rt.makeErrorKeys()

	rt.defineLib("lib", ObjectCell(KindModule, rt.lib))
	rt.defineLib("user", ObjectCell(KindModule, rt.user))
	rt.defineDatatypes()
	rt.registerControlNatives()
	rt.registerSeriesNatives()
	rt.registerFrameNatives()
	rt.registerMathNatives()
	rt.registerSystemNatives()
	rt.registerActions()
	rt.registerCodecs()
}

// Config returns the runtime configuration
func (rt *Runtime) Config() *Config {
	return rt.config
}

// Logger returns the runtime logger
func (rt *Runtime) Logger() *Logger {
	return rt.logger
}

// Pool returns the allocator
func (rt *Runtime) Pool() *Pool {
	return rt.pool
}

// Symbols returns the symbol table
func (rt *Runtime) Symbols() *SymbolTable {
	return rt.syms
}

// Host returns the host services
func (rt *Runtime) Host() Host {
	return rt.host
}

// Lib returns the lib frame
func (rt *Runtime) Lib() *Series {
	return rt.lib
}

// User returns the user frame
func (rt *Runtime) User() *Series {
	return rt.user
}

// Intern prepares scanned code to run as a script: its set-words are added
// to the user frame, its words are bound to user, words user lacks are bound
// to lib, and any word still unbound is added to user without a value.
func (rt *Runtime) Intern(block *Series) error {
	return rt.internTo(block, rt.user, rt.lib)
}

// internTo binds block into the module frame target, falling back to the
// words of fallback when it is not nil
func (rt *Runtime) internTo(block, target, fallback *Series) error {
	keys, err := rt.binder.CollectKeys(block, 0, CollectSetWords|CollectDeep, frameKeys(target))
	if err != nil {
		return err
	}
	if keys != frameKeys(target) {
		keys.Manage()
		keys.SetFlags(SerKeep)
		frameKeys(target).ClearFlags(SerKeep)
		target.At(0).ser = keys
		for target.Len() < keys.Len() {
			// new words start with the fallback's value, when it has one
			v := Unset()
			if fallback != nil {
				if lv, ok := rt.frameValue(fallback, keys.At(target.Len()).sym); ok {
					v = lv
				}
			}
			target.Append(v)
		}
	}
	if err := rt.Bind(block, 0, target, BindDeep); err != nil {
		return err
	}
	if fallback != nil {
		rt.bindNew(block, fallback)
	}

	seen := make(map[Symbol]bool)
	var walk func(s *Series) error
	walk = func(s *Series) error {
		for i := 0; i < s.Len(); i++ {
			c := s.At(i)
			switch {
			case c.kind.IsAnyWord() && c.kind != KindRefinement && c.kind != KindIssue && c.ser == nil:
				canon := rt.syms.Canon(c.sym)
				if seen[canon] {
					continue
				}
				seen[canon] = true
				if _, err := rt.AppendKey(target, c.sym); err != nil {
					return err
				}
			case c.kind.IsAnyBlock() && c.ser != nil:
				if err := walk(c.ser); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(block); err != nil {
		return err
	}
	if len(seen) > 0 {
		rt.bindNew(block, target)
	}
	return nil
}

// Do scans, interns and evaluates source text, returning the last value
func (rt *Runtime) Do(source string) (Cell, error) {
	block, err := rt.Scan(source, "do")
	if err != nil {
		return Cell{}, err
	}
	return rt.DoScript(block)
}

// DoScript interns and evaluates a scanned block
func (rt *Runtime) DoScript(block *Series) (Cell, error) {
	rt.PushGuard(block)
	defer rt.DropGuard(block)
	if err := rt.Intern(block); err != nil {
		return Cell{}, err
	}
	return rt.Eval(block, 0)
}

// Eval evaluates an already bound block under a trap. Uncaught throws are
// turned into errors; quit and exit come back as *Exit.
func (rt *Runtime) Eval(block *Series, index int) (Cell, error) {
	var out Cell
	caught, err := rt.Trap(func() error {
		return rt.DoBlock(&out, block, index)
	})
	if err != nil {
		return Cell{}, err
	}
	if caught != nil {
		return Cell{}, caught
	}
	if out.IsThrown() {
		return rt.uncaughtThrow(&out)
	}
	return out, nil
}

// uncaughtThrow converts a throw that reached the top level
func (rt *Runtime) uncaughtThrow(out *Cell) (Cell, error) {
	name := rt.catchThrown(out)
	sym := SymNone
	if name.kind.IsAnyWord() {
		sym = rt.syms.Canon(name.sym)
	}
	switch sym {
	case SymQuit, SymExit:
		return Cell{}, &Exit{Status: ExitStatus(*out), Value: *out}
	case SymBreak, SymContinue:
		return Cell{}, rt.Errorf(ErrNoLoop)
	case SymReturn:
		return Cell{}, rt.Errorf(ErrNoFunction)
	}
	return Cell{}, rt.Errorf(ErrNoCatch, name)
}

// Close waits for spawned tasks and releases the runtime's memory
func (rt *Runtime) Close() error {
	err := rt.tasks.Wait()
	rt.guarded = nil
	rt.saved = nil
	rt.logger.DebugCat(CatBoot, "closed after %d collections", rt.gc.runs)
	return err
}

// Print writes text and a newline to the host console
func (rt *Runtime) Print(text string) error {
	_, err := io.WriteString(rt.host.Console(), text+"\n")
	return err
}

// wordCell returns an unbound word for a spelling
func (rt *Runtime) wordCell(spelling string) Cell {
	return Word(KindWord, rt.syms.Intern(spelling))
}

// stringCell returns a managed string value
func (rt *Runtime) stringCell(s string) Cell {
	str := rt.pool.MakeString(s)
	str.Manage()
	return SeriesCell(KindString, str, 0)
}

// blockCell returns a managed block holding cells
func (rt *Runtime) blockCell(kind Kind, cells ...Cell) Cell {
	s := rt.pool.ArrayOf(cells...)
	s.Manage()
	return SeriesCell(kind, s, 0)
}
