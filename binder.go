package r3

// CollectMode selects which words a collection pass gathers
type CollectMode uint8

const (
	CollectSetWords CollectMode = 1 << iota // Set-words only
	CollectAllWords                         // Every word form
	CollectDeep                             // Descend into nested blocks and parens
	CollectNoDup                            // A repeated word is an error
	CollectNoSelf                           // Slot 0 is not the implicit self
)

// BindMode selects how Bind treats words missing from the frame. The zero
// mode binds only words the frame already has.
type BindMode uint8

const (
	BindSet  BindMode = 1 << iota // Add set-words as new keys
	BindAll                       // Add every word as a new key
	BindDeep                      // Descend into nested blocks and parens
	BindFunc                      // Descend into function bodies
)

// Binder owns the scratch table mapping canonical symbols to frame slots.
// There is one per runtime and it is not reentrant: opening it twice is a
// fatal fault.
type Binder struct {
	rt      *Runtime
	slots   []int
	touched []Symbol
	keys    []Cell
	mode    CollectMode
	open    bool
}

func newBinder(rt *Runtime) *Binder {
	return &Binder{rt: rt}
}

func (b *Binder) acquire() {
	if b.open {
		panicf("binder: collection already in progress")
	}
	b.open = true
}

// slot returns the scratch index of canonical symbol canon
func (b *Binder) slot(canon Symbol) int {
	if int(canon) < len(b.slots) {
		return b.slots[canon]
	}
	return 0
}

func (b *Binder) setSlot(canon Symbol, i int) {
	for int(canon) >= len(b.slots) {
		b.slots = append(b.slots, make([]int, int(canon)+1-len(b.slots)+64)...)
	}
	if b.slots[canon] == 0 {
		b.touched = append(b.touched, canon)
	}
	b.slots[canon] = i
}

// release clears every slot written since acquire and closes the table
func (b *Binder) release() {
	for _, canon := range b.touched {
		b.slots[canon] = 0
	}
	b.touched = b.touched[:0]
	b.open = false
}

// load enters the keys of a keylist into the table, skipping slot 0
func (b *Binder) load(keys *Series) {
	for i := 1; i < keys.Len(); i++ {
		b.setSlot(b.rt.syms.Canon(keys.At(i).sym), i)
	}
}

// Start opens a collection. The prior keylist, when given, seeds the
// collected keys.
func (b *Binder) Start(mode CollectMode, prior *Series) {
	b.acquire()
	b.mode = mode
	b.keys = b.keys[:0]
	if prior != nil {
		b.keys = append(b.keys, prior.Cells()...)
		b.load(prior)
		return
	}
	if mode&CollectNoSelf != 0 {
		b.keys = append(b.keys, key(SymNone, 0))
	} else {
		b.keys = append(b.keys, key(SymSelf, TypesAnyType))
	}
}

// Add collects the key k and returns its index. With CollectNoDup a word
// seen before is an error.
func (b *Binder) Add(k Cell) (int, error) {
	canon := b.rt.syms.Canon(k.sym)
	if canon == SymSelf && b.mode&CollectNoSelf == 0 {
		return 0, nil
	}
	if i := b.slot(canon); i > 0 {
		if b.mode&CollectNoDup != 0 {
			return 0, b.rt.Errorf(ErrDupVars, Word(KindWord, k.sym))
		}
		return i, nil
	}
	b.keys = append(b.keys, k)
	i := len(b.keys) - 1
	b.setSlot(canon, i)
	return i, nil
}

// CollectWords gathers words of block from index according to the mode
func (b *Binder) CollectWords(block *Series, index int) error {
	for i := index; i < block.Len(); i++ {
		c := block.At(i)
		switch {
		case c.kind == KindSetWord,
			b.mode&CollectAllWords != 0 && c.kind.IsAnyWord() && c.kind != KindRefinement && c.kind != KindIssue:
			if _, err := b.Add(key(c.sym, TypesAnyType)); err != nil {
				return err
			}
		case b.mode&CollectDeep != 0 && c.kind.IsAnyBlock() && c.ser != nil:
			if err := b.CollectWords(c.ser, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// End closes the collection and returns the keylist. When prior is given and
// nothing was added, prior itself is returned.
func (b *Binder) End(prior *Series) *Series {
	defer b.release()
	if prior != nil && len(b.keys) == prior.Len() {
		return prior
	}
	keys := b.rt.pool.MakeArray(len(b.keys), SerKeylist)
	keys.Append(b.keys...)
	return keys
}

// Abort closes the collection without building a keylist
func (b *Binder) Abort() {
	b.release()
}

// CollectKeys runs a full collection over block from index
func (b *Binder) CollectKeys(block *Series, index int, mode CollectMode, prior *Series) (*Series, error) {
	b.Start(mode, prior)
	if err := b.CollectWords(block, index); err != nil {
		b.Abort()
		return nil, err
	}
	keys := b.End(prior)
	b.rt.logger.TraceCat(CatBind, "collected %d keys", keys.Len()-1)
	return keys, nil
}

// Bind binds the words of block from index to the frame vals. Words the
// frame lacks stay as they are unless the mode adds them; the word self
// binds to slot 0 when the frame allows it.
func (rt *Runtime) Bind(block *Series, index int, vals *Series, mode BindMode) error {
	b := rt.binder
	b.acquire()
	defer b.release()
	b.load(frameKeys(vals))
	return rt.bindWords(block, index, vals, mode)
}

func (rt *Runtime) bindWords(block *Series, index int, vals *Series, mode BindMode) error {
	b := rt.binder
	self := allowsSelf(vals)
	for i := index; i < block.Len(); i++ {
		c := block.At(i)
		switch {
		case c.kind.IsAnyWord() && c.kind != KindRefinement && c.kind != KindIssue:
			canon := rt.syms.Canon(c.sym)
			if slot := b.slot(canon); slot > 0 {
				c.ser, c.index = vals, slot
				continue
			}
			if canon == SymSelf && self {
				c.ser, c.index = vals, 0
				continue
			}
			if mode&BindAll != 0 || (mode&BindSet != 0 && c.kind == KindSetWord) {
				slot, err := rt.AppendKey(vals, c.sym)
				if err != nil {
					return err
				}
				b.setSlot(canon, slot)
				c.ser, c.index = vals, slot
			}
		case mode&BindDeep != 0 && c.kind.IsAnyBlock() && c.ser != nil:
			if err := rt.bindWords(c.ser, 0, vals, mode); err != nil {
				return err
			}
		case mode&BindFunc != 0 && (c.kind == KindFunction || c.kind == KindClosure) && c.aux != nil:
			if err := rt.bindWords(c.aux, 0, vals, mode); err != nil {
				return err
			}
		}
	}
	return nil
}

// bindNew binds the still unbound words of block to vals when the frame has
// them. Used to fall back from the user frame to lib.
func (rt *Runtime) bindNew(block *Series, vals *Series) {
	b := rt.binder
	b.acquire()
	defer b.release()
	b.load(frameKeys(vals))
	var walk func(s *Series)
	walk = func(s *Series) {
		for i := 0; i < s.Len(); i++ {
			c := s.At(i)
			switch {
			case c.kind.IsAnyWord() && c.ser == nil:
				if slot := b.slot(rt.syms.Canon(c.sym)); slot > 0 {
					c.ser, c.index = vals, slot
				}
			case c.kind.IsAnyBlock() && c.ser != nil:
				walk(c.ser)
			}
		}
	}
	walk(block)
}

// BindRelative binds the words of a function body naming parameters to the
// paramlist with negative indexes, resolved against the live call stack
func (rt *Runtime) BindRelative(body *Series, paramlist *Series) {
	b := rt.binder
	b.acquire()
	defer b.release()
	b.load(paramlist)
	var walk func(s *Series)
	walk = func(s *Series) {
		for i := 0; i < s.Len(); i++ {
			c := s.At(i)
			switch {
			case c.kind.IsAnyWord() && c.kind != KindRefinement && c.kind != KindIssue:
				if slot := b.slot(rt.syms.Canon(c.sym)); slot > 0 {
					c.ser, c.index = paramlist, -slot
				}
			case c.kind.IsAnyBlock() && c.ser != nil:
				walk(c.ser)
			}
		}
	}
	walk(body)
}

// rebindRelative turns paramlist-relative words of a copied closure body
// into direct bindings to the closure's heap frame
func rebindRelative(block, paramlist, vals *Series) {
	for i := 0; i < block.Len(); i++ {
		c := block.At(i)
		switch {
		case c.kind.IsAnyWord() && c.ser == paramlist && c.index < 0:
			c.ser, c.index = vals, -c.index
		case c.kind.IsAnyBlock() && c.ser != nil:
			rebindRelative(c.ser, paramlist, vals)
		}
	}
}

// Unbind clears the bindings of the words of block
func Unbind(block *Series, deep bool) {
	for i := 0; i < block.Len(); i++ {
		c := block.At(i)
		switch {
		case c.kind.IsAnyWord():
			c.ser, c.index = nil, 0
		case deep && c.kind.IsAnyBlock() && c.ser != nil:
			Unbind(c.ser, true)
		}
	}
}
