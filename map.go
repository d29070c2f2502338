package r3

import (
	"strconv"
	"strings"
)

// A map! keeps its entries as a flat array of key/value pairs. The series
// hash indexes the pairs by a normalized spelling of the key; it is rebuilt
// on demand after copies.

// mapKeyText normalizes a key: words and strings compare without case,
// numbers by value
func (rt *Runtime) mapKeyText(k Cell) string {
	switch {
	case k.kind.IsAnyWord():
		return "w:" + strings.ToLower(rt.syms.Spelling(k.sym))
	case k.kind.IsAnyString():
		return "s:" + strings.ToLower(seriesText(&k))
	case k.kind == KindInteger:
		return "n:" + strconv.FormatInt(k.Int(), 10)
	case k.kind == KindDecimal:
		f := k.Float()
		if f == float64(int64(f)) {
			return "n:" + strconv.FormatInt(int64(f), 10)
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return k.kind.String() + ":" + rt.Mold(k, true)
}

// mapIndex returns the hash of a map, building it when missing
func (rt *Runtime) mapIndex(m *Series) map[string]int {
	if m.hash == nil {
		m.hash = make(map[string]int, m.Len()/2)
		for i := 0; i+1 < m.Len(); i += 2 {
			m.hash[rt.mapKeyText(*m.At(i))] = i
		}
	}
	return m.hash
}

// mapFind returns the position of key in the map array
func (rt *Runtime) mapFind(m *Series, key Cell) (int, bool) {
	i, ok := rt.mapIndex(m)[rt.mapKeyText(key)]
	return i, ok
}

// mapPut sets the value for key, adding the pair when new. Keys are stored
// unbound; string keys are copied so later changes to the original do not
// move the entry.
func (rt *Runtime) mapPut(m *Series, key, v Cell) {
	v.flags &^= FlagThrown | FlagNewline
	if i, ok := rt.mapFind(m, key); ok {
		*m.At(i + 1) = v
		return
	}
	key.flags &^= FlagThrown | FlagNewline
	switch {
	case key.kind.IsAnyWord():
		key = Word(key.kind, key.sym)
	case key.kind.IsAnyString():
		key = rt.stringCell(seriesText(&key)).asKind(key.kind)
	}
	idx := rt.mapIndex(m)
	idx[rt.mapKeyText(key)] = m.Len()
	m.Append(key, v)
}

// mapRemove deletes the pair for key
func (rt *Runtime) mapRemove(m *Series, key Cell) bool {
	i, ok := rt.mapFind(m, key)
	if !ok {
		return false
	}
	m.Remove(i, 2)
	m.hash = nil
	return true
}

// makeMap builds a managed map from a block of key/value pairs
func (rt *Runtime) makeMap(spec []Cell) (Cell, error) {
	if len(spec)%2 != 0 {
		return Cell{}, rt.Errorf(ErrBadMake, Datatype(KindMap), rt.blockCell(KindBlock, spec...))
	}
	m := rt.pool.MakeArray(len(spec), 0)
	m.Manage()
	for i := 0; i < len(spec); i += 2 {
		rt.mapPut(m, spec[i], spec[i+1])
	}
	return Cell{kind: KindMap, ser: m}, nil
}
