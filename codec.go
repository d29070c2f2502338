package r3

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/encoding/unicode"
	"gopkg.in/yaml.v3"
)

// CodecVerb selects what a codec is asked to do
type CodecVerb int

const (
	CodecInit CodecVerb = iota
	CodecIdentify
	CodecDecode
	CodecEncode
)

func (v CodecVerb) String() string {
	switch v {
	case CodecInit:
		return "init"
	case CodecIdentify:
		return "identify"
	case CodecDecode:
		return "decode"
	case CodecEncode:
		return "encode"
	}
	return "unknown"
}

// CodecStatus is the result of a codec call. Anything but CodecDone
// explains itself through CodecRequest.Err when set.
type CodecStatus int

const (
	CodecDone CodecStatus = iota
	CodecNoMatch
	CodecBadData
	CodecUnsupported
)

// CodecRequest carries the input and output of one codec call. Decode
// reads Data and fills Value; encode reads Value and fills Data. Values are
// plain Go data: nil, bool, int64, float64, string, time.Time, []any and
// map[string]any.
type CodecRequest struct {
	Data  []byte
	Value any
	Err   error
}

// CodecFunc dispatches the verbs of one codec
type CodecFunc func(verb CodecVerb, req *CodecRequest) CodecStatus

// CodecRegistry maps codec names to their dispatchers
type CodecRegistry struct {
	mu     sync.RWMutex
	codecs map[string]CodecFunc
	order  []string
	logger *Logger
}

// NewCodecRegistry returns a registry holding the built-in codecs
func NewCodecRegistry(logger *Logger) *CodecRegistry {
	r := &CodecRegistry{codecs: make(map[string]CodecFunc), logger: logger}
	for _, c := range []struct {
		name string
		fn   CodecFunc
	}{
		{"text", textCodec},
		{"utf-16le", utf16Codec(unicode.LittleEndian)},
		{"utf-16be", utf16Codec(unicode.BigEndian)},
		{"json", jsonCodec},
		{"yaml", yamlCodec},
		{"toml", tomlCodec},
	} {
		if err := r.Register(c.name, c.fn); err != nil {
			panicf("codec %s: %v", c.name, err)
		}
	}
	return r
}

// Register adds a codec after running its init verb
func (r *CodecRegistry) Register(name string, fn CodecFunc) error {
	name = strings.ToLower(name)
	var req CodecRequest
	if st := fn(CodecInit, &req); st != CodecDone && st != CodecUnsupported {
		return codecFailure(name, CodecInit, st, req.Err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.codecs[name] = fn
	r.logger.DebugCat(CatCodec, "registered codec %s", name)
	return nil
}

// Names lists the codecs in registration order
func (r *CodecRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *CodecRegistry) lookup(name string) (CodecFunc, error) {
	r.mu.RLock()
	fn, ok := r.codecs[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no codec named %s", name)
	}
	return fn, nil
}

// Identify returns the first codec, in registration order, that claims
// data. The generic text codec is tried last.
func (r *CodecRegistry) Identify(data []byte) (string, bool) {
	names := r.Names()
	sort.SliceStable(names, func(i, j int) bool { return names[j] == "text" && names[i] != "text" })
	for _, name := range names {
		fn, err := r.lookup(name)
		if err != nil {
			continue
		}
		req := CodecRequest{Data: data}
		if fn(CodecIdentify, &req) == CodecDone {
			return name, true
		}
	}
	return "", false
}

// Decode converts data with the named codec
func (r *CodecRegistry) Decode(name string, data []byte) (any, error) {
	fn, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	req := CodecRequest{Data: data}
	if st := fn(CodecDecode, &req); st != CodecDone {
		return nil, codecFailure(name, CodecDecode, st, req.Err)
	}
	return req.Value, nil
}

// Encode converts a value with the named codec
func (r *CodecRegistry) Encode(name string, value any) ([]byte, error) {
	fn, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	req := CodecRequest{Value: value}
	if st := fn(CodecEncode, &req); st != CodecDone {
		return nil, codecFailure(name, CodecEncode, st, req.Err)
	}
	return req.Data, nil
}

func codecFailure(name string, verb CodecVerb, st CodecStatus, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, verb, err)
	}
	switch st {
	case CodecUnsupported:
		return fmt.Errorf("%s does not support %s", name, verb)
	case CodecNoMatch:
		return fmt.Errorf("%s %s: data not recognized", name, verb)
	}
	return fmt.Errorf("%s %s: bad data", name, verb)
}

var errNotText = errors.New("value is not text")

func textCodec(verb CodecVerb, req *CodecRequest) CodecStatus {
	switch verb {
	case CodecInit:
		return CodecDone
	case CodecIdentify:
		if utf8.Valid(req.Data) {
			return CodecDone
		}
		return CodecNoMatch
	case CodecDecode:
		if !utf8.Valid(req.Data) {
			return CodecBadData
		}
		req.Value = string(bytes.TrimPrefix(req.Data, []byte("\xEF\xBB\xBF")))
		return CodecDone
	case CodecEncode:
		s, ok := req.Value.(string)
		if !ok {
			req.Err = errNotText
			return CodecBadData
		}
		req.Data = []byte(s)
		return CodecDone
	}
	return CodecUnsupported
}

func utf16Codec(order unicode.Endianness) CodecFunc {
	enc := unicode.UTF16(order, unicode.IgnoreBOM)
	bom := []byte{0xFF, 0xFE}
	if order == unicode.BigEndian {
		bom = []byte{0xFE, 0xFF}
	}
	return func(verb CodecVerb, req *CodecRequest) CodecStatus {
		switch verb {
		case CodecInit:
			return CodecDone
		case CodecIdentify:
			if bytes.HasPrefix(req.Data, bom) {
				return CodecDone
			}
			return CodecNoMatch
		case CodecDecode:
			if len(req.Data)%2 != 0 {
				req.Err = errors.New("odd byte count")
				return CodecBadData
			}
			out, err := enc.NewDecoder().Bytes(bytes.TrimPrefix(req.Data, bom))
			if err != nil {
				req.Err = err
				return CodecBadData
			}
			req.Value = string(out)
			return CodecDone
		case CodecEncode:
			s, ok := req.Value.(string)
			if !ok {
				req.Err = errNotText
				return CodecBadData
			}
			out, err := enc.NewEncoder().Bytes([]byte(s))
			if err != nil {
				req.Err = err
				return CodecBadData
			}
			req.Data = out
			return CodecDone
		}
		return CodecUnsupported
	}
}

func jsonCodec(verb CodecVerb, req *CodecRequest) CodecStatus {
	switch verb {
	case CodecInit:
		return CodecDone
	case CodecIdentify:
		trimmed := bytes.TrimSpace(req.Data)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
			return CodecDone
		}
		return CodecNoMatch
	case CodecDecode:
		dec := json.NewDecoder(bytes.NewReader(req.Data))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			req.Err = err
			return CodecBadData
		}
		req.Value = v
		return CodecDone
	case CodecEncode:
		out, err := json.Marshal(req.Value)
		if err != nil {
			req.Err = err
			return CodecBadData
		}
		req.Data = out
		return CodecDone
	}
	return CodecUnsupported
}

func yamlCodec(verb CodecVerb, req *CodecRequest) CodecStatus {
	switch verb {
	case CodecInit:
		return CodecDone
	case CodecIdentify:
		if bytes.HasPrefix(req.Data, []byte("---")) {
			return CodecDone
		}
		return CodecNoMatch
	case CodecDecode:
		var v any
		if err := yaml.Unmarshal(req.Data, &v); err != nil {
			req.Err = err
			return CodecBadData
		}
		req.Value = v
		return CodecDone
	case CodecEncode:
		out, err := yaml.Marshal(req.Value)
		if err != nil {
			req.Err = err
			return CodecBadData
		}
		req.Data = out
		return CodecDone
	}
	return CodecUnsupported
}

func tomlCodec(verb CodecVerb, req *CodecRequest) CodecStatus {
	switch verb {
	case CodecInit:
		return CodecDone
	case CodecIdentify:
		// TOML has no signature; it is only chosen by name
		return CodecNoMatch
	case CodecDecode:
		var v map[string]any
		if err := toml.Unmarshal(req.Data, &v); err != nil {
			req.Err = err
			return CodecBadData
		}
		req.Value = v
		return CodecDone
	case CodecEncode:
		m, ok := req.Value.(map[string]any)
		if !ok {
			req.Err = errors.New("toml encodes only objects and maps")
			return CodecBadData
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(m); err != nil {
			req.Err = err
			return CodecBadData
		}
		req.Data = buf.Bytes()
		return CodecDone
	}
	return CodecUnsupported
}

// toGo converts a value to codec data. Blocks become lists, maps and
// objects become string-keyed maps, words their spelling; anything else
// without a plain counterpart is molded.
func (rt *Runtime) toGo(v Cell, depth int) (any, error) {
	if depth > 64 {
		return nil, rt.Errorf(ErrBadCodec, rt.wordCell("encode"), rt.stringCell("value nested too deeply"))
	}
	switch {
	case v.kind == KindNone || v.kind == KindUnset:
		return nil, nil
	case v.kind == KindLogic:
		return v.Logic(), nil
	case v.kind == KindInteger:
		return v.Int(), nil
	case v.kind == KindDecimal || v.kind == KindPercent || v.kind == KindMoney:
		return v.Float(), nil
	case v.kind == KindChar:
		return string(v.Char()), nil
	case v.kind == KindDate:
		return v.Time(), nil
	case v.kind.IsAnyWord():
		return rt.syms.Spelling(v.sym), nil
	case v.kind.IsAnyString():
		return seriesText(&v), nil
	case v.kind == KindBinary:
		return string(bytesFrom(&v)), nil
	case v.kind == KindBlock || v.kind == KindParen:
		xs := cellsFrom(&v)
		list := make([]any, 0, len(xs))
		for _, x := range xs {
			g, err := rt.toGo(x, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, g)
		}
		return list, nil
	case v.kind == KindMap:
		m := make(map[string]any, v.ser.Len()/2)
		for i := 0; i+1 < v.ser.Len(); i += 2 {
			g, err := rt.toGo(*v.ser.At(i+1), depth+1)
			if err != nil {
				return nil, err
			}
			m[rt.Form(*v.ser.At(i))] = g
		}
		return m, nil
	case v.kind.IsAnyObject():
		keys := frameKeys(v.ser)
		m := make(map[string]any, keys.Len())
		for i := 1; i < keys.Len(); i++ {
			if v.ser.At(i).kind.IsAnyFunction() {
				continue
			}
			g, err := rt.toGo(*v.ser.At(i), depth+1)
			if err != nil {
				return nil, err
			}
			m[rt.syms.Spelling(keys.At(i).sym)] = g
		}
		return m, nil
	}
	return rt.Mold(v, false), nil
}

// fromGo converts codec data to a value. Maps become map! values with
// string keys in sorted order, lists become blocks.
func (rt *Runtime) fromGo(g any) (Cell, error) {
	switch x := g.(type) {
	case nil:
		return None(), nil
	case bool:
		return Logic(x), nil
	case int:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Decimal(float64(x)), nil
		}
		return Integer(int64(x)), nil
	case float64:
		return Decimal(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return Integer(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Cell{}, rt.Errorf(ErrBadCodec, rt.wordCell("decode"), rt.stringCell(err.Error()))
		}
		return Decimal(f), nil
	case string:
		return rt.stringCell(x), nil
	case time.Time:
		return DateOf(x), nil
	case []any:
		cells := make([]Cell, 0, len(x))
		for _, e := range x {
			c, err := rt.fromGo(e)
			if err != nil {
				return Cell{}, err
			}
			cells = append(cells, c)
		}
		return rt.blockCell(KindBlock, cells...), nil
	case []map[string]any:
		cells := make([]Cell, 0, len(x))
		for _, e := range x {
			c, err := rt.fromGo(e)
			if err != nil {
				return Cell{}, err
			}
			cells = append(cells, c)
		}
		return rt.blockCell(KindBlock, cells...), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		spec := make([]Cell, 0, 2*len(keys))
		for _, k := range keys {
			c, err := rt.fromGo(x[k])
			if err != nil {
				return Cell{}, err
			}
			spec = append(spec, rt.stringCell(k), c)
		}
		return rt.makeMap(spec)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = v
		}
		return rt.fromGo(m)
	}
	return rt.stringCell(fmt.Sprint(g)), nil
}

// codecName reads the codec argument of encode and decode
func codecName(rt *Runtime, c Cell) string {
	if c.kind.IsAnyWord() {
		return rt.syms.Spelling(c.sym)
	}
	return seriesText(&c)
}

func (rt *Runtime) registerCodecs() {
	rt.defineNative("encode", "type [word! lit-word! string!] data [any-value!]", func(c *Call) error {
		rt := c.rt
		name := codecName(rt, *c.Arg(1))
		g, err := rt.toGo(*c.Arg(2), 0)
		if err != nil {
			return err
		}
		data, err := rt.codecs.Encode(name, g)
		if err != nil {
			return rt.Errorf(ErrBadCodec, rt.wordCell(name), rt.stringCell(err.Error()))
		}
		b := rt.pool.MakeBinary(data)
		b.Manage()
		*c.Out() = SeriesCell(KindBinary, b, 0)
		return nil
	})

	rt.defineNative("decode", "type [word! lit-word! string! none!] data [binary! string!]", func(c *Call) error {
		rt := c.rt
		v := *c.Arg(2)
		var data []byte
		if v.kind == KindBinary {
			data = bytesFrom(&v)
		} else {
			data = []byte(seriesText(&v))
		}
		name := "text"
		if t := *c.Arg(1); t.kind != KindNone {
			name = codecName(rt, t)
		} else if found, ok := rt.codecs.Identify(data); ok {
			name = found
		}
		g, err := rt.codecs.Decode(name, data)
		if err != nil {
			return rt.Errorf(ErrBadCodec, rt.wordCell(name), rt.stringCell(err.Error()))
		}
		out, err := rt.fromGo(g)
		if err != nil {
			return err
		}
		*c.Out() = out
		return nil
	})

	rt.defineNative("codecs", "", func(c *Call) error {
		rt := c.rt
		names := rt.codecs.Names()
		cells := make([]Cell, len(names))
		for i, n := range names {
			cells[i] = rt.wordCell(n)
		}
		*c.Out() = rt.blockCell(KindBlock, cells...)
		return nil
	})
}
