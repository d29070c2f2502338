package r3

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller implements a handful of native functions in Go
type fakeCaller struct {
	mu     sync.Mutex
	closed []string
	calls  []string
}

func (f *fakeCaller) Open(path string) (any, error) {
	if path == "/missing.so" {
		return nil, errors.New("no such library")
	}
	return path, nil
}

func (f *fakeCaller) Close(lib any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, lib.(string))
	return nil
}

func (f *fakeCaller) Call(lib any, name string, args [][]byte, argTypes []FFIType, ret FFIType) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	out := make([]byte, ret.Size())
	switch name {
	case "add":
		a := int32(binary.LittleEndian.Uint32(args[0]))
		b := int32(binary.LittleEndian.Uint32(args[1]))
		binary.LittleEndian.PutUint32(out, uint32(a+b))
	case "half":
		x := math.Float64frombits(binary.LittleEndian.Uint64(args[0]))
		binary.LittleEndian.PutUint64(out, math.Float64bits(x/2))
	case "area":
		w := binary.LittleEndian.Uint32(args[0][0:4])
		h := binary.LittleEndian.Uint32(args[0][4:8])
		binary.LittleEndian.PutUint32(out, w*h)
	case "negate8":
		out[0] = byte(-int8(args[0][0]))
	case "noop":
		return nil, nil
	default:
		return nil, errors.New("unknown symbol " + name)
	}
	return out, nil
}

func newFFIRuntime(t *testing.T, tweak ...func(*Config)) (*Runtime, *fakeCaller) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SkipBoot = true
	for _, fn := range tweak {
		fn(cfg)
	}
	fc := &fakeCaller{}
	rt, err := New(cfg, WithHost(newTestHost()), WithForeignCaller(fc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, fc
}

func TestFFITypes(t *testing.T) {
	tests := []struct {
		name string
		typ  FFIType
		size int
	}{
		{"void", FFIVoid, 0},
		{"int8", FFIInt8, 1},
		{"uint16", FFIUint16, 2},
		{"int32", FFIInt32, 4},
		{"float", FFIFloat, 4},
		{"double", FFIDouble, 8},
		{"pointer", FFIPointer, 8},
		{"struct", FFIStruct, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.typ.String())
			assert.Equal(t, tt.size, tt.typ.Size())
			got, ok := ffiTypeByName(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.typ, got)
		})
	}
	_, ok := ffiTypeByName("long-double")
	assert.False(t, ok)
	assert.Equal(t, "unknown", FFIType(99).String())
}

func TestMarshal(t *testing.T) {
	rt, _ := newFFIRuntime(t)

	t.Run("integers are little endian", func(t *testing.T) {
		b, err := rt.marshal(FFIInt32, Integer(-2))
		require.NoError(t, err)
		assert.Equal(t, []byte{0xFE, 0xFF, 0xFF, 0xFF}, b)
		v, err := rt.unmarshal(FFIInt32, b)
		require.NoError(t, err)
		assert.Equal(t, int64(-2), v.Int())
	})

	t.Run("chars and logic", func(t *testing.T) {
		b, err := rt.marshal(FFIUint8, Char('A'))
		require.NoError(t, err)
		assert.Equal(t, []byte{65}, b)
		b, err = rt.marshal(FFIInt16, Logic(true))
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 0}, b)
	})

	t.Run("none is a null pointer", func(t *testing.T) {
		b, err := rt.marshal(FFIPointer, None())
		require.NoError(t, err)
		assert.Equal(t, make([]byte, 8), b)
	})

	t.Run("float narrowing", func(t *testing.T) {
		b, err := rt.marshal(FFIFloat, Decimal(1.5))
		require.NoError(t, err)
		v, err := rt.unmarshal(FFIFloat, b)
		require.NoError(t, err)
		assert.Equal(t, 1.5, v.Float())
	})

	t.Run("range checks", func(t *testing.T) {
		var e *Error
		_, err := rt.marshal(FFIInt8, Integer(200))
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrOutOfRange, e.ID)
		_, err = rt.marshal(FFIUint32, Integer(-1))
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrOutOfRange, e.ID)
		_, err = rt.marshal(FFIFloat, Decimal(1e300))
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrOutOfRange, e.ID)
	})

	t.Run("wrong kinds", func(t *testing.T) {
		var e *Error
		_, err := rt.marshal(FFIInt32, None())
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrInvalidArg, e.ID)
		_, err = rt.marshal(FFIStruct, Integer(1))
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrInvalidArg, e.ID)
	})

	t.Run("short results", func(t *testing.T) {
		var e *Error
		_, err := rt.unmarshal(FFIInt64, []byte{1, 2})
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrFFICall, e.ID)
	})

	t.Run("void is unset", func(t *testing.T) {
		v, err := rt.unmarshal(FFIVoid, nil)
		require.NoError(t, err)
		assert.Equal(t, KindUnset, v.Kind())
	})
}

func TestStructs(t *testing.T) {
	rt, _ := newFFIRuntime(t)

	t.Run("layout uses natural alignment", func(t *testing.T) {
		assert.Equal(t, "12", doMold(t, rt, "length? make struct! [a [int8] b [int32] c [int16]]"))
		assert.Equal(t, "16", doMold(t, rt, "length? make struct! [a [uint8] d [double]]"))
	})

	_, err := rt.Do("s: make struct! [a [int8] 5 b [int32]]")
	require.NoError(t, err)

	runMoldCases(t, rt, []moldCase{
		{"initial value", "s/a", "5"},
		{"zeroed field", "s/b", "0"},
		{"set field", "s/b: 7 s/b", "7"},
		{"pick", "pick s 'a", "5"},
		{"missing field", "pick s 'zz", "none"},
		{"mold", "mold s", `"make struct! [[a [int8] b [int32]] #{0500000007000000}]"`},
		{"mold loads back", "s2: make struct! [[a [int8] b [int32]] #{0500000007000000}] s2/b", "7"},
		{"equal images", "s = s2", "true"},
		{"copy is separate", "s3: copy s s3/a: 1 s/a", "5"},
	})

	t.Run("errors", func(t *testing.T) {
		assert.Equal(t, ErrOutOfRange, doError(t, rt, "s/a: 300").ID)
		assert.Equal(t, ErrInvalidPath, doError(t, rt, "s/zz: 1").ID)
		assert.Equal(t, ErrBadFFIType, doError(t, rt, "make struct! [a [huge]]").ID)
		assert.Equal(t, ErrBadFFIType, doError(t, rt, "make struct! [a [void]]").ID)
		assert.Equal(t, ErrBadMake, doError(t, rt, "make struct! [1 [int8]]").ID)
		assert.Equal(t, ErrBadMake, doError(t, rt, "make struct! [[a [int8]] #{0102}]").ID)
	})
}

func TestRoutines(t *testing.T) {
	rt, fc := newFFIRuntime(t)
	_, err := rt.Do(`
		lib: load-library %/libdemo.so
		add32: make routine! [[a [int32] b [int32] return: [int32]] lib "add"]
		half: make routine! [["halves a number" x [double] return: [double]] lib "half"]
		area: make routine! [[r [struct] return: [uint32]] lib "area"]
		neg8: make routine! [[n [int8] return: [int8]] lib "negate8"]
		noop: make routine! [[] lib "noop"]
		boom: make routine! [[] lib "boom"]
	`)
	require.NoError(t, err)

	runMoldCases(t, rt, []moldCase{
		{"library", "type? lib", "library!"},
		{"int32", "add32 2 3", "5"},
		{"negative", "add32 -10 3", "-7"},
		{"char argument", `add32 #"a" 1`, "98"},
		{"double", "half 5", "2.5"},
		{"struct argument", "area make struct! [w [int32] 3 h [int32] 4]", "12"},
		{"sign extends", "neg8 5", "-5"},
		{"routine mold", "mold :add32", `"make routine! [[a [int32] b [int32] return: [int32]]]"`},
	})

	t.Run("void result", func(t *testing.T) {
		v, err := rt.Do("noop")
		require.NoError(t, err)
		assert.Equal(t, KindUnset, v.Kind())
	})

	t.Run("the caller sees every call", func(t *testing.T) {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		assert.Contains(t, fc.calls, "add")
		assert.Contains(t, fc.calls, "area")
	})

	t.Run("errors", func(t *testing.T) {
		assert.Equal(t, ErrExpectArg, doError(t, rt, `add32 "x" 1`).ID)
		assert.Equal(t, ErrOutOfRange, doError(t, rt, "add32 1 3000000000").ID)
		e := doError(t, rt, "boom")
		assert.Equal(t, ErrFFICall, e.ID)
		assert.Contains(t, e.Message(), "unknown symbol boom")
		assert.Equal(t, ErrCannotOpen, doError(t, rt, "load-library %/missing.so").ID)
		assert.Equal(t, ErrBadFFIType, doError(t, rt, `make routine! [[a [void]] lib "f"]`).ID)
		assert.Equal(t, ErrBadFuncDef, doError(t, rt, `make routine! [[1] lib "f"]`).ID)
		assert.Equal(t, ErrBadMake, doError(t, rt, `make routine! [[] none "f"]`).ID)
	})

	t.Run("collected libraries are closed", func(t *testing.T) {
		_, err := rt.Do("tmp: load-library %/libtmp.so")
		require.NoError(t, err)
		_, err = rt.Do("tmp: none")
		require.NoError(t, err)
		rt.Recycle()
		fc.mu.Lock()
		defer fc.mu.Unlock()
		assert.Equal(t, []string{"/libtmp.so"}, fc.closed)
	})
}

func TestFFIWithoutCaller(t *testing.T) {
	rt, _ := newTestRuntime(t, false)
	e := doError(t, rt, "load-library %/libc.so")
	assert.Equal(t, ErrFFICall, e.ID)
	assert.Contains(t, e.Message(), "no foreign caller")
}

func TestFFISecurity(t *testing.T) {
	rt, _ := newFFIRuntime(t, func(c *Config) {
		c.Security.Levels[ResCall] = SecThrow
	})
	assert.Equal(t, ErrSecurity, doError(t, rt, "load-library %/libc.so").ID)
}
