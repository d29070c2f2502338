package r3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHost keeps files, environment and console output in memory
type testHost struct {
	*OSHost
	mu       sync.Mutex
	out      bytes.Buffer
	files    map[string][]byte
	env      map[string]string
	now      time.Time
	commands []string
}

func newTestHost(args ...string) *testHost {
	return &testHost{
		OSHost: NewOSHost(args),
		files:  make(map[string][]byte),
		env:    make(map[string]string),
		now:    time.Date(2024, time.March, 9, 14, 30, 0, 0, time.UTC),
	}
}

func (h *testHost) Now() time.Time { return h.now }

func (h *testHost) Console() io.Writer { return &lockedWriter{h: h} }

func (h *testHost) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.String()
}

func (h *testHost) Getenv(name string) (string, bool) {
	v, ok := h.env[name]
	return v, ok
}

func (h *testHost) ReadFile(path string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (h *testHost) WriteFile(path string, data []byte, append bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if append {
		h.files[path] = appendBytes(h.files[path], data)
		return nil
	}
	h.files[path] = appendBytes(nil, data)
	return nil
}

func appendBytes(dst, src []byte) []byte {
	return append(dst, src...)
}

func (h *testHost) Stat(path string) (FileInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	if !ok {
		return FileInfo{}, os.ErrNotExist
	}
	return FileInfo{Size: int64(len(data)), Modified: h.now}, nil
}

func (h *testHost) ReadURL(ctx context.Context, url string) ([]byte, error) {
	return nil, errors.New("no network in tests")
}

func (h *testHost) WriteURL(ctx context.Context, url string, data []byte) ([]byte, error) {
	return nil, errors.New("no network in tests")
}

func (h *testHost) Run(ctx context.Context, name string, args []string, stdin []byte) (CommandResult, error) {
	h.mu.Lock()
	h.commands = append(h.commands, strings.Join(append([]string{name}, args...), " "))
	h.mu.Unlock()
	if name == "fail" {
		return CommandResult{Status: 3, Output: []byte("failed\n")}, nil
	}
	out := strings.Join(args, " ")
	if stdin != nil {
		out = string(stdin)
	}
	return CommandResult{Output: []byte(out)}, nil
}

type lockedWriter struct{ h *testHost }

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.h.mu.Lock()
	defer w.h.mu.Unlock()
	return w.h.out.Write(p)
}

// newTestRuntime returns a runtime on a test host. Without boot only the
// natives are defined.
func newTestRuntime(t *testing.T, boot bool, tweak ...func(*Config)) (*Runtime, *testHost) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SkipBoot = !boot
	for _, fn := range tweak {
		fn(cfg)
	}
	host := newTestHost()
	rt, err := New(cfg, WithHost(host))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, host
}

// doMold evaluates src and molds the result
func doMold(t *testing.T, rt *Runtime, src string) string {
	t.Helper()
	v, err := rt.Do(src)
	require.NoError(t, err, src)
	return rt.Mold(v, false)
}

// doError evaluates src and returns the language error it raised
func doError(t *testing.T, rt *Runtime, src string) *Error {
	t.Helper()
	_, err := rt.Do(src)
	require.Error(t, err, src)
	var e *Error
	require.True(t, errors.As(err, &e), "expected *Error, got %T: %v", err, err)
	return e
}

func TestNew(t *testing.T) {
	t.Run("nil config boots", func(t *testing.T) {
		rt, err := New(nil, WithHost(newTestHost()))
		require.NoError(t, err)
		defer rt.Close()
		v, ok := rt.Get("ajoin")
		assert.True(t, ok)
		assert.Equal(t, KindFunction, v.Kind())
	})

	t.Run("skip boot leaves natives only", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		_, ok := rt.Get("ajoin")
		assert.False(t, ok)
		v, ok := rt.Get("print")
		assert.True(t, ok)
		assert.Equal(t, KindNative, v.Kind())
	})

	t.Run("runtimes are isolated", func(t *testing.T) {
		a, _ := newTestRuntime(t, false)
		b, _ := newTestRuntime(t, false)
		_, err := a.Do("x: 1")
		require.NoError(t, err)
		e := doError(t, b, "x")
		assert.Equal(t, ErrNoValue, e.ID)
	})

	t.Run("custom logger", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(true)
		l.SetOutput(&buf, &buf)
		l.EnableCategory(CatBoot)
		cfg := DefaultConfig()
		cfg.SkipBoot = true
		rt, err := New(cfg, WithLogger(l), WithHost(newTestHost()))
		require.NoError(t, err)
		defer rt.Close()
		assert.Same(t, l, rt.Logger())
		assert.Contains(t, buf.String(), "core ready")
	})
}

func TestTopLevelThrows(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	t.Run("quit", func(t *testing.T) {
		_, err := rt.Do("quit/return 3")
		var exit *Exit
		require.True(t, errors.As(err, &exit))
		assert.Equal(t, 3, exit.Status)
	})

	t.Run("exit without value", func(t *testing.T) {
		_, err := rt.Do("exit")
		var exit *Exit
		require.True(t, errors.As(err, &exit))
		assert.Zero(t, exit.Status)
	})

	t.Run("break outside a loop", func(t *testing.T) {
		assert.Equal(t, ErrNoLoop, doError(t, rt, "break").ID)
	})

	t.Run("return outside a function", func(t *testing.T) {
		assert.Equal(t, ErrNoFunction, doError(t, rt, "return 1").ID)
	})

	t.Run("named throw without catch", func(t *testing.T) {
		e := doError(t, rt, "throw/name 1 'oops")
		assert.Equal(t, ErrNoCatch, e.ID)
		assert.Contains(t, e.Message(), "oops")
	})

	t.Run("runtime is usable afterwards", func(t *testing.T) {
		assert.Equal(t, "3", doMold(t, rt, "1 + 2"))
		assert.Zero(t, rt.Depth())
		assert.Zero(t, rt.DataStackDepth())
	})
}

func TestExitStatus(t *testing.T) {
	rt, _ := newTestRuntime(t, false)
	big, none, unset := Integer(1<<32+5), None(), Unset()
	assert.Equal(t, 5, ExitStatus(big))
	assert.Zero(t, ExitStatus(none))
	assert.Zero(t, ExitStatus(unset))
	str := rt.stringCell("x")
	assert.Equal(t, 1, ExitStatus(str))

	v, err := rt.Do("try [1 / 0]")
	require.NoError(t, err)
	assert.Equal(t, 400, ExitStatus(v))
}

func TestPrint(t *testing.T) {
	rt, host := newTestRuntime(t, false)
	_, err := rt.Do(`print "hello" prin "a" prin "b" print [1 + 1 "x"] probe [a "b"]`)
	require.NoError(t, err)
	assert.Equal(t, "hello\nab2 x\n[a \"b\"]\n", host.Output())
}
