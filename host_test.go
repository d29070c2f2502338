package r3

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	rt, host := newTestRuntime(t, false)
	host.files["/in.txt"] = []byte("hi")

	t.Run("read", func(t *testing.T) {
		assert.Equal(t, "#{6869}", doMold(t, rt, "read %/in.txt"))
		assert.Equal(t, `"hi"`, doMold(t, rt, "read/string %/in.txt"))
	})

	t.Run("missing file", func(t *testing.T) {
		e := doError(t, rt, "read %/nowhere.txt")
		assert.Equal(t, ErrCannotOpen, e.ID)
		assert.Contains(t, e.Message(), "/nowhere.txt")
	})

	t.Run("write and append", func(t *testing.T) {
		assert.Equal(t, "%/out.txt", doMold(t, rt, `write %/out.txt "one"`))
		_, err := rt.Do(`write/append %/out.txt #{2032}`)
		require.NoError(t, err)
		assert.Equal(t, "one 2", string(host.files["/out.txt"]))

		_, err = rt.Do(`write %/out.txt [a "b" 3]`)
		require.NoError(t, err)
		assert.Equal(t, "a\n\"b\"\n3\n", string(host.files["/out.txt"]))
	})

	t.Run("query", func(t *testing.T) {
		_, err := rt.Do("q: query %/in.txt")
		require.NoError(t, err)
		assert.Equal(t, "2", doMold(t, rt, "q/size"))
		assert.Equal(t, "file", doMold(t, rt, "q/type"))
		assert.Equal(t, "9-Mar-2024/14:30", doMold(t, rt, "q/date"))
		assert.Equal(t, "none", doMold(t, rt, "query %/nowhere"))
	})

	t.Run("do a script file", func(t *testing.T) {
		host.files["/script.r"] = []byte("x: 20 x + 1")
		assert.Equal(t, "21", doMold(t, rt, "do %/script.r"))
	})

	t.Run("urls go through the host", func(t *testing.T) {
		e := doError(t, rt, "read http://example.com/")
		assert.Equal(t, ErrCannotOpen, e.ID)
	})
}

func TestPorts(t *testing.T) {
	rt, host := newTestRuntime(t, false)
	host.files["/log.txt"] = []byte("start")

	t.Run("file port", func(t *testing.T) {
		_, err := rt.Do("p: open %/log.txt")
		require.NoError(t, err)
		assert.Equal(t, "port!", doMold(t, rt, "type? p"))
		assert.Equal(t, "0", doMold(t, rt, "length? p"))
		assert.Equal(t, `"start"`, doMold(t, rt, "read/string p"))
		assert.Equal(t, "5", doMold(t, rt, "length? p"))

		_, err = rt.Do(`append p " more"`)
		require.NoError(t, err)
		assert.Equal(t, "start more", string(host.files["/log.txt"]))

		_, err = rt.Do("close p")
		require.NoError(t, err)
		assert.Equal(t, "false", doMold(t, rt, "p/state"))
	})

	t.Run("open/new creates the file", func(t *testing.T) {
		_, err := rt.Do("open/new %/fresh.txt")
		require.NoError(t, err)
		assert.Contains(t, host.files, "/fresh.txt")
	})

	t.Run("actor ports", func(t *testing.T) {
		_, err := rt.Do(`mem: open [
			scheme: 'mem
			actor: make object! [read: func [port] ["from actor"]]
		]`)
		require.NoError(t, err)
		assert.Equal(t, "mem", doMold(t, rt, "mem/scheme"))
		assert.Equal(t, `"from actor"`, doMold(t, rt, "read mem"))
	})

	t.Run("bad spec", func(t *testing.T) {
		assert.Equal(t, ErrExpectArg, doError(t, rt, "open 42").ID)
	})
}

func TestHostNatives(t *testing.T) {
	rt, host := newTestRuntime(t, false)
	host.env["R3_TEST"] = "yes"

	t.Run("now", func(t *testing.T) {
		assert.Equal(t, "9-Mar-2024/14:30", doMold(t, rt, "now"))
		assert.Equal(t, "2024", doMold(t, rt, "now/year"))
		assert.Equal(t, "6", doMold(t, rt, "now/weekday"))
		assert.Equal(t, "14:30", doMold(t, rt, "now/time"))
		assert.Equal(t, "0:00", doMold(t, rt, "now/zone"))
	})

	t.Run("get-env", func(t *testing.T) {
		assert.Equal(t, `"yes"`, doMold(t, rt, `get-env "R3_TEST"`))
		assert.Equal(t, "none", doMold(t, rt, `get-env "R3_UNSET_VAR"`))
	})

	t.Run("call", func(t *testing.T) {
		assert.Equal(t, "0", doMold(t, rt, `call "echo hi there"`))
		assert.Contains(t, host.Output(), "hi there")
		assert.Equal(t, `"a b"`, doMold(t, rt, `call/output ["echo" "a" "b"]`))
		assert.Equal(t, `"piped"`, doMold(t, rt, `call/input/output "cat" "piped"`))
		assert.Equal(t, "3", doMold(t, rt, `call "fail"`))
		assert.Contains(t, host.commands, "echo hi there")
		assert.Equal(t, ErrInvalidArg, doError(t, rt, `call ""`).ID)
	})
}

func TestScriptArgs(t *testing.T) {
	host := newTestHost("one", "two")
	cfg := DefaultConfig()
	cfg.SkipBoot = true
	rt, err := New(cfg, WithHost(host))
	require.NoError(t, err)
	defer rt.Close()
	v, err := rt.Do("args")
	require.NoError(t, err)
	assert.Equal(t, `["one" "two"]`, rt.Mold(v, false))
}

func TestOSHost(t *testing.T) {
	h := NewOSHost([]string{"a"})
	assert.Equal(t, []string{"a"}, h.Args())
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	require.NoError(t, h.WriteFile(path, []byte("ab"), false))
	require.NoError(t, h.WriteFile(path, []byte("cd"), true))
	data, err := h.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))

	fi, err := h.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fi.Size)
	assert.False(t, fi.Dir)
	fi, err = h.Stat(dir)
	require.NoError(t, err)
	assert.True(t, fi.Dir)

	_, err = h.ReadFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	t.Run("wait", func(t *testing.T) {
		done := make(chan struct{})
		pending := make(chan struct{})
		close(done)
		a := &Request{Done: done}
		b := &Request{Done: pending}
		got, err := h.Wait(t.Context(), []*Request{b, a}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []*Request{a}, got)

		got, err = h.Wait(t.Context(), []*Request{b}, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
