package r3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordAccess(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	t.Run("get and set by name", func(t *testing.T) {
		require.NoError(t, rt.Set("answer", Integer(42)))
		v, ok := rt.Get("answer")
		require.True(t, ok)
		assert.Equal(t, int64(42), v.Int())
		assert.Equal(t, "43", doMold(t, rt, "answer + 1"))
	})

	t.Run("get falls back to lib", func(t *testing.T) {
		v, ok := rt.Get("append")
		require.True(t, ok)
		assert.Equal(t, KindAction, v.Kind())
		_, ok = rt.Get("no-such-word")
		assert.False(t, ok)
	})

	t.Run("unset words are not found", func(t *testing.T) {
		require.NoError(t, rt.Set("gone", Integer(1)))
		_, err := rt.Do("unset 'gone")
		require.NoError(t, err)
		_, ok := rt.Get("gone")
		assert.False(t, ok)
	})

	t.Run("unbound words", func(t *testing.T) {
		w := rt.wordCell("loose")
		_, err := rt.GetVar(w)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrNotBound, e.ID)
		require.ErrorAs(t, rt.SetVar(w, None()), &e)
		assert.Equal(t, ErrNotBound, e.ID)
	})

	t.Run("self cannot be set", func(t *testing.T) {
		w := Word(KindWord, SymSelf)
		w.ser = rt.user
		var e *Error
		require.ErrorAs(t, rt.SetVar(w, None()), &e)
		assert.Equal(t, ErrLockedWord, e.ID)
	})

	t.Run("set keeps newline and thrown bits out of storage", func(t *testing.T) {
		v := Integer(5)
		v.SetFlag(FlagNewline)
		require.NoError(t, rt.Set("flagged", v))
		got, _ := rt.Get("flagged")
		assert.False(t, got.HasFlag(FlagNewline))
	})
}

func TestProtection(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	t.Run("protected word", func(t *testing.T) {
		_, err := rt.Do("pw: 1 protect 'pw")
		require.NoError(t, err)
		e := doError(t, rt, "pw: 2")
		assert.Equal(t, ErrLockedWord, e.ID)
		assert.Contains(t, e.Message(), "pw")
		assert.Equal(t, "1", doMold(t, rt, "pw"))

		_, err = rt.Do("unprotect 'pw pw: 3")
		require.NoError(t, err)
		assert.Equal(t, "3", doMold(t, rt, "pw"))
	})

	t.Run("locked word stays protected", func(t *testing.T) {
		_, err := rt.Do("lw: 1 protect/lock 'lw")
		require.NoError(t, err)
		assert.Equal(t, ErrLockedWord, doError(t, rt, "unprotect 'lw").ID)
		assert.Equal(t, ErrLockedWord, doError(t, rt, "set 'lw 5").ID)
	})

	t.Run("protected series", func(t *testing.T) {
		_, err := rt.Do(`s: "ab" protect s`)
		require.NoError(t, err)
		assert.Equal(t, ErrProtected, doError(t, rt, `append s "c"`).ID)
		_, err = rt.Do("unprotect s")
		require.NoError(t, err)
		assert.Equal(t, `"abc"`, doMold(t, rt, `append s "c"`))
	})

	t.Run("locked series", func(t *testing.T) {
		_, err := rt.Do("ls: [1 2] lock ls")
		require.NoError(t, err)
		assert.Equal(t, ErrLockedSeries, doError(t, rt, "append ls 3").ID)
		assert.Equal(t, ErrLockedSeries, doError(t, rt, "unprotect/deep ls").ID)
	})

	t.Run("deep protection", func(t *testing.T) {
		_, err := rt.Do("dp: [[1] x] protect/deep dp")
		require.NoError(t, err)
		assert.Equal(t, ErrProtected, doError(t, rt, "append first dp 2").ID)
	})

	t.Run("protected object fields", func(t *testing.T) {
		_, err := rt.Do("po: make object! [a: 1] protect po")
		require.NoError(t, err)
		assert.Equal(t, ErrLockedWord, doError(t, rt, "po/a: 2").ID)
	})

	t.Run("protect on a shared keylist copies it", func(t *testing.T) {
		_, err := rt.Do("proto: make object! [a: 1] kid: make proto [] protect in kid 'a")
		require.NoError(t, err)
		assert.Equal(t, "2", doMold(t, rt, "proto/a: 2"))
		assert.Equal(t, ErrLockedWord, doError(t, rt, "kid/a: 2").ID)
	})
}
