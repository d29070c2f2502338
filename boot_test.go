package r3

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootBlob(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		src := []byte(strings.Repeat("x: 1\n", 100))
		blob, err := PackBoot(src)
		require.NoError(t, err)
		assert.Less(t, len(blob), len(src))
		assert.Equal(t, uint32(len(src)), binary.LittleEndian.Uint32(blob))
		back, err := UnpackBoot(blob)
		require.NoError(t, err)
		assert.Equal(t, src, back)
	})

	t.Run("embedded script", func(t *testing.T) {
		src, err := UnpackBoot(bootBlob)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(src, []byte("; Base definitions")))
	})

	t.Run("short blob", func(t *testing.T) {
		_, err := UnpackBoot([]byte{1, 2})
		assert.Error(t, err)
	})

	t.Run("length mismatch", func(t *testing.T) {
		blob, err := PackBoot([]byte("abc"))
		require.NoError(t, err)
		binary.LittleEndian.PutUint32(blob, 10)
		_, err = UnpackBoot(blob)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "header says 10")
	})

	t.Run("not zlib", func(t *testing.T) {
		_, err := UnpackBoot([]byte{3, 0, 0, 0, 'a', 'b', 'c'})
		assert.Error(t, err)
	})
}

func TestRunBoot(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		detail string
	}{
		{"scan error", "[1 2", "missing"},
		{"script error", "1 / 0", "divide by zero"},
		{"value left over", "x: 1", "boot ended with 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, _ := newTestRuntime(t, false)
			err := rt.runBoot(tt.src)
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, ErrBadBoot, e.ID)
			assert.Contains(t, e.Message(), tt.detail)
		})
	}

	t.Run("definitions land in lib", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false)
		require.NoError(t, rt.runBoot(`twice: func [x] [x * 2] comment "done"`))
		assert.Equal(t, "8", doMold(t, rt, "twice 4"))
	})

	t.Run("a halt fails the boot", func(t *testing.T) {
		rt, _ := newTestRuntime(t, false, func(c *Config) { c.EvalCountdown = 1 })
		rt.Halt()
		err := rt.runBoot(`n: 0 loop 50 [n: n + 1] comment "done"`)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, ErrBadBoot, e.ID)
		assert.Contains(t, e.Message(), "halted")
	})
}

func TestMezzanines(t *testing.T) {
	rt, _ := newTestRuntime(t, true)
	runMoldCases(t, rt, []moldCase{
		{"found none", "found? none", "false"},
		{"found value", "found? 0", "true"},
		{"true zero", "true? 0", "true"},
		{"true none", "true? none", "false"},
		{"also", "also 1 2", "1"},
		{"single", "single? [x]", "true"},
		{"single tail", "single? next [x y]", "true"},
		{"offset", "b: [1 2 3] offset? b skip b 2", "2"},
		{"repend", "repend [1] [1 + 1]", "[1 2]"},
		{"repend only", "repend/only [1] [1 + 1]", "[1 [2]]"},
		{"ajoin", `ajoin ["a" 1 + 1]`, `"a2"`},
		{"array", "array 2", "[none none]"},
		{"array initial", "array/initial 3 0", "[0 0 0]"},
		{"replace first", `replace "abcb" "b" "x"`, `"axcb"`},
		{"replace all", `replace/all "abcb" "b" "x"`, `"axcx"`},
		{"replace block", "replace [1 2 1] 1 9", "[9 2 1]"},
		{"to-string", "to-string 12", `"12"`},
		{"to-integer", `to-integer "7"`, "7"},
		{"to-word", `to-word "w"`, "w"},
	})
}
