package r3

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanMold scans src and molds each top-level value
func scanMold(t *testing.T, rt *Runtime, src string, all bool) string {
	t.Helper()
	block, err := rt.Scan(src, "test")
	require.NoError(t, err, src)
	parts := make([]string, 0, block.Len())
	for _, c := range block.Cells() {
		parts = append(parts, rt.Mold(c, all))
	}
	return strings.Join(parts, " ")
}

func TestScan(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"integers", "1 -5 +7 1'000", "1 -5 7 1000"},
		{"decimals", "1.5 2e3 .5 -0.25", "1.5 2000.0 0.5 -0.25"},
		{"percent", "50% 2.5%", "50% 2.5%"},
		{"money", "$12.5 -$3", "$12.50 -$3.00"},
		{"pairs", "10x20 1.5x-2", "10x20 1.5x-2"},
		{"tuples", "1.2.3 255.0.0.7", "1.2.3 255.0.0.7"},
		{"times", "12:30 1:02:03.5 -0:30", "12:30 1:02:03.5 -0:30"},
		{"dates", "2024-01-31 31-Jan-2024/10:00 1-february-2020/8:30+2:00", "31-Jan-2024 31-Jan-2024/10:00 1-Feb-2020/8:30+2:00"},
		{"chars", `#"a" #"^/" #"^(41)" #"^-"`, `#"a" #"^/" #"A" #"^-"`},
		{"strings", `"plain" "tab^-x" "a^"b" {has "quote"}`, `"plain" "tab^-x" {a"b} {has "quote"}`},
		{"braced strings nest", "{a {b} c}", `"a {b} c"`},
		{"multi-line strings", "{one\ntwo}", "{one\ntwo}"},
		{"binary", "#{DEADbeef} 2#{00000001} 64#{AQI=} #{}", "#{DEADBEEF} #{01} #{0102} #{}"},
		{"tags", "<b> </i> <a href=x>", "<b> </i> <a href=x>"},
		{"files", `%a/b.txt %"with space"`, `%a/b.txt %"with space"`},
		{"urls and email", "http://x.org/p a@b.com mailto:me@x", "http://x.org/p a@b.com mailto:me@x"},
		{"words", "a a: :a 'a /ref #iss", "a a: :a 'a /ref #iss"},
		{"operators", "+ - * / // < <= <>", "+ - * / // < <= <>"},
		{"paths", "a/b/1 a/b: :a/b 'a/b a/(1 + 1)/c", "a/b/1 a/b: :a/b 'a/b a/(1 + 1)/c"},
		{"constructs", "#[none] #[true] #[false]", "none true false"},
		{"nested", "[1 [2] (3)]", "[1 [2] (3)]"},
		{"comments", "1 ; skipped [\n2", "1 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanMold(t, rt, tt.src, false))
		})
	}

	t.Run("mold/all uses construction syntax", func(t *testing.T) {
		assert.Equal(t, "#[none] #[true] #[false] 1", scanMold(t, rt, "#[none] #[true] #[false] 1", true))
	})

	t.Run("values scan back to themselves", func(t *testing.T) {
		src := `[x: 1.5 "s^/t" #"c" 3x4 1.2.3 $1.00 10% 9-Mar-2024/14:30 <t> %f a/b 'w #{00FF} [nested (paren)]]`
		first := scanMold(t, rt, src, true)
		assert.Equal(t, first, scanMold(t, rt, first, true))
	})

	t.Run("newline markers", func(t *testing.T) {
		block, err := rt.Scan("a\nb c", "test")
		require.NoError(t, err)
		assert.False(t, block.At(0).HasFlag(FlagNewline))
		assert.True(t, block.At(1).HasFlag(FlagNewline))
		assert.False(t, block.At(2).HasFlag(FlagNewline))
		assert.Equal(t, "[a\n    b c\n]", rt.Mold(SeriesCell(KindBlock, block, 0), false))
	})

	t.Run("scanned series are managed", func(t *testing.T) {
		block, err := rt.Scan("[1] {s}", "test")
		require.NoError(t, err)
		assert.True(t, block.IsManaged())
		assert.True(t, block.At(0).Series().IsManaged())
		assert.True(t, block.At(1).Series().IsManaged())
	})
}

func TestScanErrors(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	tests := []struct {
		name string
		src  string
		id   ErrorID
	}{
		{"unclosed block", "[1 2", ErrMissing},
		{"unclosed paren", "(1", ErrMissing},
		{"unclosed string", `"abc`, ErrMissing},
		{"string across lines", "\"ab\ncd\"", ErrMissing},
		{"unclosed braces", "{abc", ErrMissing},
		{"unclosed tag", "<b", ErrMissing},
		{"stray close", "1 ]", ErrInvalid},
		{"long char", `#"ab"`, ErrInvalid},
		{"bad hex", "#{ZZ}", ErrInvalid},
		{"bad bits", "2#{101}", ErrInvalid},
		{"bad construct", "#[maybe]", ErrInvalid},
		{"bad date", "12-Foo-2024", ErrInvalid},
		{"bad tuple", "1.2.300", ErrInvalid},
		{"bad integer", "12abc", ErrInvalid},
		{"colon inside word", "a:b", ErrInvalid},
		{"set lit-word", "'a:", ErrInvalid},
		{"empty issue", "#", ErrInvalid},
		{"bad path", "a//b", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Scan(tt.src, "test")
			var e *Error
			require.ErrorAs(t, err, &e, tt.src)
			assert.Equal(t, tt.id, e.ID)
			assert.Equal(t, CatSyntax, e.Category())
		})
	}

	t.Run("position in the report", func(t *testing.T) {
		_, err := rt.Scan("x\n  [1 2", "script.r")
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Contains(t, e.Near, "script.r:2:")
		assert.Contains(t, e.Message(), `missing "]"`)
	})

	t.Run("errors reach do", func(t *testing.T) {
		assert.Equal(t, ErrMissing, doError(t, rt, "[1").ID)
		assert.Equal(t, "true", doMold(t, rt, `error? try [load "(x"]`))
	})
}

func TestMold(t *testing.T) {
	rt, _ := newTestRuntime(t, false)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"cycle", "b: [1] append/only b b mold b", `"[1 [...]]"`},
		{"form cycle", "b: [1] append/only b b form b", `"1 ..."`},
		{"form block", `form [1 "a" [b #"c"]]`, `"1 a b c"`},
		{"form string", `form "x"`, `"x"`},
		{"mold string", `mold "x"`, `{"x"}`},
		{"mold/only", "mold/only [1 [2]]", `"1 [2]"`},
		{"mold/all", "mold/all [#[none] #[true]]", `"[#[none] #[true]]"`},
		{"object", `mold make object! [a: 1 b: "x"]`, "{make object! [\n    a: 1\n    b: \"x\"\n]}"},
		{"form object", `form make object! [a: 1 b: "x"]`, `{a: 1` + "\n" + `b: "x"}`},
		{"decimal", "mold 3.0", `"3.0"`},
		{"money", "mold $0.5 + $1", `"$1.50"`},
		{"datatype", "mold integer!", `"integer!"`},
		{"caret", `mold "a^^b"`, `{"a^^^^b"}`},
		{"unset", "mold ()", `"unset"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, doMold(t, rt, tt.src))
		})
	}

	t.Run("unbalanced braces fall back to quotes", func(t *testing.T) {
		s := rt.stringCell("say \"{hi\"")
		assert.Equal(t, `"say ^"{hi^""`, rt.Mold(s, false))
	})

	t.Run("functions", func(t *testing.T) {
		v, err := rt.Do("func [x] [x + 1]")
		require.NoError(t, err)
		assert.Equal(t, "make function! [[x] [x + 1]]", rt.Mold(v, false))
	})
}
