package r3

import (
	"golang.org/x/text/cases"
)

// Symbol is the interned identity of a word spelling. Symbol 0 is reserved
// for "no symbol".
type Symbol int32

// Symbols interned at startup in this exact order
const (
	SymNone Symbol = iota
	SymSelf
	SymNoneWord
	SymTrue
	SymFalse
	SymOn
	SymOff
	SymYes
	SymNo
	SymBreak
	SymContinue
	SymReturn
	SymThrow
	SymQuit
	SymExit
	SymHalt
	SymLocal
	SymCode
	SymType
	SymID
	SymArg1
	SymArg2
	SymArg3
	SymNear
	SymWhere
	SymX
	SymY
	SymValue
	SymLib
	SymUser
	SymSystem
	SymScript
	SymMath
	SymAccess
	SymInternal
	SymUserError
	SymNote
	SymSyntax
	symBuiltinCount
)

var builtinSpellings = [symBuiltinCount]string{
	SymNone:      "",
	SymSelf:      "self",
	SymNoneWord:  "none",
	SymTrue:      "true",
	SymFalse:     "false",
	SymOn:        "on",
	SymOff:       "off",
	SymYes:       "yes",
	SymNo:        "no",
	SymBreak:     "break",
	SymContinue:  "continue",
	SymReturn:    "return",
	SymThrow:     "throw",
	SymQuit:      "quit",
	SymExit:      "exit",
	SymHalt:      "halt",
	SymLocal:     "local",
	SymCode:      "code",
	SymType:      "type",
	SymID:        "id",
	SymArg1:      "arg1",
	SymArg2:      "arg2",
	SymArg3:      "arg3",
	SymNear:      "near",
	SymWhere:     "where",
	SymX:         "x",
	SymY:         "y",
	SymValue:     "value",
	SymLib:       "lib",
	SymUser:      "user",
	SymSystem:    "system",
	SymScript:    "script",
	SymMath:      "math",
	SymAccess:    "access",
	SymInternal:  "internal",
	SymUserError: "user-error",
	SymNote:      "note",
	SymSyntax:    "syntax",
}

// SymbolTable maps spellings to symbols. Every distinct spelling gets its
// own symbol; spellings equal under case folding share a canonical symbol,
// the first spelling interned.
type SymbolTable struct {
	spellings []string
	canon     []Symbol
	exact     map[string]Symbol
	folded    map[string]Symbol
	fold      cases.Caser
}

// NewSymbolTable creates a table with the builtin symbols interned
func NewSymbolTable() *SymbolTable {
	t := &SymbolTable{
		exact:  make(map[string]Symbol),
		folded: make(map[string]Symbol),
		fold:   cases.Fold(),
	}
	for _, s := range builtinSpellings {
		t.Intern(s)
	}
	return t
}

// Intern returns the symbol for spelling, adding it if new
func (t *SymbolTable) Intern(spelling string) Symbol {
	if sym, ok := t.exact[spelling]; ok {
		return sym
	}
	sym := Symbol(len(t.spellings))
	t.spellings = append(t.spellings, spelling)
	t.exact[spelling] = sym

	f := t.fold.String(spelling)
	canon, ok := t.folded[f]
	if !ok {
		canon = sym
		t.folded[f] = sym
	}
	t.canon = append(t.canon, canon)
	return sym
}

// Lookup returns the symbol for an exact spelling without interning
func (t *SymbolTable) Lookup(spelling string) (Symbol, bool) {
	sym, ok := t.exact[spelling]
	return sym, ok
}

// Canon returns the canonical (case-folded) symbol of sym
func (t *SymbolTable) Canon(sym Symbol) Symbol {
	if sym < 0 || int(sym) >= len(t.canon) {
		return SymNone
	}
	return t.canon[sym]
}

// Same reports whether two symbols are equal ignoring case
func (t *SymbolTable) Same(a, b Symbol) bool {
	return t.Canon(a) == t.Canon(b)
}

// Spelling returns the original spelling of sym
func (t *SymbolTable) Spelling(sym Symbol) string {
	if sym < 0 || int(sym) >= len(t.spellings) {
		return ""
	}
	return t.spellings[sym]
}

// Len returns the number of symbols interned
func (t *SymbolTable) Len() int {
	return len(t.spellings)
}
