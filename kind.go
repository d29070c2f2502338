package r3

import "strings"

// Kind identifies the datatype held by a Cell
type Kind uint8

const (
	KindEnd Kind = iota // End-of-block sentinel, never a user value
	KindUnset
	KindNone
	KindLogic
	KindInteger
	KindDecimal
	KindPercent
	KindMoney
	KindChar
	KindPair
	KindTuple
	KindTime
	KindDate
	KindDatatype
	KindTypeset
	KindWord
	KindSetWord
	KindGetWord
	KindLitWord
	KindRefinement
	KindIssue
	KindBinary
	KindString
	KindFile
	KindEmail
	KindURL
	KindTag
	KindBitset
	KindImage
	KindVector
	KindBlock
	KindParen
	KindPath
	KindSetPath
	KindGetPath
	KindLitPath
	KindMap
	KindNative
	KindAction
	KindRoutine
	KindCommand
	KindFunction
	KindClosure
	KindFrame
	KindObject
	KindModule
	KindError
	KindTask
	KindPort
	KindGob
	KindEvent
	KindHandle
	KindStruct
	KindLibrary
	KindMax
)

// KindTrash marks a cell slot that has not been written yet. Only debug
// checks may observe it.
const KindTrash Kind = 0xFF

var kindNames = [KindMax]string{
	KindEnd:        "end",
	KindUnset:      "unset",
	KindNone:       "none",
	KindLogic:      "logic",
	KindInteger:    "integer",
	KindDecimal:    "decimal",
	KindPercent:    "percent",
	KindMoney:      "money",
	KindChar:       "char",
	KindPair:       "pair",
	KindTuple:      "tuple",
	KindTime:       "time",
	KindDate:       "date",
	KindDatatype:   "datatype",
	KindTypeset:    "typeset",
	KindWord:       "word",
	KindSetWord:    "set-word",
	KindGetWord:    "get-word",
	KindLitWord:    "lit-word",
	KindRefinement: "refinement",
	KindIssue:      "issue",
	KindBinary:     "binary",
	KindString:     "string",
	KindFile:       "file",
	KindEmail:      "email",
	KindURL:        "url",
	KindTag:        "tag",
	KindBitset:     "bitset",
	KindImage:      "image",
	KindVector:     "vector",
	KindBlock:      "block",
	KindParen:      "paren",
	KindPath:       "path",
	KindSetPath:    "set-path",
	KindGetPath:    "get-path",
	KindLitPath:    "lit-path",
	KindMap:        "map",
	KindNative:     "native",
	KindAction:     "action",
	KindRoutine:    "routine",
	KindCommand:    "command",
	KindFunction:   "function",
	KindClosure:    "closure",
	KindFrame:      "frame",
	KindObject:     "object",
	KindModule:     "module",
	KindError:      "error",
	KindTask:       "task",
	KindPort:       "port",
	KindGob:        "gob",
	KindEvent:      "event",
	KindHandle:     "handle",
	KindStruct:     "struct",
	KindLibrary:    "library",
}

// String returns the datatype name without the trailing "!"
func (k Kind) String() string {
	if k == KindTrash {
		return "trash"
	}
	if k >= KindMax {
		return "unknown"
	}
	return kindNames[k]
}

// TypeName returns the datatype word spelling, e.g. "integer!"
func (k Kind) TypeName() string {
	return k.String() + "!"
}

// KindFromTypeName converts "integer!" (or "integer") to its Kind
func KindFromTypeName(name string) (Kind, bool) {
	name = strings.TrimSuffix(strings.ToLower(name), "!")
	for k := KindEnd; k < KindMax; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return KindEnd, false
}

// IsAnyWord reports whether k is one of the word kinds
func (k Kind) IsAnyWord() bool {
	return k >= KindWord && k <= KindRefinement
}

// IsAnyString reports whether k is a unicode string kind
func (k Kind) IsAnyString() bool {
	return k >= KindString && k <= KindTag
}

// IsAnyBlock reports whether k is an array of cells
func (k Kind) IsAnyBlock() bool {
	return k >= KindBlock && k <= KindLitPath
}

// IsAnyPath reports whether k is one of the path kinds
func (k Kind) IsAnyPath() bool {
	return k >= KindPath && k <= KindLitPath
}

// IsSeries reports whether k carries a positioned series reference
func (k Kind) IsSeries() bool {
	return k >= KindBinary && k <= KindLitPath
}

// IsAnyFunction reports whether k can be invoked
func (k Kind) IsAnyFunction() bool {
	return k >= KindNative && k <= KindClosure
}

// IsAnyObject reports whether k refers to a frame
func (k Kind) IsAnyObject() bool {
	return k >= KindObject && k <= KindPort
}

// IsNumber reports whether k is numeric
func (k Kind) IsNumber() bool {
	return k >= KindInteger && k <= KindMoney
}

// IsScalar reports whether k is an immediate, non-series value
func (k Kind) IsScalar() bool {
	return k >= KindLogic && k <= KindDate
}

// Typeset is a bitmask of Kinds
type Typeset uint64

// TypesetOf builds a typeset from the given kinds
func TypesetOf(kinds ...Kind) Typeset {
	var ts Typeset
	for _, k := range kinds {
		ts |= 1 << uint(k)
	}
	return ts
}

// typesetRange builds a typeset holding every kind from lo to hi inclusive
func typesetRange(lo, hi Kind) Typeset {
	var ts Typeset
	for k := lo; k <= hi; k++ {
		ts |= 1 << uint(k)
	}
	return ts
}

// Has reports whether the typeset contains k
func (ts Typeset) Has(k Kind) bool {
	if k >= KindMax {
		return false
	}
	return ts&(1<<uint(k)) != 0
}

// Kinds returns the kinds contained in the typeset in enum order
func (ts Typeset) Kinds() []Kind {
	var out []Kind
	for k := KindEnd; k < KindMax; k++ {
		if ts.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Named typesets bound in the lib context
var (
	TypesAnyType     = typesetRange(KindUnset, KindMax-1)
	TypesAnyValue    = typesetRange(KindNone, KindMax-1)
	TypesAnyWord     = typesetRange(KindWord, KindRefinement)
	TypesAnyString   = typesetRange(KindString, KindTag)
	TypesAnyBlock    = typesetRange(KindBlock, KindLitPath)
	TypesAnyPath     = typesetRange(KindPath, KindLitPath)
	TypesAnyFunction = typesetRange(KindNative, KindClosure)
	TypesAnyObject   = typesetRange(KindObject, KindPort)
	TypesNumber      = typesetRange(KindInteger, KindMoney)
	TypesScalar      = typesetRange(KindLogic, KindDate)
	TypesSeries      = typesetRange(KindBinary, KindLitPath)
)

// namedTypesets lists the typeset words defined at startup
var namedTypesets = []struct {
	name string
	ts   Typeset
}{
	{"any-type!", TypesAnyType},
	{"any-value!", TypesAnyValue},
	{"any-word!", TypesAnyWord},
	{"any-string!", TypesAnyString},
	{"any-block!", TypesAnyBlock},
	{"any-path!", TypesAnyPath},
	{"any-function!", TypesAnyFunction},
	{"any-object!", TypesAnyObject},
	{"number!", TypesNumber},
	{"scalar!", TypesScalar},
	{"series!", TypesSeries},
}
