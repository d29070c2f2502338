package r3

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory groups error ids; each category owns a block of codes
type ErrorCategory int

const (
	CatThrow ErrorCategory = iota
	CatNote
	CatSyntax
	CatScript
	CatMath
	CatAccess
	CatUser
	CatInternal
)

var categoryInfo = [...]struct {
	sym  Symbol
	name string
	base int
}{
	CatThrow:    {SymThrow, "Throw", 0},
	CatNote:     {SymNote, "Note", 100},
	CatSyntax:   {SymSyntax, "Syntax", 200},
	CatScript:   {SymScript, "Script", 300},
	CatMath:     {SymMath, "Math", 400},
	CatAccess:   {SymAccess, "Access", 500},
	CatUser:     {SymUserError, "User", 800},
	CatInternal: {SymInternal, "Internal", 900},
}

// String returns the category name
func (c ErrorCategory) String() string {
	return categoryInfo[c].name
}

// ErrorID identifies an entry of the error catalog
type ErrorID int

const (
	ErrHaltID ErrorID = iota
	ErrNoLoop
	ErrNoFunction
	ErrNoCatch
	ErrInvalid
	ErrMissing
	ErrNoValue
	ErrNotBound
	ErrNotAvailable
	ErrNoArg
	ErrExpectArg
	ErrBadRefine
	ErrInvalidPath
	ErrBadPathType
	ErrBadPathSet
	ErrInfixFirst
	ErrNeedValue
	ErrLockedWord
	ErrProtected
	ErrLockedSeries
	ErrInvalidArg
	ErrInvalidType
	ErrCannotUse
	ErrBadMake
	ErrDupVars
	ErrBadFuncDef
	ErrOutOfRange
	ErrNotDone
	ErrBadCodec
	ErrZeroDivide
	ErrOverflow
	ErrSecurity
	ErrCannotOpen
	ErrBadFFIType
	ErrFFICall
	ErrMessage
	ErrStackOverflow
	ErrNoMemory
	ErrBadBoot
	errorIDCount
)

type errorSpec struct {
	cat  ErrorCategory
	name string
	msg  string
}

var errorCatalog = [errorIDCount]errorSpec{
	ErrHaltID:        {CatThrow, "halt", "halted by user or script"},
	ErrNoLoop:        {CatThrow, "no-loop", "no loop to break"},
	ErrNoFunction:    {CatThrow, "no-function", "return or exit not in a function"},
	ErrNoCatch:       {CatThrow, "no-catch", "no catch for throw: :arg1"},
	ErrInvalid:       {CatSyntax, "invalid", "invalid :arg1 -- :arg2"},
	ErrMissing:       {CatSyntax, "missing", "missing :arg2 at :arg1"},
	ErrNoValue:       {CatScript, "no-value", ":arg1 has no value"},
	ErrNotBound:      {CatScript, "not-bound", ":arg1 word is not bound to a context"},
	ErrNotAvailable:  {CatScript, "not-available", ":arg1 is not available, its function has returned"},
	ErrNoArg:         {CatScript, "no-arg", ":arg1 is missing its :arg2 argument"},
	ErrExpectArg:     {CatScript, "expect-arg", ":arg1 does not allow :arg3 for its :arg2 argument"},
	ErrBadRefine:     {CatScript, "bad-refine", "incompatible or invalid refinement: :arg1"},
	ErrInvalidPath:   {CatScript, "invalid-path", "cannot access :arg2 in path :arg1"},
	ErrBadPathType:   {CatScript, "bad-path-type", "path :arg1 is not valid for :arg2 type"},
	ErrBadPathSet:    {CatScript, "bad-path-set", "cannot set :arg2 in path :arg1"},
	ErrInfixFirst:    {CatScript, "infix-first", ":arg1 operator is missing its left argument"},
	ErrNeedValue:     {CatScript, "need-value", ":arg1 needs a value"},
	ErrLockedWord:    {CatScript, "locked-word", "protected word - cannot modify: :arg1"},
	ErrProtected:     {CatScript, "protected", "protected value or series - cannot modify"},
	ErrLockedSeries:  {CatScript, "locked-series", "locked series - cannot modify"},
	ErrInvalidArg:    {CatScript, "invalid-arg", "invalid argument: :arg1"},
	ErrInvalidType:   {CatScript, "invalid-type", ":arg1 type is not allowed here"},
	ErrCannotUse:     {CatScript, "cannot-use", "cannot use :arg1 on :arg2 value"},
	ErrBadMake:       {CatScript, "bad-make-arg", "cannot MAKE/TO :arg1 from: :arg2"},
	ErrDupVars:       {CatScript, "dup-vars", "duplicate variable specified: :arg1"},
	ErrBadFuncDef:    {CatScript, "bad-func-def", "invalid function definition: :arg1"},
	ErrOutOfRange:    {CatScript, "out-of-range", "value out of range: :arg1"},
	ErrNotDone:       {CatScript, "not-done", "reserved for future use (or not yet implemented)"},
	ErrBadCodec:      {CatScript, "bad-codec", "codec error: :arg1 -- :arg2"},
	ErrZeroDivide:    {CatMath, "zero-divide", "attempt to divide by zero"},
	ErrOverflow:      {CatMath, "overflow", "math or number overflow"},
	ErrSecurity:      {CatAccess, "security", "security violation: :arg1 (:arg2)"},
	ErrCannotOpen:    {CatAccess, "cannot-open", "cannot open: :arg1 reason: :arg2"},
	ErrBadFFIType:    {CatAccess, "bad-ffi-type", "invalid routine type: :arg1"},
	ErrFFICall:       {CatAccess, "ffi-call", "routine call failed: :arg1"},
	ErrMessage:       {CatUser, "message", ":arg1"},
	ErrStackOverflow: {CatInternal, "stack-overflow", "stack overflow"},
	ErrNoMemory:      {CatInternal, "no-memory", "not enough memory: :arg1"},
	ErrBadBoot:       {CatInternal, "bad-boot", "boot failure: :arg1"},
}

// codeOf returns the numeric code of an error id: the category base plus
// the position of the id within its category
func codeOf(id ErrorID) int {
	cat := errorCatalog[id].cat
	n := 0
	for i := ErrorID(0); i < id; i++ {
		if errorCatalog[i].cat == cat {
			n++
		}
	}
	return categoryInfo[cat].base + n
}

// errorIDByName finds a catalog entry by its id word
func errorIDByName(name string) (ErrorID, bool) {
	for i, spec := range errorCatalog {
		if spec.name == name {
			return ErrorID(i), true
		}
	}
	return 0, false
}

// Error is a recoverable language error. It travels up the Go call chain as
// an ordinary error until a trap converts it to an error! value or the
// top level reports it.
type Error struct {
	ID      ErrorID
	Args    []Cell   // Up to three arguments
	ArgText []string // Molded arguments, captured when raised
	Near    string   // Molded code near the failure
	Where   []string // Labels of the active calls, innermost first
	Custom  string   // Message of user errors made from text
}

// Category returns the error category
func (e *Error) Category() ErrorCategory {
	return errorCatalog[e.ID].cat
}

// Name returns the id word of the error
func (e *Error) Name() string {
	return errorCatalog[e.ID].name
}

// Code returns the numeric error code
func (e *Error) Code() int {
	return codeOf(e.ID)
}

// Message renders the catalog template with the error arguments
func (e *Error) Message() string {
	if e.Custom != "" {
		return e.Custom
	}
	msg := errorCatalog[e.ID].msg
	for i, name := range []string{":arg1", ":arg2", ":arg3"} {
		text := "none"
		if i < len(e.ArgText) {
			text = e.ArgText[i]
		}
		msg = strings.ReplaceAll(msg, name, text)
	}
	return msg
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s", e.Category(), e.Message())
}

// Is matches errors with the same id, so errors.Is(err, ErrHalt) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.ID == e.ID
}

// Report renders the full multi-line report shown at the top level
func (e *Error) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "** %s error: %s", e.Category(), e.Message())
	if len(e.Where) > 0 {
		fmt.Fprintf(&sb, "\n** Where: %s", strings.Join(e.Where, " "))
	}
	if e.Near != "" {
		fmt.Fprintf(&sb, "\n** Near: %s", e.Near)
	}
	return sb.String()
}

// ErrHalt matches the halt error with errors.Is
var ErrHalt = &Error{ID: ErrHaltID}

// IsHalt reports whether err is the halt signal
func IsHalt(err error) bool {
	return errors.Is(err, ErrHalt)
}

// Panic is an unrecoverable internal fault. It is raised with panic and is
// never converted to a language error.
type Panic struct {
	Message string
}

// Error implements the error interface
func (p *Panic) Error() string {
	return "r3 panic: " + p.Message
}

// panicf raises a fatal fault
func panicf(format string, args ...interface{}) {
	panic(&Panic{Message: fmt.Sprintf(format, args...)})
}

// Errorf builds a language error with up to three argument values, filling
// in the backtrace and the code near the innermost call
func (rt *Runtime) Errorf(id ErrorID, args ...Cell) *Error {
	if !rt.ready && len(rt.traps) == 0 {
		panicf("error before the trap mechanism is ready: %s", errorCatalog[id].name)
	}
	if len(args) > 3 {
		args = args[:3]
	}
	e := &Error{ID: id, Args: append([]Cell(nil), args...)}
	for i := range e.Args {
		e.ArgText = append(e.ArgText, rt.Mold(e.Args[i], false))
	}
	e.Where = rt.calls.backtrace(rt)
	if c := rt.calls.top; c != nil && c.block != nil {
		e.Near = rt.near(c.block, c.index)
	}
	rt.logger.DebugCat(CatTrap, "raise %s", e.Error())
	return e
}

// UserError builds a user error from message text
func (rt *Runtime) UserError(msg string) *Error {
	e := rt.Errorf(ErrMessage, rt.stringCell(msg))
	e.Custom = msg
	return e
}

// near molds a few cells of block starting just before index
func (rt *Runtime) near(block *Series, index int) string {
	start := index - 1
	if start < 0 {
		start = 0
	}
	end := start + 4
	if end > block.Len() {
		end = block.Len()
	}
	if start > end {
		return ""
	}
	parts := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		parts = append(parts, rt.Mold(*block.At(i), true))
	}
	return strings.Join(parts, " ")
}

// Error frames share one keylist in this order
var errorFields = []Symbol{SymCode, SymType, SymID, SymArg1, SymArg2, SymArg3, SymNear, SymWhere}

// makeErrorKeys builds the keylist shared by all error! frames
func (rt *Runtime) makeErrorKeys() *Series {
	keys := rt.pool.MakeArray(len(errorFields)+1, SerKeylist|SerShared|SerKeep)
	keys.Append(key(SymSelf, TypesAnyType))
	for _, sym := range errorFields {
		keys.Append(key(sym, TypesAnyType))
	}
	keys.Manage()
	return keys
}

// errorToCell converts a caught error into an error! value
func (rt *Runtime) errorToCell(e *Error) Cell {
	vals := rt.makeFrameValues(rt.errorKeys, KindError)
	set := func(i int, c Cell) { *vals.At(i) = c }
	set(1, Integer(int64(e.Code())))
	set(2, Word(KindWord, categoryInfo[e.Category()].sym))
	set(3, rt.wordCell(e.Name()))
	for i := 0; i < 3; i++ {
		if i < len(e.Args) {
			set(4+i, e.Args[i])
		} else {
			set(4+i, None())
		}
	}
	if e.Custom != "" {
		set(4, rt.stringCell(e.Custom))
	}
	if e.Near != "" {
		set(7, rt.stringCell(e.Near))
	} else {
		set(7, None())
	}
	where := rt.pool.MakeArray(len(e.Where), 0)
	for _, w := range e.Where {
		where.Append(rt.wordCell(w))
	}
	where.Manage()
	set(8, SeriesCell(KindBlock, where, 0))
	vals.Manage()
	return ObjectCell(KindError, vals)
}

// cellToError converts an error! value back into a raisable error
func (rt *Runtime) cellToError(c Cell) *Error {
	vals := c.ser
	field := func(i int) Cell {
		if i < vals.Len() {
			return *vals.At(i)
		}
		return None()
	}
	id := ErrMessage
	if w := field(3); w.kind.IsAnyWord() {
		if found, ok := errorIDByName(rt.syms.Spelling(w.sym)); ok {
			id = found
		}
	}
	e := &Error{ID: id}
	for i := 4; i < 7; i++ {
		a := field(i)
		e.Args = append(e.Args, a)
		e.ArgText = append(e.ArgText, rt.Mold(a, id != ErrMessage))
	}
	if id == ErrMessage {
		if a := field(4); a.kind == KindString {
			e.Custom = a.ser.String()
		}
	}
	if n := field(7); n.kind == KindString {
		e.Near = n.ser.String()
	}
	if w := field(8); w.kind == KindBlock {
		for _, x := range w.ser.Cells() {
			e.Where = append(e.Where, rt.Form(x))
		}
	}
	return e
}

// errorCodeOf reads the code field of an error! value
func errorCodeOf(c Cell) (int, bool) {
	if c.ser == nil || c.ser.Len() < 2 {
		return 0, false
	}
	code := c.ser.At(1)
	if code.kind != KindInteger {
		return 0, false
	}
	return int(code.Int()), true
}
