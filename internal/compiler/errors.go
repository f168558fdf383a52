package compiler

import (
	"fmt"

	"github.com/clover-lang/clover/internal/token"
)

// Kind enumerates the compile-time error kinds of spec.md §7. The first
// error aborts compilation; there is no recovery, matching the source's
// own exception-on-first-error discipline recast as an error return
// (spec.md §9 "Recursive-descent without exceptions").
type Kind int

const (
	UnrecognizedLanguage Kind = iota
	ExpectedToken
	ExpectedType
	ExpectedValue
	ExpectedString
	ExpectedIdentifier
	ExpectedExpr
	ExpectedArgList
	ExpectedFormalParams
	ExpectedFunction
	ExpectedStructType
	ExpectedVar
	AssignmentNotAllowedHere
	InvalidStructID
	InvalidParamCount
	UndefinedIdentifier
	ParamOutOfRange
	JumpTooBig
	StringTooLong
	TooManyConstants
	TooManyVars
	DefOutOfRange
	MismatchedType
	WrongType
	WrongNumberOfArgs
	OnlyAllowedInLoop
	DuplicateCmd
	StackTooBig
	InternalError
)

func (k Kind) String() string {
	names := [...]string{
		"UnrecognizedLanguage", "ExpectedToken", "ExpectedType", "ExpectedValue",
		"ExpectedString", "ExpectedIdentifier", "ExpectedExpr", "ExpectedArgList",
		"ExpectedFormalParams", "ExpectedFunction", "ExpectedStructType", "ExpectedVar",
		"AssignmentNotAllowedHere", "InvalidStructID", "InvalidParamCount",
		"UndefinedIdentifier", "ParamOutOfRange", "JumpTooBig", "StringTooLong",
		"TooManyConstants", "TooManyVars", "DefOutOfRange", "MismatchedType",
		"WrongType", "WrongNumberOfArgs", "OnlyAllowedInLoop", "DuplicateCmd",
		"StackTooBig", "InternalError",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "UnknownError"
}

// Error is the concrete error type returned by the compiler (spec.md
// §7: "All errors are propagated as return values ... no exception-like
// unwinding crosses the module boundary"), grounded on the teacher's own
// CompileError shape (inoxlang/inox's compile_error.go).
type Error struct {
	Kind Kind
	Pos  token.Pos
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind, e.Msg)
}

func newErr(kind Kind, pos token.Pos, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
