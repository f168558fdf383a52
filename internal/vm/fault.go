package vm

import "fmt"

// Kind enumerates the runtime error kinds of spec.md §7. Every VM
// primitive checks its own preconditions; the first violation aborts
// dispatch and is reported as a Fault carrying the offending pc.
type Kind int

const (
	CmdNotFound Kind = iota
	UnexpectedOpInIf
	InvalidOp
	OnlyMemAddressesAllowed
	AddressOutOfRange
	ExpectedSetFrame
	InvalidNativeFunction
	NotEnoughArgs
	WrongNumberOfArgs
	StackOverrun
	StackUnderrun
	StackOutOfRange
	InternalError
)

func (k Kind) String() string {
	names := [...]string{
		"CmdNotFound", "UnexpectedOpInIf", "InvalidOp", "OnlyMemAddressesAllowed",
		"AddressOutOfRange", "ExpectedSetFrame", "InvalidNativeFunction",
		"NotEnoughArgs", "WrongNumberOfArgs", "StackOverrun", "StackUnderrun",
		"StackOutOfRange", "InternalError",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "UnknownFault"
}

// Fault is the VM's runtime error type (spec.md §7); the public Init/Loop
// API returns it as a plain error, never a panic, in normal operation.
type Fault struct {
	Kind Kind
	PC   int
	Msg  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("vm fault at pc=%d: %s: %s", f.PC, f.Kind, f.Msg)
}

func newFault(kind Kind, pc int, format string, args ...any) *Fault {
	return &Fault{Kind: kind, PC: pc, Msg: fmt.Sprintf(format, args...)}
}
