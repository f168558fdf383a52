package compiler

import (
	"math"

	"github.com/clover-lang/clover/internal/addr"
	"github.com/clover-lang/clover/internal/opcode"
	"github.com/clover-lang/clover/internal/symtab"
	"github.com/clover-lang/clover/internal/token"
)

// exprKind is the ExprStack entry tag of spec.md §4.3 and §9: each
// deferred entry is one of Id, Int, Float, Ref{type,is_pointer}, or
// Value{type}. Modeled as a single tagged struct rather than Inox's
// multi-typed AST node storage, per spec.md §9's "ExprStack as
// algebraic value" note.
type exprKind int

const (
	ekID exprKind = iota
	ekInt
	ekFloat
	ekRef
	ekValue
)

type exprEntry struct {
	kind      exprKind
	name      string  // ekID
	ival      int32   // ekInt
	fval      float32 // ekFloat
	typ       symtab.Type
	isPointer bool // ekRef
	pos       token.Pos
}

func (c *Compiler) push(e exprEntry) { c.exprStack = append(c.exprStack, e) }

func (c *Compiler) pop() exprEntry {
	n := len(c.exprStack)
	e := c.exprStack[n-1]
	c.exprStack = c.exprStack[:n-1]
	return e
}

func (c *Compiler) top() *exprEntry { return &c.exprStack[len(c.exprStack)-1] }

// resolveSymbol implements spec.md §4.2's lookup order: local scope,
// then globals, then defs, then functions — returned as a Symbol for
// the first three (functions are looked up separately at call sites).
func (c *Compiler) resolveSymbol(name string) (symtab.Symbol, bool) {
	if c.scope != nil {
		if sym, ok := c.scope.Lookup(name); ok {
			return sym, true
		}
	}
	if sym, ok := c.tab.LookupGlobalOrConst(name); ok {
		return sym, true
	}
	if def, ok := c.tab.Defs[name]; ok {
		return symtab.Symbol{Name: name, Address: def.Value, Type: symtab.Type{Kind: "int"}, Size: 1, Storage: symtab.StorageConst}, true
	}
	return symtab.Symbol{}, false
}

func (c *Compiler) symbolID(sym symtab.Symbol) (byte, error) {
	switch sym.Storage {
	case symtab.StorageConst:
		return addr.Encode(addr.Const, sym.Address)
	case symtab.StorageGlobal:
		return addr.Encode(addr.Global, sym.Address)
	case symtab.StorageLocal:
		return addr.Encode(addr.LocalRel, sym.Address)
	default:
		return 0, &Error{Kind: InternalError, Msg: "symbol has no storage class"}
	}
}

// internInt interns an integer constant into the ROM pool, deduplicated
// by an xxhash bucket (spec.md §4.3 "Interning"; see SPEC_FULL.md
// "Domain Stack" for why xxhash replaces the source's linear findInt).
func (c *Compiler) internInt(v int32) (int, error) {
	return c.intern(uint32(v))
}

func (c *Compiler) internFloat(v float32) (int, error) {
	return c.intern(math.Float32bits(v))
}

func (c *Compiler) intern(word uint32) (int, error) {
	h := hashWord(word)
	for _, idx := range c.constIdx[h] {
		if uint32(c.constPool[idx]) == word {
			return idx, nil
		}
	}
	if len(c.constPool) >= addr.MaxConstWords {
		return 0, &Error{Kind: TooManyConstants, Msg: "constant pool exceeds 128 words"}
	}
	idx := len(c.constPool)
	c.constPool = append(c.constPool, int32(word))
	c.constIdx[h] = append(c.constIdx[h], idx)
	return idx, nil
}

// bakeRight materializes the top ExprStack entry as a value on the
// runtime stack, per spec.md §4.3's "Right" baking action. wantPtr
// controls the pointer-Ref special case codified in spec.md §9 (the
// FIXME note): Right on a pointer Ref returns the pointee value unless
// the caller explicitly wants the address.
func (c *Compiler) bakeRight(wantPtr bool) error {
	e := c.top()
	switch e.kind {
	case ekInt:
		if e.ival >= 0 && e.ival <= 15 {
			b, err := opcode.EncodeIndexImm(c.code, opcode.PushIntConstS, byte(e.ival))
			if err != nil {
				return err
			}
			c.code = b
		} else if e.ival >= 0 && e.ival <= 255 {
			c.code = opcode.EncodeConst(c.code, opcode.PushIntConst, byte(e.ival))
		} else {
			idx, err := c.internInt(e.ival)
			if err != nil {
				return err
			}
			id, err := addr.Encode(addr.Const, idx)
			if err != nil {
				return err
			}
			c.code = opcode.EncodeId(c.code, opcode.Push, id)
		}
		*e = exprEntry{kind: ekValue, typ: symtab.Type{Kind: "int"}, pos: e.pos}

	case ekFloat:
		idx, err := c.internFloat(e.fval)
		if err != nil {
			return err
		}
		id, err := addr.Encode(addr.Const, idx)
		if err != nil {
			return err
		}
		c.code = opcode.EncodeId(c.code, opcode.Push, id)
		*e = exprEntry{kind: ekValue, typ: symtab.Type{Kind: "float"}, pos: e.pos}

	case ekID:
		sym, ok := c.resolveSymbol(e.name)
		if !ok {
			return newErr(UndefinedIdentifier, e.pos, "undefined identifier %q", e.name)
		}
		id, err := c.symbolID(sym)
		if err != nil {
			return err
		}
		c.code = opcode.EncodeId(c.code, opcode.Push, id)
		typ := sym.Type
		if sym.Type.Ptr && !wantPtr {
			c.code = opcode.EncodeNone(c.code, opcode.PushDeref)
			typ = symtab.Type{Kind: sym.Type.Kind}
		} else if sym.Type.Ptr {
			typ = symtab.Type{Kind: "int", Ptr: false} // Ptr reported as opaque int-sized address
		}
		*e = exprEntry{kind: ekValue, typ: typ, pos: e.pos}

	case ekRef:
		if e.isPointer && wantPtr {
			*e = exprEntry{kind: ekValue, typ: e.typ, pos: e.pos}
			return nil
		}
		c.code = opcode.EncodeNone(c.code, opcode.PushDeref)
		typ := e.typ
		*e = exprEntry{kind: ekValue, typ: typ, pos: e.pos}

	case ekValue:
		// already materialized
	}
	return nil
}

// exprPreType reports the pointer-ness and float-ness the top ExprStack
// entry will resolve to once baked, without emitting any code or
// consuming the entry. parseCall needs this ahead of bakeRight to pick
// the right wantPtr and to check the argument against its formal
// parameter's type.
func (c *Compiler) exprPreType() (isPtr, isFloat bool) {
	e := c.top()
	switch e.kind {
	case ekInt:
		return false, false
	case ekFloat:
		return false, true
	case ekID:
		sym, ok := c.resolveSymbol(e.name)
		if !ok {
			return false, false
		}
		return sym.Type.Ptr, sym.Type.IsFloat()
	case ekRef:
		return e.isPointer, e.typ.IsFloat()
	case ekValue:
		return e.typ.Ptr, e.typ.IsFloat()
	default:
		return false, false
	}
}

// bakeRef materializes the top entry as an address, spec.md §4.3's
// "Ref" action.
func (c *Compiler) bakeRef() error {
	e := c.top()
	switch e.kind {
	case ekID:
		sym, ok := c.resolveSymbol(e.name)
		if !ok {
			return newErr(UndefinedIdentifier, e.pos, "undefined identifier %q", e.name)
		}
		id, err := c.symbolID(sym)
		if err != nil {
			return err
		}
		c.code = opcode.EncodeId(c.code, opcode.PushRef, id)
		*e = exprEntry{kind: ekRef, typ: sym.Type, isPointer: sym.Type.Ptr, pos: e.pos}
	case ekRef:
		// idempotent
	default:
		return newErr(AssignmentNotAllowedHere, e.pos, "expression is not addressable")
	}
	return nil
}

// bakeLeft finalizes an assignment: the address below the freshly baked
// RHS value is combined via PopDeref, spec.md §4.3's "Left" action. Any
// extra indirection needed for a pointer-typed target (spec.md §4.3's
// pointer-assignment rule) must already have been spliced into the
// instruction stream by the caller — see insertExtraDeref — since the
// decision depends on the RHS's type, known only after parsing it.
func (c *Compiler) bakeLeft(ref exprEntry, rhsType symtab.Type) error {
	c.code = opcode.EncodeNone(c.code, opcode.PopDeref)
	return nil
}

// insertExtraDeref splices a PushDeref instruction at byte offset at,
// shifting every later byte and adjusting any pendingCalls fixups
// recorded past that point in the current function body. Used to give
// an already-emitted PushRef one extra indirection once the RHS type of
// an assignment is known to require it (spec.md §4.3).
func (c *Compiler) insertExtraDeref(at int) {
	c.code = append(c.code[:at:at], append([]byte{byte(opcode.PushDeref)}, c.code[at:]...)...)
	for i := range c.pendingCalls {
		if c.pendingCalls[i].bodyIndex == c.bodyIndex && c.pendingCalls[i].pos >= at {
			c.pendingCalls[i].pos++
		}
	}
}

// bakeIndex implements spec.md §4.3's "Index" action: with an integer
// index on top of the runtime stack and a Ref below it, emit
// `Index stride`.
func (c *Compiler) bakeIndex(elemType symtab.Type, stride int) error {
	if stride < 0 || stride > 15 {
		return &Error{Kind: InternalError, Msg: "array element stride exceeds 4 bits"}
	}
	b, err := opcode.EncodeIndexImm(c.code, opcode.Index, byte(stride))
	if err != nil {
		return err
	}
	c.code = b
	ref := c.top()
	ref.typ = elemType
	ref.isPointer = false
	return nil
}

// bakeOffset implements spec.md §4.3's "Offset" action for the `.field`
// operator.
func (c *Compiler) bakeOffset(fieldIndex int, fieldType symtab.Type) error {
	if fieldIndex < 0 || fieldIndex > 15 {
		return &Error{Kind: InternalError, Msg: "struct field offset exceeds 4 bits"}
	}
	b, err := opcode.EncodeIndexImm(c.code, opcode.Offset, byte(fieldIndex))
	if err != nil {
		return err
	}
	c.code = b
	ref := c.top()
	ref.typ = fieldType
	ref.isPointer = false
	return nil
}
