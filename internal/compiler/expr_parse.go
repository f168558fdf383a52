package compiler

import (
	"github.com/clover-lang/clover/internal/opcode"
	"github.com/clover-lang/clover/internal/symtab"
	"github.com/clover-lang/clover/internal/token"
)

// binOp pairs a token kind with its integer and float opcodes; Clover
// has no implicit numeric promotion, so the compiler must know both
// operand types before choosing the opcode (spec.md §4.5 "Arithmetic").
type binOp struct {
	prec      int
	intOp     opcode.Op
	floatOp   opcode.Op
	isCompare bool
}

var binOps = map[token.Kind]binOp{
	token.OrOr:    {2, opcode.LogicOr, opcode.LogicOr, false},
	token.AndAnd:  {3, opcode.LogicAnd, opcode.LogicAnd, false},
	token.Or:      {4, opcode.BitOr, opcode.BitOr, false},
	token.Xor:     {5, opcode.BitXor, opcode.BitXor, false},
	token.Amp:     {6, opcode.BitAnd, opcode.BitAnd, false},
	token.Eq:      {7, opcode.EqInt, opcode.EqFloat, true},
	token.Ne:      {7, opcode.NeInt, opcode.NeFloat, true},
	token.Lt:      {8, opcode.LtInt, opcode.LtFloat, true},
	token.Le:      {8, opcode.LeInt, opcode.LeFloat, true},
	token.Gt:      {8, opcode.GtInt, opcode.GtFloat, true},
	token.Ge:      {8, opcode.GeInt, opcode.GeFloat, true},
	token.Plus:  {9, opcode.AddInt, opcode.AddFloat, false},
	token.Minus: {9, opcode.SubInt, opcode.SubFloat, false},
	token.Star:  {10, opcode.MulInt, opcode.MulFloat, false},
	token.Slash: {10, opcode.DivInt, opcode.DivFloat, false},
	// '%' has no opcode in the instruction set; the scanner still
	// produces Percent/PercentEq tokens, but the parser leaves them
	// unhandled here, which surfaces as an ordinary ExpectedToken error
	// at the next production instead of a dedicated diagnostic.
}

var compoundAssign = map[token.Kind]token.Kind{
	token.PlusEq:  token.Plus,
	token.MinusEq: token.Minus,
	token.StarEq:  token.Star,
	token.SlashEq: token.Slash,
	token.AndEq:   token.Amp,
	token.OrEq:    token.Or,
	token.XorEq:   token.Xor,
}

// parseExpr parses a full expression (including assignment, precedence
// level 1) and leaves exactly one ExprStack entry, materialized as a
// Value (spec.md §8: "After compiling any value expression, the
// ExprStack has exactly one entry").
func (c *Compiler) parseExpr() error {
	if err := c.parseAssign(); err != nil {
		return err
	}
	return c.bakeRight(false)
}

func (c *Compiler) parseAssign() error {
	if err := c.parseBinary(2); err != nil {
		return err
	}
	t := c.peek()

	if t.Kind == token.Assign {
		c.next()
		if err := c.bakeRef(); err != nil {
			return err
		}
		refEnd := len(c.code)
		ref := *c.top()
		c.exprStack = c.exprStack[:len(c.exprStack)-1] // hold ref off-stack while RHS compiles
		if err := c.parseAssign(); err != nil {
			return err
		}
		wantPtr := ref.typ.Ptr
		if err := c.bakeRight(wantPtr); err != nil {
			return err
		}
		rhs := c.pop()
		if ref.isPointer && !rhs.typ.Ptr {
			// Storing a plain value through a pointer-typed target
			// dereferences one level further than reassigning the
			// pointer itself (spec.md §4.3): splice the extra
			// PushDeref in right after the original PushRef, before
			// the already-emitted RHS bytecode.
			c.insertExtraDeref(refEnd)
		}
		c.push(ref)
		if err := c.bakeLeft(ref, rhs.typ); err != nil {
			return err
		}
		c.top().kind = ekValue
		c.top().typ = rhs.typ
		return nil
	}

	if rawOp, ok := compoundAssign[t.Kind]; ok {
		c.next()
		if err := c.bakeRef(); err != nil {
			return err
		}
		ref := *c.top()
		if ref.isPointer {
			// Reading/writing through a pointer-typed target always
			// goes one level deeper than the variable's own storage
			// address, unlike plain assignment this is known
			// statically: compound-assignment RHS is always a plain
			// value, never a pointer (spec.md §4.3).
			c.code = opcode.EncodeNone(c.code, opcode.PushDeref)
		}
		// Dup the (possibly already-dereferenced) address, then
		// dereference the copy to fetch the current value (spec.md
		// §4.3: "compound assignment additionally emits Dup;
		// PushDeref before evaluating the RHS").
		c.code = opcode.EncodeNone(c.code, opcode.Dup)
		c.code = opcode.EncodeNone(c.code, opcode.PushDeref)
		lhsVal := exprEntry{kind: ekValue, typ: demote(ref.typ), pos: t.Pos}

		if err := c.parseAssign(); err != nil {
			return err
		}
		if err := c.bakeRight(false); err != nil {
			return err
		}
		rhs := c.pop()

		op, ok := binOps[rawOp]
		if !ok {
			return newErr(InternalError, t.Pos, "unsupported compound-assignment operator")
		}
		if err := c.emitArith(op, lhsVal.typ, rhs.typ, t.Pos); err != nil {
			return err
		}
		result := exprEntry{kind: ekValue, typ: lhsVal.typ, pos: t.Pos}
		_ = c.pop() // discard the ekRef placeholder left under the arithmetic result
		c.push(result)
		if err := c.bakeLeft(ref, result.typ); err != nil {
			return err
		}
		c.top().kind = ekValue
		return nil
	}

	return nil
}

func demote(t symtab.Type) symtab.Type {
	if t.Ptr {
		return symtab.Type{Kind: "int"}
	}
	return t
}

// parseBinary is precedence-climbing over the binOps table (spec.md
// §4.3 "12-level precedence table", collapsed here to the operators the
// opcode table actually distinguishes).
func (c *Compiler) parseBinary(minPrec int) error {
	if err := c.parseUnary(); err != nil {
		return err
	}
	for {
		t := c.peek()
		op, ok := binOps[t.Kind]
		if !ok || op.prec < minPrec {
			return nil
		}
		c.next()
		if err := c.bakeRight(false); err != nil {
			return err
		}
		lhs := c.pop()

		if err := c.parseBinary(op.prec + 1); err != nil {
			return err
		}
		if err := c.bakeRight(false); err != nil {
			return err
		}
		rhs := c.pop()

		if err := c.emitArith(op, lhs.typ, rhs.typ, t.Pos); err != nil {
			return err
		}
		resultType := lhs.typ
		if op.isCompare {
			resultType = symtab.Type{Kind: "int"}
		}
		c.push(exprEntry{kind: ekValue, typ: resultType, pos: t.Pos})
	}
}

// emitArith chooses the int/float opcode variant per spec.md §4.5 and
// emits it; operands must already be materialized values of matching
// type (MismatchedType otherwise — Clover has no implicit conversion).
func (c *Compiler) emitArith(op binOp, lhs, rhs symtab.Type, pos token.Pos) error {
	lf, rf := lhs.IsFloat(), rhs.IsFloat()
	if lf != rf {
		return newErr(MismatchedType, pos, "operands have mismatched types %s and %s", lhs, rhs)
	}
	chosen := op.intOp
	if lf {
		chosen = op.floatOp
	}
	c.code = opcode.EncodeNone(c.code, chosen)
	return nil
}

func (c *Compiler) parseUnary() error {
	t := c.peek()
	switch t.Kind {
	case token.Minus:
		c.next()
		if err := c.parseUnary(); err != nil {
			return err
		}
		e := c.top()
		if e.kind == ekInt {
			e.ival = -e.ival
			return nil
		}
		if e.kind == ekFloat {
			e.fval = -e.fval
			return nil
		}
		if err := c.bakeRight(false); err != nil {
			return err
		}
		v := c.pop()
		op := opcode.NegInt
		if v.typ.IsFloat() {
			op = opcode.NegFloat
		}
		c.code = opcode.EncodeNone(c.code, op)
		c.push(exprEntry{kind: ekValue, typ: v.typ, pos: t.Pos})
		return nil

	case token.Tilde:
		c.next()
		if err := c.parseUnary(); err != nil {
			return err
		}
		e := c.top()
		if e.kind == ekInt {
			e.ival = ^e.ival
			return nil
		}
		if err := c.bakeRight(false); err != nil {
			return err
		}
		v := c.pop()
		c.code = opcode.EncodeNone(c.code, opcode.BitNot)
		c.push(exprEntry{kind: ekValue, typ: v.typ, pos: t.Pos})
		return nil

	case token.Bang:
		c.next()
		if err := c.parseUnary(); err != nil {
			return err
		}
		if err := c.bakeRight(false); err != nil {
			return err
		}
		c.pop()
		c.code = opcode.EncodeNone(c.code, opcode.LogicNot)
		c.push(exprEntry{kind: ekValue, typ: symtab.Type{Kind: "int"}, pos: t.Pos})
		return nil

	case token.Amp:
		c.next()
		if err := c.parsePostfix(); err != nil {
			return err
		}
		if err := c.bakeRef(); err != nil {
			return err
		}
		// &expr is already fully materialized by bakeRef's PushRef — the
		// address itself is the value of this expression, so it is baked
		// straight into an ekValue rather than left as an ekRef: a later
		// generic bakeRight must never dereference it, regardless of
		// whether the caller happens to want a pointer (ekRef's default
		// path would otherwise emit PushDeref, losing the address).
		e := c.top()
		*e = exprEntry{kind: ekValue, typ: symtab.Type{Kind: e.typ.Kind, Ptr: true}, pos: e.pos}
		return nil

	case token.Inc, token.Dec:
		c.next()
		if err := c.parsePostfix(); err != nil {
			return err
		}
		if err := c.bakeRef(); err != nil {
			return err
		}
		ref := *c.top()
		op := opcode.PreIncInt
		if ref.typ.IsFloat() {
			op = opcode.PreIncFloat
		}
		if t.Kind == token.Dec {
			op++ // PreDecInt/PreDecFloat immediately follow their PreInc counterpart in the table
		}
		c.code = opcode.EncodeNone(c.code, op)
		c.top().kind = ekValue
		c.top().typ = demote(ref.typ)
		return nil

	default:
		return c.parsePostfix()
	}
}

func (c *Compiler) parsePostfix() error {
	if err := c.parsePrimary(); err != nil {
		return err
	}
	for {
		t := c.peek()
		switch t.Kind {
		case token.LBracket:
			c.next()
			if err := c.bakeRef(); err != nil {
				return err
			}
			ref := *c.top()
			if err := c.parseExpr(); err != nil {
				return err
			}
			if _, err := c.expect(token.RBracket, "']'"); err != nil {
				return err
			}
			stride := c.typeSize(ref.typ)
			idxEntry := c.pop() // the index Value
			_ = idxEntry
			if err := c.bakeIndex(ref.typ, stride); err != nil {
				return err
			}

		case token.Dot:
			c.next()
			if err := c.bakeRef(); err != nil {
				return err
			}
			ref := *c.top()
			fname, ferr := c.expectIdent()
			if ferr != nil {
				return ferr
			}
			st, ok := c.tab.Structs[ref.typ.Kind]
			if !ok {
				return newErr(WrongType, fname.Pos, "%s is not a struct", ref.typ)
			}
			idx, field, ok := st.FieldIndex(fname.SVal)
			if !ok {
				return newErr(UndefinedIdentifier, fname.Pos, "struct %s has no field %q", st.Name, fname.SVal)
			}
			if ref.isPointer {
				c.code = opcode.EncodeNone(c.code, opcode.PushDeref)
			}
			if err := c.bakeOffset(idx, field.Type); err != nil {
				return err
			}

		case token.Inc, token.Dec:
			c.next()
			if err := c.bakeRef(); err != nil {
				return err
			}
			ref := *c.top()
			op := opcode.PostIncInt
			if ref.typ.IsFloat() {
				op = opcode.PostIncFloat
			}
			if t.Kind == token.Dec {
				op++
			}
			c.code = opcode.EncodeNone(c.code, op)
			c.top().kind = ekValue
			c.top().typ = demote(ref.typ)

		case token.LParen:
			name := c.top().name
			if c.top().kind != ekID {
				return newErr(ExpectedFunction, t.Pos, "call target is not a function name")
			}
			c.pop()
			if err := c.parseCall(name, t.Pos); err != nil {
				return err
			}

		default:
			return nil
		}
	}
}

// parseCall mirrors the original's argumentList (original_source
// Compiler/CloverCompileEngine.cpp): fun is looked up before its
// arguments are parsed (the two-pass compile guarantees c.tab.Functions
// is fully populated by the time any call is compiled) so each
// argument can be baked against its formal parameter's declared type,
// notably its pointer-ness — baking a plain identifier with wantPtr
// false would otherwise insert a spurious PushDeref when the caller
// passes an already-pointer-typed variable instead of a fresh &expr.
func (c *Compiler) parseCall(name string, pos token.Pos) error {
	c.next() // (

	fn, ok := c.tab.Functions[name]
	if !ok {
		return newErr(UndefinedIdentifier, pos, "call to undefined function %q", name)
	}

	var argc int
	for c.peek().Kind != token.RParen {
		if err := c.parseAssign(); err != nil {
			return err
		}

		var wantPtr, haveFormal bool
		var formal symtab.Type
		if argc < len(fn.Locals) {
			haveFormal = true
			formal = fn.Locals[argc].Type
			wantPtr = formal.Ptr
		}
		gotPtr, gotFloat := c.exprPreType()

		if err := c.bakeRight(wantPtr); err != nil {
			return err
		}

		if haveFormal && (formal.Ptr != gotPtr || (!formal.Ptr && formal.IsFloat() != gotFloat)) {
			return newErr(MismatchedType, pos, "argument %d to %q has the wrong type", argc+1, name)
		}
		_ = c.pop() // the argument now lives on the VM stack

		argc++
		if c.peek().Kind == token.Comma {
			c.next()
		}
	}
	c.next() // )

	if argc != fn.ArgCount {
		return newErr(WrongNumberOfArgs, pos, "function %q expects %d argument(s), got %d", name, fn.ArgCount, argc)
	}

	if fn.IsNative {
		c.code = opcode.EncodeConst(c.code, opcode.CallNative, byte(fn.NativeID))
	} else {
		patchPos := len(c.code)
		b, err := opcode.EncodeAbsTarg(c.code, opcode.Call, 0) // placeholder; patched in assemble()
		if err != nil {
			return err
		}
		c.code = b
		c.pendingCalls = append(c.pendingCalls, pendingCall{bodyIndex: c.bodyIndex, pos: patchPos, callee: name, posTok: pos})
	}
	c.push(exprEntry{kind: ekValue, typ: fn.ReturnType, pos: pos})
	return nil
}

func (c *Compiler) parsePrimary() error {
	t := c.next()
	switch t.Kind {
	case token.IntLit:
		c.push(exprEntry{kind: ekInt, ival: t.IVal, pos: t.Pos})
		return nil
	case token.FloatLit:
		c.push(exprEntry{kind: ekFloat, fval: t.FVal, pos: t.Pos})
		return nil
	case token.Ident:
		c.push(exprEntry{kind: ekID, name: t.SVal, pos: t.Pos})
		return nil
	case token.LParen:
		if err := c.parseAssign(); err != nil {
			return err
		}
		_, err := c.expect(token.RParen, "')'")
		return err
	default:
		return newErr(ExpectedExpr, t.Pos, "expected an expression, got %q", t.String())
	}
}
