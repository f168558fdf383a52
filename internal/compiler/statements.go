package compiler

import (
	"github.com/clover-lang/clover/internal/opcode"
	"github.com/clover-lang/clover/internal/symtab"
	"github.com/clover-lang/clover/internal/token"
)

// loopCtx tracks one active loop's pending break/continue jumps: each
// break or continue statement emits a placeholder Jump and records its
// byte position here, resolved once the loop's exit and re-entry
// targets are known (spec.md §4.4).
type loopCtx struct {
	breakPositions    []int
	continuePositions []int
}

func (c *Compiler) pushScope() { c.scope = symtab.NewScope(c.scope) }

func (c *Compiler) popScope() {
	if hw := c.scope.HighWaterMark(); hw > c.highWater {
		c.highWater = hw
	}
	c.scope = c.scope.Parent()
}

// emitJumpTo emits a Jump (or If) to an already-known byte offset.
func (c *Compiler) emitJumpTo(op opcode.Op, target int, pos token.Pos) error {
	at := len(c.code)
	offset := target - (at + 2)
	b, err := opcode.EncodeRelTarg(c.code, op, offset)
	if err != nil {
		return newErr(JumpTooBig, pos, "%s", err)
	}
	c.code = b
	return nil
}

// patchJumpHere backpatches a previously emitted placeholder branch at
// pos to land on the current end of the code buffer.
func (c *Compiler) patchJumpHere(pos int, pos2 token.Pos) error {
	offset := len(c.code) - (pos + 2)
	if err := opcode.PatchRelTarg(c.code, pos, offset); err != nil {
		return newErr(JumpTooBig, pos2, "%s", err)
	}
	return nil
}

// patchJumpTo backpatches a previously emitted placeholder branch at
// pos to land on an already-known target offset.
func (c *Compiler) patchJumpTo(pos, target int, pos2 token.Pos) error {
	offset := target - (pos + 2)
	if err := opcode.PatchRelTarg(c.code, pos, offset); err != nil {
		return newErr(JumpTooBig, pos2, "%s", err)
	}
	return nil
}

func (c *Compiler) parseBlock() error {
	if _, err := c.expect(token.LBrace, "'{'"); err != nil {
		return err
	}
	c.pushScope()
	for c.peek().Kind != token.RBrace {
		if err := c.parseStatement(); err != nil {
			return err
		}
	}
	c.next() // }
	c.popScope()
	return nil
}

// parseBody parses an if/while/for/loop body, which spec.md §4.4 allows
// to be either a braced block or a single bare statement (the common
// `if (cond) break;` shorthand used throughout its examples). A bare
// statement still gets its own scope so a stray local declaration there
// behaves the same as inside a one-statement block.
func (c *Compiler) parseBody() error {
	if c.peek().Kind == token.LBrace {
		return c.parseBlock()
	}
	c.pushScope()
	defer c.popScope()
	return c.parseStatement()
}

// startsLocalDecl reports whether the upcoming token begins a local
// variable declaration: either the explicit `var` keyword or, per
// spec.md §4.4's statement grammar, a bare type name (locals are
// declared C-style, without `var`, unlike top-level globals).
func (c *Compiler) startsLocalDecl() bool {
	switch c.peek().Kind {
	case token.KwVar, token.KwInt, token.KwFloat:
		return true
	}
	return false
}

func (c *Compiler) parseStatement() error {
	t := c.peek()
	switch {
	case t.Kind == token.LBrace:
		return c.parseBlock()
	case c.startsLocalDecl():
		return c.parseLocalVarDecl()
	}
	switch t.Kind {
	case token.KwIf:
		return c.parseIf()
	case token.KwWhile:
		return c.parseWhile()
	case token.KwFor:
		return c.parseFor()
	case token.KwLoop:
		return c.parseLoop()
	case token.KwReturn:
		return c.parseReturn()
	case token.KwBreak:
		return c.parseBreak()
	case token.KwContinue:
		return c.parseContinue()
	case token.KwLog:
		return c.parseLog()
	case token.Semi:
		c.next()
		return nil
	default:
		return c.parseExprStatement()
	}
}

func (c *Compiler) parseLocalVarDecl() error {
	if c.peek().Kind == token.KwVar {
		c.next()
	}
	typ, err := c.parseType()
	if err != nil {
		return err
	}
	name, ierr := c.expectIdent()
	if ierr != nil {
		return ierr
	}
	size := c.typeSize(typ)
	arrLen := 1
	if c.peek().Kind == token.LBracket {
		c.next()
		nTok, nerr := c.expect(token.IntLit, "array size")
		if nerr != nil {
			return nerr
		}
		arrLen = int(nTok.IVal)
		if _, rerr := c.expect(token.RBracket, "']'"); rerr != nil {
			return rerr
		}
	}

	sym, derr := c.scope.Define(name.SVal, typ, size*arrLen)
	if derr != nil {
		return newErr(UndefinedIdentifier, name.Pos, "%s", derr)
	}

	if c.peek().Kind == token.Assign {
		c.next()
		if aerr := c.compileLocalInit(sym); aerr != nil {
			return aerr
		}
	}

	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

// compileLocalInit stores a fresh local's initializer directly into its
// own slot: unlike an ordinary assignment, a just-declared pointer local
// is never dereferenced here — its own address is the destination.
func (c *Compiler) compileLocalInit(sym symtab.Symbol) error {
	id, err := c.symbolID(sym)
	if err != nil {
		return err
	}
	c.code = opcode.EncodeId(c.code, opcode.PushRef, id)
	if err := c.parseExpr(); err != nil {
		return err
	}
	c.pop()
	c.code = opcode.EncodeNone(c.code, opcode.PopDeref)
	c.code = opcode.EncodeNone(c.code, opcode.Drop)
	return nil
}

func (c *Compiler) parseExprStatement() error {
	if err := c.parseExpr(); err != nil {
		return err
	}
	c.pop()
	c.code = opcode.EncodeNone(c.code, opcode.Drop)
	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

// parseIf implements spec.md §4.4's if/else backpatch sequence: a
// conditional If branches past the then-block (to the else-block, or
// past the whole statement); when an else-block is present it ends with
// an unconditional Jump past itself, so the If's target is just beyond
// that Jump.
func (c *Compiler) parseIf() error {
	tok := c.next() // if
	if _, err := c.expect(token.LParen, "'('"); err != nil {
		return err
	}
	if err := c.parseExpr(); err != nil {
		return err
	}
	c.pop()
	if _, err := c.expect(token.RParen, "')'"); err != nil {
		return err
	}

	ifPos := len(c.code)
	b, err := opcode.EncodeRelTarg(c.code, opcode.If, 0)
	if err != nil {
		return newErr(JumpTooBig, tok.Pos, "%s", err)
	}
	c.code = b

	if err := c.parseBody(); err != nil {
		return err
	}

	if c.peek().Kind == token.KwElse {
		c.next()
		jumpPos := len(c.code)
		jb, jerr := opcode.EncodeRelTarg(c.code, opcode.Jump, 0)
		if jerr != nil {
			return newErr(JumpTooBig, tok.Pos, "%s", jerr)
		}
		c.code = jb
		if perr := c.patchJumpHere(ifPos, tok.Pos); perr != nil {
			return perr
		}
		if c.peek().Kind == token.KwIf {
			if err := c.parseIf(); err != nil {
				return err
			}
		} else {
			if err := c.parseBody(); err != nil {
				return err
			}
		}
		return c.patchJumpHere(jumpPos, tok.Pos)
	}

	return c.patchJumpHere(ifPos, tok.Pos)
}

func (c *Compiler) parseWhile() error {
	tok := c.next() // while
	if _, err := c.expect(token.LParen, "'('"); err != nil {
		return err
	}
	condPos := len(c.code)
	if err := c.parseExpr(); err != nil {
		return err
	}
	c.pop()
	if _, err := c.expect(token.RParen, "')'"); err != nil {
		return err
	}

	exitPos := len(c.code)
	b, err := opcode.EncodeRelTarg(c.code, opcode.If, 0)
	if err != nil {
		return newErr(JumpTooBig, tok.Pos, "%s", err)
	}
	c.code = b

	lc := &loopCtx{}
	c.loops = append(c.loops, lc)
	if err := c.parseBody(); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]

	if err := c.emitJumpTo(opcode.Jump, condPos, tok.Pos); err != nil {
		return err
	}
	if err := c.patchJumpHere(exitPos, tok.Pos); err != nil {
		return err
	}
	for _, p := range lc.breakPositions {
		if err := c.patchJumpHere(p, tok.Pos); err != nil {
			return err
		}
	}
	for _, p := range lc.continuePositions {
		if err := c.patchJumpTo(p, condPos, tok.Pos); err != nil {
			return err
		}
	}
	return nil
}

// parseFor compiles the canonical three-clause for-loop. The post
// clause is lexically between the condition and the body but must run
// after the body at runtime, so it is compiled into a side buffer right
// after it is parsed and spliced back in once the body's bytes are
// known — any pendingCalls recorded while compiling it are shifted by
// the same amount.
func (c *Compiler) parseFor() error {
	tok := c.next() // for
	if _, err := c.expect(token.LParen, "'('"); err != nil {
		return err
	}

	c.pushScope()

	switch {
	case c.startsLocalDecl():
		if err := c.parseLocalVarDecl(); err != nil {
			return err
		}
	case c.peek().Kind == token.Semi:
		c.next()
	default:
		if err := c.parseExprStatement(); err != nil {
			return err
		}
	}

	condPos := len(c.code)
	hasCond := c.peek().Kind != token.Semi
	if hasCond {
		if err := c.parseExpr(); err != nil {
			return err
		}
		c.pop()
	}
	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}

	var exitPos int
	if hasCond {
		exitPos = len(c.code)
		b, err := opcode.EncodeRelTarg(c.code, opcode.If, 0)
		if err != nil {
			return newErr(JumpTooBig, tok.Pos, "%s", err)
		}
		c.code = b
	}

	postStart := len(c.code)
	postPendingStart := len(c.pendingCalls)
	if c.peek().Kind != token.RParen {
		if err := c.parseExpr(); err != nil {
			return err
		}
		c.pop()
		c.code = opcode.EncodeNone(c.code, opcode.Drop)
	}
	if _, err := c.expect(token.RParen, "')'"); err != nil {
		return err
	}

	postBytes := append([]byte(nil), c.code[postStart:]...)
	postPending := append([]pendingCall(nil), c.pendingCalls[postPendingStart:]...)
	c.code = c.code[:postStart]
	c.pendingCalls = c.pendingCalls[:postPendingStart]

	lc := &loopCtx{}
	c.loops = append(c.loops, lc)
	if err := c.parseBody(); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]

	postPos := len(c.code)
	shift := postPos - postStart
	for i := range postPending {
		postPending[i].pos += shift
	}
	c.code = append(c.code, postBytes...)
	c.pendingCalls = append(c.pendingCalls, postPending...)

	if err := c.emitJumpTo(opcode.Jump, condPos, tok.Pos); err != nil {
		return err
	}
	if hasCond {
		if err := c.patchJumpHere(exitPos, tok.Pos); err != nil {
			return err
		}
	}
	for _, p := range lc.breakPositions {
		if err := c.patchJumpHere(p, tok.Pos); err != nil {
			return err
		}
	}
	for _, p := range lc.continuePositions {
		if err := c.patchJumpTo(p, postPos, tok.Pos); err != nil {
			return err
		}
	}

	c.popScope()
	return nil
}

// parseLoop compiles `loop { ... }`, an unconditional loop whose only
// exit is an explicit break (spec.md §4.4).
func (c *Compiler) parseLoop() error {
	tok := c.next() // loop
	startPos := len(c.code)

	lc := &loopCtx{}
	c.loops = append(c.loops, lc)
	if err := c.parseBody(); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]

	if err := c.emitJumpTo(opcode.Jump, startPos, tok.Pos); err != nil {
		return err
	}
	for _, p := range lc.breakPositions {
		if err := c.patchJumpHere(p, tok.Pos); err != nil {
			return err
		}
	}
	for _, p := range lc.continuePositions {
		if err := c.patchJumpTo(p, startPos, tok.Pos); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) parseBreak() error {
	tok := c.next()
	if len(c.loops) == 0 {
		return newErr(OnlyAllowedInLoop, tok.Pos, "break outside of a loop")
	}
	lc := c.loops[len(c.loops)-1]
	pos := len(c.code)
	b, err := opcode.EncodeRelTarg(c.code, opcode.Jump, 0)
	if err != nil {
		return newErr(JumpTooBig, tok.Pos, "%s", err)
	}
	c.code = b
	lc.breakPositions = append(lc.breakPositions, pos)
	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

func (c *Compiler) parseContinue() error {
	tok := c.next()
	if len(c.loops) == 0 {
		return newErr(OnlyAllowedInLoop, tok.Pos, "continue outside of a loop")
	}
	lc := c.loops[len(c.loops)-1]
	pos := len(c.code)
	b, err := opcode.EncodeRelTarg(c.code, opcode.Jump, 0)
	if err != nil {
		return newErr(JumpTooBig, tok.Pos, "%s", err)
	}
	c.code = b
	lc.continuePositions = append(lc.continuePositions, pos)
	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

func (c *Compiler) parseReturn() error {
	c.next() // return
	if c.peek().Kind == token.Semi {
		b, err := opcode.EncodeIndexImm(c.code, opcode.PushIntConstS, 0)
		if err != nil {
			return err
		}
		c.code = b
	} else {
		if err := c.parseExpr(); err != nil {
			return err
		}
		c.pop()
	}
	c.code = opcode.EncodeNone(c.code, opcode.Return)
	_, err := c.expect(token.Semi, "';'")
	return err
}

// parseLog compiles `log("format", args...);`: every argument is
// pushed as a plain value first, then the Log instruction carries the
// argument count inline and the format string as its length-prefixed
// payload (spec.md §4.1's Idx_Len_S shape).
func (c *Compiler) parseLog() error {
	tok := c.next() // log
	if _, err := c.expect(token.LParen, "'('"); err != nil {
		return err
	}
	fmtTok, ferr := c.expect(token.StringLit, "format string")
	if ferr != nil {
		return ferr
	}
	var argc int
	for c.peek().Kind == token.Comma {
		c.next()
		if err := c.parseExpr(); err != nil {
			return err
		}
		c.pop()
		argc++
	}
	if _, err := c.expect(token.RParen, "')'"); err != nil {
		return err
	}
	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	if argc > 0x0F {
		return newErr(InvalidParamCount, tok.Pos, "log() supports at most 15 arguments, got %d", argc)
	}
	if len(fmtTok.SVal) > 0xFF {
		return newErr(StringTooLong, tok.Pos, "log format string longer than 255 bytes")
	}
	b, err := opcode.EncodeLog(c.code, byte(argc), fmtTok.SVal)
	if err != nil {
		return newErr(StringTooLong, tok.Pos, "%s", err)
	}
	c.code = b
	return nil
}
