// Package compiler implements Clover's compiler frontend, ExprStack
// expression backend, statement backend, and emitter (spec.md §4.2-§4.4,
// §6.1). Grounded throughout on inoxlang/inox's internal/core/compiler.go:
// the per-function code buffer mirrors its compilationScope/scopes stack,
// the if/else and for/while/loop lowering mirrors its IfStatement/
// ForStatement cases (forward-jump placeholders patched via
// changeOperand), and break/continue resolution mirrors its
// loop{breakPositions,continuePositions} jump-context shape.
package compiler

import (
	"fmt"
	"io"
	"math"

	"github.com/clover-lang/clover/internal/image"
	"github.com/clover-lang/clover/internal/opcode"
	"github.com/clover-lang/clover/internal/symtab"
	"github.com/clover-lang/clover/internal/token"
)

// Options configures a Compile call. StackWords sizes the VM's runtime
// stack recorded in the image header; spec.md leaves the compiler's
// choice of this value unspecified, so it defaults to a size comfortably
// above the per-invariant 64-word max frame to allow a handful of
// nested calls. Trace, when non-nil, receives one line per compiled
// top-level declaration — the same optional writer-based facility as
// inoxlang/inox's compiler (internal/core/compiler.go's trace field and
// printTrace method), just without inox's nested-scope indentation since
// Clover's declarations never nest. cmd/clover wires this to a zerolog
// Trace()-gated writer when invoked with -v; library code otherwise
// never depends on a logging package (see SPEC_FULL.md's Logging
// section).
type Options struct {
	StackWords uint16
	Trace      io.Writer
}

func DefaultOptions() Options { return Options{StackWords: 256} }

// pendingCall is a Call instruction to a non-native function, emitted
// with a placeholder target because the callee may be declared later in
// the source; every one is resolved once all final code offsets are known.
type pendingCall struct {
	bodyIndex int
	pos       int
	callee    string
	posTok    token.Pos
}

// compiledFunction holds one function's emitted body before the final
// concatenation pass assigns it an absolute code offset.
type compiledFunction struct {
	fn   *symtab.Function
	code []byte
}

type Compiler struct {
	sc    *token.Scanner
	tab   *symtab.Table
	opt   Options
	trace io.Writer

	constPool []int32
	constIdx  map[uint64][]int

	commands      []image.Command
	pendingCmdFns []pendingCmd

	bodies       []compiledFunction
	pendingCalls []pendingCall

	// pass distinguishes the two walks Compile makes over the source:
	// pass 1 registers every top-level signature (struct/def/const/
	// global/command, and function signatures without their bodies) so
	// that pass 2 can compile function bodies — including forward and
	// mutually recursive calls — against a fully populated symbol table.
	pass int

	// per-function compile state
	code      []byte
	scope     *symtab.Scope
	curFn     *symtab.Function
	bodyIndex int
	highWater int
	loops     []*loopCtx
	exprStack []exprEntry
}

// Compile compiles Clover source text to a Clover image.
func Compile(src string, opt Options) (*image.Image, error) {
	c := &Compiler{
		tab:      symtab.NewTable(),
		opt:      opt,
		trace:    opt.Trace,
		constIdx: map[uint64][]int{},
	}
	registerBuiltins(c.tab)

	c.sc = token.NewScanner(src)
	c.pass = 1
	if err := c.compileProgram(); err != nil {
		return nil, err
	}

	c.sc = token.NewScanner(src)
	c.pass = 2
	if err := c.compileProgram(); err != nil {
		return nil, err
	}

	return c.assemble()
}

// printTrace writes one line describing a compiled top-level
// declaration when c.trace is set, mirroring inoxlang/inox's
// compiler.printTrace (internal/core/compiler.go) without its
// scope-depth indentation, which Clover's flat top-level grammar has no
// use for.
func (c *Compiler) printTrace(kind, name string) {
	if c.trace == nil {
		return
	}
	fmt.Fprintf(c.trace, "compiled %s %s\n", kind, name)
}

func (c *Compiler) peek() token.Token {
	t, err := c.sc.Peek()
	if err != nil {
		panic(scanErr{err})
	}
	return t
}

func (c *Compiler) next() token.Token {
	t, err := c.sc.Next()
	if err != nil {
		panic(scanErr{err})
	}
	return t
}

// scanErr lets a lexical error from the scanner unwind through the
// recursive-descent call stack without threading an error return
// through every production; recovered once at the top of
// compileProgram, matching the teacher's own notes on recasting
// exception-based parsing (spec.md §9) — the parser itself still
// returns *Error values for grammar-level failures, only raw scan
// errors (malformed literals, bad characters) use this.
type scanErr struct{ err error }

func (c *Compiler) expect(k token.Kind, what string) (token.Token, *Error) {
	t := c.peek()
	if t.Kind != k {
		return token.Token{}, newErr(ExpectedToken, t.Pos, "expected %s, got %q", what, t.String())
	}
	return c.next(), nil
}

func (c *Compiler) expectIdent() (token.Token, *Error) {
	t := c.peek()
	if t.Kind != token.Ident {
		return token.Token{}, newErr(ExpectedIdentifier, t.Pos, "expected identifier, got %q", t.String())
	}
	return c.next(), nil
}

func (c *Compiler) compileProgram() error {
	var topErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if se, ok := r.(scanErr); ok {
					topErr = se.err
					return
				}
				panic(r)
			}
		}()
		topErr = c.compileDeclarations()
	}()
	return topErr
}

func (c *Compiler) compileDeclarations() error {
	for {
		t := c.peek()
		switch t.Kind {
		case token.EOF:
			return nil

		case token.KwFunction:
			if err := c.compileFunction(); err != nil {
				return err
			}

		case token.KwDef, token.KwConst, token.KwVar, token.KwTable, token.KwStruct, token.KwCommand:
			if c.pass == 2 {
				// Already registered during the signature prepass;
				// skip straight to the next top-level declaration.
				if err := c.skipTopLevelRest(); err != nil {
					return err
				}
				continue
			}
			var err error
			switch t.Kind {
			case token.KwDef:
				err = c.compileDef()
			case token.KwConst:
				err = c.compileConstDecl()
			case token.KwVar:
				err = c.compileVarDecl(&c.tab.Globals, symtab.StorageGlobal)
			case token.KwTable:
				err = c.compileTable()
			case token.KwStruct:
				err = c.compileStruct()
			case token.KwCommand:
				err = c.compileCommand()
			}
			if err != nil {
				return err
			}

		default:
			return newErr(UnrecognizedLanguage, t.Pos, "unexpected token %q at top level", t.String())
		}
	}
}

// skipBalancedBraces consumes a `{ ... }` block without interpreting it,
// used by the signature prepass to skip over function bodies it isn't
// ready to compile yet.
func (c *Compiler) skipBalancedBraces() error {
	if _, err := c.expect(token.LBrace, "'{'"); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		t := c.next()
		switch t.Kind {
		case token.EOF:
			return newErr(ExpectedToken, t.Pos, "unexpected end of file inside block")
		case token.LBrace:
			depth++
		case token.RBrace:
			depth--
		}
	}
	return nil
}

// skipTopLevelRest consumes one full top-level declaration generically
// (brace-balanced, semicolon-terminated, or both for a braced
// initializer followed by a semicolon) without registering anything.
// Used during the second compilation pass to skip every declaration
// kind already handled by the signature prepass.
func (c *Compiler) skipTopLevelRest() error {
	depth := 0
	sawBrace := false
	for {
		t := c.next()
		switch t.Kind {
		case token.EOF:
			return newErr(ExpectedToken, t.Pos, "unexpected end of file")
		case token.LBrace:
			depth++
			sawBrace = true
		case token.RBrace:
			depth--
			if depth == 0 && sawBrace {
				if c.peek().Kind == token.Semi {
					c.next()
				}
				return nil
			}
		case token.Semi:
			if depth == 0 {
				return nil
			}
		}
	}
}

func (c *Compiler) compileDef() error {
	c.next() // def
	name, err := c.expectIdent()
	if err != nil {
		return err
	}
	valTok, err := c.expect(token.IntLit, "integer literal")
	if err != nil {
		return err
	}
	if valTok.IVal < 0 || valTok.IVal > 255 {
		return newErr(DefOutOfRange, valTok.Pos, "def value %d out of range [0,255]", valTok.IVal)
	}
	if err := c.tab.DefineDef(name.SVal, int(valTok.IVal)); err != nil {
		return newErr(UndefinedIdentifier, name.Pos, "%s", err)
	}
	c.printTrace("def", name.SVal)
	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

func (c *Compiler) parseType() (symtab.Type, error) {
	t := c.peek()
	switch t.Kind {
	case token.KwInt:
		c.next()
		return c.maybePointer(symtab.Type{Kind: "int"})
	case token.KwFloat:
		c.next()
		return c.maybePointer(symtab.Type{Kind: "float"})
	case token.Ident:
		if _, ok := c.tab.Structs[t.SVal]; ok {
			c.next()
			return c.maybePointer(symtab.Type{Kind: t.SVal})
		}
		return symtab.Type{}, newErr(ExpectedType, t.Pos, "unknown type %q", t.SVal)
	default:
		return symtab.Type{}, newErr(ExpectedType, t.Pos, "expected a type, got %q", t.String())
	}
}

func (c *Compiler) maybePointer(typ symtab.Type) (symtab.Type, error) {
	if c.peek().Kind == token.Star {
		c.next()
		typ.Ptr = true
	}
	return typ, nil
}

func (c *Compiler) typeSize(typ symtab.Type) int {
	if typ.Ptr || typ.IsInt() || typ.IsFloat() {
		return 1
	}
	if st, ok := c.tab.Structs[typ.Kind]; ok {
		return st.Size()
	}
	return 1
}

func (c *Compiler) compileConstDecl() error {
	c.next() // const
	typ, err := c.parseType()
	if err != nil {
		return err
	}
	name, ierr := c.expectIdent()
	if ierr != nil {
		return ierr
	}
	if _, err := c.expect(token.Assign, "'='"); err != nil {
		return err
	}
	valTok := c.next()

	sym, derr := c.tab.DefineConst(name.SVal, typ, 1)
	if derr != nil {
		return newErr(UndefinedIdentifier, name.Pos, "%s", derr)
	}

	var word int32
	switch {
	case typ.IsInt() && valTok.Kind == token.IntLit:
		word = valTok.IVal
	case typ.IsFloat() && (valTok.Kind == token.FloatLit || valTok.Kind == token.IntLit):
		f := valTok.FVal
		if valTok.Kind == token.IntLit {
			f = float32(valTok.IVal)
		}
		word = int32(f32bits(f))
	default:
		return newErr(MismatchedType, valTok.Pos, "const %s: value does not match declared type %s", name.SVal, typ)
	}
	c.constPool = ensureLen(c.constPool, sym.Address+1)
	c.constPool[sym.Address] = word
	c.printTrace("const", name.SVal)

	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

func ensureLen(s []int32, n int) []int32 {
	for len(s) < n {
		s = append(s, 0)
	}
	return s
}

func (c *Compiler) compileVarDecl(into *[]symtab.Symbol, storage symtab.Storage) error {
	c.next() // var
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
		if _, err := c.expect(token.RBracket, "']'"); err != nil {
			return err
		}
	}

	var initValues []token.Token
	if c.peek().Kind == token.Assign {
		c.next()
		if _, err := c.expect(token.LBrace, "'{'"); err != nil {
			return err
		}
		for c.peek().Kind != token.RBrace {
			initValues = append(initValues, c.next())
			if c.peek().Kind == token.Comma {
				c.next()
			}
		}
		c.next() // }
	}

	sym, derr := c.tab.DefineGlobal(name.SVal, typ, size*arrLen)
	if storage != symtab.StorageGlobal {
		// Locals are defined in the active scope, not the global table;
		// this path is unreachable for the current grammar (only
		// globals are declared with `var` at top level) but kept for
		// the declared parameter shape's symmetry.
	}
	if derr != nil {
		return newErr(UndefinedIdentifier, name.Pos, "%s", derr)
	}
	*into = append(*into, sym)
	c.printTrace("var", name.SVal)

	_ = initValues // global initial values are written by the host's init() body in Clover, not baked into the image (no BSS copy opcode in spec.md); accepted syntactically and discarded.

	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

func (c *Compiler) compileTable() error {
	// `table type id { values }` declares a const array, sugar over
	// `const` entries sharing one contiguous block — spec.md §4.2
	// grammar lists it without further detail; treated as a const
	// array of words.
	c.next() // table
	typ, err := c.parseType()
	if err != nil {
		return err
	}
	name, ierr := c.expectIdent()
	if ierr != nil {
		return ierr
	}
	if _, err := c.expect(token.LBrace, "'{'"); err != nil {
		return err
	}
	var words []int32
	for c.peek().Kind != token.RBrace {
		v := c.next()
		var w int32
		switch {
		case typ.IsInt():
			w = v.IVal
		case typ.IsFloat():
			f := v.FVal
			if v.Kind == token.IntLit {
				f = float32(v.IVal)
			}
			w = int32(f32bits(f))
		default:
			return newErr(MismatchedType, v.Pos, "table %s: unsupported element type", name.SVal)
		}
		words = append(words, w)
		if c.peek().Kind == token.Comma {
			c.next()
		}
	}
	c.next() // }

	sym, derr := c.tab.DefineConst(name.SVal, typ, len(words))
	if derr != nil {
		return newErr(UndefinedIdentifier, name.Pos, "%s", derr)
	}
	c.constPool = ensureLen(c.constPool, sym.Address+len(words))
	copy(c.constPool[sym.Address:], words)
	c.printTrace("table", name.SVal)

	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}
	return nil
}

func (c *Compiler) compileStruct() error {
	c.next() // struct
	name, ierr := c.expectIdent()
	if ierr != nil {
		return ierr
	}
	if _, err := c.expect(token.LBrace, "'{'"); err != nil {
		return err
	}
	var fields []symtab.Field
	for c.peek().Kind != token.RBrace {
		ftyp, terr := c.parseType()
		if terr != nil {
			return terr
		}
		if ftyp.Ptr || !(ftyp.IsInt() || ftyp.IsFloat()) {
			return newErr(InvalidStructID, name.Pos, "struct fields must be int or float (no nested structs/pointers)")
		}
		fname, ferr := c.expectIdent()
		if ferr != nil {
			return ferr
		}
		if _, err := c.expect(token.Semi, "';'"); err != nil {
			return err
		}
		fields = append(fields, symtab.Field{Name: fname.SVal, Type: ftyp})
	}
	c.next() // }

	if _, err := c.tab.DefineStruct(name.SVal, fields); err != nil {
		return newErr(InvalidStructID, name.Pos, "%s", err)
	}
	c.printTrace("struct", name.SVal)
	return nil
}

func (c *Compiler) compileCommand() error {
	c.next() // command
	cmdNameTok, cerr := c.expectIdent()
	if cerr != nil {
		return cerr
	}

	// The original's `effect`/`command` grammar declares the expected
	// parameter-byte count as an explicit integer literal between the
	// command name and its init/loop functions (original_source
	// Compiler/CloverCompileEngine.h: "command <id> <integer> <id>
	// <id> ';'"). spec.md §8's own scenarios omit it for the common
	// zero-parameter case, so it stays optional here and defaults to 0.
	paramCount := 0
	countTok := cmdNameTok
	if c.peek().Kind == token.IntLit {
		countTok = c.next()
		paramCount = int(countTok.IVal)
		if paramCount < 0 || paramCount > 16 {
			return newErr(InvalidParamCount, countTok.Pos, "command parameter count %d out of range [0,16]", paramCount)
		}
	}

	initTok, ierr2 := c.expectIdent()
	if ierr2 != nil {
		return ierr2
	}
	loopTok, lerr := c.expectIdent()
	if lerr != nil {
		return lerr
	}
	if _, err := c.expect(token.Semi, "';'"); err != nil {
		return err
	}

	if len(cmdNameTok.SVal) > image.CommandNameLen {
		return newErr(StringTooLong, cmdNameTok.Pos, "command name %q longer than %d bytes", cmdNameTok.SVal, image.CommandNameLen)
	}
	for _, existing := range c.commands {
		if existing.Name == cmdNameTok.SVal {
			return newErr(DuplicateCmd, cmdNameTok.Pos, "duplicate command name %q", cmdNameTok.SVal)
		}
	}

	// init/loop function addresses are resolved after all bodies are
	// compiled (assemble()); record the names for that pass via a
	// pendingCall-like placeholder entry appended to c.commands and
	// patched in assemble().
	c.commands = append(c.commands, image.Command{Name: cmdNameTok.SVal, ParamBytes: byte(paramCount)})
	c.pendingCmdFns = append(c.pendingCmdFns, pendingCmd{
		idx: len(c.commands) - 1, initFn: initTok.SVal, loopFn: loopTok.SVal,
		declName: cmdNameTok.SVal, pos: cmdNameTok.Pos,
	})
	c.printTrace("command", cmdNameTok.SVal)
	return nil
}

type pendingCmd struct {
	idx      int
	initFn   string
	loopFn   string
	declName string
	pos      token.Pos
}

func f32bits(f float32) uint32 {
	return math.Float32bits(f)
}

// parseFunctionSignature parses everything between the `function`
// keyword and the body's opening `{`, shared by both compilation
// passes: pass 1 registers the result, pass 2 re-parses the identical
// tokens and looks the signature up instead.
func (c *Compiler) parseFunctionSignature() (*symtab.Function, []symtab.Symbol, error) {
	retType := symtab.Type{Kind: "int"}
	t := c.peek()
	isType := t.Kind == token.KwInt || t.Kind == token.KwFloat
	if !isType && t.Kind == token.Ident {
		if _, ok := c.tab.Structs[t.SVal]; ok {
			isType = true
		}
	}
	if isType {
		rt, err := c.parseType()
		if err != nil {
			return nil, nil, err
		}
		retType = rt
	}

	name, ierr := c.expectIdent()
	if ierr != nil {
		return nil, nil, ierr
	}

	if _, err := c.expect(token.LParen, "'('"); err != nil {
		return nil, nil, err
	}
	var params []symtab.Symbol
	for c.peek().Kind != token.RParen {
		ptyp, perr := c.parseType()
		if perr != nil {
			return nil, nil, perr
		}
		pname, pierr := c.expectIdent()
		if pierr != nil {
			return nil, nil, pierr
		}
		params = append(params, symtab.Symbol{Name: pname.SVal, Type: ptyp, Size: 1, Storage: symtab.StorageLocal})
		if c.peek().Kind == token.Comma {
			c.next()
		}
	}
	c.next() // )

	if len(params) > 0x0F {
		return nil, nil, newErr(InvalidParamCount, name.Pos, "function %q declares more than 15 parameters", name.SVal)
	}

	// Locals holds the formal parameters at this point (declared locals
	// are never appended to it — see symtab.Function's doc comment);
	// parseCall reads it back by index to recover each argument's
	// pointer-ness, mirroring the original's fun.local(i) in
	// argumentList (original_source Compiler/CloverCompileEngine.cpp).
	return &symtab.Function{Name: name.SVal, ReturnType: retType, ArgCount: len(params), Locals: params}, params, nil
}

// compileFunction parses a function declaration. In pass 1 it registers
// the signature and skips the body unread; in pass 2 it compiles the
// body into its own buffer, deferring calls to not-yet-addressed
// functions via pendingCalls (spec.md §4.2 "forward and mutually
// recursive calls").
func (c *Compiler) compileFunction() error {
	c.next() // function
	fn, params, err := c.parseFunctionSignature()
	if err != nil {
		return err
	}

	if c.pass == 1 {
		if derr := c.tab.DefineFunction(fn); derr != nil {
			return newErr(UndefinedIdentifier, token.Pos{}, "%s", derr)
		}
		return c.skipBalancedBraces()
	}

	real := c.tab.Functions[fn.Name]
	c.printTrace("function", real.Name)
	c.curFn = real
	c.scope = symtab.NewScope(nil)
	for _, p := range params {
		if _, derr := c.scope.Define(p.Name, p.Type, p.Size); derr != nil {
			return newErr(UndefinedIdentifier, token.Pos{}, "%s", derr)
		}
	}
	c.code = nil
	c.highWater = 0
	c.bodyIndex = len(c.bodies)

	// SetFrame's local count is a placeholder until the body's
	// high-water mark is known; its byte offset within this function's
	// own buffer is always 1 (opcode byte, then the packed operand).
	c.code = opcode.EncodePL(c.code, byte(real.ArgCount), 0)

	if _, berr := c.expect(token.LBrace, "'{'"); berr != nil {
		return berr
	}
	for c.peek().Kind != token.RBrace {
		if serr := c.parseStatement(); serr != nil {
			return serr
		}
	}
	c.next() // }

	if len(c.code) == 0 || opcode.Op(c.code[len(c.code)-1]) != opcode.Return {
		b, perr := opcode.EncodeIndexImm(c.code, opcode.PushIntConstS, 0)
		if perr != nil {
			return perr
		}
		c.code = b
		c.code = opcode.EncodeNone(c.code, opcode.Return)
	}

	localCount := c.scope.HighWaterMark() - real.ArgCount
	if c.highWater > localCount {
		localCount = c.highWater
	}
	if localCount < 0 {
		localCount = 0
	}
	if localCount > 0x0F {
		return newErr(TooManyVars, token.Pos{}, "function %q declares too many locals", real.Name)
	}
	c.code[1] = byte(real.ArgCount)<<4 | byte(localCount)

	c.bodies = append(c.bodies, compiledFunction{fn: real, code: c.code})
	c.scope = nil
	c.curFn = nil
	return nil
}

// assemble concatenates every compiled function body into the final
// code area, assigns each function its absolute entry offset, and
// patches every deferred Call and command table entry now that every
// function's address is known.
func (c *Compiler) assemble() (*image.Image, error) {
	var code []byte
	for i := range c.bodies {
		c.bodies[i].fn.EntryAddr = len(code)
		code = append(code, c.bodies[i].code...)
	}

	for _, pc := range c.pendingCalls {
		callee, ok := c.tab.Functions[pc.callee]
		if !ok {
			return nil, newErr(UndefinedIdentifier, pc.posTok, "call to undefined function %q", pc.callee)
		}
		absPos := c.bodies[pc.bodyIndex].fn.EntryAddr + pc.pos
		if perr := opcode.PatchAbsTarg(code, absPos, callee.EntryAddr); perr != nil {
			return nil, newErr(JumpTooBig, pc.posTok, "%s", perr)
		}
	}

	for _, pcmd := range c.pendingCmdFns {
		initFn, ok := c.tab.Functions[pcmd.initFn]
		if !ok {
			return nil, newErr(UndefinedIdentifier, pcmd.pos, "command %q: undefined init function %q", pcmd.declName, pcmd.initFn)
		}
		loopFn, ok := c.tab.Functions[pcmd.loopFn]
		if !ok {
			return nil, newErr(UndefinedIdentifier, pcmd.pos, "command %q: undefined loop function %q", pcmd.declName, pcmd.loopFn)
		}
		c.commands[pcmd.idx].InitEntry = uint16(initFn.EntryAddr)
		c.commands[pcmd.idx].LoopEntry = uint16(loopFn.EntryAddr)
	}

	var globalWords int
	for _, g := range c.tab.Globals {
		if w := g.Address + g.Size; w > globalWords {
			globalWords = w
		}
	}

	return &image.Image{
		Constants: c.constPool,
		Global:    uint16(globalWords),
		Stack:     c.opt.StackWords,
		Commands:  c.commands,
		Code:      code,
	}, nil
}
