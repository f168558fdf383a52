// Package symtab holds the compile-time symbol model of spec.md §3:
// Symbol, Struct, Function, Def, and the scoped lookup order (locals,
// then globals, then defs, then functions) spec.md §4.2 specifies.
//
// The scoped-stack shape here is grounded on the teacher's own symbol
// table usage in its compiler (inoxlang/inox's compiler.go: a
// `*symbolTable` per lexical scope, pushed/popped via
// `localSymbolTableStack`, each entry exposing `Define(name)` and an
// `.Index`); the concrete symbolTable/symbol types were not present in
// the retrieved snapshot, so this package is authored fresh from that
// usage shape and from spec.md's own Symbol tuple.
package symtab

import "fmt"

type Storage int

const (
	StorageConst Storage = iota
	StorageGlobal
	StorageLocal
)

type Type struct {
	// Kind is "int", "float", or a struct name; Ptr marks a declared
	// pointer (an address held in a word, spec.md §4.2).
	Kind string
	Ptr  bool
}

func (t Type) IsInt() bool    { return t.Kind == "int" && !t.Ptr }
func (t Type) IsFloat() bool  { return t.Kind == "float" && !t.Ptr }
func (t Type) IsPtr() bool    { return t.Ptr }
func (t Type) IsStruct() bool { return t.Kind != "int" && t.Kind != "float" }

func (t Type) String() string {
	if t.Ptr {
		return t.Kind + "*"
	}
	return t.Kind
}

// Symbol is spec.md §3's (name, address, type, is_pointer, size, storage)
// tuple. Address is the region-relative word offset; Size is the word
// count (>1 for arrays/struct arrays).
type Symbol struct {
	Name    string
	Address int
	Type    Type
	Size    int
	Storage Storage
}

// Field is one (field_name, field_type) pair of a Struct.
type Field struct {
	Name string
	Type Type
}

// Struct is spec.md §3's struct type: an ordered list of one-word
// fields. Index assigns the struct-type tag (0x80+Index, spec.md §3).
type Struct struct {
	Name   string
	Index  int
	Fields []Field
}

func (s *Struct) Size() int { return len(s.Fields) }

func (s *Struct) FieldIndex(name string) (int, Field, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return i, f, true
		}
	}
	return 0, Field{}, false
}

// Function is spec.md §3's Function tuple. Locals holds the formal
// parameters, at indices [0, ArgCount), with their declared types
// (including pointer-ness) so a call site can bake each argument
// against its formal; declared-but-not-parameter locals live in the
// per-call Scope built while compiling the body, not here.
type Function struct {
	Name       string
	EntryAddr  int // byte offset into the code area; meaningless if IsNative
	ReturnType Type
	ArgCount   int
	Locals     []Symbol
	IsNative   bool
	NativeID   int
}

// Def is a compile-time named integer constant in [0,255] (spec.md §3).
type Def struct {
	Name  string
	Value int
}

// Scope is one lexical level of local symbols, mirroring the teacher's
// per-scope symbolTable pushed onto localSymbolTableStack.
type Scope struct {
	symbols []Symbol
	parent  *Scope
}

func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent}
}

// Parent returns the enclosing scope, or nil at the outermost level.
func (s *Scope) Parent() *Scope { return s.parent }

// Define adds a new local symbol at the next free word offset in this
// scope chain (so nested blocks inside one function share one
// contiguous local-address space, matching the frame's flat locals
// array in spec.md §4.5).
func (s *Scope) Define(name string, typ Type, size int) (Symbol, error) {
	if _, ok := s.lookupOwn(name); ok {
		return Symbol{}, fmt.Errorf("duplicate identifier %q", name)
	}
	sym := Symbol{
		Name:    name,
		Address: s.nextAddress(),
		Type:    typ,
		Size:    size,
		Storage: StorageLocal,
	}
	s.symbols = append(s.symbols, sym)
	return sym, nil
}

func (s *Scope) nextAddress() int {
	if s.parent != nil {
		base := s.parent.HighWaterMark()
		for _, sym := range s.symbols {
			if sym.Address+sym.Size > base {
				base = sym.Address + sym.Size
			}
		}
		return base
	}
	hw := 0
	for _, sym := range s.symbols {
		if sym.Address+sym.Size > hw {
			hw = sym.Address + sym.Size
		}
	}
	return hw
}

// HighWaterMark is the word count needed so far by this scope and its
// ancestors; SetFrame's local count is patched from the function's
// overall high-water mark (spec.md §4.2).
func (s *Scope) HighWaterMark() int {
	hw := 0
	if s.parent != nil {
		hw = s.parent.HighWaterMark()
	}
	for _, sym := range s.symbols {
		if sym.Address+sym.Size > hw {
			hw = sym.Address + sym.Size
		}
	}
	return hw
}

func (s *Scope) lookupOwn(name string) (Symbol, bool) {
	for _, sym := range s.symbols {
		if sym.Name == name {
			return sym, true
		}
	}
	return Symbol{}, false
}

// Lookup searches this scope then enclosing scopes (spec.md §4.2: locals
// search innermost-first).
func (s *Scope) Lookup(name string) (Symbol, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		if sym, ok := scope.lookupOwn(name); ok {
			return sym, true
		}
	}
	return Symbol{}, false
}

// Table is the whole-program symbol space: globals, defs, structs,
// functions, searched in the order spec.md §4.2 prescribes after local
// scope fails.
type Table struct {
	Globals   []Symbol
	Consts    []Symbol
	Defs      map[string]Def
	Structs   map[string]*Struct
	Functions map[string]*Function
	structOrd []string
}

func NewTable() *Table {
	return &Table{
		Defs:      map[string]Def{},
		Structs:   map[string]*Struct{},
		Functions: map[string]*Function{},
	}
}

func (t *Table) nextGlobalAddress() int {
	hw := 0
	for _, g := range t.Globals {
		if g.Address+g.Size > hw {
			hw = g.Address + g.Size
		}
	}
	return hw
}

func (t *Table) nextConstAddress() int {
	hw := 0
	for _, c := range t.Consts {
		if c.Address+c.Size > hw {
			hw = c.Address + c.Size
		}
	}
	return hw
}

func (t *Table) DefineGlobal(name string, typ Type, size int) (Symbol, error) {
	if t.isDeclared(name) {
		return Symbol{}, fmt.Errorf("duplicate identifier %q", name)
	}
	sym := Symbol{Name: name, Address: t.nextGlobalAddress(), Type: typ, Size: size, Storage: StorageGlobal}
	t.Globals = append(t.Globals, sym)
	return sym, nil
}

func (t *Table) DefineConst(name string, typ Type, size int) (Symbol, error) {
	if t.isDeclared(name) {
		return Symbol{}, fmt.Errorf("duplicate identifier %q", name)
	}
	sym := Symbol{Name: name, Address: t.nextConstAddress(), Type: typ, Size: size, Storage: StorageConst}
	t.Consts = append(t.Consts, sym)
	return sym, nil
}

func (t *Table) DefineDef(name string, value int) error {
	if t.isDeclared(name) {
		return fmt.Errorf("duplicate identifier %q", name)
	}
	t.Defs[name] = Def{Name: name, Value: value}
	return nil
}

func (t *Table) DefineStruct(name string, fields []Field) (*Struct, error) {
	if t.isDeclared(name) {
		return nil, fmt.Errorf("duplicate identifier %q", name)
	}
	if len(t.structOrd) >= 128 {
		return nil, fmt.Errorf("too many struct types (max 128)")
	}
	st := &Struct{Name: name, Index: len(t.structOrd), Fields: fields}
	t.Structs[name] = st
	t.structOrd = append(t.structOrd, name)
	return st, nil
}

func (t *Table) DefineFunction(fn *Function) error {
	if t.isDeclared(fn.Name) {
		return fmt.Errorf("duplicate identifier %q", fn.Name)
	}
	t.Functions[fn.Name] = fn
	return nil
}

func (t *Table) isDeclared(name string) bool {
	if _, ok := t.Defs[name]; ok {
		return true
	}
	if _, ok := t.Structs[name]; ok {
		return true
	}
	if _, ok := t.Functions[name]; ok {
		return true
	}
	for _, g := range t.Globals {
		if g.Name == name {
			return true
		}
	}
	for _, c := range t.Consts {
		if c.Name == name {
			return true
		}
	}
	return false
}

// LookupGlobalOrConst searches globals then the const pool.
func (t *Table) LookupGlobalOrConst(name string) (Symbol, bool) {
	for _, g := range t.Globals {
		if g.Name == name {
			return g, true
		}
	}
	for _, c := range t.Consts {
		if c.Name == name {
			return c, true
		}
	}
	return Symbol{}, false
}

// StructByIndex finds a struct by its 0..127 type-tag index, the low
// seven bits of a high-bit-tagged type byte.
func (t *Table) StructByIndex(index int) (*Struct, bool) {
	if index < 0 || index >= len(t.structOrd) {
		return nil, false
	}
	return t.Structs[t.structOrd[index]], true
}
