// Package vm implements the Clover stack machine of spec.md §4.5: fetch/
// decode/dispatch, frame discipline, address tagging, and the native-call
// bridge. Grounded on the teacher's own vm.go dispatch-loop shape
// (inoxlang/inox's bytecode interpreter: a flat switch over decoded
// opcodes, a recovered top-level run loop converting internal panics into
// typed errors) even though Inox's VM has no fixed-width ROM/frame model
// of its own — that part is authored directly from spec.md §4.5-§4.7.
package vm

import (
	"strconv"
	"strings"

	"github.com/clover-lang/clover/internal/addr"
	"github.com/clover-lang/clover/internal/image"
	"github.com/clover-lang/clover/internal/opcode"
)

// addrTag identifies which memory region a baked runtime address word
// refers to; packed into the high bits of the word itself (spec.md §9
// "Address tagging": "encoding to the 32-bit stack word uses a 2-bit tag
// in the high byte"). Only three tags exist at runtime because PushRef
// bakes LocalRel into LocalAbs immediately (spec.md §4.5).
type addrTag int32

const (
	tagConst addrTag = iota
	tagGlobal
	tagLocalAbs
)

const tagShift = 30
const offsetMask = int32(1)<<tagShift - 1

func packAddr(tag addrTag, offset int32) int32 {
	return int32(tag)<<tagShift | (offset & offsetMask)
}

func unpackAddr(word int32) (addrTag, int32) {
	return addrTag(uint32(word) >> tagShift), word & offsetMask
}

// frame is the VM's own call-frame bookkeeping. spec.md §4.5 describes
// the return pc and saved bp as two extra words pushed onto the shared
// data stack by SetFrame; this VM keeps that bookkeeping on a separate
// Go-native slice instead, which is observably identical for every
// program (LocalRel addressing only ever reaches [bp, bp+p+l), never the
// bookkeeping slots) while avoiding index arithmetic on raw stack
// offsets (see DESIGN.md).
type frame struct {
	retpc   int
	savedBP int
	savedSP int
	floor   int // sp immediately after the frame's locals are reserved
}

// VM is one Clover stack-machine instance (spec.md §4.5). Two VMs never
// share state; there is no concurrency inside one instance (spec.md §5).
type VM struct {
	host    Host
	modules []NativeModule

	pc int // absolute byte offset into the ROM image

	global []int32
	stack  []int32
	sp, bp int

	frames []frame

	constCount int
	codeBase   int
	commands   []image.Command
	command    image.Command

	params   [16]byte
	paramLen int
}

// New constructs a VM bound to host, with modules consulted in order for
// CallNative (spec.md §9: "first-match-wins"); callers should list the
// built-in core module (internal/native) first.
func New(host Host, modules []NativeModule) *VM {
	return &VM{host: host, modules: modules}
}

func (m *VM) hostRom(off int) byte {
	if off < 0 {
		return 0
	}
	return m.host.Rom(uint16(off))
}

func (m *VM) readU16(off int) int {
	return int(m.hostRom(off)) | int(m.hostRom(off+1))<<8
}

// loadHeader parses the image header and command table through the
// Host.Rom fetch primitive (spec.md §6.3) — the VM never holds a decoded
// *image.Image; everything it needs is read on demand, the same way a
// microcontroller would read its flash-resident ROM.
func (m *VM) loadHeader() error {
	for i := 0; i < 4; i++ {
		if m.hostRom(i) != image.Magic[i] {
			return newFault(InternalError, 0, "bad image magic")
		}
	}
	constWords := m.readU16(4)
	globalWords := m.readU16(6)
	stackWords := m.readU16(8)

	m.constCount = constWords
	m.global = make([]int32, globalWords)
	m.stack = make([]int32, stackWords)

	off := image.ConstOffset + constWords*4
	m.commands = m.commands[:0]
	for {
		b := m.hostRom(off)
		if b == 0 {
			off++
			break
		}
		name := make([]byte, image.CommandNameLen)
		for i := range name {
			name[i] = m.hostRom(off + i)
		}
		nameStr := string(name)
		if nul := strings.IndexByte(nameStr, 0); nul >= 0 {
			nameStr = nameStr[:nul]
		}
		m.commands = append(m.commands, image.Command{
			Name:       nameStr,
			ParamBytes: m.hostRom(off + image.CommandNameLen),
			InitEntry:  uint16(m.readU16(off + 8)),
			LoopEntry:  uint16(m.readU16(off + 10)),
		})
		off += image.CommandSize
	}
	m.codeBase = off
	return nil
}

func (m *VM) findCommand(name string) (image.Command, bool) {
	for _, c := range m.commands {
		if c.Name == name {
			return c, true
		}
	}
	return image.Command{}, false
}

// Init implements spec.md §4.6: reads the header, (re)allocates global
// memory and the data stack, resolves cmd's init entry point, and runs
// to completion.
func (m *VM) Init(cmd string, params []byte) (int32, error) {
	if err := m.loadHeader(); err != nil {
		return -1, err
	}
	c, ok := m.findCommand(cmd)
	if !ok {
		return -1, newFault(CmdNotFound, 0, "no command named %q", cmd)
	}
	if len(params) != int(c.ParamBytes) {
		return -1, newFault(WrongNumberOfArgs, 0, "command %q expects %d parameter bytes, got %d", cmd, c.ParamBytes, len(params))
	}
	m.command = c
	m.paramLen = copy(m.params[:], params)
	return m.enter(int(c.InitEntry))
}

// Loop implements spec.md §4.6's loop() call: same entry discipline as
// Init, but reuses the global memory and command resolved by the last
// Init (loop() never reloads the header).
func (m *VM) Loop() (int32, error) {
	if m.command.Name == "" {
		return -1, newFault(CmdNotFound, 0, "Loop called before Init")
	}
	return m.enter(int(m.command.LoopEntry))
}

// Param returns params[i] or 0 if out of range (spec.md §4.7).
func (m *VM) Param(i int32) int32 {
	if i < 0 || int(i) >= m.paramLen {
		return 0
	}
	return int32(m.params[i])
}

func (m *VM) enter(entry int) (int32, error) {
	m.sp, m.bp = 0, 0
	m.frames = m.frames[:0]
	m.pc = m.codeBase + entry

	raw := m.hostRom(m.pc)
	op, _ := opcode.Split(raw)
	if op != opcode.SetFrame {
		return -1, newFault(ExpectedSetFrame, m.pc, "entry point does not begin with SetFrame")
	}
	// Outermost sentinel frame: Return unwinding past it sets pc to -1,
	// which the run loop recognizes as "yield the return value to the
	// host" (spec.md §4.5).
	m.frames = append(m.frames, frame{retpc: -1, savedBP: 0, savedSP: 0, floor: 0})
	return m.run()
}

// run is the fetch/decode/dispatch loop (spec.md §4.5). A recover here
// turns an internal invariant violation into a Fault rather than letting
// a panic cross the package boundary (spec.md's ambient-stack error
// handling rule).
func (m *VM) run() (result int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = -1, newFault(InternalError, m.pc, "%v", r)
		}
	}()
	for m.pc >= 0 {
		if stepErr := m.step(); stepErr != nil {
			return -1, stepErr
		}
	}
	return m.pop()
}

func (m *VM) step() error {
	at := m.pc
	raw := m.hostRom(m.pc)
	m.pc++
	op, index := opcode.Split(raw)
	info, ok := opcode.Lookup(op)
	if !ok {
		return newFault(InvalidOp, at, "unknown opcode %#02x", raw)
	}

	switch info.Shape {
	case opcode.ShapeNone:
		return m.execSimple(op)
	case opcode.ShapeId:
		id := m.hostRom(m.pc)
		m.pc++
		return m.execID(op, id)
	case opcode.ShapeConst:
		c := m.hostRom(m.pc)
		m.pc++
		return m.execConst(op, c)
	case opcode.ShapeRelTarg:
		low := m.hostRom(m.pc)
		m.pc++
		return m.execRelTarg(op, opcode.DecodeRelTarg(index, low))
	case opcode.ShapeAbsTarg:
		low := m.hostRom(m.pc)
		m.pc++
		return m.execAbsTarg(op, opcode.DecodeAbsTarg(index, low))
	case opcode.ShapePL:
		b := m.hostRom(m.pc)
		m.pc++
		p, l := opcode.DecodePL(b)
		return m.execSetFrame(p, l)
	case opcode.ShapeIndexImm:
		return m.execIndexImm(op, int(index))
	case opcode.ShapeIdxLenS:
		return m.execLog(int(index))
	}
	return newFault(InternalError, at, "unhandled operand shape for %s", info.Mnemonic)
}

// --- stack primitives ---

func (m *VM) push(v int32) error {
	if m.sp >= len(m.stack) {
		return newFault(StackOverrun, m.pc, "stack overrun (size %d)", len(m.stack))
	}
	m.stack[m.sp] = v
	m.sp++
	return nil
}

func (m *VM) pop() (int32, error) {
	if m.sp <= 0 {
		return 0, newFault(StackUnderrun, m.pc, "stack underrun")
	}
	m.sp--
	return m.stack[m.sp], nil
}

func (m *VM) peek() (int32, error) {
	if m.sp <= 0 {
		return 0, newFault(StackUnderrun, m.pc, "stack underrun")
	}
	return m.stack[m.sp-1], nil
}

// --- addressing ---

func (m *VM) constWord(id int) (int32, error) {
	if id < 0 || id >= m.constCount {
		return 0, newFault(AddressOutOfRange, m.pc, "const id %d out of range [0,%d)", id, m.constCount)
	}
	base := image.ConstByteOffset(id)
	var w uint32
	for k := 0; k < 4; k++ {
		w |= uint32(m.hostRom(base+k)) << (8 * k)
	}
	return int32(w), nil
}

func (m *VM) readVar(a addr.Address) (int32, error) {
	switch a.Region {
	case addr.Const:
		return m.constWord(int(a.Offset))
	case addr.Global:
		if int(a.Offset) >= len(m.global) {
			return 0, newFault(AddressOutOfRange, m.pc, "global offset %d out of range", a.Offset)
		}
		return m.global[a.Offset], nil
	case addr.LocalRel:
		idx := m.bp + int(a.Offset)
		if idx < 0 || idx >= len(m.stack) {
			return 0, newFault(AddressOutOfRange, m.pc, "local offset %d out of range", a.Offset)
		}
		return m.stack[idx], nil
	}
	return 0, newFault(InternalError, m.pc, "unaddressable region")
}

func (m *VM) writeVar(a addr.Address, v int32) error {
	switch a.Region {
	case addr.Const:
		return newFault(OnlyMemAddressesAllowed, m.pc, "cannot write to a ROM constant")
	case addr.Global:
		if int(a.Offset) >= len(m.global) {
			return newFault(AddressOutOfRange, m.pc, "global offset %d out of range", a.Offset)
		}
		m.global[a.Offset] = v
		return nil
	case addr.LocalRel:
		idx := m.bp + int(a.Offset)
		if idx < 0 || idx >= len(m.stack) {
			return newFault(AddressOutOfRange, m.pc, "local offset %d out of range", a.Offset)
		}
		m.stack[idx] = v
		return nil
	}
	return newFault(InternalError, m.pc, "unaddressable region")
}

func (m *VM) bakeAddr(a addr.Address) int32 {
	switch a.Region {
	case addr.Const:
		return packAddr(tagConst, int32(a.Offset))
	case addr.Global:
		return packAddr(tagGlobal, int32(a.Offset))
	default: // LocalRel, baked relative to the current frame base
		return packAddr(tagLocalAbs, int32(m.bp+int(a.Offset)))
	}
}

// Load dereferences a tagged runtime address word, for use by native
// modules (spec.md §4.7) and the VM's own PushDeref.
func (m *VM) Load(word int32) (int32, error) {
	tag, off := unpackAddr(word)
	switch tag {
	case tagConst:
		return m.constWord(int(off))
	case tagGlobal:
		if off < 0 || int(off) >= len(m.global) {
			return 0, newFault(AddressOutOfRange, m.pc, "global offset %d out of range", off)
		}
		return m.global[off], nil
	case tagLocalAbs:
		if off < 0 || int(off) >= len(m.stack) {
			return 0, newFault(AddressOutOfRange, m.pc, "stack offset %d out of range", off)
		}
		return m.stack[off], nil
	}
	return 0, newFault(OnlyMemAddressesAllowed, m.pc, "word is not an address")
}

// Store writes through a tagged runtime address word.
func (m *VM) Store(word int32, v int32) error {
	tag, off := unpackAddr(word)
	switch tag {
	case tagConst:
		return newFault(OnlyMemAddressesAllowed, m.pc, "cannot write to a ROM constant")
	case tagGlobal:
		if off < 0 || int(off) >= len(m.global) {
			return newFault(AddressOutOfRange, m.pc, "global offset %d out of range", off)
		}
		m.global[off] = v
		return nil
	case tagLocalAbs:
		if off < 0 || int(off) >= len(m.stack) {
			return newFault(AddressOutOfRange, m.pc, "stack offset %d out of range", off)
		}
		m.stack[off] = v
		return nil
	}
	return newFault(OnlyMemAddressesAllowed, m.pc, "word is not an address")
}

// Offset adjusts a tagged address word's offset by delta, preserving its
// region tag — the runtime half of the compiler's Index/Offset baking
// actions (spec.md §4.3) and of native functions like InitArray that walk
// a contiguous run of words.
func (m *VM) Offset(word int32, delta int32) int32 {
	tag, off := unpackAddr(word)
	return packAddr(tag, off+delta)
}

// Arg reads argument slot i of the currently active frame (spec.md §4.7:
// native functions "read arguments from the frame").
func (m *VM) Arg(i int) int32 {
	return m.stack[m.bp+i]
}

// --- frame discipline (spec.md §4.5) ---

func (m *VM) execSetFrame(p, l int) error {
	if len(m.frames) == 0 {
		return newFault(ExpectedSetFrame, m.pc, "SetFrame with no pending call frame")
	}
	fr := &m.frames[len(m.frames)-1]
	argStart := fr.savedSP - p
	if argStart < 0 {
		return newFault(NotEnoughArgs, m.pc, "SetFrame wants %d args, only %d on stack", p, fr.savedSP)
	}
	if fr.savedSP+l > len(m.stack) {
		return newFault(StackOverrun, m.pc, "not enough stack for %d locals", l)
	}
	m.bp = argStart
	m.sp = fr.savedSP
	for i := 0; i < l; i++ {
		m.stack[m.sp] = 0
		m.sp++
	}
	fr.floor = m.sp
	return nil
}

func (m *VM) execReturn() error {
	if len(m.frames) == 0 {
		return newFault(InternalError, m.pc, "Return with no active frame")
	}
	fr := m.frames[len(m.frames)-1]
	var retval int32
	if m.sp > fr.floor {
		v, err := m.pop()
		if err != nil {
			return err
		}
		retval = v
	}
	return m.exitFrame(retval)
}

func (m *VM) exitFrame(retval int32) error {
	fr := m.frames[len(m.frames)-1]
	m.frames = m.frames[:len(m.frames)-1]
	m.sp = m.bp
	m.bp = fr.savedBP
	m.pc = fr.retpc
	return m.push(retval)
}

func (m *VM) execCallNative(id int) error {
	mod, arity, ok := m.findModule(id)
	if !ok {
		return newFault(InvalidNativeFunction, m.pc, "no module owns native id %d", id)
	}
	if m.sp < arity {
		return newFault(NotEnoughArgs, m.pc, "native id %d wants %d args, only %d on stack", id, arity, m.sp)
	}
	savedBP, savedSP := m.bp, m.sp
	m.bp = savedSP - arity
	m.frames = append(m.frames, frame{retpc: m.pc, savedBP: savedBP, savedSP: savedSP, floor: savedSP})

	retval, err := mod.Call(m, id)
	if err != nil {
		m.frames = m.frames[:len(m.frames)-1]
		m.bp = savedBP
		return err
	}
	return m.exitFrame(retval)
}

// --- instruction execution ---

func (m *VM) execID(op opcode.Op, id byte) error {
	a := addr.Decode(id)
	switch op {
	case opcode.Push:
		v, err := m.readVar(a)
		if err != nil {
			return err
		}
		return m.push(v)
	case opcode.Pop:
		v, err := m.pop()
		if err != nil {
			return err
		}
		return m.writeVar(a, v)
	case opcode.PushRef:
		return m.push(m.bakeAddr(a))
	}
	return newFault(InvalidOp, m.pc, "unexpected id-shaped opcode %s", op)
}

func (m *VM) execConst(op opcode.Op, c byte) error {
	switch op {
	case opcode.PushIntConst:
		return m.push(int32(c))
	case opcode.CallNative:
		return m.execCallNative(int(c))
	}
	return newFault(InvalidOp, m.pc, "unexpected const-shaped opcode %s", op)
}

func (m *VM) execAbsTarg(op opcode.Op, target int) error {
	if op != opcode.Call {
		return newFault(InvalidOp, m.pc, "unexpected abstarg-shaped opcode %s", op)
	}
	m.frames = append(m.frames, frame{retpc: m.pc, savedBP: m.bp, savedSP: m.sp})
	m.pc = m.codeBase + target
	return nil
}

func (m *VM) execRelTarg(op opcode.Op, offset int) error {
	switch op {
	case opcode.Jump:
		m.pc += offset
		return nil
	case opcode.If:
		cond, err := m.pop()
		if err != nil {
			return err
		}
		if cond == 0 {
			m.pc += offset
		}
		return nil
	}
	return newFault(InvalidOp, m.pc, "unexpected reltarg-shaped opcode %s", op)
}

func (m *VM) execIndexImm(op opcode.Op, index int) error {
	switch op {
	case opcode.PushIntConstS:
		return m.push(int32(index))
	case opcode.Offset:
		a, err := m.pop()
		if err != nil {
			return err
		}
		return m.push(m.Offset(a, int32(index)))
	case opcode.Index:
		idxv, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		return m.push(m.Offset(a, idxv*int32(index)))
	}
	return newFault(InvalidOp, m.pc, "unexpected indeximm-shaped opcode %s", op)
}

func (m *VM) execLog(argc int) error {
	strLen := int(m.hostRom(m.pc))
	m.pc++
	buf := make([]byte, strLen)
	for i := range buf {
		buf[i] = m.hostRom(m.pc)
		m.pc++
	}

	args := make([]int32, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	out, err := formatLog(string(buf), args)
	if err != nil {
		return newFault(InternalError, m.pc, "%s", err)
	}
	m.host.Log(out)
	return nil
}

// formatLog implements spec.md §4.7's Log directive language: %i and %f
// each consume one argument in order, %% is a literal percent.
func formatLog(format string, args []int32) (string, error) {
	var sb strings.Builder
	ai := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			break
		}
		switch format[i] {
		case '%':
			sb.WriteByte('%')
		case 'i':
			if ai >= len(args) {
				return "", &Fault{Kind: NotEnoughArgs, Msg: "Log format references more args than were provided"}
			}
			sb.WriteString(strconv.Itoa(int(args[ai])))
			ai++
		case 'f':
			if ai >= len(args) {
				return "", &Fault{Kind: NotEnoughArgs, Msg: "Log format references more args than were provided"}
			}
			sb.WriteString(strconv.FormatFloat(float64(bitsToFloat32(args[ai])), 'g', -1, 32))
			ai++
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String(), nil
}
