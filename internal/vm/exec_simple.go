package vm

import (
	"math"

	"github.com/clover-lang/clover/internal/opcode"
)

func floatToBits(f float32) int32  { return int32(math.Float32bits(f)) }
func bitsToFloat32(v int32) float32 { return math.Float32frombits(uint32(v)) }

// execSimple dispatches every no-operand opcode (spec.md §4.2's
// stack/arithmetic/comparison/logic/increment families), all of which
// share one pop-operands/compute/push-result shape.
func (m *VM) execSimple(op opcode.Op) error {
	switch op {
	case opcode.Nop:
		return nil
	case opcode.PushDeref:
		a, err := m.pop()
		if err != nil {
			return err
		}
		v, err := m.Load(a)
		if err != nil {
			return err
		}
		return m.push(v)
	case opcode.PopDeref:
		v, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.Store(a, v); err != nil {
			return err
		}
		// PopDeref leaves the stored value on the stack, giving an
		// assignment expression a well-defined value (DESIGN.md #6).
		return m.push(v)
	case opcode.Dup:
		v, err := m.peek()
		if err != nil {
			return err
		}
		return m.push(v)
	case opcode.Drop:
		_, err := m.pop()
		return err
	case opcode.Swap:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.push(b); err != nil {
			return err
		}
		return m.push(a)
	case opcode.Return:
		return m.execReturn()
	}

	if v, ok, err := m.execUnary(op); ok {
		if err != nil {
			return err
		}
		return m.push(v)
	}
	if v, ok, err := m.execBinary(op); ok {
		if err != nil {
			return err
		}
		return m.push(v)
	}
	return newFault(InvalidOp, m.pc, "unexpected simple opcode %s", op)
}

// execUnary handles the single-operand simple opcodes: negation, bitwise
// complement, logical not, and the four increment/decrement variants
// (each of which both stores through the address left under the value by
// the compiler and yields a result, per spec.md §4.3's Pre/Post baking).
func (m *VM) execUnary(op opcode.Op) (int32, bool, error) {
	switch op {
	case opcode.NegInt:
		v, err := m.pop()
		return -v, true, err
	case opcode.NegFloat:
		v, err := m.pop()
		if err != nil {
			return 0, true, err
		}
		return floatToBits(-bitsToFloat32(v)), true, nil
	case opcode.BitNot:
		v, err := m.pop()
		return ^v, true, err
	case opcode.LogicNot:
		v, err := m.pop()
		if err != nil {
			return 0, true, err
		}
		return boolWord(v == 0), true, nil
	case opcode.PreIncInt, opcode.PreDecInt, opcode.PostIncInt, opcode.PostDecInt:
		return m.execIncDecInt(op)
	case opcode.PreIncFloat, opcode.PreDecFloat, opcode.PostIncFloat, opcode.PostDecFloat:
		return m.execIncDecFloat(op)
	}
	return 0, false, nil
}

func (m *VM) execIncDecInt(op opcode.Op) (int32, bool, error) {
	a, err := m.pop()
	if err != nil {
		return 0, true, err
	}
	old, err := m.Load(a)
	if err != nil {
		return 0, true, err
	}
	var next int32
	switch op {
	case opcode.PreIncInt, opcode.PostIncInt:
		next = old + 1
	default:
		next = old - 1
	}
	if err := m.Store(a, next); err != nil {
		return 0, true, err
	}
	if op == opcode.PreIncInt || op == opcode.PreDecInt {
		return next, true, nil
	}
	return old, true, nil
}

func (m *VM) execIncDecFloat(op opcode.Op) (int32, bool, error) {
	a, err := m.pop()
	if err != nil {
		return 0, true, err
	}
	old, err := m.Load(a)
	if err != nil {
		return 0, true, err
	}
	oldF := bitsToFloat32(old)
	var nextF float32
	switch op {
	case opcode.PreIncFloat, opcode.PostIncFloat:
		nextF = oldF + 1
	default:
		nextF = oldF - 1
	}
	if err := m.Store(a, floatToBits(nextF)); err != nil {
		return 0, true, err
	}
	if op == opcode.PreIncFloat || op == opcode.PreDecFloat {
		return floatToBits(nextF), true, nil
	}
	return floatToBits(oldF), true, nil
}

func boolWord(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// execBinary handles every two-operand simple opcode: integer and float
// arithmetic, the full comparison matrix, bitwise, and short-circuit-free
// logical and/or (the grammar's && and || always evaluate both operands;
// spec.md §4.2 has no separate branching encoding for them).
func (m *VM) execBinary(op opcode.Op) (int32, bool, error) {
	switch op {
	case opcode.AddInt, opcode.SubInt, opcode.MulInt, opcode.DivInt,
		opcode.LtInt, opcode.LeInt, opcode.EqInt, opcode.NeInt, opcode.GeInt, opcode.GtInt,
		opcode.BitAnd, opcode.BitOr, opcode.BitXor, opcode.LogicAnd, opcode.LogicOr:
		b, err := m.pop()
		if err != nil {
			return 0, true, err
		}
		a, err := m.pop()
		if err != nil {
			return 0, true, err
		}
		v, err := m.computeIntBinary(op, a, b)
		return v, true, err

	case opcode.AddFloat, opcode.SubFloat, opcode.MulFloat, opcode.DivFloat,
		opcode.LtFloat, opcode.LeFloat, opcode.EqFloat, opcode.NeFloat, opcode.GeFloat, opcode.GtFloat:
		b, err := m.pop()
		if err != nil {
			return 0, true, err
		}
		a, err := m.pop()
		if err != nil {
			return 0, true, err
		}
		v, err := m.computeFloatBinary(op, bitsToFloat32(a), bitsToFloat32(b))
		return v, true, err
	}
	return 0, false, nil
}

func (m *VM) computeIntBinary(op opcode.Op, a, b int32) (int32, error) {
	switch op {
	case opcode.AddInt:
		return a + b, nil
	case opcode.SubInt:
		return a - b, nil
	case opcode.MulInt:
		return a * b, nil
	case opcode.DivInt:
		if b == 0 {
			return 0, newFault(InternalError, m.pc, "integer division by zero")
		}
		return a / b, nil
	case opcode.LtInt:
		return boolWord(a < b), nil
	case opcode.LeInt:
		return boolWord(a <= b), nil
	case opcode.EqInt:
		return boolWord(a == b), nil
	case opcode.NeInt:
		return boolWord(a != b), nil
	case opcode.GeInt:
		return boolWord(a >= b), nil
	case opcode.GtInt:
		return boolWord(a > b), nil
	case opcode.BitAnd:
		return a & b, nil
	case opcode.BitOr:
		return a | b, nil
	case opcode.BitXor:
		return a ^ b, nil
	case opcode.LogicAnd:
		return boolWord(a != 0 && b != 0), nil
	case opcode.LogicOr:
		return boolWord(a != 0 || b != 0), nil
	}
	return 0, newFault(InternalError, m.pc, "unreachable int binary opcode %s", op)
}

func (m *VM) computeFloatBinary(op opcode.Op, a, b float32) (int32, error) {
	switch op {
	case opcode.AddFloat:
		return floatToBits(a + b), nil
	case opcode.SubFloat:
		return floatToBits(a - b), nil
	case opcode.MulFloat:
		return floatToBits(a * b), nil
	case opcode.DivFloat:
		if b == 0 {
			return 0, newFault(InternalError, m.pc, "float division by zero")
		}
		return floatToBits(a / b), nil
	case opcode.LtFloat:
		return boolWord(a < b), nil
	case opcode.LeFloat:
		return boolWord(a <= b), nil
	case opcode.EqFloat:
		return boolWord(a == b), nil
	case opcode.NeFloat:
		return boolWord(a != b), nil
	case opcode.GeFloat:
		return boolWord(a >= b), nil
	case opcode.GtFloat:
		return boolWord(a > b), nil
	}
	return 0, newFault(InternalError, m.pc, "unreachable float binary opcode %s", op)
}
