// Package native implements the Clover core native-function module
// (spec.md §4.7): the fixed bundle of ids every ROM image can call
// through CallNative regardless of which command it targets. It lives
// apart from internal/vm to avoid an import cycle (the module reads and
// writes VM memory through the exported Load/Store/Offset/Arg/Param
// bridge rather than reaching into VM internals).
package native

import (
	"math"
	"math/rand"

	"github.com/clover-lang/clover/internal/vm"
)

// Fixed native ids, spec.md §4.7's table, assigned in table order.
const (
	idAnimate = iota
	idParam
	idFloat
	idInt
	idRandomInt
	idRandomFloat
	idInitArray
	idMinInt
	idMaxInt
	idMinFloat
	idMaxFloat
)

var arity = map[int]int{
	idAnimate:     1,
	idParam:       1,
	idFloat:       1,
	idInt:         1,
	idRandomInt:   2,
	idRandomFloat: 2,
	idInitArray:   3,
	idMinInt:      2,
	idMaxInt:      2,
	idMinFloat:    2,
	idMaxFloat:    2,
}

// Core is the built-in native module; callers register it first in the
// vm.New modules list so it wins ties with any host-supplied module that
// (incorrectly) claims one of these fixed ids.
type Core struct {
	rng *rand.Rand
}

// NewCore builds the core module. rng may be nil, in which case a
// source with the fixed seed 1 is used, so the random builtins repeat
// the same sequence on every run.
func NewCore(rng *rand.Rand) *Core {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Core{rng: rng}
}

func (c *Core) Owns(id int) bool {
	_, ok := arity[id]
	return ok
}

func (c *Core) Arity(id int) int {
	return arity[id]
}

func (c *Core) Call(m *vm.VM, id int) (int32, error) {
	switch id {
	case idAnimate:
		return c.animate(m)
	case idParam:
		return m.Param(m.Arg(0)), nil
	case idFloat:
		return floatToBits(float32(m.Arg(0))), nil
	case idInt:
		return int32(bitsToFloat32(m.Arg(0))), nil
	case idRandomInt:
		lo, hi := m.Arg(0), m.Arg(1)
		if hi <= lo {
			return lo, nil
		}
		return lo + c.rng.Int31n(hi-lo), nil
	case idRandomFloat:
		return c.randomFloat(m), nil
	case idInitArray:
		return c.initArray(m)
	case idMinInt:
		if a, b := m.Arg(0), m.Arg(1); a < b {
			return a, nil
		}
		return m.Arg(1), nil
	case idMaxInt:
		if a, b := m.Arg(0), m.Arg(1); a > b {
			return a, nil
		}
		return m.Arg(1), nil
	case idMinFloat:
		a, b := bitsToFloat32(m.Arg(0)), bitsToFloat32(m.Arg(1))
		if a < b {
			return floatToBits(a), nil
		}
		return floatToBits(b), nil
	case idMaxFloat:
		a, b := bitsToFloat32(m.Arg(0)), bitsToFloat32(m.Arg(1))
		if a > b {
			return floatToBits(a), nil
		}
		return floatToBits(b), nil
	}
	return 0, nil
}

// animate advances the four-float {cur, inc, min, max} state stored at
// addr, bouncing inc's sign at either extreme (spec.md §4.7) — the
// idiom a Clover program uses to drive a continuous back-and-forth
// motion, such as an LED's brightness ramp, from loop() alone.
func (c *Core) animate(m *vm.VM) (int32, error) {
	addr := m.Arg(0)
	curW, err := m.Load(addr)
	if err != nil {
		return 0, err
	}
	incW, err := m.Load(m.Offset(addr, 1))
	if err != nil {
		return 0, err
	}
	minW, err := m.Load(m.Offset(addr, 2))
	if err != nil {
		return 0, err
	}
	maxW, err := m.Load(m.Offset(addr, 3))
	if err != nil {
		return 0, err
	}
	cur, inc := bitsToFloat32(curW), bitsToFloat32(incW)
	lo, hi := bitsToFloat32(minW), bitsToFloat32(maxW)

	cur += inc
	bounced := int32(0)
	if inc > 0 {
		if cur >= hi {
			cur = hi
			inc = -inc
			bounced = 1
		}
	} else {
		if cur <= lo {
			cur = lo
			inc = -inc
			bounced = -1
		}
	}

	if err := m.Store(addr, floatToBits(cur)); err != nil {
		return 0, err
	}
	if err := m.Store(m.Offset(addr, 1), floatToBits(inc)); err != nil {
		return 0, err
	}
	return bounced, nil
}

// randomFloat draws a uniform float in [min, max) by drawing a uniform
// integer in [0, 1000) and scaling (spec.md §4.7: "implemented by
// scaling to thousands"), avoiding a native float RNG primitive the
// host's float support may not carry.
func (c *Core) randomFloat(m *vm.VM) int32 {
	lo, hi := bitsToFloat32(m.Arg(0)), bitsToFloat32(m.Arg(1))
	if hi <= lo {
		return floatToBits(lo)
	}
	thousandths := float32(c.rng.Int31n(1000)) / 1000
	return floatToBits(lo + thousandths*(hi-lo))
}

func (c *Core) initArray(m *vm.VM) (int32, error) {
	addr, v, n := m.Arg(0), m.Arg(1), m.Arg(2)
	for i := int32(0); i < n; i++ {
		if err := m.Store(m.Offset(addr, i), v); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func floatToBits(f float32) int32   { return int32(math.Float32bits(f)) }
func bitsToFloat32(v int32) float32 { return math.Float32frombits(uint32(v)) }
