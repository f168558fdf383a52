package compiler

import "github.com/clover-lang/clover/internal/symtab"

// nativeID mirrors internal/native's fixed id assignment (spec.md §4.7's
// table order) so a Call compiled here lines up with whatever
// NativeModule the host registers at runtime; the compiler does not
// import internal/native (it only needs the ids and signatures, not the
// implementations).
const (
	nativeAnimate = iota
	nativeParam
	nativeFloat
	nativeInt
	nativeRandomInt
	nativeRandomFloat
	nativeInitArray
	nativeMinInt
	nativeMaxInt
	nativeMinFloat
	nativeMaxFloat
)

var (
	typeInt      = symtab.Type{Kind: "int"}
	typeFloat    = symtab.Type{Kind: "float"}
	typeFloatPtr = symtab.Type{Kind: "float", Ptr: true}
)

// registerBuiltins installs the core native module's call signatures
// into tab so ordinary calls (MaxInt(3, 7), Animate(&state), ...)
// resolve through the same undefined-identifier/arg-count/IsNative path
// as a user-declared function (spec.md §4.7).
func registerBuiltins(tab *symtab.Table) {
	def := func(name string, id int, argTypes []symtab.Type, ret symtab.Type) {
		locals := make([]symtab.Symbol, len(argTypes))
		for i, t := range argTypes {
			locals[i] = symtab.Symbol{Name: "_", Type: t, Size: 1, Storage: symtab.StorageLocal}
		}
		_ = tab.DefineFunction(&symtab.Function{
			Name:       name,
			ReturnType: ret,
			ArgCount:   len(argTypes),
			Locals:     locals,
			IsNative:   true,
			NativeID:   id,
		})
	}

	def("Animate", nativeAnimate, []symtab.Type{typeFloatPtr}, typeInt)
	def("Param", nativeParam, []symtab.Type{typeInt}, typeInt)
	def("Float", nativeFloat, []symtab.Type{typeInt}, typeFloat)
	def("Int", nativeInt, []symtab.Type{typeFloat}, typeInt)
	def("RandomInt", nativeRandomInt, []symtab.Type{typeInt, typeInt}, typeInt)
	def("RandomFloat", nativeRandomFloat, []symtab.Type{typeFloat, typeFloat}, typeFloat)
	def("InitArray", nativeInitArray, []symtab.Type{typeFloatPtr, typeInt, typeInt}, typeInt)
	def("MinInt", nativeMinInt, []symtab.Type{typeInt, typeInt}, typeInt)
	def("MaxInt", nativeMaxInt, []symtab.Type{typeInt, typeInt}, typeInt)
	def("MinFloat", nativeMinFloat, []symtab.Type{typeFloat, typeFloat}, typeFloat)
	def("MaxFloat", nativeMaxFloat, []symtab.Type{typeFloat, typeFloat}, typeFloat)
}
