package vm

// NativeModule is spec.md §4.7/§9's native-function registry contract:
// an ordered, first-match-wins list of modules, each claiming a subset
// of native ids. The built-in core module (internal/native) is always
// registered first by the caller that constructs a VM.
type NativeModule interface {
	Owns(id int) bool
	Arity(id int) int
	Call(m *VM, id int) (int32, error)
}

func (m *VM) findModule(id int) (NativeModule, int, bool) {
	for _, mod := range m.modules {
		if mod.Owns(id) {
			return mod, mod.Arity(id), true
		}
	}
	return nil, 0, false
}
