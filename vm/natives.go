package vm

import "time"

// defineNatives installs the host-provided built-ins into the globals
// table. Both the name string and the native handle are parked on the
// stack until the table holds them, keeping them rooted across the second
// allocation.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", vm.clockNative)
}

func (vm *VM) defineNative(name string, fn NativeFn) {
	vm.push(FromObject(&vm.heap.CopyString(name).Obj))
	vm.push(FromObject(&vm.heap.NewNative(fn).Obj))
	vm.globals.Set(vm.stack[vm.stackTop-2].AsString(), vm.stack[vm.stackTop-1])
	vm.pop()
	vm.pop()
}

// clockNative returns seconds elapsed since the interpreter started.
func (vm *VM) clockNative(argCount int, args []Value) Value {
	return FromNumber(time.Since(vm.startTime).Seconds())
}
