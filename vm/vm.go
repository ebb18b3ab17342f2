package vm

import (
	"fmt"
	"io"
	"os"
	"time"
	"unsafe"
)

// InterpretResult classifies the outcome of one Interpret call.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "ok"
	case InterpretCompileError:
		return "compile error"
	case InterpretRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

const (
	// FramesMax is the call depth limit; one more frame is a stack overflow.
	FramesMax = 64

	// StackMax is the value stack capacity.
	StackMax = FramesMax * 256
)

// CallFrame is the per-invocation record: the active closure, its
// instruction pointer, and the base slot of its stack window.
type CallFrame struct {
	closure *ObjClosure
	ip      int
	base    int
}

// CompileFn turns source text into a top-level function, or nil if any
// compile error was reported. The front end is injected so the interpreter
// package stays a leaf.
type CompileFn func(source string, heap *Heap) *ObjFunction

// VM executes bytecode. It owns the value stack, the call-frame stack, the
// globals table, and the open-upvalue list, and it is a permanent GC root
// source for its heap.
type VM struct {
	heap *Heap

	stack    [StackMax]Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	globals      Table
	openUpvalues *ObjUpvalue

	// initString is the interned name looked up on class construction.
	initString *ObjString

	compile   CompileFn
	startTime time.Time

	stdout      io.Writer
	stderr      io.Writer
	traceWriter io.Writer // per-instruction tracing when non-nil
}

// NewVM creates a VM bound to heap, registers it as a root source, and
// installs the built-in natives.
func NewVM(heap *Heap) *VM {
	vm := &VM{
		heap:      heap,
		startTime: time.Now(),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	heap.AddRoots(vm)
	vm.initString = heap.CopyString("init")
	vm.defineNatives()
	return vm
}

// UseCompiler injects the front end called by Interpret.
func (vm *VM) UseCompiler(fn CompileFn) {
	vm.compile = fn
}

// SetOutput redirects program output (print) and error output.
func (vm *VM) SetOutput(stdout, stderr io.Writer) {
	vm.stdout = stdout
	vm.stderr = stderr
}

// EnableTracing dumps the stack and each disassembled instruction to w
// before executing it. Pass nil to disable.
func (vm *VM) EnableTracing(w io.Writer) {
	vm.traceWriter = w
}

// Heap returns the heap this VM allocates from.
func (vm *VM) Heap() *Heap { return vm.heap }

// Reset discards all execution state between runs. Globals and interned
// strings survive; the stacks and open upvalues do not.
func (vm *VM) Reset() {
	vm.resetStack()
}

// Interpret compiles and runs one unit of source text.
func (vm *VM) Interpret(source string) InterpretResult {
	if vm.compile == nil {
		panic("petrel: no compiler configured")
	}

	fn := vm.compile(source, vm.heap)
	if fn == nil {
		return InterpretCompileError
	}

	// Root the function before the closure allocation can collect.
	vm.push(FromObject(&fn.Obj))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(FromObject(&closure.Obj))
	vm.call(closure, 0)

	return vm.run()
}

// ---------------------------------------------------------------------------
// GC roots
// ---------------------------------------------------------------------------

// MarkRoots grays everything the interpreter can reach: the value stack,
// the active frames, the open-upvalue list, the globals table, and the
// interned init handle.
func (vm *VM) MarkRoots(h *Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(&vm.frames[i].closure.Obj)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		h.MarkObject(&uv.Obj)
	}
	vm.globals.Mark(h)
	if vm.initString != nil {
		h.MarkObject(&vm.initString.Obj)
	}
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.stackTop-1-distance]
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// runtimeError reports a message and a stack trace, most recent call first,
// then discards all execution state. Nothing is recoverable within the
// current Interpret call.
func (vm *VM) runtimeError(format string, args ...any) {
	fmt.Fprintf(vm.stderr, format+"\n", args...)

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := fn.Chunk.Lines[frame.ip-1]
		if fn.Name == nil {
			fmt.Fprintf(vm.stderr, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(vm.stderr, "[line %d] in %s()\n", line, fn.Name.Chars)
		}
	}

	vm.resetStack()
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (vm *VM) call(closure *ObjClosure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
		return false
	}
	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.base = vm.stackTop - argCount - 1
	return true
}

func (vm *VM) callValue(callee Value, argCount int) bool {
	if callee.IsObject() {
		switch callee.ObjectPtr().Type {
		case ObjTypeClosure:
			return vm.call(callee.AsClosure(), argCount)

		case ObjTypeNative:
			native := callee.AsNative()
			result := native.Function(argCount, vm.stack[vm.stackTop-argCount:vm.stackTop])
			vm.stackTop -= argCount + 1
			vm.push(result)
			return true

		case ObjTypeClass:
			class := callee.AsClass()
			instance := vm.heap.NewInstance(class)
			vm.stack[vm.stackTop-argCount-1] = FromObject(&instance.Obj)
			if initializer, ok := class.Methods.Get(vm.initString); ok {
				return vm.call(initializer.AsClosure(), argCount)
			}
			if argCount != 0 {
				vm.runtimeError("Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true

		case ObjTypeBoundMethod:
			bound := callee.AsBoundMethod()
			vm.stack[vm.stackTop-argCount-1] = bound.Receiver
			return vm.call(bound.Method, argCount)
		}
	}
	vm.runtimeError("Can only call functions and classes.")
	return false
}

// invoke is the fused OP_INVOKE path: a field holding a callable shadows a
// class method of the same name.
func (vm *VM) invoke(name *ObjString, argCount int) bool {
	receiver := vm.peek(argCount)
	if !receiver.IsObjType(ObjTypeInstance) {
		vm.runtimeError("Only instances have methods.")
		return false
	}
	instance := receiver.AsInstance()

	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *ObjClass, name *ObjString, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	return vm.call(method.AsClosure(), argCount)
}

// bindMethod pops the instance and pushes a bound method for name, or
// reports an undefined property.
func (vm *VM) bindMethod(class *ObjClass, name *ObjString) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}

	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsClosure())
	vm.pop()
	vm.push(FromObject(&bound.Obj))
	return true
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue for a stack slot, reusing an
// existing one so every closure over a variable shares it. The open list
// stays strictly descending by stack address.
func (vm *VM) captureUpvalue(local *Value) *ObjUpvalue {
	var previous *ObjUpvalue
	uv := vm.openUpvalues
	for uv != nil && uintptr(unsafe.Pointer(uv.Location)) > uintptr(unsafe.Pointer(local)) {
		previous = uv
		uv = uv.NextOpen
	}
	if uv != nil && uv.Location == local {
		return uv
	}

	created := vm.heap.NewUpvalue(local)
	created.NextOpen = uv
	if previous == nil {
		vm.openUpvalues = created
	} else {
		previous.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above last, moving the
// stack value into the upvalue itself. The comparison is >= so the slot
// being discarded is closed too, if captured.
func (vm *VM) closeUpvalues(last *Value) {
	for vm.openUpvalues != nil &&
		uintptr(unsafe.Pointer(vm.openUpvalues.Location)) >= uintptr(unsafe.Pointer(last)) {
		uv := vm.openUpvalues
		uv.Closed = *uv.Location
		uv.Location = &uv.Closed
		vm.openUpvalues = uv.NextOpen
	}
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (frame *CallFrame) readByte() byte {
	b := frame.closure.Function.Chunk.Code[frame.ip]
	frame.ip++
	return b
}

// readShort reads both operand bytes before the caller adjusts ip for the
// jump itself.
func (frame *CallFrame) readShort() uint16 {
	chunk := &frame.closure.Function.Chunk
	v := chunk.ReadUint16(frame.ip)
	frame.ip += 2
	return v
}

func (frame *CallFrame) readConstant() Value {
	return frame.closure.Function.Chunk.Constants[frame.readByte()]
}

func (frame *CallFrame) readString() *ObjString {
	return frame.readConstant().AsString()
}

func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	for {
		if vm.traceWriter != nil {
			vm.traceInstruction(frame)
		}

		op := Opcode(frame.readByte())
		switch op {
		case OpConstant:
			vm.push(frame.readConstant())

		case OpNil:
			vm.push(Nil)

		case OpTrue:
			vm.push(True)

		case OpFalse:
			vm.push(False)

		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := frame.readByte()
			vm.push(vm.stack[frame.base+int(slot)])

		case OpSetLocal:
			// Assignment is an expression: the value stays on the stack.
			slot := frame.readByte()
			vm.stack[frame.base+int(slot)] = vm.peek(0)

		case OpGetGlobal:
			name := frame.readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}
			vm.push(value)

		case OpDefineGlobal:
			// Pop only after the table holds the value, so a collection
			// during Set still sees it referenced.
			name := frame.readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case OpSetGlobal:
			name := frame.readString()
			if !vm.globals.Replace(name, vm.peek(0)) {
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}

		case OpGetUpvalue:
			slot := frame.readByte()
			vm.push(*frame.closure.Upvalues[slot].Location)

		case OpSetUpvalue:
			slot := frame.readByte()
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case OpGetProperty:
			if !vm.peek(0).IsObjType(ObjTypeInstance) {
				vm.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			instance := vm.peek(0).AsInstance()
			name := frame.readString()

			if value, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(value)
				break
			}
			if !vm.bindMethod(instance.Class, name) {
				return InterpretRuntimeError
			}

		case OpSetProperty:
			if !vm.peek(1).IsObjType(ObjTypeInstance) {
				vm.runtimeError("Only instances have fields.")
				return InterpretRuntimeError
			}
			instance := vm.peek(1).AsInstance()
			name := frame.readString()
			instance.Fields.Set(name, vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case OpGetSuper:
			name := frame.readString()
			superclass := vm.pop().AsClass()
			if !vm.bindMethod(superclass, name) {
				return InterpretRuntimeError
			}

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(FromBool(a.Equals(b)))

		case OpGreater:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().Number()
			a := vm.pop().Number()
			vm.push(FromBool(a > b))

		case OpLess:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().Number()
			a := vm.pop().Number()
			vm.push(FromBool(a < b))

		case OpAdd:
			if vm.peek(0).IsString() && vm.peek(1).IsString() {
				vm.concatenate()
			} else if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
				b := vm.pop().Number()
				a := vm.pop().Number()
				vm.push(FromNumber(a + b))
			} else {
				vm.runtimeError("Operands must be two numbers or two strings.")
				return InterpretRuntimeError
			}

		case OpSubtract:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().Number()
			a := vm.pop().Number()
			vm.push(FromNumber(a - b))

		case OpMultiply:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().Number()
			a := vm.pop().Number()
			vm.push(FromNumber(a * b))

		case OpDivide:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().Number()
			a := vm.pop().Number()
			vm.push(FromNumber(a / b))

		case OpNot:
			vm.push(FromBool(vm.pop().IsFalsey()))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			vm.push(FromNumber(-vm.pop().Number()))

		case OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().String())

		case OpJump:
			offset := frame.readShort()
			frame.ip += int(offset)

		case OpJumpIfFalse:
			// The condition is left on the stack; the compiler pairs the
			// jump with an explicit pop on each branch.
			offset := frame.readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}

		case OpLoop:
			offset := frame.readShort()
			frame.ip -= int(offset)

		case OpCall:
			argCount := int(frame.readByte())
			if !vm.callValue(vm.peek(argCount), argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpInvoke:
			name := frame.readString()
			argCount := int(frame.readByte())
			if !vm.invoke(name, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpSuperInvoke:
			name := frame.readString()
			argCount := int(frame.readByte())
			superclass := vm.pop().AsClass()
			if !vm.invokeFromClass(superclass, name, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpClosure:
			fn := frame.readConstant().AsFunction()
			closure := vm.heap.NewClosure(fn)
			// The closure must be rooted before upvalue allocations below
			// can trigger a collection.
			vm.push(FromObject(&closure.Obj))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := frame.readByte()
				index := int(frame.readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(&vm.stack[frame.base+index])
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(&vm.stack[vm.stackTop-1])
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(&vm.stack[frame.base])
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK
			}
			vm.stackTop = frame.base
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case OpClass:
			class := vm.heap.NewClass(frame.readString())
			vm.push(FromObject(&class.Obj))

		case OpInherit:
			superclass := vm.peek(1)
			if !superclass.IsObjType(ObjTypeClass) {
				vm.runtimeError("Superclass must be a class.")
				return InterpretRuntimeError
			}
			subclass := vm.peek(0).AsClass()
			subclass.Methods.AddAll(&superclass.AsClass().Methods)
			vm.pop()

		case OpMethod:
			name := frame.readString()
			method := vm.peek(0)
			class := vm.peek(1).AsClass()
			class.Methods.Set(name, method)
			vm.pop()

		default:
			vm.runtimeError("Unknown opcode 0x%02x.", byte(op))
			return InterpretRuntimeError
		}
	}
}

// concatenate interns the concatenation of the two strings on top of the
// stack. Both operands are peeked, not popped, so they stay rooted across
// the allocation; slots 0 and 1 are read exactly once each.
func (vm *VM) concatenate() {
	b := vm.peek(0).AsString()
	a := vm.peek(1).AsString()
	result := vm.heap.CopyString(a.Chars + b.Chars)
	vm.pop()
	vm.pop()
	vm.push(FromObject(&result.Obj))
}

// traceInstruction dumps the stack contents and the next instruction.
func (vm *VM) traceInstruction(frame *CallFrame) {
	fmt.Fprint(vm.traceWriter, "        ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(vm.traceWriter, "[ %s ]", vm.stack[i].String())
	}
	fmt.Fprintln(vm.traceWriter)
	frame.closure.Function.Chunk.DisassembleInstruction(vm.traceWriter, frame.ip)
}
