package vm

import (
	"fmt"
	"unsafe"
)

// ObjType identifies the concrete type behind an object header.
type ObjType uint8

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeNative
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
)

var objTypeNames = map[ObjType]string{
	ObjTypeString:      "string",
	ObjTypeFunction:    "function",
	ObjTypeClosure:     "closure",
	ObjTypeUpvalue:     "upvalue",
	ObjTypeNative:      "native",
	ObjTypeClass:       "class",
	ObjTypeInstance:    "instance",
	ObjTypeBoundMethod: "bound method",
}

func (t ObjType) String() string {
	if name, ok := objTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ObjType(%d)", uint8(t))
}

// Obj is the shared header embedded as the FIRST field of every heap object
// variant. Because it sits at offset zero, a header pointer converts to the
// concrete variant pointer and back.
//
// Next forms the intrusive list the heap uses to own every object; Marked is
// the GC mark bit, false for every object between collection passes.
type Obj struct {
	Type   ObjType
	Marked bool
	Next   *Obj

	// size is the byte count charged against the heap budget at allocation,
	// refunded verbatim at sweep.
	size int
}

// String renders the object the way the interpreter prints it.
func (o *Obj) String() string {
	switch o.Type {
	case ObjTypeString:
		return o.AsString().Chars
	case ObjTypeFunction:
		return o.AsFunction().describe()
	case ObjTypeClosure:
		return o.AsClosure().Function.describe()
	case ObjTypeUpvalue:
		return "upvalue"
	case ObjTypeNative:
		return "<native fn>"
	case ObjTypeClass:
		return o.AsClass().Name.Chars
	case ObjTypeInstance:
		return o.AsInstance().Class.Name.Chars + " instance"
	case ObjTypeBoundMethod:
		return o.AsBoundMethod().Method.Function.describe()
	default:
		return fmt.Sprintf("<obj %d>", o.Type)
	}
}

// ---------------------------------------------------------------------------
// Variants
// ---------------------------------------------------------------------------

// ObjString is an immutable interned byte sequence. The heap holds at most
// one ObjString per distinct content, so pointer equality is content
// equality.
type ObjString struct {
	Obj
	Chars string
	Hash  uint32 // FNV-1a of Chars, cached at creation
}

// ObjFunction is the static compiled artifact for one function body.
type ObjFunction struct {
	Obj
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *ObjString // nil for the top-level script
}

func (f *ObjFunction) describe() string {
	if f.Name == nil {
		return "<script>"
	}
	return "<fn " + f.Name.Chars + ">"
}

// ObjClosure wraps a function with its captured upvalues. This is what the
// interpreter actually calls.
type ObjClosure struct {
	Obj
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

// ObjUpvalue is a captured variable. While open, Location points at a slot
// still live on the value stack; when closed, the value moves into Closed
// and Location is redirected there.
//
// Open upvalues form a singly-linked list through NextOpen, kept strictly
// descending by stack address.
type ObjUpvalue struct {
	Obj
	Location *Value
	Closed   Value
	NextOpen *ObjUpvalue
}

// NativeFn is the signature for host-provided callables.
type NativeFn func(argCount int, args []Value) Value

// ObjNative is an opaque handle to a host-provided callable.
type ObjNative struct {
	Obj
	Function NativeFn
}

// ObjClass is a class: a name and a method table of ObjString -> closure.
type ObjClass struct {
	Obj
	Name    *ObjString
	Methods Table
}

// ObjInstance is an instance of a class with a dynamic fields table.
type ObjInstance struct {
	Obj
	Class  *ObjClass
	Fields Table
}

// ObjBoundMethod pairs a receiver with a method closure, created when an
// attribute get resolves to a class method.
type ObjBoundMethod struct {
	Obj
	Receiver Value
	Method   *ObjClosure
}

// ---------------------------------------------------------------------------
// Header <-> variant conversions
// ---------------------------------------------------------------------------

// Each variant embeds Obj as its first field, so the header address is the
// variant address.

func (o *Obj) AsString() *ObjString           { return (*ObjString)(unsafe.Pointer(o)) }
func (o *Obj) AsFunction() *ObjFunction       { return (*ObjFunction)(unsafe.Pointer(o)) }
func (o *Obj) AsClosure() *ObjClosure         { return (*ObjClosure)(unsafe.Pointer(o)) }
func (o *Obj) AsUpvalue() *ObjUpvalue         { return (*ObjUpvalue)(unsafe.Pointer(o)) }
func (o *Obj) AsNative() *ObjNative           { return (*ObjNative)(unsafe.Pointer(o)) }
func (o *Obj) AsClass() *ObjClass             { return (*ObjClass)(unsafe.Pointer(o)) }
func (o *Obj) AsInstance() *ObjInstance       { return (*ObjInstance)(unsafe.Pointer(o)) }
func (o *Obj) AsBoundMethod() *ObjBoundMethod { return (*ObjBoundMethod)(unsafe.Pointer(o)) }

// ---------------------------------------------------------------------------
// Value helpers for objects
// ---------------------------------------------------------------------------

// IsObjType reports whether v holds an object of the given type.
func (v Value) IsObjType(t ObjType) bool {
	return v.IsObject() && v.ObjectPtr().Type == t
}

// IsString reports whether v holds a string object.
func (v Value) IsString() bool { return v.IsObjType(ObjTypeString) }

// AsString returns the string object held by v.
func (v Value) AsString() *ObjString { return v.ObjectPtr().AsString() }

// AsFunction returns the function object held by v.
func (v Value) AsFunction() *ObjFunction { return v.ObjectPtr().AsFunction() }

// AsClosure returns the closure object held by v.
func (v Value) AsClosure() *ObjClosure { return v.ObjectPtr().AsClosure() }

// AsNative returns the native object held by v.
func (v Value) AsNative() *ObjNative { return v.ObjectPtr().AsNative() }

// AsClass returns the class object held by v.
func (v Value) AsClass() *ObjClass { return v.ObjectPtr().AsClass() }

// AsInstance returns the instance object held by v.
func (v Value) AsInstance() *ObjInstance { return v.ObjectPtr().AsInstance() }

// AsBoundMethod returns the bound method object held by v.
func (v Value) AsBoundMethod() *ObjBoundMethod { return v.ObjectPtr().AsBoundMethod() }
