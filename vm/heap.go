package vm

import (
	"unsafe"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("petrel.vm")

// RootSource supplies GC roots. The interpreter is always registered; the
// compiler registers itself for the duration of a compile so its in-progress
// functions survive collections triggered by its own allocations.
type RootSource interface {
	MarkRoots(h *Heap)
}

// HeapConfig carries the tunable GC knobs, normally loaded from petrel.toml.
type HeapConfig struct {
	// StressGC forces a full collection before every allocation.
	StressGC bool

	// TraceGC logs a summary of every collection pass.
	TraceGC bool

	// InitialGCThreshold is the live-byte count that triggers the first
	// collection, and the floor the threshold never shrinks below.
	InitialGCThreshold int
}

// DefaultGCThreshold is the initial collection trigger when no manifest
// overrides it.
const DefaultGCThreshold = 1024 * 1024

// Heap is the sole owner of every heap object. It creates them (tracking a
// byte budget), hands out non-owning references, and destroys them
// exclusively during sweep. Objects are threaded on an intrusive list
// through their headers.
type Heap struct {
	objects        *Obj
	bytesAllocated int
	nextGC         int

	// Intern set: every live ObjString, keyed by itself. The keys are weak;
	// unmarked entries are dropped after each trace phase.
	strings Table

	gray  []*Obj
	roots []RootSource

	config HeapConfig
}

// NewHeap creates an empty heap.
func NewHeap(config HeapConfig) *Heap {
	if config.InitialGCThreshold <= 0 {
		config.InitialGCThreshold = DefaultGCThreshold
	}
	return &Heap{
		nextGC: config.InitialGCThreshold,
		config: config,
	}
}

// AddRoots registers a root source for the mark phase.
func (h *Heap) AddRoots(rs RootSource) {
	h.roots = append(h.roots, rs)
}

// RemoveRoots unregisters a previously added root source.
func (h *Heap) RemoveRoots(rs RootSource) {
	for i, r := range h.roots {
		if r == rs {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// BytesAllocated returns the current live-byte count.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// Objects returns the head of the intrusive object list.
func (h *Heap) Objects() *Obj { return h.objects }

// StringCount returns the number of interned strings.
func (h *Heap) StringCount() int {
	n := 0
	for o := h.objects; o != nil; o = o.Next {
		if o.Type == ObjTypeString {
			n++
		}
	}
	return n
}

// prepare runs a collection if the stress flag is set or the pending
// allocation would exceed the threshold. It runs BEFORE the object is
// created and linked, so an in-flight, not-yet-reachable object can never
// be seen by a pass.
func (h *Heap) prepare(size int) {
	if h.config.StressGC || h.bytesAllocated+size > h.nextGC {
		h.Collect()
	}
}

// link threads a freshly constructed object onto the heap list and charges
// its size against the byte budget.
func (h *Heap) link(o *Obj, t ObjType, size int) {
	o.Type = t
	o.Next = h.objects
	o.size = size
	h.objects = o
	h.bytesAllocated += size
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// NewFunction allocates a blank function object.
func (h *Heap) NewFunction() *ObjFunction {
	size := int(unsafe.Sizeof(ObjFunction{}))
	h.prepare(size)
	fn := &ObjFunction{}
	h.link(&fn.Obj, ObjTypeFunction, size)
	return fn
}

// NewClosure allocates a closure over fn with room for its upvalues.
func (h *Heap) NewClosure(fn *ObjFunction) *ObjClosure {
	size := int(unsafe.Sizeof(ObjClosure{})) + fn.UpvalueCount*int(unsafe.Sizeof(uintptr(0)))
	h.prepare(size)
	closure := &ObjClosure{
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
	h.link(&closure.Obj, ObjTypeClosure, size)
	return closure
}

// NewUpvalue allocates an open upvalue pointing at a stack slot.
func (h *Heap) NewUpvalue(slot *Value) *ObjUpvalue {
	size := int(unsafe.Sizeof(ObjUpvalue{}))
	h.prepare(size)
	uv := &ObjUpvalue{
		Location: slot,
		Closed:   Nil,
	}
	h.link(&uv.Obj, ObjTypeUpvalue, size)
	return uv
}

// NewNative allocates a handle for a host-provided callable.
func (h *Heap) NewNative(fn NativeFn) *ObjNative {
	size := int(unsafe.Sizeof(ObjNative{}))
	h.prepare(size)
	native := &ObjNative{Function: fn}
	h.link(&native.Obj, ObjTypeNative, size)
	return native
}

// NewClass allocates a class with an empty method table.
func (h *Heap) NewClass(name *ObjString) *ObjClass {
	size := int(unsafe.Sizeof(ObjClass{}))
	h.prepare(size)
	class := &ObjClass{Name: name}
	h.link(&class.Obj, ObjTypeClass, size)
	return class
}

// NewInstance allocates an instance with an empty fields table.
func (h *Heap) NewInstance(class *ObjClass) *ObjInstance {
	size := int(unsafe.Sizeof(ObjInstance{}))
	h.prepare(size)
	instance := &ObjInstance{Class: class}
	h.link(&instance.Obj, ObjTypeInstance, size)
	return instance
}

// NewBoundMethod allocates a receiver/method pair.
func (h *Heap) NewBoundMethod(receiver Value, method *ObjClosure) *ObjBoundMethod {
	size := int(unsafe.Sizeof(ObjBoundMethod{}))
	h.prepare(size)
	bound := &ObjBoundMethod{Receiver: receiver, Method: method}
	h.link(&bound.Obj, ObjTypeBoundMethod, size)
	return bound
}

// ---------------------------------------------------------------------------
// String interning
// ---------------------------------------------------------------------------

// hashString computes the FNV-1a hash of s.
func hashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// CopyString interns chars, returning the existing string when one with the
// same content is already live. The heap holds at most one ObjString per
// distinct byte sequence.
func (h *Heap) CopyString(chars string) *ObjString {
	return h.intern(chars)
}

// TakeString interns chars, assuming the caller relinquishes its buffer.
// Go strings are immutable so this is operationally CopyString; both names
// are kept so call sites state their ownership intent.
func (h *Heap) TakeString(chars string) *ObjString {
	return h.intern(chars)
}

func (h *Heap) intern(chars string) *ObjString {
	hash := hashString(chars)
	if existing := h.strings.FindKey(chars, hash); existing != nil {
		return existing
	}

	size := int(unsafe.Sizeof(ObjString{})) + len(chars)
	h.prepare(size)
	s := &ObjString{Chars: chars, Hash: hash}
	h.link(&s.Obj, ObjTypeString, size)

	// The intern insert cannot itself allocate a heap object, so the new
	// string needs no temporary root here.
	h.strings.Set(s, Nil)
	return s
}
