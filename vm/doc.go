// Package vm provides a stack-based virtual machine for executing Petrel
// programs, together with the value model, the object heap, and the
// garbage collector the whole interpreter is built on.
//
// # Architecture Overview
//
// The package is the leaf of the interpreter: the compiler package emits
// into its chunks and allocates from its heap, and the CLI wires the two
// together through VM.UseCompiler.
//
//   - Value: NaN-boxed 64-bit values. Numbers are raw IEEE 754 doubles;
//     nil, true, false, and heap pointers live in the quiet-NaN space
//     behind tag bits.
//
//   - Obj and its variants: every heap object embeds a shared header (type
//     tag, mark bit, intrusive next pointer) as its first field, so header
//     pointers convert to concrete types and back.
//
//   - Heap: the sole owner of every object. Allocation is the only point
//     that can trigger a collection, and the collection runs before the
//     new object exists, so an in-flight object can never be swept.
//     Strings are interned; the intern set is weak.
//
//   - Table: open-addressed hash table with interned-string keys, used for
//     globals, class method tables, instance fields, and the intern set
//     itself.
//
//   - Chunk: one function's compiled body. Code bytes, constant pool, and
//     a parallel line table; jump operands are big-endian 16-bit.
//
//   - VM: the dispatch loop. Owns the value stack, the call frames, the
//     open-upvalue list, and the globals, and is a permanent root source
//     for its heap.
//
// # Allocation Discipline
//
// Between building a heap object and storing a reference where the
// collector can see it, no further allocation may occur - or the object
// must first be pushed onto the value stack to make it a root. The
// dispatch loop follows this rule everywhere it allocates; violating it
// produces use-after-free under GC stress.
package vm
