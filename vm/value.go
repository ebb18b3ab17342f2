package vm

import (
	"strconv"
	"unsafe"
)

// Value represents a Petrel value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-number values
// are encoded in the NaN (Not-a-Number) space using the quiet NaN prefix
// and tag bits to distinguish types.
//
// Encoding scheme:
//   - Number: Native IEEE 754 double (if not a tagged NaN, it's a number)
//   - Object: Quiet NaN + tagObject + 48-bit pointer to an object header
//   - Special: Quiet NaN + tagSpecial + special value ID (nil/true/false)
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	// 0x7FF8_0000_0000_0000
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for pointer/id
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position)
	tagObject  uint64 = 0x0001000000000000 // Heap object pointer
	tagSpecial uint64 = 0x0003000000000000 // nil, true, false
)

// Special value payloads
const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNumber returns true if v represents a float64 value.
// A value is a number if it's not one of our tagged NaN values.
// This includes regular numbers, infinities, and "real" NaN values.
func (v Value) IsNumber() bool {
	bits := uint64(v)

	// Exponent not all 1s: a regular float.
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}

	// Exponent all 1s with zero mantissa is an infinity.
	mantissa := bits & 0x000FFFFFFFFFFFFF
	if mantissa == 0 {
		return true
	}

	// A signaling NaN is still a number.
	if (bits & nanBits) != nanBits {
		return true
	}

	// A quiet NaN with no tag bits is a "real" NaN, also a number.
	if bits&tagMask == 0 {
		return true
	}

	return false
}

// IsObject returns true if v represents a heap object pointer.
func (v Value) IsObject() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagObject)
}

// IsNil returns true if v is the nil value.
func (v Value) IsNil() bool {
	return v == Nil
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// Number returns the float64 representation of v.
// Only valid if IsNumber() is true.
func (v Value) Number() float64 {
	return *(*float64)(unsafe.Pointer(&v))
}

// FromNumber creates a Value from a float64.
func FromNumber(f float64) Value {
	return *(*Value)(unsafe.Pointer(&f))
}

// ObjectPtr returns the object header pointer stored in v.
// Only valid if IsObject() is true.
func (v Value) ObjectPtr() *Obj {
	return (*Obj)(unsafe.Pointer(uintptr(uint64(v) & payloadMask)))
}

// FromObject creates a Value from an object header pointer.
func FromObject(o *Obj) Value {
	ptr := uintptr(unsafe.Pointer(o))
	return Value(nanBits | tagObject | (uint64(ptr) & payloadMask))
}

// Bool returns the boolean represented by v.
// Only valid if IsBool() is true.
func (v Value) Bool() bool {
	return v == True
}

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Semantics
// ---------------------------------------------------------------------------

// IsTruthy reports whether v is truthy: nil and false are falsey,
// everything else (including 0 and "") is truthy.
func (v Value) IsTruthy() bool {
	return v != Nil && v != False
}

// IsFalsey reports whether v is falsey.
func (v Value) IsFalsey() bool {
	return v == Nil || v == False
}

// Equals compares two values. Nil equals nil, booleans and numbers compare
// by value, objects compare by reference. Strings are interned, so reference
// comparison doubles as content comparison.
func (v Value) Equals(other Value) bool {
	if v.IsNumber() && other.IsNumber() {
		return v.Number() == other.Number()
	}
	return v == other
}

// String renders v the way the interpreter prints it.
func (v Value) String() string {
	switch {
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsObject():
		return v.ObjectPtr().String()
	default:
		return strconv.FormatFloat(v.Number(), 'g', -1, 64)
	}
}
