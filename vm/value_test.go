package vm

import (
	"math"
	"testing"
)

func TestValueNumberRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 0.5, 1e100, -1e-100, 3.141592653589793, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := FromNumber(f)
		if !v.IsNumber() {
			t.Errorf("FromNumber(%v) not recognized as number", f)
		}
		if v.Number() != f {
			t.Errorf("round trip of %v gave %v", f, v.Number())
		}
	}
}

func TestValueNaNIsStillANumber(t *testing.T) {
	v := FromNumber(math.NaN())
	if !v.IsNumber() {
		t.Error("NaN should be a number")
	}
	if v.IsObject() || v.IsNil() || v.IsBool() {
		t.Error("NaN misclassified as a tagged value")
	}
}

func TestValueSpecials(t *testing.T) {
	if !Nil.IsNil() || Nil.IsBool() || Nil.IsNumber() || Nil.IsObject() {
		t.Error("nil misclassified")
	}
	if !True.IsBool() || !False.IsBool() {
		t.Error("booleans misclassified")
	}
	if !True.Bool() || False.Bool() {
		t.Error("boolean payloads wrong")
	}
}

func TestValueObjectRoundTrip(t *testing.T) {
	h := NewHeap(HeapConfig{})
	s := h.CopyString("widget")

	v := FromObject(&s.Obj)
	if !v.IsObject() {
		t.Fatal("object value not recognized")
	}
	if v.ObjectPtr() != &s.Obj {
		t.Error("object pointer did not survive the round trip")
	}
	if !v.IsString() || v.AsString() != s {
		t.Error("object type accessors broken")
	}
}

func TestTruthiness(t *testing.T) {
	h := NewHeap(HeapConfig{})
	tests := []struct {
		value  Value
		truthy bool
	}{
		{Nil, false},
		{False, false},
		{True, true},
		{FromNumber(0), true}, // zero is truthy
		{FromNumber(1), true},
		{FromObject(&h.CopyString("").Obj), true}, // so is the empty string
	}
	for _, tt := range tests {
		if tt.value.IsTruthy() != tt.truthy {
			t.Errorf("IsTruthy(%s) = %v, want %v", tt.value, tt.value.IsTruthy(), tt.truthy)
		}
		if tt.value.IsFalsey() == tt.truthy {
			t.Errorf("IsFalsey(%s) inconsistent with IsTruthy", tt.value)
		}
	}
}

func TestValueEquality(t *testing.T) {
	h := NewHeap(HeapConfig{})
	a := FromObject(&h.CopyString("abc").Obj)
	b := FromObject(&h.CopyString("abc").Obj) // interned: same object
	c := FromObject(&h.CopyString("abd").Obj)

	tests := []struct {
		name  string
		x, y  Value
		equal bool
	}{
		{"nil equals nil", Nil, Nil, true},
		{"true equals true", True, True, true},
		{"true not false", True, False, false},
		{"numbers by value", FromNumber(42), FromNumber(42), true},
		{"distinct numbers", FromNumber(42), FromNumber(43), false},
		{"zero and negative zero", FromNumber(0), FromNumber(math.Copysign(0, -1)), true},
		{"interned strings", a, b, true},
		{"distinct strings", a, c, false},
		{"number not nil", FromNumber(0), Nil, false},
		{"bool not number", True, FromNumber(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.x.Equals(tt.y) != tt.equal {
				t.Errorf("Equals(%s, %s) = %v, want %v", tt.x, tt.y, !tt.equal, tt.equal)
			}
		})
	}
}

func TestValuePrinting(t *testing.T) {
	h := NewHeap(HeapConfig{})
	fn := h.NewFunction()
	fn.Name = h.CopyString("riddle")

	tests := []struct {
		value Value
		want  string
	}{
		{Nil, "nil"},
		{True, "true"},
		{False, "false"},
		{FromNumber(7), "7"},
		{FromNumber(2.5), "2.5"},
		{FromNumber(-0.25), "-0.25"},
		{FromObject(&h.CopyString("hi").Obj), "hi"},
		{FromObject(&fn.Obj), "<fn riddle>"},
		{FromObject(&h.NewNative(func(int, []Value) Value { return Nil }).Obj), "<native fn>"},
	}
	for _, tt := range tests {
		if got := tt.value.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestScriptFunctionPrintsAsScript(t *testing.T) {
	h := NewHeap(HeapConfig{})
	fn := h.NewFunction()
	if got := FromObject(&fn.Obj).String(); got != "<script>" {
		t.Errorf("unnamed function prints as %q, want \"<script>\"", got)
	}
}
