package vm

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("opcode 0x%02x has no metadata", byte(op))
		}
	}
}

func TestUnknownOpcodeHasPlaceholderName(t *testing.T) {
	if got := Opcode(0xEE).String(); got != "UNKNOWN(0xEE)" {
		t.Errorf("String() = %q", got)
	}
}

func TestOperandLengths(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNil, 0},
		{OpConstant, 1},
		{OpGetLocal, 1},
		{OpJump, 2},
		{OpJumpIfFalse, 2},
		{OpLoop, 2},
		{OpInvoke, 2},
		{OpSuperInvoke, 2},
		{OpClosure, -1}, // variable-length payload
		{OpReturn, 0},
	}
	for _, tt := range tests {
		if got := tt.op.OperandLen(); got != tt.want {
			t.Errorf("%s operand length = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestChunkReadUint16IsBigEndian(t *testing.T) {
	var c Chunk
	c.Write(0x12, 1)
	c.Write(0x34, 1)
	if got := c.ReadUint16(0); got != 0x1234 {
		t.Errorf("ReadUint16 = 0x%04x, want 0x1234", got)
	}
}

func TestChunkConstantsAreAppendOnly(t *testing.T) {
	var c Chunk
	for i := 0; i < 10; i++ {
		if idx := c.AddConstant(FromNumber(float64(i))); idx != i {
			t.Errorf("AddConstant #%d returned index %d", i, idx)
		}
	}
}
