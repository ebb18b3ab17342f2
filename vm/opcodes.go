package vm

import "fmt"

// Opcode represents a bytecode instruction.
type Opcode byte

const (
	// Constants and literals
	OpConstant Opcode = iota // Push constant from pool: OpConstant <index:u8>
	OpNil                    // Push nil
	OpTrue                   // Push true
	OpFalse                  // Push false

	// Stack manipulation
	OpPop // Drop top of stack

	// Variable access
	OpGetLocal     // Push frame slot: OpGetLocal <slot:u8>
	OpSetLocal     // Write frame slot, leave value on stack: OpSetLocal <slot:u8>
	OpGetGlobal    // Push global: OpGetGlobal <name:u8>
	OpDefineGlobal // Define global from top of stack: OpDefineGlobal <name:u8>
	OpSetGlobal    // Assign existing global: OpSetGlobal <name:u8>
	OpGetUpvalue   // Push through upvalue: OpGetUpvalue <slot:u8>
	OpSetUpvalue   // Write through upvalue: OpSetUpvalue <slot:u8>

	// Properties
	OpGetProperty // Instance field or bound method: OpGetProperty <name:u8>
	OpSetProperty // Write instance field: OpSetProperty <name:u8>
	OpGetSuper    // Bind superclass method: OpGetSuper <name:u8>

	// Operators
	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate

	// Statements
	OpPrint

	// Control flow (16-bit big-endian operands)
	OpJump        // ip += offset: OpJump <offset:u16>
	OpJumpIfFalse // ip += offset if top is falsey (top NOT popped): OpJumpIfFalse <offset:u16>
	OpLoop        // ip -= offset: OpLoop <offset:u16>

	// Calls
	OpCall        // Call stack top: OpCall <argc:u8>
	OpInvoke      // Fused property call: OpInvoke <name:u8> <argc:u8>
	OpSuperInvoke // Fused super call: OpSuperInvoke <name:u8> <argc:u8>

	// Closures
	OpClosure      // Wrap function constant: OpClosure <fn:u8> (<isLocal:u8> <index:u8>)*
	OpCloseUpvalue // Close upvalue for the top stack slot, then pop

	OpReturn

	// Classes
	OpClass   // Push a fresh class: OpClass <name:u8>
	OpInherit // [super, sub] -> copy methods, pop sub
	OpMethod  // [class, method] -> install, pop method: OpMethod <name:u8>
)

// OpcodeInfo provides metadata about each opcode for disassembly and
// validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	OperandLen int    // Number of operand bytes following the opcode (-1 = variable)
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpConstant:     {"CONSTANT", 1},
	OpNil:          {"NIL", 0},
	OpTrue:         {"TRUE", 0},
	OpFalse:        {"FALSE", 0},
	OpPop:          {"POP", 0},
	OpGetLocal:     {"GET_LOCAL", 1},
	OpSetLocal:     {"SET_LOCAL", 1},
	OpGetGlobal:    {"GET_GLOBAL", 1},
	OpDefineGlobal: {"DEFINE_GLOBAL", 1},
	OpSetGlobal:    {"SET_GLOBAL", 1},
	OpGetUpvalue:   {"GET_UPVALUE", 1},
	OpSetUpvalue:   {"SET_UPVALUE", 1},
	OpGetProperty:  {"GET_PROPERTY", 1},
	OpSetProperty:  {"SET_PROPERTY", 1},
	OpGetSuper:     {"GET_SUPER", 1},
	OpEqual:        {"EQUAL", 0},
	OpGreater:      {"GREATER", 0},
	OpLess:         {"LESS", 0},
	OpAdd:          {"ADD", 0},
	OpSubtract:     {"SUBTRACT", 0},
	OpMultiply:     {"MULTIPLY", 0},
	OpDivide:       {"DIVIDE", 0},
	OpNot:          {"NOT", 0},
	OpNegate:       {"NEGATE", 0},
	OpPrint:        {"PRINT", 0},
	OpJump:         {"JUMP", 2},
	OpJumpIfFalse:  {"JUMP_IF_FALSE", 2},
	OpLoop:         {"LOOP", 2},
	OpCall:         {"CALL", 1},
	OpInvoke:       {"INVOKE", 2},
	OpSuperInvoke:  {"SUPER_INVOKE", 2},
	OpClosure:      {"CLOSURE", -1},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 0},
	OpReturn:       {"RETURN", 0},
	OpClass:        {"CLASS", 1},
	OpInherit:      {"INHERIT", 0},
	OpMethod:       {"METHOD", 1},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a placeholder for unrecognized opcodes.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode, or -1
// when the length depends on the instruction (OpClosure).
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// AllOpcodes returns a slice of all defined opcodes, for metadata tests.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
