// Package compiler is the Petrel front end: a single-pass Pratt parser that
// consumes tokens straight from the scanner and emits bytecode into each
// function's chunk as it goes. There is no AST; forward jumps are emitted
// with placeholder offsets and patched once the target is known.
package compiler

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chazu/petrel/vm"
)

const (
	// maxLocals is the number of local slots per function, including the
	// reserved slot 0.
	maxLocals = 256

	// maxUpvalues is the number of distinct captured variables per function.
	maxUpvalues = 256

	// maxConstants is the constant pool cap imposed by 8-bit indices.
	maxConstants = 256

	// maxArity caps parameters and call arguments.
	maxArity = 255

	// uninitializedDepth marks a declared local whose initializer has not
	// finished; referencing it is an error.
	uninitializedDepth = -1

	// errorContextLength bounds the source snippet echoed after an error.
	errorContextLength = 80
)

// funcKind distinguishes how a function body terminates and what slot 0
// holds.
type funcKind int

const (
	kindFunction funcKind = iota
	kindInitializer
	kindMethod
	kindScript
)

type local struct {
	name       Token
	depth      int
	isCaptured bool
}

type upvalueDesc struct {
	index   uint8
	isLocal bool
}

// Compiler tracks one function body under compilation. Nested function
// declarations push a new Compiler, forming a stack through enclosing.
type Compiler struct {
	enclosing *Compiler
	function  *vm.ObjFunction
	kind      funcKind

	locals     [maxLocals]local
	localCount int
	scopeDepth int

	upvalues [maxUpvalues]upvalueDesc
}

// classCompiler forms a parallel stack tracking whether compilation is
// inside a class body, which is what makes `this` and `super` legal.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// parser drives the scanner and owns the compiler stacks plus error state.
type parser struct {
	scanner *Scanner
	source  string
	heap    *vm.Heap

	current  Token
	previous Token

	hadError  bool
	panicMode bool

	compiler *Compiler
	class    *classCompiler

	stderr io.Writer
}

// Compile turns source into a top-level script function, or nil if any
// error was reported. Errors go to os.Stderr. The signature matches
// vm.CompileFn.
func Compile(source string, heap *vm.Heap) *vm.ObjFunction {
	return CompileTo(source, heap, os.Stderr)
}

// CompileTo is Compile with an explicit error writer.
func CompileTo(source string, heap *vm.Heap, stderr io.Writer) *vm.ObjFunction {
	p := &parser{
		scanner: NewScanner(source),
		source:  source,
		heap:    heap,
		stderr:  stderr,
	}

	// The compiler stack is a GC root source for the duration of the
	// compile: allocating a string or function here may collect, and the
	// in-progress functions must survive.
	heap.AddRoots(p)
	defer heap.RemoveRoots(p)

	var root Compiler
	p.initCompiler(&root, kindScript)

	p.advance()
	for !p.match(TokenEOF) {
		p.declaration()
	}

	fn := p.endCompiler()
	if p.hadError {
		return nil
	}
	return fn
}

// MarkRoots grays every in-progress function on the compiler stack.
func (p *parser) MarkRoots(h *vm.Heap) {
	for c := p.compiler; c != nil; c = c.enclosing {
		h.MarkObject(&c.function.Obj)
	}
}

// ---------------------------------------------------------------------------
// Compiler stack
// ---------------------------------------------------------------------------

func (p *parser) initCompiler(c *Compiler, kind funcKind) {
	c.enclosing = p.compiler
	c.kind = kind
	c.function = p.heap.NewFunction()
	p.compiler = c

	// Named after the compiler is on the stack, so the function survives a
	// collection triggered by the name allocation.
	if kind != kindScript {
		c.function.Name = p.heap.CopyString(p.previous.Lexeme)
	}

	// Slot 0 is reserved: it holds the called closure, or the receiver for
	// methods and initializers, where naming it `this` makes the receiver
	// resolve like an ordinary local.
	slot := &c.locals[c.localCount]
	c.localCount++
	slot.depth = 0
	slot.isCaptured = false
	if kind == kindMethod || kind == kindInitializer {
		slot.name = Token{Type: TokenIdentifier, Lexeme: "this"}
	} else {
		slot.name = Token{Type: TokenIdentifier, Lexeme: ""}
	}
}

func (p *parser) endCompiler() *vm.ObjFunction {
	p.emitReturn()
	fn := p.compiler.function
	p.compiler = p.compiler.enclosing
	return fn
}

func (p *parser) currentChunk() *vm.Chunk {
	return &p.compiler.function.Chunk
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

// errorAt reports an error at the given token with a short trailing-context
// snippet, then latches panic mode so cascades are suppressed until the
// parser synchronizes.
func (p *parser) errorAt(token Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true

	fmt.Fprintf(p.stderr, "[line %d] Error", token.Line)
	switch token.Type {
	case TokenEOF:
		fmt.Fprint(p.stderr, " at the end")
	case TokenError:
		// The lexeme is the scanner's message, not source text.
	default:
		fmt.Fprintf(p.stderr, " at %s", token.Lexeme)
	}
	fmt.Fprintf(p.stderr, ": %s\n", message)

	// Echo the source following the error to orient the reader.
	end := token.Start + len(token.Lexeme) + errorContextLength
	if token.Type == TokenError {
		end = token.Start + errorContextLength
	}
	if end > len(p.source) {
		end = len(p.source)
	}
	if token.Start < len(p.source) {
		fmt.Fprintf(p.stderr, "Context following error:\n    %s\n", p.source[token.Start:end])
	}

	p.hadError = true
}

func (p *parser) error(message string) {
	p.errorAt(p.previous, message)
}

func (p *parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

// synchronize discards tokens until a plausible statement boundary, ending
// panic mode.
func (p *parser) synchronize() {
	p.panicMode = false

	for p.current.Type != TokenEOF {
		if p.previous.Type == TokenSemicolon {
			return
		}
		switch p.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor,
			TokenIf, TokenWhile, TokenPrint, TokenReturn:
			return
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------------
// Token stream
// ---------------------------------------------------------------------------

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.ScanToken()
		if p.current.Type != TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *parser) consume(t TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parser) check(t TokenType) bool {
	return p.current.Type == t
}

func (p *parser) match(t TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (p *parser) emitByte(b byte) {
	p.currentChunk().Write(b, p.previous.Line)
}

func (p *parser) emitOp(op vm.Opcode) {
	p.emitByte(byte(op))
}

func (p *parser) emitOps(op vm.Opcode, operand byte) {
	p.emitOp(op)
	p.emitByte(operand)
}

// emitReturn ends a function body. Initializers implicitly return the
// receiver in slot 0; everything else returns nil.
func (p *parser) emitReturn() {
	if p.compiler.kind == kindInitializer {
		p.emitOps(vm.OpGetLocal, 0)
	} else {
		p.emitOp(vm.OpNil)
	}
	p.emitOp(vm.OpReturn)
}

func (p *parser) makeConstant(value vm.Value) byte {
	chunk := p.currentChunk()
	if len(chunk.Constants) >= maxConstants {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(chunk.AddConstant(value))
}

func (p *parser) emitConstant(value vm.Value) {
	p.emitOps(vm.OpConstant, p.makeConstant(value))
}

// emitJump writes a forward jump with a 16-bit placeholder and returns the
// placeholder's offset for patchJump.
func (p *parser) emitJump(op vm.Opcode) int {
	p.emitOp(op)
	p.emitByte(0xFF)
	p.emitByte(0xFF)
	return len(p.currentChunk().Code) - 2
}

// patchJump back-fills a placeholder with the distance from the operand to
// the current end of code.
func (p *parser) patchJump(offset int) {
	chunk := p.currentChunk()
	jump := len(chunk.Code) - offset - 2
	if jump > 0xFFFF {
		p.error("Too much code to jump over.")
	}
	chunk.Code[offset] = byte(jump >> 8)
	chunk.Code[offset+1] = byte(jump)
}

// emitLoop writes a backward jump to loopStart.
func (p *parser) emitLoop(loopStart int) {
	p.emitOp(vm.OpLoop)
	offset := len(p.currentChunk().Code) - loopStart + 2
	if offset > 0xFFFF {
		p.error("Loop body is too large.")
	}
	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

// ---------------------------------------------------------------------------
// Pratt table
// ---------------------------------------------------------------------------

type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(p *parser, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules [tokenTypeCount]parseRule

// The table refers to methods that refer back to the table, so it is built
// in init.
func init() {
	rules[TokenLeftParen] = parseRule{(*parser).grouping, (*parser).call, precCall}
	rules[TokenDot] = parseRule{nil, (*parser).dot, precCall}
	rules[TokenMinus] = parseRule{(*parser).unary, (*parser).binary, precTerm}
	rules[TokenPlus] = parseRule{nil, (*parser).binary, precTerm}
	rules[TokenSlash] = parseRule{nil, (*parser).binary, precFactor}
	rules[TokenStar] = parseRule{nil, (*parser).binary, precFactor}
	rules[TokenBang] = parseRule{(*parser).unary, nil, precNone}
	rules[TokenBangEqual] = parseRule{nil, (*parser).binary, precEquality}
	rules[TokenEqualEqual] = parseRule{nil, (*parser).binary, precEquality}
	rules[TokenGreater] = parseRule{nil, (*parser).binary, precComparison}
	rules[TokenGreaterEqual] = parseRule{nil, (*parser).binary, precComparison}
	rules[TokenLess] = parseRule{nil, (*parser).binary, precComparison}
	rules[TokenLessEqual] = parseRule{nil, (*parser).binary, precComparison}
	rules[TokenIdentifier] = parseRule{(*parser).variable, nil, precNone}
	rules[TokenString] = parseRule{(*parser).stringLiteral, nil, precNone}
	rules[TokenNumber] = parseRule{(*parser).number, nil, precNone}
	rules[TokenAnd] = parseRule{nil, (*parser).and, precAnd}
	rules[TokenOr] = parseRule{nil, (*parser).or, precOr}
	rules[TokenFalse] = parseRule{(*parser).literal, nil, precNone}
	rules[TokenNil] = parseRule{(*parser).literal, nil, precNone}
	rules[TokenTrue] = parseRule{(*parser).literal, nil, precNone}
	rules[TokenSuper] = parseRule{(*parser).superExpr, nil, precNone}
	rules[TokenThis] = parseRule{(*parser).thisExpr, nil, precNone}
}

func getRule(t TokenType) *parseRule {
	return &rules[t]
}

// parsePrecedence parses everything at the given precedence or tighter: the
// prefix rule for the current token, then infix rules while they bind at
// least as tightly.
func (p *parser) parsePrecedence(prec precedence) {
	p.advance()
	prefix := getRule(p.previous.Type).prefix
	if prefix == nil {
		p.error("Expected an expression.")
		return
	}

	// Only a left-hand side parsed at assignment precedence may consume a
	// trailing `=`.
	canAssign := prec <= precAssignment
	prefix(p, canAssign)

	for prec <= getRule(p.current.Type).prec {
		p.advance()
		getRule(p.previous.Type).infix(p, canAssign)
	}

	// No prefix rule consumed the `=`, so the target cannot be assigned to.
	if canAssign && p.match(TokenEqual) {
		p.error("Invalid assignment target.")
	}
}

func (p *parser) expression() {
	p.parsePrecedence(precAssignment)
}

// ---------------------------------------------------------------------------
// Variables and scope
// ---------------------------------------------------------------------------

func (p *parser) identifierConstant(name Token) byte {
	return p.makeConstant(vm.FromObject(&p.heap.CopyString(name.Lexeme).Obj))
}

func identifiersEqual(a, b Token) bool {
	return a.Lexeme == b.Lexeme
}

func (p *parser) addLocal(name Token) {
	if p.compiler.localCount == maxLocals {
		p.error("Too many local variables in function.")
		return
	}
	slot := &p.compiler.locals[p.compiler.localCount]
	p.compiler.localCount++
	slot.name = name
	slot.depth = uninitializedDepth
	slot.isCaptured = false
}

// declareVariable records a local in the current scope, rejecting a name
// already declared at the same depth. Globals are late-bound and skip this.
func (p *parser) declareVariable() {
	if p.compiler.scopeDepth == 0 {
		return
	}

	name := p.previous
	for i := p.compiler.localCount - 1; i >= 0; i-- {
		l := &p.compiler.locals[i]
		if l.depth != uninitializedDepth && l.depth < p.compiler.scopeDepth {
			break
		}
		if identifiersEqual(name, l.name) {
			p.error("Variable with duplicate name")
		}
	}
	p.addLocal(name)
}

// parseVariable consumes an identifier and returns its constant index, or 0
// for locals, which are addressed by slot instead.
func (p *parser) parseVariable(errorMessage string) byte {
	p.consume(TokenIdentifier, errorMessage)

	p.declareVariable()
	if p.compiler.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous)
}

func (p *parser) markInitialized() {
	if p.compiler.scopeDepth == 0 {
		return
	}
	p.compiler.locals[p.compiler.localCount-1].depth = p.compiler.scopeDepth
}

func (p *parser) defineVariable(global byte) {
	if p.compiler.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOps(vm.OpDefineGlobal, global)
}

// resolveLocal searches a compiler's locals top-down for a use of name.
func (p *parser) resolveLocal(c *Compiler, name Token) int {
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if identifiersEqual(name, l.name) {
			if l.depth == uninitializedDepth {
				p.error("Cannot reference a local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// addUpvalue registers a captured variable, reusing an existing entry for
// the same (index, isLocal) pair.
func (p *parser) addUpvalue(c *Compiler, index uint8, isLocal bool) int {
	count := c.function.UpvalueCount
	for i := 0; i < count; i++ {
		uv := &c.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}

	if count == maxUpvalues {
		p.error("Too many closure variables in function.")
		return 0
	}

	c.upvalues[count] = upvalueDesc{index: index, isLocal: isLocal}
	c.function.UpvalueCount++
	return count
}

// resolveUpvalue looks for name in the enclosing compilers: first as a
// local (marking it captured), then recursively as an upvalue of the
// enclosing function.
func (p *parser) resolveUpvalue(c *Compiler, name Token) int {
	if c.enclosing == nil {
		return -1
	}

	if localSlot := p.resolveLocal(c.enclosing, name); localSlot != -1 {
		c.enclosing.locals[localSlot].isCaptured = true
		return p.addUpvalue(c, uint8(localSlot), true)
	}

	if upvalueSlot := p.resolveUpvalue(c.enclosing, name); upvalueSlot != -1 {
		return p.addUpvalue(c, uint8(upvalueSlot), false)
	}

	return -1
}

// namedVariable emits a load or, with a trailing `=` at assignment
// precedence, a store: local, upvalue, or global, in that resolution order.
func (p *parser) namedVariable(name Token, canAssign bool) {
	var getOp, setOp vm.Opcode
	arg := p.resolveLocal(p.compiler, name)
	switch {
	case arg != -1:
		getOp = vm.OpGetLocal
		setOp = vm.OpSetLocal
	default:
		if arg = p.resolveUpvalue(p.compiler, name); arg != -1 {
			getOp = vm.OpGetUpvalue
			setOp = vm.OpSetUpvalue
		} else {
			arg = int(p.identifierConstant(name))
			getOp = vm.OpGetGlobal
			setOp = vm.OpSetGlobal
		}
	}

	if canAssign && p.match(TokenEqual) {
		p.expression()
		p.emitOps(setOp, byte(arg))
	} else {
		p.emitOps(getOp, byte(arg))
	}
}

func (p *parser) beginScope() {
	p.compiler.scopeDepth++
}

// endScope discards the scope's locals, closing the ones that were
// captured.
func (p *parser) endScope() {
	p.compiler.scopeDepth--
	c := p.compiler
	for c.localCount > 0 && c.locals[c.localCount-1].depth > c.scopeDepth {
		if c.locals[c.localCount-1].isCaptured {
			p.emitOp(vm.OpCloseUpvalue)
		} else {
			p.emitOp(vm.OpPop)
		}
		c.localCount--
	}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (p *parser) declaration() {
	switch {
	case p.match(TokenClass):
		p.classDeclaration()
	case p.match(TokenFun):
		p.funDeclaration()
	case p.match(TokenVar):
		p.varDeclaration()
	default:
		p.statement()
	}

	if p.panicMode {
		p.synchronize()
	}
}

func (p *parser) varDeclaration() {
	global := p.parseVariable("Expected a variable name.")

	if p.match(TokenEqual) {
		p.expression()
	} else {
		p.emitOp(vm.OpNil)
	}
	p.consume(TokenSemicolon, "Expected a ';' after a variable declaration.")

	p.defineVariable(global)
}

func (p *parser) funDeclaration() {
	global := p.parseVariable("Expected a function name.")
	// A function may refer to itself; it is initialized before its body.
	p.markInitialized()
	p.function(kindFunction)
	p.defineVariable(global)
}

// function compiles a parameter list and body in a fresh compiler, then
// emits the closure with its upvalue transfer list in the enclosing chunk.
func (p *parser) function(kind funcKind) {
	var c Compiler
	p.initCompiler(&c, kind)
	p.beginScope()

	p.consume(TokenLeftParen, "Expected `(` after function name.")
	if !p.check(TokenRightParen) {
		for {
			p.compiler.function.Arity++
			if p.compiler.function.Arity > maxArity {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := p.parseVariable("Expected parameter name.")
			p.defineVariable(constant)
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.consume(TokenRightParen, "Expected `)` after function parameters.")
	p.consume(TokenLeftBrace, "Expected `{` after function parameter list.")
	p.block()

	fn := p.endCompiler()
	p.emitOps(vm.OpClosure, p.makeConstant(vm.FromObject(&fn.Obj)))

	// The variable-length payload: one (isLocal, index) pair per upvalue,
	// in registration order.
	for i := 0; i < fn.UpvalueCount; i++ {
		if c.upvalues[i].isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(c.upvalues[i].index)
	}
}

func (p *parser) method() {
	p.consume(TokenIdentifier, "Expected a method name.")
	constant := p.identifierConstant(p.previous)

	kind := kindMethod
	if p.previous.Lexeme == "init" {
		kind = kindInitializer
	}
	p.function(kind)
	p.emitOps(vm.OpMethod, constant)
}

func (p *parser) classDeclaration() {
	p.consume(TokenIdentifier, "Expected a class name.")
	className := p.previous
	nameConstant := p.identifierConstant(p.previous)
	p.declareVariable()

	p.emitOps(vm.OpClass, nameConstant)
	p.defineVariable(nameConstant)

	cc := classCompiler{enclosing: p.class}
	p.class = &cc

	if p.match(TokenLess) {
		p.consume(TokenIdentifier, "Expected a superclass name.")
		p.variable(false)

		if identifiersEqual(className, p.previous) {
			p.error("A class cannot inherit from itself.")
		}

		// The superclass lives in a hidden scope local named `super`, so
		// methods close over it like any other variable.
		p.beginScope()
		p.addLocal(Token{Type: TokenIdentifier, Lexeme: "super"})
		p.defineVariable(0)

		p.namedVariable(className, false)
		p.emitOp(vm.OpInherit)
		cc.hasSuperclass = true
	}

	p.namedVariable(className, false)
	p.consume(TokenLeftBrace, "Expected an opening brace.")
	for !p.check(TokenRightBrace) && !p.check(TokenEOF) {
		p.method()
	}
	p.consume(TokenRightBrace, "Expected a closing brace.")
	p.emitOp(vm.OpPop)

	if cc.hasSuperclass {
		p.endScope()
	}
	p.class = p.class.enclosing
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *parser) statement() {
	switch {
	case p.match(TokenPrint):
		p.printStatement()
	case p.match(TokenFor):
		p.forStatement()
	case p.match(TokenIf):
		p.ifStatement()
	case p.match(TokenReturn):
		p.returnStatement()
	case p.match(TokenWhile):
		p.whileStatement()
	case p.match(TokenLeftBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *parser) block() {
	for !p.check(TokenRightBrace) && !p.check(TokenEOF) {
		p.declaration()
	}
	p.consume(TokenRightBrace, "Expected '}' to terminate block.")
}

func (p *parser) printStatement() {
	p.expression()
	p.consume(TokenSemicolon, "Expected a ';' after print statement.")
	p.emitOp(vm.OpPrint)
}

func (p *parser) expressionStatement() {
	p.expression()
	p.consume(TokenSemicolon, "Expected a ';' after expression.")
	p.emitOp(vm.OpPop)
}

func (p *parser) ifStatement() {
	p.consume(TokenLeftParen, "Expected a '(' after `if`.")
	p.expression()
	p.consume(TokenRightParen, "Expected a ')' after `if` condition.")

	thenJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.statement()
	elseJump := p.emitJump(vm.OpJump)

	p.patchJump(thenJump)
	p.emitOp(vm.OpPop)

	if p.match(TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *parser) whileStatement() {
	loopStart := len(p.currentChunk().Code)
	p.consume(TokenLeftParen, "Expected '(' after while.")
	p.expression()
	p.consume(TokenRightParen, "Expected ')' after while condition.")

	exitJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(vm.OpPop)
}

// forStatement compiles in one pass, so the increment clause is emitted
// before the body with a jump that skips it on the first iteration.
func (p *parser) forStatement() {
	p.beginScope()
	p.consume(TokenLeftParen, "Expected '(' after `for`.")

	// Initializer clause
	switch {
	case p.match(TokenSemicolon):
		// No initializer.
	case p.match(TokenVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := len(p.currentChunk().Code)

	// Condition clause
	exitJump := -1
	if !p.match(TokenSemicolon) {
		p.expression()
		p.consume(TokenSemicolon, "Expected ';' after condition.")
		exitJump = p.emitJump(vm.OpJumpIfFalse)
		p.emitOp(vm.OpPop)
	}

	// Increment clause
	if !p.match(TokenRightParen) {
		bodyJump := p.emitJump(vm.OpJump)
		incrementStart := len(p.currentChunk().Code)
		p.expression()
		p.emitOp(vm.OpPop)
		p.consume(TokenRightParen, "Expected ')' after `for` clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(vm.OpPop)
	}
	p.endScope()
}

func (p *parser) returnStatement() {
	if p.compiler.kind == kindScript {
		p.error("Cannot return from top-level code.")
	}

	if p.match(TokenSemicolon) {
		p.emitReturn()
		return
	}

	if p.compiler.kind == kindInitializer {
		p.error("Cannot return from an initializer.")
	}
	p.expression()
	p.consume(TokenSemicolon, "Expected ';' after return expression.")
	p.emitOp(vm.OpReturn)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *parser) grouping(canAssign bool) {
	p.expression()
	p.consume(TokenRightParen, "Expected ')' after expression.")
}

func (p *parser) number(canAssign bool) {
	value, _ := strconv.ParseFloat(p.previous.Lexeme, 64)
	p.emitConstant(vm.FromNumber(value))
}

// stringLiteral interns the literal's content, trimming the surrounding
// quotes still present in the lexeme.
func (p *parser) stringLiteral(canAssign bool) {
	lexeme := p.previous.Lexeme
	s := p.heap.CopyString(lexeme[1 : len(lexeme)-1])
	p.emitConstant(vm.FromObject(&s.Obj))
}

func (p *parser) literal(canAssign bool) {
	switch p.previous.Type {
	case TokenFalse:
		p.emitOp(vm.OpFalse)
	case TokenNil:
		p.emitOp(vm.OpNil)
	case TokenTrue:
		p.emitOp(vm.OpTrue)
	}
}

func (p *parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

func (p *parser) unary(canAssign bool) {
	op := p.previous.Type
	p.parsePrecedence(precUnary)

	switch op {
	case TokenMinus:
		p.emitOp(vm.OpNegate)
	case TokenBang:
		p.emitOp(vm.OpNot)
	}
}

// binary dispatches at one level tighter than its own precedence, which is
// what makes binary operators left-associative.
func (p *parser) binary(canAssign bool) {
	op := p.previous.Type
	rule := getRule(op)
	p.parsePrecedence(rule.prec + 1)

	switch op {
	case TokenBangEqual:
		p.emitOp(vm.OpEqual)
		p.emitOp(vm.OpNot)
	case TokenEqualEqual:
		p.emitOp(vm.OpEqual)
	case TokenGreater:
		p.emitOp(vm.OpGreater)
	case TokenGreaterEqual:
		p.emitOp(vm.OpLess)
		p.emitOp(vm.OpNot)
	case TokenLess:
		p.emitOp(vm.OpLess)
	case TokenLessEqual:
		p.emitOp(vm.OpGreater)
		p.emitOp(vm.OpNot)
	case TokenPlus:
		p.emitOp(vm.OpAdd)
	case TokenMinus:
		p.emitOp(vm.OpSubtract)
	case TokenStar:
		p.emitOp(vm.OpMultiply)
	case TokenSlash:
		p.emitOp(vm.OpDivide)
	}
}

// and short-circuits: if the left operand is falsey it is the result and
// the right operand is skipped; otherwise the left is popped.
func (p *parser) and(canAssign bool) {
	endJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.parsePrecedence(precAnd)
	p.patchJump(endJump)
}

// or short-circuits: a truthy left operand jumps over the right.
func (p *parser) or(canAssign bool) {
	elseJump := p.emitJump(vm.OpJumpIfFalse)
	endJump := p.emitJump(vm.OpJump)

	p.patchJump(elseJump)
	p.emitOp(vm.OpPop)
	p.parsePrecedence(precOr)
	p.patchJump(endJump)
}

func (p *parser) argumentList() byte {
	var count int
	if !p.check(TokenRightParen) {
		for {
			p.expression()
			if count == maxArity {
				p.error("Can't have more than 255 arguments.")
			}
			count++
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.consume(TokenRightParen, "Expected ')' after argument list.")
	return byte(count)
}

func (p *parser) call(canAssign bool) {
	argCount := p.argumentList()
	p.emitOps(vm.OpCall, argCount)
}

// dot handles property access, assignment, and the fused method-call form.
func (p *parser) dot(canAssign bool) {
	p.consume(TokenIdentifier, "Expected an identifier after '.'")
	name := p.identifierConstant(p.previous)

	switch {
	case canAssign && p.match(TokenEqual):
		p.expression()
		p.emitOps(vm.OpSetProperty, name)
	case p.match(TokenLeftParen):
		argCount := p.argumentList()
		p.emitOps(vm.OpInvoke, name)
		p.emitByte(argCount)
	default:
		p.emitOps(vm.OpGetProperty, name)
	}
}

func (p *parser) thisExpr(canAssign bool) {
	if p.class == nil {
		p.error("Can't use 'this' outside of a class.")
		return
	}
	p.variable(false)
}

func (p *parser) superExpr(canAssign bool) {
	if p.class == nil {
		p.error("Can't use 'super' outside of a class.")
	} else if !p.class.hasSuperclass {
		p.error("Can't use 'super' in a class with no superclass.")
	}

	p.consume(TokenDot, "Expected '.' after 'super'.")
	p.consume(TokenIdentifier, "Expected superclass method name.")
	name := p.identifierConstant(p.previous)

	p.namedVariable(Token{Type: TokenIdentifier, Lexeme: "this"}, false)
	if p.match(TokenLeftParen) {
		argCount := p.argumentList()
		p.namedVariable(Token{Type: TokenIdentifier, Lexeme: "super"}, false)
		p.emitOps(vm.OpSuperInvoke, name)
		p.emitByte(argCount)
	} else {
		p.namedVariable(Token{Type: TokenIdentifier, Lexeme: "super"}, false)
		p.emitOps(vm.OpGetSuper, name)
	}
}
