package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/petrel/compiler"
	"github.com/chazu/petrel/vm"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <script>",
	Short: "Compile a script and print its bytecode",
	Long:  `Compile a Petrel script and print a disassembly listing of every function in it`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDisasm,
}

var tokenizeCmd = &cobra.Command{
	Use:   "tokenize <script>",
	Short: "Print the token stream of a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenize,
}

func runDisasm(cmd *cobra.Command, args []string) error {
	source := readSource(args[0])

	heap := vm.NewHeap(vm.HeapConfig{})
	fn := compiler.Compile(source, heap)
	if fn == nil {
		os.Exit(exitCompileError)
	}

	disassembleFunction(fn, "script")
	return nil
}

// disassembleFunction prints fn's chunk and recurses into every function
// constant, so nested bodies get their own listing.
func disassembleFunction(fn *vm.ObjFunction, name string) {
	fn.Chunk.Disassemble(os.Stdout, name)
	for _, constant := range fn.Chunk.Constants {
		if constant.IsObjType(vm.ObjTypeFunction) {
			nested := constant.AsFunction()
			fmt.Println()
			disassembleFunction(nested, nested.Name.Chars)
		}
	}
}

func runTokenize(cmd *cobra.Command, args []string) error {
	source := readSource(args[0])

	scanner := compiler.NewScanner(source)
	line := -1
	for {
		token := scanner.ScanToken()
		if token.Line != line {
			fmt.Printf("%4d ", token.Line)
			line = token.Line
		} else {
			fmt.Print("   | ")
		}
		fmt.Printf("%-12s '%s'\n", token.Type, token.Lexeme)
		if token.Type == compiler.TokenEOF {
			break
		}
	}
	return nil
}
