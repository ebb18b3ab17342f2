// Petrel CLI - the main entry point for running Petrel programs
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/chazu/petrel/compiler"
	"github.com/chazu/petrel/manifest"
	"github.com/chazu/petrel/vm"

	_ "github.com/tliron/commonlog/simple"
)

// BSD-style exit codes, matching the interpreter's contract: 0 success,
// 64 bad usage, 65 compile error, 70 runtime error, 74 I/O error.
const (
	exitOK           = 0
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

var rootCmd = &cobra.Command{
	Use:   "petrel [script]",
	Short: "Petrel language interpreter",
	Long: `Petrel is a small dynamically-typed scripting language with first-class
functions, closures, and classes, running on a bytecode virtual machine.

With no arguments, petrel starts an interactive session. With a script
path, it runs the script.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func main() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity")
	rootCmd.PersistentFlags().Bool("trace", false, "trace each executed instruction")
	rootCmd.PersistentFlags().Bool("trace-gc", false, "log garbage collection passes")
	rootCmd.PersistentFlags().Bool("stress-gc", false, "collect before every allocation")

	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(tokenizeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

// loadConfig merges petrel.toml (found from the working directory upward)
// with command-line overrides, and configures logging.
func loadConfig(cmd *cobra.Command) (*manifest.Manifest, error) {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	commonlog.Configure(verbosity, nil)

	m, err := manifest.FindUp(".")
	if err != nil {
		return nil, err
	}

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		m.VM.TraceExecution = true
	}
	if traceGC, _ := cmd.Flags().GetBool("trace-gc"); traceGC {
		m.VM.TraceGC = true
	}
	if stressGC, _ := cmd.Flags().GetBool("stress-gc"); stressGC {
		m.VM.StressGC = true
	}
	return m, nil
}

// newVM builds a heap and interpreter from the manifest and wires in the
// front end.
func newVM(m *manifest.Manifest) *vm.VM {
	heap := vm.NewHeap(vm.HeapConfig{
		StressGC:           m.VM.StressGC,
		TraceGC:            m.VM.TraceGC,
		InitialGCThreshold: m.VM.GCThreshold,
	})
	machine := vm.NewVM(heap)
	machine.UseCompiler(compiler.Compile)
	if m.VM.TraceExecution {
		machine.EnableTracing(os.Stderr)
	}
	return machine
}

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		fmt.Fprintf(os.Stderr, "Usage: petrel [script]\n")
		os.Exit(exitUsage)
	}

	m, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitIOError)
	}

	if len(args) == 0 {
		repl(m)
		return nil
	}

	runFile(m, args[0])
	return nil
}

// runFile interprets a script and exits with the matching code.
func runFile(m *manifest.Manifest, path string) {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open file '%s'\n", path)
		os.Exit(exitIOError)
	}

	machine := newVM(m)
	switch machine.Interpret(string(source)) {
	case vm.InterpretCompileError:
		os.Exit(exitCompileError)
	case vm.InterpretRuntimeError:
		os.Exit(exitRuntimeError)
	}
	machine.Reset()
	os.Exit(exitOK)
}

// readSource loads a script for the debug subcommands.
func readSource(path string) string {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open file '%s'\n", path)
		os.Exit(exitIOError)
	}
	return string(source)
}
