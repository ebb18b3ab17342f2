package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/chazu/petrel/manifest"
)

var bannerColor = color.New(color.FgCyan, color.Bold)

// repl reads a line, interprets it, and repeats until exit, quit, or EOF.
// The VM persists across lines, so globals accumulate.
func repl(m *manifest.Manifest) {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		bannerColor.Fprintln(os.Stdout, "Petrel REPL.  'exit' or 'quit' to stop.")
	}

	machine := newVM(m)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		if interactive {
			fmt.Fprint(os.Stdout, m.REPL.Prompt)
		}
		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		if line == "exit" || line == "quit" {
			break
		}

		machine.Interpret(line)
	}
}
