// Command taskforge is the executable entry point: a thin deterministic
// boundary that hands off to the cobra command tree and translates its
// result into a process exit code.
//
// Grounded on the teacher's cmd/scriptweaver/main.go, which keeps exactly
// this shape: parse, execute, translate to os.Exit, nothing else.
package main

import (
	"fmt"
	"os"

	"taskforge/internal/frontend"
)

func main() {
	root := frontend.NewRootCommand()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(frontend.ExitCode(err))
}
