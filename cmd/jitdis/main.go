package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"

	"jitdis/internal/logging"
)

func main() {
	lc := logging.NewLogger()
	code := execute(lc.Logger)
	lc.Close()
	os.Exit(code)
}

// execute runs the command tree. Output that is not a terminal bypasses
// fang so piped disassembly stays plain.
func execute(lg *log.Logger) (code int) {
	defer logging.RecoverPanic(lg, "main", func() { code = 2 })

	root := newRootCmd(lg)
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := root.Execute(); err != nil {
			return 1
		}
		return 0
	}
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		return 1
	}
	return 0
}
