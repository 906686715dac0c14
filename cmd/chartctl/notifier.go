package main

import (
	"io"
	"sync"

	"github.com/fatih/color"
)

// consoleNotifier prints toasts as colored lines.
type consoleNotifier struct {
	mu     sync.Mutex
	out    io.Writer
	failed bool
}

func newConsoleNotifier(out io.Writer) *consoleNotifier {
	return &consoleNotifier{out: out}
}

func (n *consoleNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	color.New(color.FgGreen).Fprintln(n.out, "✓ "+msg)
}

func (n *consoleNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = true
	color.New(color.FgRed).Fprintln(n.out, "✗ "+msg)
}

// Failed reports whether any error toast was shown.
func (n *consoleNotifier) Failed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failed
}
