package main

import (
	"os"

	"golang.org/x/term"

	"github.com/sakif/framez/internal/console"
)

// consoleOptions reads passwords without echo when stdin is a terminal.
// Piped input falls back to the console's line reader.
//
// The returned restore puts the terminal back the way it was, in case the
// process stops while a password read has echo turned off.
func consoleOptions(stdin *os.File) (opts []console.Option, restore func()) {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, func() {}
	}

	state, err := term.GetState(fd)
	if err != nil {
		return nil, func() {}
	}
	readPassword := func() (string, error) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}
	return []console.Option{console.WithPasswordReader(readPassword)},
		func() { _ = term.Restore(fd, state) }
}
