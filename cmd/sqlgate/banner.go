package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the sqlgate ASCII art banner. When useColor is true,
// ANSI escape codes are used for a green/cyan gradient.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                                             `,
		`            _             _                  `,
		`   ___  __ _| | __ _  __ _| |_ ___            `,
		`  / __|/ _' | |/ _' |/ _' | __/ _ \           `,
		`  \__ \ (_| | | (_| | (_| | ||  __/           `,
		`  |___/\__, |_|\__, |\__,_|\__\___|           `,
		`          |_|  |___/                          `,
	}

	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	colors := []string{
		"\033[0m",    // reset (blank line)
		"\033[1;32m", // bold green
		"\033[1;92m", // bold bright green
		"\033[1;36m", // bold cyan
		"\033[1;96m", // bold bright cyan
		"\033[1;34m", // bold blue
		"\033[1;34m", // bold blue
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
	}
}
