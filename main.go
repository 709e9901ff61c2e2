// Mlpstat is a bench tool for the MLP cryogenic mill link. It talks to the
// mill MCU over a serial cable, a WebSocket debug bridge or a built-in
// simulator, and provides frame logging, command sending, a live watch TUI
// and traffic capture.
package main

import (
	"os"

	"github.com/cryogrind/go-mlp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
