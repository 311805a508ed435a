package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/benfrankstein/untxt-sub002/cmd/untxt/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		if !errors.Is(err, commands.ErrInterrupted) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(commands.ExitCode(err))
	}
}
