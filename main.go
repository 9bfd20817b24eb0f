package main

import (
	"os"

	"github.com/jupark12/deck-viewer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
