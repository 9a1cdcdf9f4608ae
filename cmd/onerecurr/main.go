package main

import (
	"os"

	"github.com/layer-3/onerecurr/cmd/onerecurr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
