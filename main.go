package main

import (
	"os"

	"github.com/mediloop/mediloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
