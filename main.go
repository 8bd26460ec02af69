package main

import (
	"os"

	"github.com/gabe/crew/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
