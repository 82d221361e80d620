package main

import (
	"os"

	"github.com/strimo-org/strimo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
