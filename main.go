package main

import (
	"os"

	"github.com/wegman-software/osmriver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
