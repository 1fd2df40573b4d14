package main

import (
	"os"

	"github.com/asgeir/slickscreen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
