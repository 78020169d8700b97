// Package main is the entry point for allegro-watch.
package main

import (
	"os"

	"github.com/mkrol/allegro-watch/cmd/allegro-watch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
