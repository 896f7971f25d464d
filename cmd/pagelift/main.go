package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/dpolat/pagelift/internal/cli"
)

func main() {
	// Best effort; the environment may carry the API key directly.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
