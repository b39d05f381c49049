package main

import (
	"os"

	"github.com/dev-tnsq/verbex/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
