package main

import (
	"os"

	"orchestrator-core/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
