package main

import (
	"os"

	"github.com/longnt/sage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
