package main

import (
	"os"

	"ammswap/cmd/ammswap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
