package main

import (
	"os"

	"github.com/r11/hyperv-commander/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
