package main

import (
	"os"

	"github.com/chromefleet/chromefleet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
