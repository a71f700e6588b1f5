package main

import (
	"os"

	"github.com/parcelworks/legacyconv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
