package main

import (
	"os"

	"github.com/bmr-systems/bmr-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
