// Package main provides the sbdk command line interface.
package main

import (
	"os"

	"github.com/sbdk-dev/sbdk/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
