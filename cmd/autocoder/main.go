// autocoder is an interactive coding assistant.
package main

import (
	"os"

	"github.com/martinemde/autocoder/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
