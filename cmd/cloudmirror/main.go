package main

import (
	"os"

	"github.com/dl-alexandre/cloudmirror/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
