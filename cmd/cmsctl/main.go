package main

import (
	"os"

	"securecms.org/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
