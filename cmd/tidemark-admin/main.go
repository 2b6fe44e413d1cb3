package main

import (
	"os"

	"github.com/tidemarklabs/tidemark/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
