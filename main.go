package main

import (
	"os"

	"github.com/diffscan-io/diffscan/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
