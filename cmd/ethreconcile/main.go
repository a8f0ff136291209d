package main

import (
	"os"

	"github.com/sigweihq/ethreconcile/pkg/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
