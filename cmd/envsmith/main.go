package main

import (
	"log"
	"os"

	"github.com/envsmith/envsmith/internal/cli"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	log.SetFlags(0)
	if err := cli.NewApp(Version).Run(os.Args); err != nil {
		os.Exit(1)
	}
}
