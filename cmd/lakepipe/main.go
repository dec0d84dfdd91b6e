package main

import (
	"os"

	"github.com/streetbite/lakepipe/internal/cli"
	"github.com/streetbite/lakepipe/pkg/logger"
)

func main() {
	err := cli.NewRootCmd().Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
