package main

import (
	"context"
	"os"

	"github.com/ggg436/greenloops/feed-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
