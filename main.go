package main

import (
	"context"
	"os"

	"hsa-planner/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
