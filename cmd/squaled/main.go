package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/squaled/squaled/internal/cli"
)

var (
	version   = "dev"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	cli.SetVersionInfo(version, buildTime, goVersion)

	root := cli.NewRootCommand()
	root.SetContext(context.Background())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "squaled:", err)

		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
