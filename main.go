package main

import (
	"fmt"
	"os"

	"dicomweb-oauth/internal/app"
	"dicomweb-oauth/internal/common/logging"
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	err := app.NewRootCommand(version).Execute()
	logging.MustSync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(app.ExitCode(err))
	}
}
