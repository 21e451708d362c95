// Command offsync is the offline-first sync client.
package main

import (
	"os"

	"github.com/roach88/offsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
