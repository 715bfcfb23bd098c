// Command smallrabbit publishes messages, saves not processed messages and
// supervises workers. It has no handlers of its own; applications build
// their worker binary with cli.Execute and a registry of their handlers.
package main

import (
	"os"

	"github.com/Aleph-Alpha/smallrabbit/pkg/cli"
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// version is set with -ldflags at build time.
var version = "dev"

func main() {
	os.Exit(cli.Execute(rabbit.NewRegistry(nil), version, os.Args[1:]))
}
