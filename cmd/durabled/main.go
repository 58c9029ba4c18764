// Command durabled runs the durable orchestration engine as a standalone
// daemon with an HTTP API, or executes a single orchestration from the
// command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
