// Command localforge is a single-binary local inference server exposing
// an OpenAI-compatible HTTP API and a native streaming API.
package main

import (
	"fmt"
	"os"

	"github.com/localforge/localforge/cmd/localforge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCodeFor(err))
	}
}
