// zoo builds, inspects and runs VGG zoo networks from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/nvr-ai/go-zoo/cmd/zoo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
