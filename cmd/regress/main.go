// Command regress runs an ordered list of test stages, each under its own
// environment, and reports an exit status suitable for a batch scheduler.
package main

import (
	"os"

	"github.com/AbdelazizMoustafa10m/regress/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
