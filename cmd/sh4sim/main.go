// Command sh4sim runs guest programs on the hybrid dispatch engine.
package main

import (
	"github.com/sarchlab/sh4sim/cmd/sh4sim/cmd"
)

func main() {
	cmd.Execute()
}
