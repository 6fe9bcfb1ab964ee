package main

import (
	_ "time/tzdata"

	"github.com/retracehq/retrace/cli"
)

func main() {
	var rootCmd cli.RootCmd
	rootCmd.RunMain()
}
