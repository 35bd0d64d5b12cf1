// The main package for the sentinel executable.
package main

import (
	"github.com/tradewatch/sentinel/cmd"
)

func main() {
	cmd.Execute()
}
