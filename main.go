package main

import (
	"github.com/sidkik/tabletsync/cmd"
	"github.com/sidkik/tabletsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
