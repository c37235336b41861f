// The main package for the harvester executable.
package main

import (
	"github.com/scrapeworks/harvester/cmd"
)

func main() {
	cmd.Execute()
}
