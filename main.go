// The main package for the endole-crawler executable.
package main

import (
	"github.com/businessdata-uk/endole-crawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
