// Command opinectl runs the QC maintenance jobs against the configured store
// and prints each run report as JSON.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
