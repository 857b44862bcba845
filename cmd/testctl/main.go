// Command testctl runs enginegate's test suites and local smoke checks.
package main

import (
	"os"

	"enginegate/internal/testctl"
)

func main() { os.Exit(testctl.Main()) }
