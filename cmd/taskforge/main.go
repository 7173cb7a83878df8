// Command taskforge runs dependency-ordered agent tasks against permission-gated tools.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
