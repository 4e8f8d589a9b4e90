// Command edge-commandloop runs a headless command loop client against a
// page, sends single click notifications, and serves a demo page.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
