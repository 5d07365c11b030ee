// Command replica runs one PRIME-style ordering engine process: the
// dispatch loop, its control-plane HTTP server, and (in the reference
// "run" binding) plain UDP/Unix-socket transports standing in for the
// overlay network and client IPC channel spec §1 puts out of scope.
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
