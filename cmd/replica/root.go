package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "replica",
	Short: "Run or configure one replica of the ordering engine",
	Long: `replica drives a single process of a Byzantine fault-tolerant
state-machine replication engine: PO, global ordering, suspect-leader
monitoring, view change, and catchup/recovery, wired behind one
single-threaded dispatch loop.

Examples:
  replica genconfig --self 1 --n 4 --f 1 > config.yaml
  replica run --config config.yaml`,
}

var debug bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level structured logging")
}
