package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	genN        int
	genF        int
	genK        int
	genSelf     int
	genHost     string
	genPortBase int
	genPeers    []string
)

var genconfigCmd = &cobra.Command{
	Use:   "genconfig",
	Short: "Emit a config.yaml skeleton for one replica",
	Long: `genconfig writes a YAML configuration matching internal/config.Config's
shape to stdout, for hand-editing key paths and peer addresses before
"replica run" consumes it.`,
	RunE: runGenconfig,
}

func init() {
	genconfigCmd.Flags().IntVar(&genN, "n", 4, "replica count N")
	genconfigCmd.Flags().IntVar(&genF, "f", 1, "Byzantine fault tolerance f")
	genconfigCmd.Flags().IntVar(&genK, "k", 0, "unavailability tolerance k")
	genconfigCmd.Flags().IntVar(&genSelf, "self", 1, "this replica's id (1-based)")
	genconfigCmd.Flags().StringVar(&genHost, "host", "0.0.0.0", "bind host for this replica's listeners")
	genconfigCmd.Flags().IntVar(&genPortBase, "udp-port-base", 7000, "first of this replica's three UDP overlay ports")
	genconfigCmd.Flags().StringSliceVar(&genPeers, "peer", nil, "peer host:udp_port_base, one per --peer flag, indexed by replica id (defaults to 127.0.0.1, sequential port banks)")
	rootCmd.AddCommand(genconfigCmd)
}

func runGenconfig(cmd *cobra.Command, args []string) error {
	peers := genPeers
	if len(peers) == 0 {
		peers = make([]string, genN)
		for i := 0; i < genN; i++ {
			peers[i] = fmt.Sprintf("127.0.0.1:%d", genPortBase+i*3)
		}
	}
	if len(peers) != genN {
		return fmt.Errorf("genconfig: got %d --peer flags, want %d (one per replica)", len(peers), genN)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "server:\n")
	fmt.Fprintf(&b, "  replica_id: %d\n", genSelf)
	fmt.Fprintf(&b, "  tpm_id: %d\n", genSelf)
	fmt.Fprintf(&b, "  host: %q\n", genHost)
	fmt.Fprintf(&b, "  udp_port_base: %d\n", genPortBase+(genSelf-1)*3)
	fmt.Fprintf(&b, "  control_port: %d\n", 7100+genSelf-1)
	fmt.Fprintf(&b, "  client_socket: \"/tmp/spire-sub003-replica%d.sock\"\n", genSelf)
	fmt.Fprintf(&b, "  environment: \"dev\"\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "membership:\n")
	fmt.Fprintf(&b, "  n: %d\n", genN)
	fmt.Fprintf(&b, "  f: %d\n", genF)
	fmt.Fprintf(&b, "  k: %d\n", genK)
	fmt.Fprintf(&b, "  self: %d\n", genSelf)
	fmt.Fprintf(&b, "  global_config_number: 0\n")
	fmt.Fprintf(&b, "  peers:\n")
	for _, p := range peers {
		fmt.Fprintf(&b, "    - %q\n", p)
	}
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "timers:\n")
	fmt.Fprintf(&b, "  sig_min_time: 1ms\n")
	fmt.Fprintf(&b, "  sig_max_time: 50ms\n")
	fmt.Fprintf(&b, "  pp_time: 50ms\n")
	fmt.Fprintf(&b, "  pre_prepare_sw: 200ms\n")
	fmt.Fprintf(&b, "  leader_duration_sw: 2s\n")
	fmt.Fprintf(&b, "  tat_measure_rate: 1s\n")
	fmt.Fprintf(&b, "  ping_interval: 1s\n")
	fmt.Fprintf(&b, "  catchup_retry: 500ms\n")
	fmt.Fprintf(&b, "  reset_retry: 5s\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "keys:\n")
	fmt.Fprintf(&b, "  private_key_path: \"./keys/replica%d.pem\"\n", genSelf)
	fmt.Fprintf(&b, "  peer_public_key_dir: \"./keys/peers\"\n")
	fmt.Fprintf(&b, "  config_manager_pub_key: \"./keys/config-manager.pub.pem\"\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "attack:\n")
	fmt.Fprintf(&b, "  delay_leader: false\n")
	fmt.Fprintf(&b, "  delay_leader_by: 0s\n")
	fmt.Fprintf(&b, "  inconsistent_pp: false\n")

	_, err := fmt.Fprint(os.Stdout, b.String())
	return err
}
