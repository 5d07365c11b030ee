package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func TestRunGenconfigEmitsExpectedSelfAndPeers(t *testing.T) {
	genN, genF, genK, genSelf = 4, 1, 0, 2
	genHost = "0.0.0.0"
	genPortBase = 7000
	genPeers = nil

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	origStdout := os.Stdout
	os.Stdout = w
	err = runGenconfig(genconfigCmd, nil)
	w.Close()
	os.Stdout = origStdout
	if err != nil {
		t.Fatalf("runGenconfig: %v", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "replica_id: 2") {
		t.Fatalf("output missing replica_id: 2:\n%s", out)
	}
	if !strings.Contains(out, "udp_port_base: 7003") {
		t.Fatalf("output missing self's port base (7000 + (2-1)*3 = 7003):\n%s", out)
	}
	if !strings.Contains(out, `"127.0.0.1:7003"`) {
		t.Fatalf("output missing default peer address for replica 2:\n%s", out)
	}
	if !strings.Contains(out, "n: 4") {
		t.Fatalf("output missing membership.n: 4:\n%s", out)
	}
}

func TestRunGenconfigRejectsMismatchedPeerCount(t *testing.T) {
	genN = 4
	genPeers = []string{"127.0.0.1:7000", "127.0.0.1:7003"}
	defer func() { genPeers = nil }()

	if err := runGenconfig(genconfigCmd, nil); err == nil {
		t.Fatal("expected an error when --peer count does not match --n")
	}
}
