package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Membership.N != 4 || cfg.Membership.F != 1 {
		t.Fatalf("Membership defaults = %+v, want N=4 F=1", cfg.Membership)
	}
	if cfg.Timers.PPTime.String() != "50ms" {
		t.Fatalf("Timers.PPTime = %v, want 50ms", cfg.Timers.PPTime)
	}
	if cfg.Server.ControlPort != 7100 {
		t.Fatalf("Server.ControlPort = %d, want 7100", cfg.Server.ControlPort)
	}
}

func TestMembershipConfigTable(t *testing.T) {
	m := MembershipConfig{N: 7, F: 1, K: 1, Self: 3}
	tbl := m.Table()
	want := membership.Table{N: 7, F: 1, K: 1, Self: 3}
	if tbl != want {
		t.Fatalf("Table() = %+v, want %+v", tbl, want)
	}
}

func TestLoadPrivateKeyRoundTrips(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "replica.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	kc := KeysConfig{PrivateKeyPath: path}
	got, err := kc.LoadPrivateKey()
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if got.N.Cmp(key.N) != 0 {
		t.Fatal("loaded private key modulus does not match the original")
	}
}

func TestLoadPeerPublicKeyRoundTrips(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	dir := t.TempDir()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	path := filepath.Join(dir, "2.pub.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	kc := KeysConfig{PeerPublicKeyDir: dir}
	got, err := kc.LoadPeerPublicKey(membership.ReplicaID(2))
	if err != nil {
		t.Fatalf("LoadPeerPublicKey: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatal("loaded public key modulus does not match the original")
	}
}

func TestLoadPrivateKeyRejectsNonRSA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	block := &pem.Block{Type: "GARBAGE", Bytes: []byte("not a key")}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	kc := KeysConfig{PrivateKeyPath: path}
	if _, err := kc.LoadPrivateKey(); err == nil {
		t.Fatal("expected an error parsing a non-key PEM block")
	}
}
