package crypto

import "testing"

func leavesOf(n int) [][32]byte {
	out := make([][32]byte, n)
	for i := range out {
		out[i] = DigestBytes([]byte{byte(i)})
	}
	return out
}

func TestBuildMerkleTreeRejectsEmpty(t *testing.T) {
	if _, err := BuildMerkleTree(nil); err == nil {
		t.Fatal("expected error for empty leaf set")
	}
}

func TestInclusionPathRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 13} {
		leaves := leavesOf(n)
		tree, err := BuildMerkleTree(leaves)
		if err != nil {
			t.Fatalf("n=%d: BuildMerkleTree: %v", n, err)
		}
		root := tree.Root()
		for i := range leaves {
			path, err := tree.Path(i)
			if err != nil {
				t.Fatalf("n=%d i=%d: Path: %v", n, i, err)
			}
			if !VerifyInclusion(leaves[i], path, root) {
				t.Fatalf("n=%d i=%d: inclusion did not verify", n, i)
			}
		}
	}
}

func TestVerifyInclusionRejectsWrongLeaf(t *testing.T) {
	leaves := leavesOf(4)
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	path, err := tree.Path(0)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if VerifyInclusion(leaves[1], path, tree.Root()) {
		t.Fatal("expected inclusion check to fail for mismatched leaf")
	}
}

func TestPathRejectsOutOfRange(t *testing.T) {
	tree, err := BuildMerkleTree(leavesOf(3))
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	if _, err := tree.Path(3); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := tree.Path(-1); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
