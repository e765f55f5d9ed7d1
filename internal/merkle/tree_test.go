package merkle

import (
	"crypto/sha256"
	"testing"
)

func leafFor(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func TestEmptyTreeRoot(t *testing.T) {
	tree := Build(nil)
	if tree.Root() != EmptyRoot() {
		t.Fatalf("empty tree root mismatch")
	}
	if EmptyRoot() != sha256.Sum256(nil) {
		t.Fatalf("EmptyRoot must equal SHA256(\"\")")
	}
}

func TestSingleLeafTree(t *testing.T) {
	fp := leafFor("a")
	tree := Build([][32]byte{fp})
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if !VerifyProof(tree.Root(), fp, proof) {
		t.Fatalf("expected single-leaf proof to verify")
	}
}

func TestOddLeafCountDuplication(t *testing.T) {
	fps := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c")}
	tree := Build(fps)
	for i, fp := range fps {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("Proof(%d): %v", i, err)
		}
		if !VerifyProof(tree.Root(), fp, proof) {
			t.Fatalf("leaf %d proof failed to verify", i)
		}
	}
}

func TestTreeDeterminism(t *testing.T) {
	fps := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c"), leafFor("d"), leafFor("e")}
	t1 := Build(fps)
	t2 := Build(fps)
	if t1.Root() != t2.Root() {
		t.Fatalf("expected deterministic root for identical input")
	}
}

func TestProofFailsOnTamperedLeaf(t *testing.T) {
	fps := [][32]byte{leafFor("a"), leafFor("b"), leafFor("c"), leafFor("d")}
	tree := Build(fps)
	proof, _ := tree.Proof(1)
	if VerifyProof(tree.Root(), leafFor("tampered"), proof) {
		t.Fatalf("expected proof verification to fail for tampered leaf")
	}
}

func TestProofOutOfRange(t *testing.T) {
	tree := Build([][32]byte{leafFor("a")})
	if _, err := tree.Proof(5); err == nil {
		t.Fatalf("expected error for out-of-range proof index")
	}
}
