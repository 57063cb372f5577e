package audit

import "testing"

func TestAppendChainsHashes(t *testing.T) {
	l := New()
	e1 := l.Append(OpIndexValue, "EMAIL", 15)
	e2 := l.Append(OpIndexValue, "FIRST_NAME", 6)
	if e1.Hash == e2.Hash {
		t.Fatal("expected distinct hashes for distinct entries")
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	l := New()
	l.Append(OpIndexValue, "EMAIL", 15)
	l.Append(OpExpireSweep, "", 3)

	entries := l.Entries()
	entries[0].Count = 999 // mutate the returned copy, not the log's own slice
	l.entries[0].Count = 999
	if err := l.Verify(); err == nil {
		t.Fatal("expected Verify to detect a tampered entry")
	}
}

func TestEntriesReturnsDefensiveCopy(t *testing.T) {
	l := New()
	l.Append(OpIndexValue, "EMAIL", 1)
	entries := l.Entries()
	entries[0].Op = "tampered"
	if l.entries[0].Op == "tampered" {
		t.Fatal("Entries() must return a copy, not a view onto internal state")
	}
}
