package kms

import (
	"bytes"
	"context"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	master := bytes.Repeat([]byte{0x11}, 32)
	pt := []byte("priya.sharma@example.com")
	aad := []byte("ref:T1")

	ct, err := Seal(master, pt, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := Open(master, ct, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("expected %q, got %q", pt, got)
	}
}

func TestOpenRejectsTamperedMAC(t *testing.T) {
	master := bytes.Repeat([]byte{0x22}, 32)
	ct, err := Seal(master, []byte("value"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := Open(master, ct, nil); err == nil {
		t.Fatal("expected Open to reject a tampered ciphertext")
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	if _, err := Open(bytes.Repeat([]byte{1}, 32), []byte("short"), nil); err == nil {
		t.Fatal("expected Open to reject an undersized ciphertext")
	}
}

func TestSealXOpenXRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 32)
	pt := []byte("Arjun Mehta")
	ct, err := SealX(key, pt, []byte("ref:T2"))
	if err != nil {
		t.Fatalf("SealX: %v", err)
	}
	got, err := OpenX(key, ct, []byte("ref:T2"))
	if err != nil {
		t.Fatalf("OpenX: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("expected %q, got %q", pt, got)
	}
}

func TestDeriveSecretDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x44}, 16)
	p := DefaultKDFParams(salt)
	a := DeriveSecret("correct horse battery staple", p)
	b := DeriveSecret("correct horse battery staple", p)
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic derivation for identical passphrase and params")
	}
	c := DeriveSecret("different passphrase", p)
	if bytes.Equal(a, c) {
		t.Fatal("expected different passphrases to diverge")
	}
}

func TestDemoKMSRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 32)
	d, err := NewDemoKMS(key)
	if err != nil {
		t.Fatalf("NewDemoKMS: %v", err)
	}
	ct, err := d.Encrypt([]byte("Priya Sharma"), []byte("ref:T3"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := d.Decrypt(context.Background(), ct, []byte("ref:T3"))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "Priya Sharma" {
		t.Fatalf("expected round trip, got %q", pt)
	}
}

func TestNewDemoKMSRejectsWrongKeySize(t *testing.T) {
	if _, err := NewDemoKMS([]byte("too-short")); err == nil {
		t.Fatal("expected an error for a non-32-byte key")
	}
}
