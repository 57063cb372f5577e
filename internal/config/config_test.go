package config

import (
	"bytes"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	c := Load(Config{})
	if c.GramWidth != 3 {
		t.Errorf("expected default GramWidth 3, got %d", c.GramWidth)
	}
	if c.KAnonThreshold != 5 {
		t.Errorf("expected default KAnonThreshold 5, got %d", c.KAnonThreshold)
	}
	if c.MaxResults != 10000 {
		t.Errorf("expected default MaxResults 10000, got %d", c.MaxResults)
	}
	if c.StoreBackend != BackendMemory {
		t.Errorf("expected default backend memory, got %s", c.StoreBackend)
	}
	if c.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr :8080, got %s", c.ListenAddr)
	}
}

func TestLoadDerivesSecretFromPassphrase(t *testing.T) {
	salt := bytes.Repeat([]byte{0x09}, 16)
	c := Load(Config{SecretPassphrase: "correct horse battery staple", SecretSalt: salt})
	if len(c.Secret) == 0 {
		t.Fatal("expected a derived secret when only a passphrase and salt are given")
	}
	c2 := Load(Config{SecretPassphrase: "correct horse battery staple", SecretSalt: salt})
	if !bytes.Equal(c.Secret, c2.Secret) {
		t.Fatal("expected deterministic derivation for identical passphrase and salt")
	}
}

func TestLoadPrefersExplicitSecretOverPassphrase(t *testing.T) {
	c := Load(Config{Secret: []byte("raw-secret"), SecretPassphrase: "ignored", SecretSalt: []byte("salt")})
	if string(c.Secret) != "raw-secret" {
		t.Fatalf("expected explicit Secret to win over SecretPassphrase, got %q", c.Secret)
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	c := Load(Config{GramWidth: 4, StoreBackend: BackendMongo, MongoURI: "mongodb://x"})
	if c.GramWidth != 4 {
		t.Errorf("expected explicit GramWidth 4 preserved, got %d", c.GramWidth)
	}
	if c.StoreBackend != BackendMongo {
		t.Errorf("expected explicit backend preserved, got %s", c.StoreBackend)
	}
	if c.MongoURI != "mongodb://x" {
		t.Errorf("expected MongoURI preserved, got %s", c.MongoURI)
	}
}
