// Package config holds the full deploy-time configuration surface: the
// PRF secret, gram width, k-anonymity threshold, retention, backend
// selection, and the indexd HTTP service's own auth/rate-limit knobs.
package config

import (
	"time"

	"piiindex/internal/kms"
)

// StoreBackend selects which index.Store implementation a deployment
// runs against.
type StoreBackend string

const (
	BackendMemory StoreBackend = "memory"
	BackendMongo  StoreBackend = "mongo"
)

// Config is the full configuration surface for indexd/indexctl.
type Config struct {
	// Secret is the PRF master secret, either loaded directly or derived
	// from SecretPassphrase via Argon2id at startup. Never logged.
	Secret           []byte
	SecretPassphrase string
	SecretSalt       []byte
	SecretVersion    int

	GramWidth      int
	KAnonThreshold int
	MaxResults     int
	RetentionTTL   time.Duration

	StoreBackend StoreBackend
	MongoURI     string
	MongoDB      string
	IndexColl    string
	RecordColl   string

	MaxInFlightIngest int64

	JWTIssuer string
	TokenTTL  time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int

	ListenAddr string
}

func (c *Config) setDefaults() {
	if c.GramWidth <= 0 {
		c.GramWidth = 3
	}
	if c.KAnonThreshold <= 0 {
		c.KAnonThreshold = 5
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10000
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = 90 * 24 * time.Hour
	}
	if c.StoreBackend == "" {
		c.StoreBackend = BackendMemory
	}
	if c.IndexColl == "" {
		c.IndexColl = "pii_index"
	}
	if c.RecordColl == "" {
		c.RecordColl = "pii_records"
	}
	if c.MaxInFlightIngest <= 0 {
		c.MaxInFlightIngest = 32
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "piiindex"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 50
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 100
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Load applies defaults to c and returns it, a zero-value-then-defaults
// pattern rather than a builder. When no raw Secret was supplied but a
// SecretPassphrase and SecretSalt were, the PRF secret is derived from
// them via Argon2id (kms.DeriveSecret) so an operator can configure a
// deployment with a memorable passphrase instead of a raw key.
func Load(c Config) Config {
	c.setDefaults()
	if len(c.Secret) == 0 && c.SecretPassphrase != "" && len(c.SecretSalt) > 0 {
		c.Secret = kms.DeriveSecret(c.SecretPassphrase, kms.DefaultKDFParams(c.SecretSalt))
	}
	return c
}
