package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/modconsole/internal/cases"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds the console configuration.
type Config struct {
	Environment string
	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	RedisAddr   string
	NATSURL     string

	Addr              string
	MaxBodyBytes      int64
	RateLimitCapacity int
	RateLimitRefill   float64
	IPAllowlist       string
	TrustProxyHeaders bool

	TokenIssuer    string
	TokenTTL       time.Duration
	StaffClients   string
	SigningKeyFile string

	TLSCertFile          string
	TLSKeyFile           string
	TLSCAFile            string
	TLSRequireClientCert bool

	PolicyFile string
	Policy     Policy
}

// Policy is the tunable part of case handling, read from POLICY_FILE.
type Policy struct {
	ListingFlagThreshold int `yaml:"listing_flag_threshold" json:"listing_flag_threshold"`
	MaxPageSize          int `yaml:"max_page_size" json:"max_page_size"`
	DefaultPageSize      int `yaml:"default_page_size" json:"default_page_size"`
}

func DefaultPolicy() Policy {
	return Policy{
		ListingFlagThreshold: cases.DefaultListingFlagThreshold,
		MaxPageSize:          100,
		DefaultPageSize:      25,
	}
}

// CasePolicy converts p for cases.NewPolicy.
func (p Policy) CasePolicy() cases.PolicyConfig {
	return cases.PolicyConfig{ListingFlagThreshold: p.ListingFlagThreshold}
}

func (p Policy) Validate() error {
	switch {
	case p.ListingFlagThreshold < 0:
		return errors.New("listing_flag_threshold must not be negative")
	case p.MaxPageSize < 1:
		return errors.New("max_page_size must be positive")
	case p.DefaultPageSize < 1 || p.DefaultPageSize > p.MaxPageSize:
		return fmt.Errorf("default_page_size must be between 1 and %d", p.MaxPageSize)
	}
	return nil
}

// LoadPolicy reads a YAML policy file over DefaultPolicy. Keys missing from
// the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("load policy %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy %q: %w", path, err)
	}
	return p, nil
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var bad []string
	cfg := &Config{
		Environment: os.Getenv("APP_ENV"),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", DriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		NATSURL:     os.Getenv("NATS_URL"),

		Addr:              getenv("CONSOLE_ADDR", ":8080"),
		MaxBodyBytes:      int64(getenvInt("CONSOLE_MAX_BODY_BYTES", 1<<20, &bad)),
		RateLimitCapacity: getenvInt("CONSOLE_RATE_LIMIT_CAPACITY", 60, &bad),
		RateLimitRefill:   getenvFloat("CONSOLE_RATE_LIMIT_REFILL_PER_SEC", 1, &bad),
		IPAllowlist:       os.Getenv("CONSOLE_IP_ALLOWLIST"),
		TrustProxyHeaders: getenvBool("CONSOLE_TRUST_PROXY_HEADERS", false, &bad),

		TokenIssuer:    getenv("CONSOLE_TOKEN_ISSUER", "modconsole"),
		TokenTTL:       getenvDuration("CONSOLE_TOKEN_TTL", 15*time.Minute, &bad),
		StaffClients:   os.Getenv("CONSOLE_STAFF_CLIENTS"),
		SigningKeyFile: os.Getenv("CONSOLE_SIGNING_KEY_FILE"),

		TLSCertFile:          os.Getenv("CONSOLE_TLS_CERT"),
		TLSKeyFile:           os.Getenv("CONSOLE_TLS_KEY"),
		TLSCAFile:            os.Getenv("CONSOLE_TLS_CA"),
		TLSRequireClientCert: getenvBool("CONSOLE_TLS_REQUIRE_CLIENT_CERT", false, &bad),

		PolicyFile: os.Getenv("POLICY_FILE"),
		Policy:     DefaultPolicy(),
	}
	if len(bad) > 0 {
		return nil, errors.New("invalid environment variables: " + strings.Join(bad, ", "))
	}

	if cfg.PolicyFile != "" {
		p, err := LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Policy = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// Validate reports every missing variable at once.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
		if c.StaffClients == "" {
			missing = append(missing, "CONSOLE_STAFF_CLIENTS")
		}
	case DriverMemory:
		if c.StaffClients == "" {
			missing = append(missing, "CONSOLE_STAFF_CLIENTS")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of %s, %s, %s; got %q", DriverPostgres, DriverSQLite, DriverMemory, c.StoreDriver)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		missing = append(missing, "CONSOLE_TLS_CERT and CONSOLE_TLS_KEY")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.IsProduction() {
		if c.StoreDriver == DriverMemory {
			return errors.New("STORE_DRIVER=memory is not allowed in " + c.Environment)
		}
		var prod []string
		if c.RedisAddr == "" {
			prod = append(prod, "REDIS_ADDR")
		}
		// Replicas must share one signing key.
		if c.SigningKeyFile == "" {
			prod = append(prod, "CONSOLE_SIGNING_KEY_FILE")
		}
		if len(prod) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(prod, ", "))
		}
	}

	return c.Policy.Validate()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int, bad *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		*bad = append(*bad, key)
		return def
	}
	return n
}

func getenvFloat(key string, def float64, bad *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		*bad = append(*bad, key)
		return def
	}
	return f
}

func getenvBool(key string, def bool, bad *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*bad = append(*bad, key)
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration, bad *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*bad = append(*bad, key)
		return def
	}
	return d
}
