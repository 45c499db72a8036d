package imwire

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretProvider supplies the shared secret used to derive session keys
// once a challenge arrives, keeping the secret itself out of Config (and
// out of any log line a Config might end up in).
type SecretProvider interface {
	Secret() ([]byte, error)
}

// staticSecret is the trivial SecretProvider backing a literal secret
// passed to Config.
type staticSecret []byte

func (s staticSecret) Secret() ([]byte, error) { return []byte(s), nil }

// StaticSecret wraps a literal shared secret as a SecretProvider.
func StaticSecret(secret []byte) SecretProvider { return staticSecret(secret) }

// Config holds the configuration for one session connection, split
// between a plain struct (this one), a setDefaults step, and a Validate
// step.
type Config struct {
	// Server connection
	Server string // Hostname or IP address
	Port   int    // default 443

	// Identity
	Number   string // e164 phone number without the leading '+'
	Secret   SecretProvider
	Nickname string // presence display name sent on auth success

	// Features advertised in stream:features
	ReadReceipts bool
	Groups       bool
	Privacy      bool
	Presence     bool

	// Cached auth blob from a previous successful login, to skip the
	// challenge round-trip.
	AuthBlob []byte

	// Behavior
	AutoReceipts      bool          // auto-send read receipts for inbound messages
	KeepAliveInterval time.Duration // default 20s
	ConnTimeout       time.Duration // default 30s
	ReadTimeout       time.Duration // bounded-blocking read check, default 1s

	// Logging
	Logger Logger // nil = NewLogger()
}

// setDefaults fills in zero-valued fields with the protocol's documented
// defaults.
func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 443
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 20 * time.Second
	}
	if c.ConnTimeout == 0 {
		c.ConnTimeout = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 1 * time.Second
	}
	if c.Logger == nil {
		c.Logger = NewLogger()
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Number == "" {
		return fmt.Errorf("number is required")
	}
	if c.Secret == nil {
		return fmt.Errorf("secret is required")
	}
	return nil
}

// ParseConnectionString parses a connection string into a Config.
// Supported format:
//
//	wa://<number>@<server>[:port]
//	wa://<number>:<secret>@<server>[:port]
func ParseConnectionString(connStr string) (*Config, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	if u.Scheme != "wa" {
		return nil, fmt.Errorf("invalid scheme: %s (expected 'wa')", u.Scheme)
	}

	cfg := &Config{
		Server: u.Hostname(),
		Port:   443,
	}

	if u.Port() != "" {
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		cfg.Port = port
	}

	if u.User != nil {
		cfg.Number = strings.TrimPrefix(u.User.Username(), "+")
		if secret, ok := u.User.Password(); ok {
			cfg.Secret = StaticSecret([]byte(secret))
		}
	}

	cfg.setDefaults()

	return cfg, nil
}
