package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultDevSecret is accepted only while the relay advertises a local
// websocket URL. A publicly reachable relay must set its own secret.
const DefaultDevSecret = "dev-only-insecure-relay-secret"

// Config holds all relay configuration.
type Config struct {
	BindAddr    string
	DBPath      string
	PublicWsURL string
	HMACSecret  string

	MaxTTLMs          int64
	JanitorIntervalMs int64
	EventRetentionMs  int64

	TLSCertPath string
	TLSKeyPath  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		BindAddr:    getEnv("RELAY_BIND_ADDR", "127.0.0.1:8787"),
		DBPath:      getEnv("RELAY_DB_PATH", ".cache/relaygo/relay.sqlite3"),
		PublicWsURL: getEnv("RELAY_PUBLIC_WS_URL", "ws://127.0.0.1:8787/v1/ws"),
		HMACSecret:  getEnv("RELAY_HMAC_SECRET", DefaultDevSecret),
		TLSCertPath: os.Getenv("RELAY_TLS_CERT_PATH"),
		TLSKeyPath:  os.Getenv("RELAY_TLS_KEY_PATH"),
	}

	var err error
	if cfg.MaxTTLMs, err = getEnvInt64("RELAY_MAX_TTL_MS", 120_000); err != nil {
		return nil, err
	}
	if cfg.JanitorIntervalMs, err = getEnvInt64("RELAY_JANITOR_INTERVAL_MS", 15_000); err != nil {
		return nil, err
	}
	if cfg.EventRetentionMs, err = getEnvInt64("RELAY_EVENT_RETENTION_MS", 24*60*60*1000); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the deployment rules: plaintext ws only on local or
// private hosts, wss only with TLS material, and no default secret on a
// publicly reachable relay.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.PublicWsURL)
	if err != nil {
		return fmt.Errorf("RELAY_PUBLIC_WS_URL is not a valid URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("RELAY_PUBLIC_WS_URL must include a host")
	}

	switch parsed.Scheme {
	case "ws":
		if !isLocalOrPrivateHost(host) {
			return fmt.Errorf("RELAY_PUBLIC_WS_URL uses ws:// with public host %q; use wss:// or a local address", host)
		}
	case "wss":
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return fmt.Errorf("wss:// public URL requires RELAY_TLS_CERT_PATH and RELAY_TLS_KEY_PATH")
		}
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("RELAY_TLS_CERT_PATH: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("RELAY_TLS_KEY_PATH: %w", err)
		}
	default:
		return fmt.Errorf("RELAY_PUBLIC_WS_URL must use ws:// or wss://")
	}

	if c.HMACSecret == DefaultDevSecret && !isLocalOrPrivateHost(host) {
		return fmt.Errorf("RELAY_HMAC_SECRET must be set when the relay is publicly reachable")
	}

	if c.MaxTTLMs <= 0 || c.MaxTTLMs > 120_000 {
		return fmt.Errorf("RELAY_MAX_TTL_MS must be in 1..=120000")
	}
	if c.JanitorIntervalMs <= 0 {
		return fmt.Errorf("RELAY_JANITOR_INTERVAL_MS must be positive")
	}
	if c.EventRetentionMs <= 0 {
		return fmt.Errorf("RELAY_EVENT_RETENTION_MS must be positive")
	}

	return nil
}

// UsesTLS reports whether the HTTP server should serve TLS directly.
func (c *Config) UsesTLS() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != ""
}

// isLocalOrPrivateHost reports whether host resolves to something not
// reachable from the open internet: loopback names, .local mDNS names,
// and RFC1918 / link-local / CGNAT / unique-local addresses.
func isLocalOrPrivateHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return true
	}
	// CGNAT range 100.64.0.0/10.
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1]&0xc0 == 0x40 {
		return true
	}
	return false
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}
