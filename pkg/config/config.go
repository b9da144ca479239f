package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the endpoint's runtime configuration, assembled from an
// optional .env file plus command-line flags (flags win on conflict).
type Config struct {
	ListenAddr string

	// UDPPortMin/UDPPortMax bound the even-start search space for RTP/RTCP
	// port-pair binding (see transport.BindPortPair).
	UDPPortMin int
	UDPPortMax int

	// KeepaliveMethod is the client-side preference before a server's
	// Public header is known: "get_parameter" or "options".
	KeepaliveMethod string

	IdleTimeout time.Duration
	CallTimeout time.Duration

	MediaPath string
	Loop      bool

	AuthUser     string
	AuthPassword string
	AuthRealm    string
}

// Default returns the baseline configuration matching spec.md's literal
// timing constants (10s idle timeout, 10s call timeout).
func Default() *Config {
	return &Config{
		ListenAddr:      ":8554",
		UDPPortMin:      10000,
		UDPPortMax:      20000,
		KeepaliveMethod: "options",
		IdleTimeout:     10 * time.Second,
		CallTimeout:     10 * time.Second,
		AuthRealm:       "rtsp-session",
	}
}

// Load overlays values found in an optional .env-style file onto the
// defaults. A missing file is not an error: env files are optional, unlike
// the teacher's Load which hard-required one.
func Load(envPath string) (*Config, error) {
	cfg := Default()

	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("load env file: %w", err)
			}
		}
	}

	if v := os.Getenv("RTSP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RTSP_UDP_PORT_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UDPPortMin = n
		}
	}
	if v := os.Getenv("RTSP_UDP_PORT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UDPPortMax = n
		}
	}
	if v := os.Getenv("RTSP_KEEPALIVE_METHOD"); v != "" {
		cfg.KeepaliveMethod = v
	}
	if v := os.Getenv("RTSP_MEDIA_PATH"); v != "" {
		cfg.MediaPath = v
	}
	if v := os.Getenv("RTSP_AUTH_USER"); v != "" {
		cfg.AuthUser = v
	}
	if v := os.Getenv("RTSP_AUTH_PASSWORD"); v != "" {
		cfg.AuthPassword = v
	}
	if v := os.Getenv("RTSP_AUTH_REALM"); v != "" {
		cfg.AuthRealm = v
	}

	return cfg, cfg.Validate()
}

// Validate checks the invariants the transport/session layers rely on.
func (c *Config) Validate() error {
	if c.UDPPortMin <= 0 || c.UDPPortMax <= c.UDPPortMin {
		return fmt.Errorf("invalid UDP port range [%d, %d)", c.UDPPortMin, c.UDPPortMax)
	}
	if c.UDPPortMin%2 != 0 {
		return fmt.Errorf("UDP port range must start on an even port, got %d", c.UDPPortMin)
	}
	switch c.KeepaliveMethod {
	case "get_parameter", "options":
	default:
		return fmt.Errorf("invalid keepalive method %q", c.KeepaliveMethod)
	}
	return nil
}
