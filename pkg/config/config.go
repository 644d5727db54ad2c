// Package config holds the exporter's runtime configuration. Every field has
// an environment-variable name carried over from the original deployment;
// FromEnv overlays those onto Default. Only a few settings also have a cobra
// flag (--host, --port and --ssh-key on serve, --log-level on the root
// command); where one is given a non-empty value it wins over the env var.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the fully-resolved runtime configuration for the exporter.
type Config struct {
	NLNOGAPI             string
	NLNOGParticipantsAPI string
	NLNOGAPITimeoutSec   int

	SSHUsername           string
	SSHConnectTimeoutSec  int
	SSHSubprocessTimeout  int
	SSHKeyPath            string
	SSHControlPathTemplate string

	PingCount   int
	PingTimeout int

	StartupMaxWorkers int
	Threads           int

	CacheRefreshIntervalSec int

	Host string
	Port int

	LogLevel string
	Debug    bool
}

// Default returns the configuration documented in spec.md §6, before any
// environment or flag overrides are applied.
func Default() Config {
	return Config{
		NLNOGAPI:             "https://api.ring.nlnog.net/1.0/nodes/active",
		NLNOGParticipantsAPI: "https://api.ring.nlnog.net/1.0/participants",
		NLNOGAPITimeoutSec:   10,

		SSHUsername:            "rise",
		SSHConnectTimeoutSec:    5,
		SSHSubprocessTimeout:    15,
		SSHKeyPath:              "/app/ssh/nlnog",
		SSHControlPathTemplate:  "/tmp/ssh-control/nlnog-%r@%h:%p",

		PingCount:   10,
		PingTimeout: 5,

		StartupMaxWorkers: 50,
		Threads:           100,

		CacheRefreshIntervalSec: 300,

		Host: "0.0.0.0",
		Port: 8000,

		LogLevel: "INFO",
		Debug:    false,
	}
}

// FromEnv overlays environment variables named after the original Python
// deployment's settings onto cfg, returning the result.
func FromEnv(cfg Config) Config {
	cfg.NLNOGAPI = envString("NLNOG_API", cfg.NLNOGAPI)
	cfg.NLNOGParticipantsAPI = envString("NLNOG_PARTICIPANTS_API", cfg.NLNOGParticipantsAPI)
	cfg.NLNOGAPITimeoutSec = envInt("NLNOG_API_TIMEOUT", cfg.NLNOGAPITimeoutSec)

	cfg.SSHUsername = envString("SSH_USERNAME", cfg.SSHUsername)
	cfg.SSHConnectTimeoutSec = envInt("SSH_CONNECT_TIMEOUT", cfg.SSHConnectTimeoutSec)
	cfg.SSHSubprocessTimeout = envInt("SSH_SUBPROCESS_TIMEOUT", cfg.SSHSubprocessTimeout)
	cfg.SSHKeyPath = envString("SSH_KEY_PATH", cfg.SSHKeyPath)
	cfg.SSHControlPathTemplate = envString("SSH_CONTROL_PATH_TEMPLATE", cfg.SSHControlPathTemplate)

	cfg.PingCount = envInt("PING_COUNT", cfg.PingCount)
	cfg.PingTimeout = envInt("PING_TIMEOUT", cfg.PingTimeout)

	cfg.StartupMaxWorkers = envInt("STARTUP_MAX_WORKERS", cfg.StartupMaxWorkers)
	cfg.Threads = envInt("THREADS", cfg.Threads)

	cfg.CacheRefreshIntervalSec = envInt("CACHE_REFRESH_INTERVAL", cfg.CacheRefreshIntervalSec)

	cfg.Host = envString("FLASK_HOST", cfg.Host)
	cfg.Port = envInt("FLASK_PORT", cfg.Port)

	cfg.LogLevel = strings.ToUpper(envString("LOG_LEVEL", cfg.LogLevel))
	cfg.Debug = envBool("DEBUG", cfg.Debug)

	return cfg
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return fallback
}

// SSHControlPath expands the control path template for a given hostname,
// substituting %r (user), %h (host), and %p (port, always 22).
func (c Config) SSHControlPath(hostname string) string {
	path := c.SSHControlPathTemplate
	path = strings.ReplaceAll(path, "%r", c.SSHUsername)
	path = strings.ReplaceAll(path, "%h", hostname)
	path = strings.ReplaceAll(path, "%p", "22")
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}

// ExpandedSSHKeyPath returns SSHKeyPath with a leading "~" expanded to the
// current user's home directory.
func (c Config) ExpandedSSHKeyPath() string {
	if c.SSHKeyPath == "~" || strings.HasPrefix(c.SSHKeyPath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			if c.SSHKeyPath == "~" {
				return home
			}
			return filepath.Join(home, c.SSHKeyPath[2:])
		}
	}
	return c.SSHKeyPath
}
