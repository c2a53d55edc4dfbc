// Package config loads the broker's listener/auth/topic-check document
// (section 6) from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ListenerConfig describes one network endpoint the broker accepts
// connections on.
type ListenerConfig struct {
	Type           string `yaml:"type"` // tcp, tls, ws, wss
	Bind           string `yaml:"bind"`
	MaxConnections int    `yaml:"max-connections"`
	SSL            bool   `yaml:"ssl"`
	CertFile       string `yaml:"certfile"`
	KeyFile        string `yaml:"keyfile"`
}

// AuthConfig controls CONNECT authentication.
type AuthConfig struct {
	AllowAnonymous bool     `yaml:"allow-anonymous"`
	PasswordFile   string   `yaml:"password-file"`
	Plugins        []string `yaml:"plugins"`
}

// TopicCheckConfig controls PUBLISH/SUBSCRIBE authorization.
type TopicCheckConfig struct {
	Enabled    bool                `yaml:"enabled"`
	Plugins    []string            `yaml:"plugins"`
	ACL        map[string][]string `yaml:"acl"`
	PublishACL map[string][]string `yaml:"publish-acl"`
}

// RateLimitConfig bounds how many PUBLISHes a client, a topic, or the
// broker as a whole may accept per window; zero disables that level.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	PerClientLimit int  `yaml:"per-client-limit"`
	PerTopicLimit  int  `yaml:"per-topic-limit"`
	GlobalLimit    int  `yaml:"global-limit"`
	WindowSeconds  int  `yaml:"window-seconds"`
}

// WindowDuration returns WindowSeconds as a time.Duration, defaulting to
// one second when unset so a configured limit is never silently a no-op.
func (c RateLimitConfig) WindowDuration() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// Config is the top-level broker configuration document.
type Config struct {
	Listeners              map[string]ListenerConfig `yaml:"listeners"`
	SysInterval            int                       `yaml:"sys_interval"`
	Auth                   AuthConfig                `yaml:"auth"`
	TopicCheck             TopicCheckConfig          `yaml:"topic-check"`
	RateLimit              RateLimitConfig           `yaml:"rate-limit"`
	TimeoutDisconnectDelay int                       `yaml:"timeout-disconnect-delay"`
}

// SysIntervalDuration returns SysInterval as a time.Duration, or 0 if
// republication is disabled.
func (c *Config) SysIntervalDuration() time.Duration {
	if c.SysInterval <= 0 {
		return 0
	}
	return time.Duration(c.SysInterval) * time.Second
}

// Load reads and parses a configuration document from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a configuration document already in memory.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants the broker relies on: every
// listener must name a known type and a bind address, and a tls/wss
// listener must carry a cert/key pair.
func (c *Config) Validate() error {
	for name, l := range c.Listeners {
		switch l.Type {
		case "tcp", "tls", "ws", "wss":
		default:
			return fmt.Errorf("config: listener %q: unknown type %q", name, l.Type)
		}
		if l.Bind == "" {
			return fmt.Errorf("config: listener %q: bind address required", name)
		}
		if (l.Type == "tls" || l.Type == "wss" || l.SSL) && (l.CertFile == "" || l.KeyFile == "") {
			return fmt.Errorf("config: listener %q: certfile/keyfile required for %s", name, l.Type)
		}
	}
	return nil
}

// DefaultListenerName is the name conventionally given to the fallback
// listener entry of a config document. Neither Parse nor the broker
// substitutes a listener under this name when none is configured.
const DefaultListenerName = "default"
