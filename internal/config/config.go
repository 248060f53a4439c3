// Package config loads the client configuration.
//
// Values come from defaults, an optional YAML file and AEROQUERY_ prefixed
// environment variables, in increasing precedence. Nested keys map to env
// names with underscores: batch.size is AEROQUERY_BATCH_SIZE.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AEROQUERY"

// DefaultPort is used for hosts given without a port.
const DefaultPort = 3000

var ErrInvalid = errors.New("invalid configuration")

// Config is the full client configuration.
type Config struct {
	// Hosts are seed nodes as host or host:port.
	Hosts     []string `mapstructure:"hosts" validate:"required,min=1,dive,required"`
	Namespace string   `mapstructure:"namespace" validate:"required"`
	User      string   `mapstructure:"user"`
	Password  string   `mapstructure:"password" validate:"required_with=User"`

	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	IndexRefreshInterval   time.Duration `mapstructure:"index_refresh_interval" validate:"gte=0"`
	VersionRefreshInterval time.Duration `mapstructure:"version_refresh_interval" validate:"gte=0"`
	FetchCardinality       bool          `mapstructure:"fetch_cardinality"`

	Batch Batch `mapstructure:"batch"`
}

// Batch tunes multi-key operations.
type Batch struct {
	Size        int     `mapstructure:"size" validate:"gte=1"`
	Concurrency int     `mapstructure:"concurrency" validate:"gte=1"`
	Rate        float64 `mapstructure:"rate" validate:"gte=0"` // calls per second, 0 is unlimited
}

// Host is one parsed seed address.
type Host struct {
	Name string
	Port int
}

func (h Host) String() string {
	return net.JoinHostPort(h.Name, strconv.Itoa(h.Port))
}

var defaults = map[string]any{
	"hosts":                    []string{"localhost:3000"},
	"namespace":                "test",
	"user":                     "",
	"password":                 "",
	"timeout":                  "10s",
	"index_refresh_interval":   "60s",
	"version_refresh_interval": "60s",
	"fetch_cardinality":        false,
	"batch.size":               100,
	"batch.concurrency":        4,
	"batch.rate":               0,
}

// DefaultPath is the file used when no path is given:
// <user config dir>/aeroquery/config.yaml.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine config directory: %w", err)
	}
	return filepath.Join(base, "aeroquery", "config.yaml"), nil
}

// Load reads the configuration. An empty path skips the file. The result
// is not validated; callers apply their overrides and then call Validate.
func Load(path string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that every host parses.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := c.SeedHosts(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// SeedHosts parses Hosts.
func (c Config) SeedHosts() ([]Host, error) {
	hosts := make([]Host, 0, len(c.Hosts))
	for _, raw := range c.Hosts {
		h, err := ParseHost(raw)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// ParseHost parses host or host:port. IPv6 literals need brackets when a
// port is given.
func ParseHost(raw string) (Host, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Host{}, errors.New("empty host")
	}
	name, port, err := net.SplitHostPort(raw)
	if err != nil {
		// No port.
		if strings.Count(raw, ":") > 1 && !strings.HasPrefix(raw, "[") {
			return Host{Name: raw, Port: DefaultPort}, nil
		}
		if !strings.Contains(raw, ":") {
			return Host{Name: raw, Port: DefaultPort}, nil
		}
		return Host{}, fmt.Errorf("host %q: %w", raw, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return Host{}, fmt.Errorf("host %q: invalid port %q", raw, port)
	}
	if name == "" {
		return Host{}, fmt.Errorf("host %q: missing name", raw)
	}
	return Host{Name: name, Port: p}, nil
}
