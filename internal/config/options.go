// Package config holds the daemon options and the persisted user settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Options configures the daemon itself. They are read once at startup.
type Options struct {
	Listen        string   `toml:"listen"`
	DBPath        string   `toml:"db_path"`
	BusNamePrefix string   `toml:"bus_name_prefix"`
	ClassFilter   string   `toml:"class_filter"`
	TrustedPrefix string   `toml:"trusted_prefix"`
	MPDHost       string   `toml:"mpd_host"`
	MPDPort       int      `toml:"mpd_port"`
	Debug         bool     `toml:"debug"`
	PollInterval  Duration `toml:"poll_interval"`
	PollTolerance Duration `toml:"poll_tolerance"`

	// MaxRemoteClients bounds menu clients from other hosts. 0 accepts
	// local clients only.
	MaxRemoteClients int `toml:"max_remote_clients"`
}

// Duration is a time.Duration written as a string ("1s", "200ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultOptions returns the built-in option values.
func DefaultOptions() Options {
	return Options{
		Listen:        ":3011",
		DBPath:        defaultDBPath(),
		BusNamePrefix: "org.yogasmc.VPC",
		ClassFilter:   "YogaVPC",
		TrustedPrefix: "/usr",
		MPDPort:       6600,
		PollInterval:  Duration{time.Second},
		PollTolerance: Duration{200 * time.Millisecond},
	}
}

// DefaultOptionsPath returns $XDG_CONFIG_HOME/yoganc/config.toml.
func DefaultOptionsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "yoganc", "config.toml")
}

func defaultDBPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "yoganc", "yoganc.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "yoganc", "yoganc.db")
	}
	return "data/yoganc.db"
}

// LoadOptions reads path on top of the defaults. A missing file is not an
// error.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("failed to read options: %w", err)
	}
	if err := toml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return opts, opts.Validate()
}

// Validate checks option values.
func (o Options) Validate() error {
	if o.ClassFilter == "" {
		return errors.New("class_filter must not be empty")
	}
	if o.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", o.PollInterval)
	}
	if o.PollTolerance.Duration < 0 {
		return fmt.Errorf("poll_tolerance must not be negative, got %s", o.PollTolerance)
	}
	if o.MaxRemoteClients < 0 {
		return fmt.Errorf("max_remote_clients must not be negative, got %d", o.MaxRemoteClients)
	}
	if o.MPDPort < 0 || o.MPDPort > 65535 {
		return fmt.Errorf("mpd_port out of range: %d", o.MPDPort)
	}
	return nil
}

// MPDAddress returns host:port of the mixer source, or "" when disabled.
func (o Options) MPDAddress() string {
	if o.MPDHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", o.MPDHost, o.MPDPort)
}
