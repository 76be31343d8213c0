package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/rs/zerolog/log"
)

// Persisted setting keys.
const (
	KeyStartAtLogin      = "StartAtLogin"
	KeyHideIcon          = "HideIcon"
	KeyHideCapsLock      = "HideCapsLock"
	KeyPSCState          = "PSCState"
	KeySliderNumber      = "SliderNumber"
	KeySaveFanLevel      = "SaveFanLevel"
	KeyFanLevel          = "FanLevel"
	KeyFan2Level         = "Fan2Level"
	KeyDisableFan        = "DisableFan"
	KeySecondThinkFan    = "SecondThinkFan"
	KeyThinkMuteLEDFixup = "ThinkMuteLEDFixup"
	KeyAutoBacklight     = "AutoBacklight"
	KeyBacklightTimeout  = "BacklightTimeout"
)

// ErrUnknownKey is returned for keys that are not settings.
var ErrUnknownKey = errors.New("unknown setting")

// Store is a flat key-value settings store.
type Store interface {
	Get(key string) (vpc.Value, bool, error)
	Set(key string, v vpc.Value) error
	Delete(key string) error
}

// Config is the persisted user configuration. It is loaded once at startup,
// owned by the session while running and flushed once at shutdown.
type Config struct {
	// StartAtLogin defaults to false and is written on first launch.
	StartAtLogin bool
	// HideIcon defaults to false. When set, fan controllers are not created.
	HideIcon bool
	// HideCapsLock defaults to false. When set, no caps-lock OSD is shown.
	HideCapsLock bool
	// PSCState enables the numeric performance mode. Default false.
	PSCState bool
	// SliderNumber is the performance level shown in the menu. Default 0.
	SliderNumber int
	// SaveFanLevel persists manual fan levels across restarts. Default false.
	SaveFanLevel bool
	// FanLevel and Fan2Level are the saved manual levels, nil meaning auto.
	FanLevel  *int
	Fan2Level *int
	// DisableFan suppresses fan control entirely. Default false.
	DisableFan bool
	// SecondThinkFan enables the secondary fan on dual-fan hardware.
	SecondThinkFan bool
	// ThinkMuteLEDFixup re-sends the mute LED on every volume change.
	ThinkMuteLEDFixup bool
	// AutoBacklight and BacklightTimeout are passed through to the device.
	AutoBacklight    *int
	BacklightTimeout *int
}

// Default returns a Config with every setting at its default.
func Default() *Config {
	return &Config{}
}

type kind int

const (
	kindBool kind = iota
	kindInt
	kindOptionalInt
)

type setting struct {
	key  string
	kind kind
	b    func(c *Config) *bool
	i    func(c *Config) *int
	o    func(c *Config) **int
}

var settings = []setting{
	{key: KeyStartAtLogin, kind: kindBool, b: func(c *Config) *bool { return &c.StartAtLogin }},
	{key: KeyHideIcon, kind: kindBool, b: func(c *Config) *bool { return &c.HideIcon }},
	{key: KeyHideCapsLock, kind: kindBool, b: func(c *Config) *bool { return &c.HideCapsLock }},
	{key: KeyPSCState, kind: kindBool, b: func(c *Config) *bool { return &c.PSCState }},
	{key: KeySliderNumber, kind: kindInt, i: func(c *Config) *int { return &c.SliderNumber }},
	{key: KeySaveFanLevel, kind: kindBool, b: func(c *Config) *bool { return &c.SaveFanLevel }},
	{key: KeyFanLevel, kind: kindOptionalInt, o: func(c *Config) **int { return &c.FanLevel }},
	{key: KeyFan2Level, kind: kindOptionalInt, o: func(c *Config) **int { return &c.Fan2Level }},
	{key: KeyDisableFan, kind: kindBool, b: func(c *Config) *bool { return &c.DisableFan }},
	{key: KeySecondThinkFan, kind: kindBool, b: func(c *Config) *bool { return &c.SecondThinkFan }},
	{key: KeyThinkMuteLEDFixup, kind: kindBool, b: func(c *Config) *bool { return &c.ThinkMuteLEDFixup }},
	{key: KeyAutoBacklight, kind: kindOptionalInt, o: func(c *Config) **int { return &c.AutoBacklight }},
	{key: KeyBacklightTimeout, kind: kindOptionalInt, o: func(c *Config) **int { return &c.BacklightTimeout }},
}

func lookup(key string) (setting, bool) {
	for _, s := range settings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

// Keys returns all setting keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(settings))
	for _, s := range settings {
		keys = append(keys, s.key)
	}
	sort.Strings(keys)
	return keys
}

// Load reads the configuration from st. Missing or mistyped keys keep their
// defaults. On first launch StartAtLogin=false is written back.
func Load(st Store) (*Config, error) {
	c := Default()
	for _, s := range settings {
		v, ok, err := st.Get(s.key)
		if err != nil {
			return c, fmt.Errorf("failed to load %s: %w", s.key, err)
		}
		if !ok {
			if s.key == KeyStartAtLogin {
				log.Info().Msg("First launch, writing default settings")
				if err := st.Set(KeyStartAtLogin, vpc.Bool(false)); err != nil {
					log.Warn().Err(err).Msg("Failed to write default settings")
				}
			}
			continue
		}
		if !s.apply(c, v) {
			log.Warn().Str("key", s.key).Str("value", v.String()).Msg("Ignoring mistyped setting")
		}
	}
	return c, nil
}

func (s setting) apply(c *Config, v vpc.Value) bool {
	switch s.kind {
	case kindBool:
		if v.Kind() != vpc.KindBool && v.Kind() != vpc.KindInt {
			return false
		}
		b, _ := v.AsBool()
		*s.b(c) = b
	case kindInt:
		n, ok := v.AsInt()
		if !ok || v.Kind() != vpc.KindInt {
			return false
		}
		*s.i(c) = int(n)
	case kindOptionalInt:
		n, ok := v.AsInt()
		if !ok || v.Kind() != vpc.KindInt {
			return false
		}
		level := int(n)
		*s.o(c) = &level
	}
	return true
}

func (s setting) value(c *Config) vpc.Value {
	switch s.kind {
	case kindBool:
		return vpc.Bool(*s.b(c))
	case kindInt:
		return vpc.Int(int64(*s.i(c)))
	case kindOptionalInt:
		if p := *s.o(c); p != nil {
			return vpc.Int(int64(*p))
		}
	}
	return vpc.Value{}
}

// Save writes every setting to st. Optional settings that are unset are
// removed. All keys are attempted; the first error is returned.
func (c *Config) Save(st Store) error {
	var first error
	for _, s := range settings {
		v := s.value(c)
		var err error
		if v.IsValid() {
			err = st.Set(s.key, v)
		} else {
			err = st.Delete(s.key)
		}
		if err != nil {
			log.Warn().Err(err).Str("key", s.key).Msg("Failed to save setting")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ParseValue converts the textual form of a setting into its stored type.
func ParseValue(key, text string) (vpc.Value, error) {
	s, ok := lookup(key)
	if !ok {
		return vpc.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	text = strings.TrimSpace(text)
	switch s.kind {
	case kindBool:
		switch strings.ToLower(text) {
		case "yes", "on":
			return vpc.Bool(true), nil
		case "no", "off":
			return vpc.Bool(false), nil
		}
		b, err := strconv.ParseBool(text)
		if err != nil {
			return vpc.Value{}, fmt.Errorf("%s expects a boolean: %w", key, err)
		}
		return vpc.Bool(b), nil
	default:
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return vpc.Value{}, fmt.Errorf("%s expects an integer: %w", key, err)
		}
		return vpc.Int(n), nil
	}
}

// IsKnownKey reports whether key is a setting.
func IsKnownKey(key string) bool {
	_, ok := lookup(key)
	return ok
}
