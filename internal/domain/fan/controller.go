// Package fan implements per-fan manual/auto control with periodic readback.
package fan

import (
	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/rs/zerolog/log"
)

const (
	// MaxLevel is the highest manual fan level.
	MaxLevel = 7
	// AutoCommand clears the manual override and returns the fan to
	// firmware control.
	AutoCommand = 0x80

	levelMask = 0x07
)

// Device is the part of the channel a fan controller needs.
type Device interface {
	GetProperty(key string) (vpc.Value, bool)
	SendNumber(key string, value int) bool
}

// Mode is the commanded state of a fan.
type Mode int

const (
	Auto Mode = iota
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "auto"
}

// Status is a snapshot of one fan for presentation.
type Status struct {
	Index      int    `json:"index"`
	Mode       string `json:"mode"`
	Commanded  *int   `json:"commanded,omitempty"`
	Level      int    `json:"level"`
	DeviceAuto bool   `json:"deviceAuto"`
	RPM        *int   `json:"rpm,omitempty"`
	Default    bool   `json:"default"`
	Dual       bool   `json:"dual"`
}

// Controller tracks one fan. It is not safe for concurrent use.
type Controller struct {
	dev       Device
	index     int
	dual      bool
	isDefault bool

	manual     *int
	lastRead   int
	deviceAuto bool
	rpm        *int
}

// New creates the controller for fan index (0 primary, 1 secondary).
func New(dev Device, index int, dual, isDefault bool) *Controller {
	return &Controller{
		dev:       dev,
		index:     index,
		dual:      dual,
		isDefault: isDefault,
	}
}

// ControlKey is the property used to command and read back the fan.
func (c *Controller) ControlKey() string {
	if c.index == 1 {
		return "Fan2 Control"
	}
	return "Fan Control"
}

func (c *Controller) speedKey() string {
	if c.index == 1 {
		return "Fan2 Speed"
	}
	return "Fan Speed"
}

// Index returns the fan index.
func (c *Controller) Index() int { return c.index }

// IsDefault reports whether this instance owns the shared status line.
func (c *Controller) IsDefault() bool { return c.isDefault }

// Mode returns the commanded mode.
func (c *Controller) Mode() Mode {
	if c.manual != nil {
		return Manual
	}
	return Auto
}

// SavedLevel returns the manual level to persist, nil in auto mode.
func (c *Controller) SavedLevel() *int {
	if c.manual == nil {
		return nil
	}
	level := *c.manual
	return &level
}

// LastRead returns the level last read back from the device.
func (c *Controller) LastRead() int { return c.lastRead }

// SetFanLevel switches to manual at level, or to auto when level is nil.
// Out of range levels are clamped.
func (c *Controller) SetFanLevel(level *int) bool {
	if level == nil {
		c.manual = nil
	} else {
		l := clamp(*level)
		if l != *level {
			log.Debug().Int("fan", c.index).Int("requested", *level).Int("level", l).Msg("Fan level clamped")
		}
		c.manual = &l
	}
	return c.Reassert()
}

// Reassert sends the commanded state again.
func (c *Controller) Reassert() bool {
	cmd := AutoCommand
	if c.manual != nil {
		cmd = *c.manual
	}
	ok := c.dev.SendNumber(c.ControlKey(), cmd)
	log.Debug().Int("fan", c.index).Str("mode", c.Mode().String()).Int("command", cmd).Bool("accepted", ok).Msg("Fan command")
	return ok
}

// Update refreshes the readout from the device. Drift from the commanded
// level is only corrected when force is set.
func (c *Controller) Update(force bool) {
	if force {
		c.Reassert()
	}

	v, ok := c.dev.GetProperty(c.ControlKey())
	if !ok {
		log.Debug().Int("fan", c.index).Msg("Fan level unavailable")
	} else if raw, ok := v.AsInt(); ok {
		c.lastRead = int(raw) & levelMask
		c.deviceAuto = raw&AutoCommand != 0
	}

	if v, ok := c.dev.GetProperty(c.speedKey()); ok {
		if n, ok := v.AsInt(); ok {
			rpm := int(n)
			c.rpm = &rpm
		}
	}

	if c.manual != nil && !force && c.lastRead != *c.manual {
		log.Debug().Int("fan", c.index).Int("commanded", *c.manual).Int("device", c.lastRead).Msg("Fan level drifted")
	}
}

// Status returns a snapshot of the fan.
func (c *Controller) Status() Status {
	return Status{
		Index:      c.index,
		Mode:       c.Mode().String(),
		Commanded:  c.SavedLevel(),
		Level:      c.lastRead,
		DeviceAuto: c.deviceAuto,
		RPM:        c.rpm,
		Default:    c.isDefault,
		Dual:       c.dual,
	}
}

func clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
