// Package performance maps the menu performance level onto DYTC commands.
//
// Without PSC support the level selects one of three tiers, sent as a
// string. With PSC enabled the level is sent as a number, where level 0 is
// sent as PSCDefault to mean "no explicit level".
package performance

import (
	"fmt"

	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/rs/zerolog/log"
)

// Device property keys.
const (
	KeyMode    = "DYTCMode"
	KeyPSCMode = "DYTCPSCMode"
	KeyDYTC    = "DYTC"
)

const (
	// PSCDefault asks the firmware to use its default level.
	PSCDefault = 0xF

	// TierBound and PSCBound are the highest menu levels per mode.
	TierBound = 2
	PSCBound  = 8
)

// Tier is a three-tier performance mode.
type Tier int

const (
	Low Tier = iota
	Mid
	High
)

var tierCommands = [...]string{Low: "L", Mid: "M", High: "H"}

func (t Tier) String() string {
	switch t {
	case Low:
		return "Low"
	case Mid:
		return "Mid"
	case High:
		return "High"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Command returns the wire command of the tier.
func (t Tier) Command() (string, bool) {
	if t < Low || t > High {
		return "", false
	}
	return tierCommands[t], true
}

// TierFromCommand is the inverse of Tier.Command.
func TierFromCommand(cmd string) (Tier, bool) {
	for i, c := range tierCommands {
		if c == cmd {
			return Tier(i), true
		}
	}
	return 0, false
}

// Device is the part of the channel the controller needs.
type Device interface {
	GetProperty(key string) (vpc.Value, bool)
	SendString(key, value string) bool
	SendNumber(key string, value int) bool
}

// Entries describes the performance section of the menu.
type Entries struct {
	Revision string `json:"revision"`
	FuncMode string `json:"funcMode"`
	PSC      bool   `json:"psc"`
	Level    int    `json:"level"`
	Bound    int    `json:"bound"`
	// Slider is the position suggested by the firmware function mode.
	Slider int `json:"slider"`
}

// Controller keeps the menu level and the device command in sync. It is not
// safe for concurrent use.
type Controller struct {
	dev   Device
	psc   bool
	level int
	dytc  vpc.Value
}

// New creates a controller from the persisted toggle and level. The level is
// clamped into the active bound.
func New(dev Device, dytc vpc.Value, psc bool, level int) *Controller {
	c := &Controller{dev: dev, psc: psc, dytc: dytc}
	c.level = c.clampLevel(level)
	return c
}

// PSC reports whether the numeric mode is active.
func (c *Controller) PSC() bool { return c.psc }

// Level returns the menu level.
func (c *Controller) Level() int { return c.level }

// Bound returns the highest level of the active mode.
func (c *Controller) Bound() int {
	if c.psc {
		return PSCBound
	}
	return TierBound
}

func (c *Controller) clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if b := c.Bound(); level > b {
		return b
	}
	return level
}

// SetPerformance sends the command for the current level. It reports
// whether a command was sent and accepted.
func (c *Controller) SetPerformance() bool {
	if c.psc {
		value := c.level
		if value < 0 || value > PSCBound {
			log.Error().Int("level", c.level).Msg("Invalid value")
			return false
		}
		if value == 0 {
			value = PSCDefault
		}
		ok := c.dev.SendNumber(KeyPSCMode, value)
		log.Debug().Int("level", c.level).Int("command", value).Bool("accepted", ok).Msg("Performance command")
		return ok
	}

	cmd, ok := Tier(c.level).Command()
	if !ok {
		log.Error().Int("level", c.level).Msg("Invalid value")
		return false
	}
	accepted := c.dev.SendString(KeyMode, cmd)
	log.Debug().Str("tier", Tier(c.level).String()).Bool("accepted", accepted).Msg("Performance command")
	return accepted
}

// SetLevel applies a menu slider change and refreshes the DYTC state.
// Levels outside the active bound are rejected and leave the level as is.
func (c *Controller) SetLevel(level int) bool {
	if level < 0 || level > c.Bound() {
		log.Error().Int("level", level).Int("bound", c.Bound()).Msg("Invalid value")
		return false
	}
	c.level = level
	ok := c.SetPerformance()
	c.Refresh()
	return ok
}

// ToggleCapability switches the numeric mode. Turning it off clamps levels
// above the tier range to Mid. The command is re-issued either way.
func (c *Controller) ToggleCapability(enabled bool) bool {
	c.psc = enabled
	if !enabled && c.level >= 3 {
		c.level = int(Mid)
	}
	return c.SetPerformance()
}

// Refresh re-reads the DYTC dictionary from the device.
func (c *Controller) Refresh() {
	if v, ok := c.dev.GetProperty(KeyDYTC); ok {
		c.dytc = v
	}
}

// Entries returns the menu entries.
func (c *Controller) Entries() Entries {
	return Entries{
		Revision: revision(c.dytc),
		FuncMode: funcMode(c.dytc),
		PSC:      c.psc,
		Level:    c.level,
		Bound:    c.Bound(),
		Slider:   sliderPosition(c.dytc),
	}
}

func revision(dytc vpc.Value) string {
	rev, _ := dytc.Field("Revision").AsInt()
	sub, _ := dytc.Field("SubRevision").AsInt()
	return fmt.Sprintf("%d.%d", rev, sub)
}

func funcMode(dytc vpc.Value) string {
	mode, ok := dytc.Field("FuncMode").AsString()
	if !ok || mode == "" {
		return "Unknown"
	}
	return mode
}

func sliderPosition(dytc vpc.Value) int {
	switch funcMode(dytc) {
	case "Desk":
		return int(High)
	case "Standard":
		return int(Mid)
	}
	return int(Low)
}
