package session

import (
	"context"
	"fmt"

	"github.com/edumarques81/yoganc/internal/domain/events"
	"github.com/edumarques81/yoganc/internal/domain/fan"
	"github.com/edumarques81/yoganc/internal/domain/performance"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/rs/zerolog/log"
)

// InitMenu returns the status menu content.
func (c *Controller) InitMenu(ctx context.Context) (Menu, error) {
	var menu Menu
	err := c.Do(ctx, func() {
		menu = Menu{
			Hidden:       c.cfg.HideIcon,
			Version:      c.caps.Version,
			Class:        c.caps.Class,
			Capabilities: c.caps,
			StartAtLogin: c.cfg.StartAtLogin,
			HideCapsLock: c.cfg.HideCapsLock,
		}
		if c.cfg.HideIcon {
			log.Info().Msg("Icon hidden")
			return
		}
		menu.Performance = c.performanceEntries()
		menu.Fans = c.fanStatuses()
	})
	return menu, err
}

// PerformanceEntries returns the performance menu entries, or nil when the
// device has no performance control.
func (c *Controller) PerformanceEntries(ctx context.Context) (*performance.Entries, error) {
	var entries *performance.Entries
	err := c.Do(ctx, func() { entries = c.performanceEntries() })
	return entries, err
}

func (c *Controller) performanceEntries() *performance.Entries {
	if c.perf == nil {
		return nil
	}
	e := c.perf.Entries()
	return &e
}

// SliderChanged applies a new performance level.
func (c *Controller) SliderChanged(ctx context.Context, level int) (*performance.Entries, error) {
	var entries *performance.Entries
	err := c.Do(ctx, func() {
		if c.perf == nil {
			return
		}
		c.perf.SetLevel(level)
		c.cfg.SliderNumber = c.perf.Level()
		entries = c.performanceEntries()
	})
	return entries, err
}

// EnableCapability toggles the numeric performance mode.
func (c *Controller) EnableCapability(ctx context.Context, enabled bool) (*performance.Entries, error) {
	var entries *performance.Entries
	err := c.Do(ctx, func() {
		if c.perf == nil {
			return
		}
		c.perf.ToggleCapability(enabled)
		c.perf.Refresh()
		c.cfg.PSCState = c.perf.PSC()
		c.cfg.SliderNumber = c.perf.Level()
		entries = c.performanceEntries()
	})
	return entries, err
}

// SetFanLevel sets fan index to a manual level, or to auto when level is nil.
func (c *Controller) SetFanLevel(ctx context.Context, index int, level *int) (fan.Status, error) {
	var (
		st     fan.Status
		result error
	)
	err := c.Do(ctx, func() {
		f := c.fan(index)
		if f == nil {
			result = ErrNoFan
			return
		}
		f.SetFanLevel(level)
		f.Update(false)
		st = f.Status()
	})
	if err != nil {
		return st, err
	}
	return st, result
}

func (c *Controller) fan(index int) *fan.Controller {
	switch {
	case index == 0 && c.primary != nil:
		return c.primary
	case index == 1 && c.secondary != nil:
		return c.secondary
	}
	return nil
}

func (c *Controller) fanStatuses() []fan.Status {
	var out []fan.Status
	if c.primary != nil {
		out = append(out, c.primary.Status())
	}
	if c.secondary != nil {
		out = append(out, c.secondary.Status())
	}
	return out
}

// Update refreshes the fan readouts.
func (c *Controller) Update(ctx context.Context) error {
	return c.Do(ctx, c.update)
}

func (c *Controller) update() {
	if c.primary == nil && c.secondary == nil {
		return
	}
	if c.secondary != nil {
		c.secondary.Update(false)
	}
	if c.primary != nil {
		c.primary.Update(false)
	}
	c.pushFanStatus()
}

func (c *Controller) pushFanStatus() {
	report := FanReport{Fans: c.fanStatuses()}
	if c.opts.Temperature != nil {
		if t, ok := c.opts.Temperature(); ok {
			report.Temperature = &t
		}
	}
	c.notifier.FanStatus(report)
}

// Wakeup re-synchronizes device state after system sleep.
func (c *Controller) Wakeup(ctx context.Context) error {
	return c.Do(ctx, c.wakeup)
}

func (c *Controller) wakeup() {
	if c.caps.Class != events.ClassThink {
		log.Debug().Str("class", c.caps.Class).Msg("Wakeup ignored")
		return
	}
	c.syncLEDs()
	if c.secondary != nil {
		c.secondary.Update(true)
	}
	if c.primary != nil {
		c.primary.Update(true)
	}
	log.Info().Msg("Wakeup detected, restoring performance level")
	if c.perf != nil {
		c.perf.SetPerformance()
	}
}

// PresenterReady replays events that were deferred because no client was
// connected during Start.
func (c *Controller) PresenterReady() {
	c.post(c.replayEvents)
}

func pendingCodes(codes []uint32) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, fmt.Sprintf("0x%02X", code))
	}
	return out
}

// StartPolling refreshes the fans now and then periodically until
// StopPolling.
func (c *Controller) StartPolling() {
	c.post(c.update)
	c.poller.Start()
}

// StopPolling stops periodic fan updates.
func (c *Controller) StopPolling() {
	c.poller.Stop()
}

// FlagsChanged reports a keyboard modifier change.
func (c *Controller) FlagsChanged(capsLock bool) {
	if c.capsLock != nil {
		c.capsLock.FlagsChanged(capsLock)
	}
}

func (c *Controller) showCapsLock(on bool) {
	if on {
		c.notifier.ShowOSD("Caps Lock On", "kCapslockOn")
		return
	}
	c.notifier.ShowOSD("Caps Lock Off", "kCapslockOff")
}

// VolumeChanged reports the output volume. With the mute LED fixup enabled
// the mute LED is re-sent on every change.
func (c *Controller) VolumeChanged(volume int) {
	c.post(func() {
		if c.caps.Class != events.ClassThink || !c.cfg.ThinkMuteLEDFixup {
			return
		}
		c.muted = volume == 0
		c.sendLED(propMuteLED, c.muted)
	})
}

func (c *Controller) syncLEDs() {
	c.sendLED(propMicMuteLED, c.micMuted)
	c.sendLED(propMuteLED, c.muted)
}

func (c *Controller) sendLED(key string, on bool) {
	value := 0
	if on {
		value = 1
	}
	c.client.SendNumber(key, value)
}

func (c *Controller) handleEvent(code uint32, desc events.Descriptor, payload vpc.Value) bool {
	if c.caps.Class == events.ClassThink {
		switch code {
		case events.ThinkMicMute:
			c.micMuted = toggled(c.micMuted, payload)
			c.sendLED(propMicMuteLED, c.micMuted)
		case events.ThinkMute:
			c.muted = toggled(c.muted, payload)
			c.sendLED(propMuteLED, c.muted)
		}
	}

	log.Debug().Uint32("code", code).Str("name", desc.Name).Str("payload", payload.String()).Msg("Event")
	if !desc.Display {
		return true
	}
	shown := c.notifier.EventReceived(code, desc, payload)
	if !shown {
		// Offer it again once a client connects.
		c.replay = true
	}
	return shown
}

// toggled applies a mute event: an explicit payload wins, otherwise the
// state flips.
func toggled(current bool, payload vpc.Value) bool {
	if b, ok := payload.AsBool(); ok {
		return b
	}
	return !current
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := c.Do(ctx, func() {
		st = State{
			Connected:    c.client.Connected(),
			Service:      string(c.client.Service().Handle),
			Capabilities: c.caps,
			Events:       events.Unregistered.String(),
			Fans:         c.fanStatuses(),
			Performance:  c.performanceEntries(),
			Polling:      c.poller.IsRunning(),
			Trusted:      c.opts.Trusted,
		}
		if c.events != nil {
			st.Events = c.events.Status().String()
			st.Pending = c.events.Pending()
		}
	})
	return st, err
}
