package session

import (
	"github.com/edumarques81/yoganc/internal/domain/events"
	"github.com/edumarques81/yoganc/internal/domain/fan"
	"github.com/edumarques81/yoganc/internal/domain/performance"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
)

// Device property keys read during capability detection.
const (
	propVersion      = "VersionInfo"
	propECCapability = "EC Capability"
	propDualFan      = "Dual fan"

	propAutoBacklight    = "AutoBacklight"
	propBacklightTimeout = "BacklightTimeout"
	propMicMuteLED       = "MicMuteLED"
	propMuteLED          = "MuteLED"

	unknownVersion = "Unknown Version"
)

// Capabilities is what detectCapabilities reads once after open.
type Capabilities struct {
	Class        string    `json:"class"`
	Version      string    `json:"version"`
	ECCapability string    `json:"ecCapability,omitempty"`
	DualFan      bool      `json:"dualFan"`
	DYTC         bool      `json:"dytc"`
	dytc         vpc.Value
}

// ECWritable reports whether the embedded controller allows fan writes.
func (c Capabilities) ECWritable() bool { return c.ECCapability == "RW" }

func detectCapabilities(class string, props map[string]vpc.Value) Capabilities {
	caps := Capabilities{Class: class, Version: unknownVersion}
	if v, ok := props[propVersion].AsString(); ok && v != "" {
		caps.Version = v
	}
	if v, ok := props[propECCapability].AsString(); ok {
		caps.ECCapability = v
	}
	if v, ok := props[propDualFan].AsBool(); ok {
		caps.DualFan = v
	}
	if dytc := props[performance.KeyDYTC]; dytc.Kind() == vpc.KindMap {
		caps.DYTC = true
		caps.dytc = dytc
	}
	return caps
}

// Notifier is the presentation layer as seen from the session.
type Notifier interface {
	ShowOSD(prompt, image string)
	FanStatus(report FanReport)
	// EventReceived presents a device event and reports whether it was shown.
	EventReceived(code uint32, desc events.Descriptor, payload vpc.Value) bool
	// Presenting reports whether a client is connected to show events.
	Presenting() bool
}

// FanReport is the fan status line.
type FanReport struct {
	Fans        []fan.Status `json:"fans"`
	Temperature *float64     `json:"temperature,omitempty"`
}

// Menu is the content of the status menu.
type Menu struct {
	Hidden       bool                 `json:"hidden"`
	Version      string               `json:"version"`
	Class        string               `json:"class"`
	Capabilities Capabilities         `json:"capabilities"`
	Performance  *performance.Entries `json:"performance,omitempty"`
	Fans         []fan.Status         `json:"fans,omitempty"`
	StartAtLogin bool                 `json:"startAtLogin"`
	HideCapsLock bool                 `json:"hideCapsLock"`
}

// State is a snapshot of the session.
type State struct {
	Connected    bool                 `json:"connected"`
	Service      string               `json:"service,omitempty"`
	Capabilities Capabilities         `json:"capabilities"`
	Events       string               `json:"events"`
	Pending      []uint32             `json:"pendingEvents,omitempty"`
	Fans         []fan.Status         `json:"fans,omitempty"`
	Performance  *performance.Entries `json:"performance,omitempty"`
	Polling      bool                 `json:"polling"`
	Trusted      bool                 `json:"trusted"`
}
