// Package session owns the connection to the privileged service and every
// controller built on top of it.
//
// All state is mutated by a single actor goroutine (Run). Presentation calls,
// poll ticks, wake signals and device notifications are funnelled onto it,
// so no two mutating operations interleave.
package session

import (
	"context"
	"time"

	"github.com/edumarques81/yoganc/internal/config"
	"github.com/edumarques81/yoganc/internal/domain/capslock"
	"github.com/edumarques81/yoganc/internal/domain/events"
	"github.com/edumarques81/yoganc/internal/domain/fan"
	"github.com/edumarques81/yoganc/internal/domain/performance"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/rs/zerolog/log"
)

// Store persists settings and event state.
type Store interface {
	config.Store
	events.Store
}

// Options configures a Controller.
type Options struct {
	ClassFilter   string
	Trusted       bool
	PollInterval  time.Duration
	PollTolerance time.Duration
	// CapsLock is the caps-lock state at startup.
	CapsLock bool
	// Temperature reads the CPU temperature for the fan status line.
	Temperature func() (float64, bool)
}

// Controller is the session lifecycle controller.
type Controller struct {
	client   *vpc.Client
	store    Store
	notifier Notifier
	opts     Options

	cfg       *config.Config
	caps      Capabilities
	events    *events.Manager
	primary   *fan.Controller
	secondary *fan.Controller
	perf      *performance.Controller
	poller    *fan.Poller
	capsLock  *capslock.Indicator

	micMuted bool
	muted    bool
	// replay is set while pending events wait for a presenter.
	replay bool

	work chan func()
	done chan struct{}
}

// New creates a controller. Start must be called before Run.
func New(client *vpc.Client, st Store, notifier Notifier, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	c := &Controller{
		client:   client,
		store:    st,
		notifier: notifier,
		opts:     opts,
		cfg:      config.Default(),
		work:     make(chan func(), 32),
		done:     make(chan struct{}),
	}
	c.poller = fan.NewPoller(func() { c.post(c.update) },
		fan.WithInterval(opts.PollInterval),
		fan.WithTolerance(opts.PollTolerance),
	)
	return c
}

// Start discovers and opens the service, detects its capabilities and builds
// the controllers. A *FatalError means the process must exit.
func (c *Controller) Start() error {
	svc, err := c.client.DiscoverAndOpen(c.opts.ClassFilter)
	if err != nil {
		log.Error().Err(err).Str("filter", c.opts.ClassFilter).Msg("Failed to connect to service")
		return openFailure(err)
	}

	props, ok := c.client.Properties()
	if !ok {
		log.Error().Str("class", svc.Class).Msg("Service unavailable")
		c.client.Close()
		return &FatalError{Reason: "service properties unavailable", Prompt: PromptUnavailable}
	}
	c.caps = detectCapabilities(svc.Class, props)

	log.Info().
		Str("class", c.caps.Class).
		Str("version", c.caps.Version).
		Str("ec", c.caps.ECCapability).
		Bool("dualFan", c.caps.DualFan).
		Bool("dytc", c.caps.DYTC).
		Msg("Connected to service")

	c.loadConfig()
	c.initNotification()
	if c.caps.DYTC {
		c.perf = performance.New(c.client, c.caps.dytc, c.cfg.PSCState, c.cfg.SliderNumber)
		c.cfg.SliderNumber = c.perf.Level()
	}

	c.capsLock = capslock.NewIndicator(capslock.DefaultWindow, c.opts.CapsLock, func(on bool) {
		c.post(func() { c.showCapsLock(on) })
	})
	c.capsLock.SetHidden(c.cfg.HideCapsLock)

	if c.perf != nil {
		c.perf.SetPerformance()
	}
	return nil
}

func (c *Controller) loadConfig() {
	cfg, err := config.Load(c.store)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
	}
	c.cfg = cfg

	if !c.opts.Trusted {
		c.notifier.ShowOSD(PromptMoveApp, "")
	}

	if c.cfg.AutoBacklight != nil {
		c.client.SendNumber(propAutoBacklight, *c.cfg.AutoBacklight)
	}
	if c.cfg.BacklightTimeout != nil {
		c.client.SendNumber(propBacklightTimeout, *c.cfg.BacklightTimeout)
	}
}

func (c *Controller) initNotification() {
	var st events.Store = c.store
	if c.caps.Class == events.ClassHIDD {
		st = nil
	}
	c.events = events.NewManager(c.client, c.caps.Class, st, c.handleEvent)

	isOpen := false
	switch c.caps.Class {
	case events.ClassIdea:
		isOpen = c.events.RegisterNotification()
	case events.ClassThink:
		isOpen = c.events.RegisterNotification()
		c.syncLEDs()
		c.initFans()
	case events.ClassHIDD:
		c.events.RegisterNotification()
		log.Info().Msg("Skip loadEvents")
	default:
		c.events.RegisterNotification()
		c.notifier.ShowOSD(PromptUnknownClass, "")
	}
	if !isOpen {
		return
	}
	c.replay = true
	if !c.notifier.Presenting() {
		log.Info().Strs("pending", pendingCodes(c.events.Pending())).Msg("Deferring event replay until a client connects")
		return
	}
	c.replayEvents()
}

func (c *Controller) replayEvents() {
	if !c.replay || c.events == nil || !c.events.IsOpen() {
		return
	}
	c.replay = false
	c.events.LoadEvents()
}

func (c *Controller) initFans() {
	if c.cfg.HideIcon || c.cfg.DisableFan {
		log.Info().Bool("hideIcon", c.cfg.HideIcon).Bool("disableFan", c.cfg.DisableFan).Msg("Fan control disabled")
		return
	}
	if !c.caps.ECWritable() {
		log.Warn().Str("ec", c.caps.ECCapability).Msg("EC access unavailable, fan control disabled")
		c.notifier.ShowOSD(PromptECAccess, "")
		return
	}

	c.primary, c.secondary = fan.Build(c.client, c.caps.DualFan, c.cfg.SecondThinkFan)
	if c.secondary != nil {
		if c.cfg.SaveFanLevel && c.cfg.Fan2Level != nil {
			c.secondary.SetFanLevel(c.cfg.Fan2Level)
		}
		c.secondary.Update(true)
	}
	if c.cfg.SaveFanLevel && c.cfg.FanLevel != nil {
		c.primary.SetFanLevel(c.cfg.FanLevel)
	}
	c.primary.Update(true)
}

// Run drains submitted work and device notifications until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	notes := c.client.Notifications()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.work:
			fn()
		case n, ok := <-notes:
			if !ok {
				log.Warn().Msg("Notification stream closed")
				notes = nil
				continue
			}
			c.events.Handle(n)
		}
	}
}

// post submits fn without waiting. Work is dropped when the queue is full.
func (c *Controller) post(fn func()) {
	select {
	case c.work <- fn:
	case <-c.done:
	default:
		log.Debug().Msg("Session busy, dropping work")
	}
}

// Do runs fn on the actor and waits for it to complete.
func (c *Controller) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.work <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown persists state and closes the connection. It must be called
// after Run has returned.
func (c *Controller) Shutdown() {
	c.poller.Stop()
	if c.capsLock != nil {
		c.capsLock.Stop()
	}
	if !c.client.Connected() {
		return
	}

	c.saveConfig()
	if c.events != nil {
		c.events.Close()
	}
	if err := c.client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close service connection")
	}
	log.Info().Msg("Session closed")
}

func (c *Controller) saveConfig() {
	if c.opts.Trusted && c.events != nil && c.caps.Class != events.ClassHIDD {
		if err := c.events.Save(c.store); err != nil {
			log.Warn().Err(err).Msg("Failed to save event state")
		}
	}

	if c.opts.Trusted && c.cfg.SaveFanLevel {
		if c.secondary != nil {
			c.cfg.Fan2Level = c.secondary.SavedLevel()
		}
		if c.primary != nil {
			c.cfg.FanLevel = c.primary.SavedLevel()
		}
	}

	if c.perf != nil {
		c.cfg.PSCState = c.perf.PSC()
		c.cfg.SliderNumber = c.perf.Level()
	}
	c.cfg.AutoBacklight = c.readNumber(propAutoBacklight)
	c.cfg.BacklightTimeout = c.readNumber(propBacklightTimeout)

	if err := c.cfg.Save(c.store); err != nil {
		log.Warn().Err(err).Msg("Failed to save settings")
	}
}

func (c *Controller) readNumber(key string) *int {
	v, ok := c.client.GetProperty(key)
	if !ok {
		return nil
	}
	n, ok := v.AsInt()
	if !ok {
		return nil
	}
	out := int(n)
	return &out
}
