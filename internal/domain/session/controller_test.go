package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/yoganc/internal/config"
	"github.com/edumarques81/yoganc/internal/domain/events"
	"github.com/edumarques81/yoganc/internal/domain/fan"
	"github.com/edumarques81/yoganc/internal/domain/performance"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/edumarques81/yoganc/internal/infra/vpc/vpctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	settings map[string]vpc.Value
	events   map[string]events.State
}

func newMemStore() *memStore {
	return &memStore{
		settings: make(map[string]vpc.Value),
		events:   make(map[string]events.State),
	}
}

func (s *memStore) Get(key string) (vpc.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *memStore) Set(key string, v vpc.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = v
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, key)
	return nil
}

func (s *memStore) LoadEvents(class string) (events.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[class], nil
}

func (s *memStore) SaveEvents(class string, st events.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[class] = st
	return nil
}

func (s *memStore) setting(key string) (vpc.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok
}

type osd struct {
	Prompt string
	Image  string
}

type fakeNotifier struct {
	mu      sync.Mutex
	osds    []osd
	reports []FanReport
	events  []uint32
	present bool
}

func (n *fakeNotifier) ShowOSD(prompt, image string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.osds = append(n.osds, osd{prompt, image})
}

func (n *fakeNotifier) FanStatus(report FanReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
}

func (n *fakeNotifier) EventReceived(code uint32, _ events.Descriptor, _ vpc.Value) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, code)
	return n.present
}

func (n *fakeNotifier) Presenting() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.present
}

func (n *fakeNotifier) setPresent(present bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.present = present
}

func (n *fakeNotifier) prompts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.osds))
	for _, o := range n.osds {
		out = append(out, o.Prompt)
	}
	return out
}

func (n *fakeNotifier) receivedEvents() []uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint32(nil), n.events...)
}

func (n *fakeNotifier) fanReports() []FanReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]FanReport(nil), n.reports...)
}

func dytcDict() vpc.Value {
	return vpc.Map(map[string]vpc.Value{
		"Revision":    vpc.Int(5),
		"SubRevision": vpc.Int(0),
		"FuncMode":    vpc.String("Standard"),
	})
}

func thinkService(props map[string]vpc.Value) *vpctest.Service {
	base := map[string]vpc.Value{
		propVersion:      vpc.String("1.4.2"),
		propECCapability: vpc.String("RW"),
		propDualFan:      vpc.Bool(false),
		"DYTC":           dytcDict(),
	}
	for k, v := range props {
		base[k] = v
	}
	return vpctest.NewService("think0", events.ClassThink, base)
}

type harness struct {
	ctrl     *Controller
	svc      *vpctest.Service
	provider *vpctest.Provider
	store    *memStore
	notifier *fakeNotifier
}

func newHarness(t *testing.T, store *memStore, opts Options, services ...*vpctest.Service) *harness {
	t.Helper()
	if store == nil {
		store = newMemStore()
	}
	if opts.ClassFilter == "" {
		opts.ClassFilter = "YogaVPC"
	}
	provider := vpctest.NewProvider(services...)
	notifier := &fakeNotifier{present: true}
	h := &harness{
		ctrl:     New(vpc.NewClient(provider), store, notifier, opts),
		provider: provider,
		store:    store,
		notifier: notifier,
	}
	if len(services) > 0 {
		h.svc = services[0]
	}
	return h
}

// run starts the actor and returns a function that stops it and shuts the
// session down.
func (h *harness) run(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-errCh)
			h.ctrl.Shutdown()
		})
	}
	t.Cleanup(stop)
	return stop
}

func levelPtr(n int) *int { return &n }

func TestStartFailures(t *testing.T) {
	t.Run("no service", func(t *testing.T) {
		h := newHarness(t, nil, Options{})
		err := h.ctrl.Start()

		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, PromptConnectFail, fatal.Prompt)
		assert.ErrorIs(t, err, vpc.ErrNoMatch)
	})

	t.Run("already claimed single candidate", func(t *testing.T) {
		svc := thinkService(nil)
		svc.ClaimedBy = "other-process"
		h := newHarness(t, nil, Options{}, svc)
		err := h.ctrl.Start()

		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, PromptAlreadyConnected, fatal.Prompt)
		assert.ErrorIs(t, err, vpc.ErrAlreadyOpen)
		assert.Len(t, h.provider.Opened(), 1)
		assert.Empty(t, svc.Commands())
	})

	t.Run("service found but open refused", func(t *testing.T) {
		svc := thinkService(nil)
		svc.FailOpen = true
		h := newHarness(t, nil, Options{}, svc)
		err := h.ctrl.Start()

		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, PromptAlreadyConnected, fatal.Prompt)
		assert.ErrorIs(t, err, vpc.ErrOpenFailed)
	})

	t.Run("properties unavailable", func(t *testing.T) {
		svc := thinkService(nil)
		svc.Unqueryable = true
		h := newHarness(t, nil, Options{}, svc)
		err := h.ctrl.Start()

		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, PromptUnavailable, fatal.Prompt)
		assert.Equal(t, 1, svc.CloseCount())
		assert.False(t, h.ctrl.client.Connected())
	})
}

func TestIdeaWithoutPerformance(t *testing.T) {
	svc := vpctest.NewService("idea0", events.ClassIdea, map[string]vpc.Value{
		propVersion: vpc.String("1.4.2"),
	})
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	ctx := context.Background()

	assert.Nil(t, h.ctrl.perf)
	assert.Nil(t, h.ctrl.primary)
	assert.Nil(t, h.ctrl.secondary)

	entries, err := h.ctrl.PerformanceEntries(ctx)
	require.NoError(t, err)
	assert.Nil(t, entries)

	entries, err = h.ctrl.SliderChanged(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, entries)

	entries, err = h.ctrl.EnableCapability(ctx, true)
	require.NoError(t, err)
	assert.Nil(t, entries)

	assert.Empty(t, svc.CommandsFor(performance.KeyMode))
	assert.Empty(t, svc.CommandsFor(performance.KeyPSCMode))
	require.Len(t, svc.Registrations(), 1)

	_, err = h.ctrl.SetFanLevel(ctx, 0, levelPtr(3))
	assert.ErrorIs(t, err, ErrNoFan)
}

func TestThinkSingleFanWhenDualAbsent(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySecondThinkFan] = vpc.Bool(true)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())

	require.NotNil(t, h.ctrl.primary)
	assert.Nil(t, h.ctrl.secondary)
	assert.True(t, h.ctrl.primary.IsDefault())
	assert.Empty(t, svc.CommandsFor("Fan2 Control"))
	// Forced update on registration re-asserts auto.
	assert.Equal(t, []vpctest.Command{{Key: "Fan Control", Number: fan.AutoCommand}}, svc.CommandsFor("Fan Control"))
}

func TestThinkDualFan(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySecondThinkFan] = vpc.Bool(true)
	svc := thinkService(map[string]vpc.Value{propDualFan: vpc.Bool(true)})
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())

	require.NotNil(t, h.ctrl.primary)
	require.NotNil(t, h.ctrl.secondary)
	assert.False(t, h.ctrl.primary.IsDefault())

	// The secondary fan is set up first.
	var order []string
	for _, cmd := range svc.Commands() {
		if cmd.Key == "Fan Control" || cmd.Key == "Fan2 Control" {
			order = append(order, cmd.Key)
		}
	}
	assert.Equal(t, []string{"Fan2 Control", "Fan Control"}, order)
}

func TestFanSuppression(t *testing.T) {
	t.Run("disable fan", func(t *testing.T) {
		st := newMemStore()
		st.settings[config.KeyDisableFan] = vpc.Bool(true)
		h := newHarness(t, st, Options{Trusted: true}, thinkService(nil))
		require.NoError(t, h.ctrl.Start())
		assert.Nil(t, h.ctrl.primary)
		assert.NotContains(t, h.notifier.prompts(), PromptECAccess)
	})

	t.Run("hidden icon", func(t *testing.T) {
		st := newMemStore()
		st.settings[config.KeyHideIcon] = vpc.Bool(true)
		h := newHarness(t, st, Options{Trusted: true}, thinkService(nil))
		require.NoError(t, h.ctrl.Start())
		assert.Nil(t, h.ctrl.primary)
	})

	t.Run("read-only EC", func(t *testing.T) {
		svc := thinkService(map[string]vpc.Value{propECCapability: vpc.String("RO")})
		h := newHarness(t, nil, Options{Trusted: true}, svc)
		require.NoError(t, h.ctrl.Start())
		assert.Nil(t, h.ctrl.primary)
		assert.Contains(t, h.notifier.prompts(), PromptECAccess)
		assert.Empty(t, svc.CommandsFor("Fan Control"))
	})
}

func TestSavedFanLevelReplayedAtStart(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySaveFanLevel] = vpc.Bool(true)
	st.settings[config.KeyFanLevel] = vpc.Int(4)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())

	cmds := svc.CommandsFor("Fan Control")
	require.NotEmpty(t, cmds)
	for _, cmd := range cmds {
		assert.Equal(t, 4, cmd.Number)
	}
	assert.Equal(t, fan.Manual, h.ctrl.primary.Mode())
}

func TestStartSendsPerformanceAndBacklight(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySliderNumber] = vpc.Int(2)
	st.settings[config.KeyAutoBacklight] = vpc.Int(1)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())

	assert.Equal(t, []vpctest.Command{{Key: performance.KeyMode, String: "H", IsText: true}}, svc.CommandsFor(performance.KeyMode))
	assert.Equal(t, []vpctest.Command{{Key: propAutoBacklight, Number: 1}}, svc.CommandsFor(propAutoBacklight))
	assert.Empty(t, svc.CommandsFor(propBacklightTimeout))
	assert.Len(t, svc.CommandsFor(propMicMuteLED), 1)
}

func TestMenu(t *testing.T) {
	svc := thinkService(nil)
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)

	menu, err := h.ctrl.InitMenu(context.Background())
	require.NoError(t, err)
	assert.False(t, menu.Hidden)
	assert.Equal(t, "1.4.2", menu.Version)
	assert.Equal(t, events.ClassThink, menu.Class)
	require.NotNil(t, menu.Performance)
	assert.Equal(t, "5.0", menu.Performance.Revision)
	assert.Equal(t, "Standard", menu.Performance.FuncMode)
	assert.Len(t, menu.Fans, 1)
}

func TestUnknownVersion(t *testing.T) {
	svc := vpctest.NewService("idea0", events.ClassIdea, nil)
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	assert.Equal(t, unknownVersion, h.ctrl.caps.Version)
}

func TestToggleCapabilityOffClamps(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeyPSCState] = vpc.Bool(true)
	st.settings[config.KeySliderNumber] = vpc.Int(6)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)

	assert.Equal(t, []vpctest.Command{{Key: performance.KeyPSCMode, Number: 6}}, svc.CommandsFor(performance.KeyPSCMode))
	svc.ResetCommands()

	entries, err := h.ctrl.EnableCapability(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, entries)
	assert.Equal(t, 1, entries.Level)
	assert.Equal(t, performance.TierBound, entries.Bound)
	assert.Equal(t, []vpctest.Command{{Key: performance.KeyMode, String: "M", IsText: true}}, svc.Commands())
}

func TestSliderChanged(t *testing.T) {
	svc := thinkService(nil)
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	svc.ResetCommands()
	svc.SetProperty("DYTC", vpc.Map(map[string]vpc.Value{"FuncMode": vpc.String("Desk")}))

	entries, err := h.ctrl.SliderChanged(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, entries)
	assert.Equal(t, "Desk", entries.FuncMode)
	assert.Equal(t, []vpctest.Command{{Key: performance.KeyMode, String: "H", IsText: true}}, svc.Commands())
}

func TestSliderChangedRejectsOutOfRange(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySliderNumber] = vpc.Int(1)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)
	svc.ResetCommands()

	entries, err := h.ctrl.SliderChanged(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, entries)
	assert.Equal(t, 1, entries.Level)
	assert.Empty(t, svc.Commands())

	stop()
	v, ok := st.setting(config.KeySliderNumber)
	require.True(t, ok)
	assert.Equal(t, vpc.Int(1), v)
}

func TestSetFanLevelAndUpdate(t *testing.T) {
	svc := thinkService(nil)
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	ctx := context.Background()
	svc.ResetCommands()

	st, err := h.ctrl.SetFanLevel(ctx, 0, levelPtr(4))
	require.NoError(t, err)
	assert.Equal(t, "manual", st.Mode)
	assert.Equal(t, 4, st.Level)

	// Drift is displayed but not fought.
	svc.SetProperty("Fan Control", vpc.Int(2))
	require.NoError(t, h.ctrl.Update(ctx))
	assert.Len(t, svc.CommandsFor("Fan Control"), 1)

	reports := h.notifier.fanReports()
	require.NotEmpty(t, reports)
	assert.Equal(t, 2, reports[len(reports)-1].Fans[0].Level)

	_, err = h.ctrl.SetFanLevel(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrNoFan)
}

func TestWakeupResynchronizes(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySliderNumber] = vpc.Int(1)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	ctx := context.Background()

	_, err := h.ctrl.SetFanLevel(ctx, 0, levelPtr(5))
	require.NoError(t, err)
	svc.SetProperty("Fan Control", vpc.Int(0))
	svc.ResetCommands()

	require.NoError(t, h.ctrl.Wakeup(ctx))
	assert.Equal(t, []vpctest.Command{
		{Key: propMicMuteLED, Number: 0},
		{Key: propMuteLED, Number: 0},
		{Key: "Fan Control", Number: 5},
		{Key: performance.KeyMode, String: "M", IsText: true},
	}, svc.Commands())
}

func TestWakeupIgnoredForIdea(t *testing.T) {
	svc := vpctest.NewService("idea0", events.ClassIdea, map[string]vpc.Value{"DYTC": dytcDict()})
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	svc.ResetCommands()

	require.NoError(t, h.ctrl.Wakeup(context.Background()))
	assert.Empty(t, svc.Commands())
}

func TestEventsDispatchedAndPersisted(t *testing.T) {
	st := newMemStore()
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)

	svc.Emit(0x1005, vpc.Bool(true))
	svc.Emit(events.ThinkMicMute, vpc.Value{})
	assert.Eventually(t, func() bool {
		return len(h.notifier.receivedEvents()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		cmds := svc.CommandsFor(propMicMuteLED)
		return len(cmds) == 2 && cmds[1].Number == 1
	}, time.Second, 5*time.Millisecond)

	stop()
	saved := st.events[events.ClassThink]
	assert.True(t, saved.Acknowledged[0x1005])
	assert.True(t, saved.Acknowledged[events.ThinkMicMute])
	assert.Equal(t, vpc.Bool(true), saved.Known[0x1005])
	assert.Equal(t, 1, svc.CloseCount())
}

func TestPendingEventsReplayedOnStart(t *testing.T) {
	st := newMemStore()
	st.events[events.ClassIdea] = events.State{
		Known: map[uint32]vpc.Value{0x07: vpc.Int(1)},
	}
	svc := vpctest.NewService("idea0", events.ClassIdea, nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())

	assert.Equal(t, []uint32{0x07}, h.notifier.receivedEvents())
}

func TestReplayDeferredUntilPresenterReady(t *testing.T) {
	st := newMemStore()
	st.events[events.ClassIdea] = events.State{
		Known: map[uint32]vpc.Value{0x07: vpc.Int(1)},
	}
	svc := vpctest.NewService("idea0", events.ClassIdea, nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	h.notifier.setPresent(false)
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)
	ctx := context.Background()

	assert.Empty(t, h.notifier.receivedEvents())
	snap, err := h.ctrl.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x07}, snap.Pending)

	h.notifier.setPresent(true)
	h.ctrl.PresenterReady()
	h.ctrl.PresenterReady()
	assert.Eventually(t, func() bool {
		return len(h.notifier.receivedEvents()) == 1
	}, time.Second, 5*time.Millisecond)

	snap, err = h.ctrl.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, []uint32{0x07}, h.notifier.receivedEvents())

	stop()
	assert.True(t, st.events[events.ClassIdea].Acknowledged[0x07])
}

func TestPendingEventsKeptWithoutPresenter(t *testing.T) {
	st := newMemStore()
	st.events[events.ClassIdea] = events.State{
		Known: map[uint32]vpc.Value{0x07: vpc.Int(1)},
	}
	svc := vpctest.NewService("idea0", events.ClassIdea, nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	h.notifier.setPresent(false)
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)

	stop()
	assert.Empty(t, h.notifier.receivedEvents())
	saved := st.events[events.ClassIdea]
	assert.False(t, saved.Acknowledged[0x07])
	assert.Equal(t, vpc.Int(1), saved.Known[0x07])
}

func TestUntrustedInstallSkipsPersistence(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySaveFanLevel] = vpc.Bool(true)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: false}, svc)
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)
	ctx := context.Background()

	assert.Contains(t, h.notifier.prompts(), PromptMoveApp)

	_, err := h.ctrl.SetFanLevel(ctx, 0, levelPtr(6))
	require.NoError(t, err)
	_, err = h.ctrl.SliderChanged(ctx, 2)
	require.NoError(t, err)
	svc.Emit(0x1005, vpc.Bool(true))
	assert.Eventually(t, func() bool { return len(h.notifier.receivedEvents()) == 1 }, time.Second, 5*time.Millisecond)

	stop()
	assert.Empty(t, st.events)
	_, ok := st.setting(config.KeyFanLevel)
	assert.False(t, ok)
	v, ok := st.setting(config.KeySliderNumber)
	require.True(t, ok)
	assert.Equal(t, vpc.Int(2), v)
}

func TestTrustedShutdownSavesFanLevel(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySaveFanLevel] = vpc.Bool(true)
	svc := thinkService(map[string]vpc.Value{propBacklightTimeout: vpc.Int(30)})
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)

	_, err := h.ctrl.SetFanLevel(context.Background(), 0, levelPtr(6))
	require.NoError(t, err)
	stop()

	v, ok := st.setting(config.KeyFanLevel)
	require.True(t, ok)
	assert.Equal(t, vpc.Int(6), v)
	v, ok = st.setting(config.KeyBacklightTimeout)
	require.True(t, ok)
	assert.Equal(t, vpc.Int(30), v)
	_, ok = st.setting(config.KeyAutoBacklight)
	assert.False(t, ok)
}

func TestAutoClearsSavedFanLevel(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeySaveFanLevel] = vpc.Bool(true)
	st.settings[config.KeyFanLevel] = vpc.Int(3)
	h := newHarness(t, st, Options{Trusted: true}, thinkService(nil))
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)

	_, err := h.ctrl.SetFanLevel(context.Background(), 0, nil)
	require.NoError(t, err)
	stop()

	_, ok := st.setting(config.KeyFanLevel)
	assert.False(t, ok)
}

func TestHIDDNeverPersistsEvents(t *testing.T) {
	st := newMemStore()
	svc := vpctest.NewService("hidd0", events.ClassHIDD, nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)

	require.Len(t, svc.Registrations(), 1)
	svc.Emit(0x08, vpc.Bool(true))
	assert.Eventually(t, func() bool { return len(h.notifier.receivedEvents()) == 1 }, time.Second, 5*time.Millisecond)

	stop()
	assert.Empty(t, st.events)
}

func TestUnknownClass(t *testing.T) {
	svc := vpctest.NewService("x0", "MysteryVPC", nil)
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())

	assert.Contains(t, h.notifier.prompts(), PromptUnknownClass)
	assert.Empty(t, svc.Registrations())
	assert.Equal(t, events.Unregistered, h.ctrl.events.Status())
}

func TestCapsLockIndicator(t *testing.T) {
	h := newHarness(t, nil, Options{Trusted: true}, thinkService(nil))
	require.NoError(t, h.ctrl.Start())
	h.run(t)

	h.ctrl.FlagsChanged(true)
	assert.Eventually(t, func() bool {
		for _, p := range h.notifier.prompts() {
			if p == "Caps Lock On" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestVolumeChangedWithFixup(t *testing.T) {
	st := newMemStore()
	st.settings[config.KeyThinkMuteLEDFixup] = vpc.Bool(true)
	svc := thinkService(nil)
	h := newHarness(t, st, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	svc.ResetCommands()

	h.ctrl.VolumeChanged(0)
	h.ctrl.VolumeChanged(40)
	require.NoError(t, h.ctrl.Do(context.Background(), func() {}))

	assert.Equal(t, []vpctest.Command{
		{Key: propMuteLED, Number: 1},
		{Key: propMuteLED, Number: 0},
	}, svc.Commands())
}

func TestVolumeChangedWithoutFixup(t *testing.T) {
	svc := thinkService(nil)
	h := newHarness(t, nil, Options{Trusted: true}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	svc.ResetCommands()

	h.ctrl.VolumeChanged(0)
	require.NoError(t, h.ctrl.Do(context.Background(), func() {}))
	assert.Empty(t, svc.Commands())
}

func TestPolling(t *testing.T) {
	svc := thinkService(nil)
	h := newHarness(t, nil, Options{Trusted: true, PollInterval: 10 * time.Millisecond}, svc)
	require.NoError(t, h.ctrl.Start())
	h.run(t)
	svc.SetProperty("Fan Control", vpc.Int(fan.AutoCommand|2))

	h.ctrl.StartPolling()
	assert.Eventually(t, func() bool { return len(h.notifier.fanReports()) >= 3 }, time.Second, 5*time.Millisecond)
	h.ctrl.StopPolling()

	st, err := h.ctrl.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Polling)
	require.Len(t, st.Fans, 1)
	assert.Equal(t, 2, st.Fans[0].Level)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, nil, Options{Trusted: true}, thinkService(nil))
	require.NoError(t, h.ctrl.Start())
	h.run(t)

	st, err := h.ctrl.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, "think0", st.Service)
	assert.Equal(t, "open", st.Events)
	assert.True(t, st.Capabilities.DYTC)
	assert.NotNil(t, st.Performance)
}

func TestDoAfterStop(t *testing.T) {
	h := newHarness(t, nil, Options{Trusted: true}, thinkService(nil))
	require.NoError(t, h.ctrl.Start())
	stop := h.run(t)
	stop()

	err := h.ctrl.Do(context.Background(), func() {})
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestFatalErrorMessage(t *testing.T) {
	err := &FatalError{Reason: "failed", Prompt: PromptConnectFail, Err: vpc.ErrNoMatch}
	assert.Contains(t, err.Error(), "failed")
	assert.ErrorIs(t, err, vpc.ErrNoMatch)
	assert.Equal(t, "bare", (&FatalError{Reason: "bare"}).Error())
}
