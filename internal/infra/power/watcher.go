// Package power reports system wake events from logind.
package power

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	loginInterface = "org.freedesktop.login1.Manager"
	loginPath      = dbus.ObjectPath("/org/freedesktop/login1")
	sleepMember    = "PrepareForSleep"
)

// Watcher calls OnWake after every resume from suspend.
type Watcher struct {
	OnWake func()
	// OnSleep is optional.
	OnSleep func()
}

// Run subscribes to logind on the system bus and dispatches sleep signals
// until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithSignalHandler(dbus.NewSequentialSignalHandler()))
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	return w.watch(ctx, conn)
}

func (w *Watcher) watch(ctx context.Context, conn *dbus.Conn) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(loginInterface),
		dbus.WithMatchMember(sleepMember),
		dbus.WithMatchObjectPath(loginPath),
	}
	if err := conn.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sleepMember, err)
	}
	defer conn.RemoveMatchSignal(opts...)

	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	log.Info().Msg("Watching for system sleep")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			w.dispatch(sig)
		}
	}
}

func (w *Watcher) dispatch(sig *dbus.Signal) {
	if sig == nil || sig.Name != loginInterface+"."+sleepMember || len(sig.Body) == 0 {
		return
	}
	sleeping, ok := sig.Body[0].(bool)
	if !ok {
		log.Warn().Interface("body", sig.Body).Msg("Unexpected sleep signal")
		return
	}
	if sleeping {
		log.Info().Msg("System going to sleep")
		if w.OnSleep != nil {
			w.OnSleep()
		}
		return
	}
	log.Info().Msg("System woke up")
	if w.OnWake != nil {
		w.OnWake()
	}
}
