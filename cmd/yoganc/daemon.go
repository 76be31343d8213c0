package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/yoganc/internal/config"
	"github.com/edumarques81/yoganc/internal/domain/session"
	"github.com/edumarques81/yoganc/internal/infra/mixer"
	"github.com/edumarques81/yoganc/internal/infra/power"
	"github.com/edumarques81/yoganc/internal/infra/sensors"
	"github.com/edumarques81/yoganc/internal/infra/store"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/edumarques81/yoganc/internal/transport/socketio"
	"github.com/edumarques81/yoganc/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second
	fatalPromptWait = 10 * time.Second
)

// sessionBackend exposes the controller and its connection to HTTP handlers.
type sessionBackend struct {
	*session.Controller
	client *vpc.Client
}

func (b sessionBackend) Connected() bool { return b.client.Connected() }

func runDaemon(opts config.Options) error {
	versionInfo := version.GetInfo()
	log.Info().Msgf("%s starting", versionInfo.String())
	log.Info().
		Str("listen", opts.Listen).
		Str("db", opts.DBPath).
		Str("bus_prefix", opts.BusNamePrefix).
		Str("class", opts.ClassFilter).
		Str("mpd", opts.MPDAddress()).
		Msg("Configuration")

	db := store.NewDB(opts.DBPath)
	if err := db.Open(); err != nil {
		return fmt.Errorf("failed to open settings database: %w", err)
	}
	defer db.Close()

	provider, err := vpc.NewDBusProvider(opts.BusNamePrefix)
	if err != nil {
		return err
	}
	defer provider.Close()
	client := vpc.NewClient(provider)

	socketServer, err := socketio.NewServer(opts.MaxRemoteClients)
	if err != nil {
		return fmt.Errorf("failed to create Socket.io server: %w", err)
	}
	defer socketServer.Close()

	trusted := config.IsTrustedInstall(opts.TrustedPrefix)
	if !trusted {
		log.Warn().Str("prefix", opts.TrustedPrefix).Msg("Running outside the trusted install location")
	}

	ctrl := session.New(client, db, socketServer, session.Options{
		ClassFilter:   opts.ClassFilter,
		Trusted:       trusted,
		PollInterval:  opts.PollInterval.Duration,
		PollTolerance: opts.PollTolerance.Duration,
		Temperature:   sensors.CPUTemperature,
	})

	server := &http.Server{
		Handler:     newMux(socketServer, sessionBackend{Controller: ctrl, client: client}),
		ReadTimeout: 30 * time.Second,
		// No write timeout: socket.io long-polling holds responses open.
	}

	// Listen before Start so prompts and event replays raised while starting
	// can reach the first client.
	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Listen, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		serveErr <- server.Serve(ln)
	}()

	if err := ctrl.Start(); err != nil {
		var fatal *session.FatalError
		if errors.As(err, &fatal) {
			log.Error().Err(fatal.Err).Str("prompt", fatal.Prompt).Msg(fatal.Reason)
			socketServer.ShowOSD(fatal.Prompt, "")
			deliverFatalPrompt(socketServer)
		}
		stopServer(server)
		return err
	}
	socketServer.Attach(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group

	// session actor
	{
		actorCtx, actorCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return ctrl.Run(actorCtx)
		}, func(error) {
			actorCancel()
		})
	}

	// HTTP + Socket.io
	{
		g.Add(func() error {
			if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			stopServer(server)
		})
	}

	// sleep/wake
	{
		watchCtx, watchCancel := context.WithCancel(ctx)
		watcher := &power.Watcher{
			OnWake: func() {
				wakeCtx, wakeCancel := context.WithTimeout(watchCtx, stateTimeout)
				defer wakeCancel()
				if err := ctrl.Wakeup(wakeCtx); err != nil {
					log.Warn().Err(err).Msg("Wakeup failed")
				}
			},
		}
		g.Add(optional(watchCtx, "Sleep watcher", watcher.Run), func(error) {
			watchCancel()
		})
	}

	// volume changes
	if addr := opts.MPDAddress(); addr != "" {
		mixerCtx, mixerCancel := context.WithCancel(ctx)
		mix := mixer.NewClient(addr, "")
		g.Add(optional(mixerCtx, "Mixer watcher", func(ctx context.Context) error {
			defer mix.Close()
			return mix.Watch(ctx, ctrl.VolumeChanged)
		}), func(error) {
			mixerCancel()
		})
	}

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info().Str("signal", sig.Signal.String()).Msg("Shutting down...")
		err = nil
	}

	ctrl.Shutdown()
	log.Info().Msg("Server stopped")
	return err
}

func stopServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
}

// deliverFatalPrompt keeps the server up until a client has received the
// held prompt, a signal arrives or fatalPromptWait elapses.
func deliverFatalPrompt(s *socketio.Server) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelWait := context.WithTimeout(ctx, fatalPromptWait)
	defer cancelWait()

	if !s.WaitForClient(ctx) {
		log.Warn().Strs("prompts", s.PendingPrompts()).Msg("No client connected, prompt not shown")
		return
	}
	// Give the transport a moment to flush the emitted prompt.
	time.Sleep(200 * time.Millisecond)
}

// optional runs fn as a group actor whose failure is logged without
// stopping the daemon.
func optional(ctx context.Context, name string, fn func(context.Context) error) func() error {
	return func() error {
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Msgf("%s stopped", name)
		}
		<-ctx.Done()
		return nil
	}
}
