// Package socketio provides the Socket.io server for the menu client.
package socketio

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/yoganc/internal/domain/events"
	"github.com/edumarques81/yoganc/internal/domain/fan"
	"github.com/edumarques81/yoganc/internal/domain/performance"
	"github.com/edumarques81/yoganc/internal/domain/session"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
)

const (
	requestTimeout = 3 * time.Second
	// maxPendingOSD bounds prompts held while no client is connected.
	maxPendingOSD = 16
)

type osdPrompt struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image"`
}

// Session is the part of the session controller exposed to clients.
type Session interface {
	InitMenu(ctx context.Context) (session.Menu, error)
	SliderChanged(ctx context.Context, level int) (*performance.Entries, error)
	EnableCapability(ctx context.Context, enabled bool) (*performance.Entries, error)
	SetFanLevel(ctx context.Context, index int, level *int) (fan.Status, error)
	Snapshot(ctx context.Context) (session.State, error)
	StartPolling()
	StopPolling()
	FlagsChanged(capsLock bool)
	PresenterReady()
}

// Server handles Socket.io connections and implements session.Notifier.
type Server struct {
	io      *socket.Server
	limiter *ClientLimiter

	mu       sync.RWMutex
	session  Session
	clients  map[string]*socket.Socket
	menuOpen map[string]bool
	// pending prompts shown before any client connected
	pending  []osdPrompt

	connectedOnce sync.Once
	connected     chan struct{}
}

// NewServer creates a new Socket.io server. maxRemote limits concurrent
// clients from other hosts; 0 accepts only local clients.
func NewServer(maxRemote int) (*Server, error) {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:        socket.NewServer(nil, opts),
		limiter:   NewClientLimiter(maxRemote),
		clients:   make(map[string]*socket.Socket),
		menuOpen:  make(map[string]bool),
		connected: make(chan struct{}),
	}

	s.setupHandlers()

	return s, nil
}

// Attach connects the session. Client requests are ignored until then.
func (s *Server) Attach(sess Session) {
	s.mu.Lock()
	s.session = sess
	present := len(s.clients) > 0
	s.mu.Unlock()

	if present {
		sess.PresenterReady()
	}
}

func (s *Server) current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		remote := remoteIP(client)

		allowed, evicted := s.limiter.TryAdd(clientID, remote)
		if !allowed {
			log.Warn().Str("id", clientID).Str("remote", remote).Msg("Remote client rejected")
			client.Disconnect(true)
			return
		}
		if evicted != "" {
			s.evict(evicted)
		}

		log.Info().Str("id", clientID).Str("remote", remote).Msg("Client connected")

		s.addClient(clientID, client)

		go s.pushMenu(client)

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
			s.menuClosed(clientID)
		})

		client.On("getMenu", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getMenu")
			s.pushMenu(client)
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("sliderChanged", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("sliderChanged")
			level, ok := intArg(args, "value")
			if !ok {
				return
			}
			s.withSession(func(ctx context.Context, sess Session) {
				entries, err := sess.SliderChanged(ctx, level)
				if err != nil {
					log.Error().Err(err).Msg("SliderChanged failed")
					return
				}
				s.broadcastPerformance(entries)
			})
		})

		client.On("enableCapability", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("enableCapability")
			enabled, ok := boolArg(args, "value")
			if !ok {
				return
			}
			s.withSession(func(ctx context.Context, sess Session) {
				entries, err := sess.EnableCapability(ctx, enabled)
				if err != nil {
					log.Error().Err(err).Msg("EnableCapability failed")
					return
				}
				s.broadcastPerformance(entries)
			})
		})

		client.On("setFanLevel", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("setFanLevel")
			index, level, ok := fanArgs(args)
			if !ok {
				return
			}
			s.withSession(func(ctx context.Context, sess Session) {
				st, err := sess.SetFanLevel(ctx, index, level)
				if err != nil {
					log.Error().Err(err).Int("fan", index).Msg("SetFanLevel failed")
					return
				}
				s.io.Emit("pushFanStatus", session.FanReport{Fans: []fan.Status{st}})
			})
		})

		client.On("menuWillOpen", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("menuWillOpen")
			s.menuOpened(clientID)
		})

		client.On("menuDidClose", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("menuDidClose")
			s.menuClosed(clientID)
		})

		client.On("flagsChanged", func(args ...any) {
			capsLock, ok := boolArg(args, "capsLock")
			if !ok {
				return
			}
			if sess := s.current(); sess != nil {
				sess.FlagsChanged(capsLock)
			}
		})
	})
}

// addClient registers a client, delivers prompts held while nobody was
// connected and tells the session a presenter is available.
func (s *Server) addClient(clientID string, client *socket.Socket) {
	s.mu.Lock()
	s.clients[clientID] = client
	pending := s.pending
	s.pending = nil
	sess := s.session
	s.mu.Unlock()

	for _, p := range pending {
		client.Emit("pushOSD", p)
	}
	if len(pending) > 0 {
		log.Info().Str("id", clientID).Int("prompts", len(pending)).Msg("Delivered pending prompts")
	}
	s.connectedOnce.Do(func() { close(s.connected) })

	if sess != nil {
		sess.PresenterReady()
	}
}

// WaitForClient blocks until a client has connected or ctx is done. It
// reports whether a client connected.
func (s *Server) WaitForClient(ctx context.Context) bool {
	select {
	case <-s.connected:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) withSession(fn func(ctx context.Context, sess Session)) {
	sess := s.current()
	if sess == nil {
		log.Debug().Msg("Session not attached, request ignored")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	fn(ctx, sess)
}

// menuOpened starts fan polling when the first client opens its menu.
func (s *Server) menuOpened(clientID string) {
	s.mu.Lock()
	first := len(s.menuOpen) == 0
	s.menuOpen[clientID] = true
	sess := s.session
	s.mu.Unlock()

	if first && sess != nil {
		sess.StartPolling()
	}
}

// menuClosed stops fan polling when no client has its menu open.
func (s *Server) menuClosed(clientID string) {
	s.mu.Lock()
	_, was := s.menuOpen[clientID]
	delete(s.menuOpen, clientID)
	last := was && len(s.menuOpen) == 0
	sess := s.session
	s.mu.Unlock()

	if last && sess != nil {
		sess.StopPolling()
	}
}

func (s *Server) evict(clientID string) {
	s.mu.Lock()
	client := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()

	s.menuClosed(clientID)
	if client != nil {
		log.Info().Str("id", clientID).Msg("Evicting oldest remote client")
		client.Disconnect(true)
	}
}

func (s *Server) pushMenu(client *socket.Socket) {
	s.withSession(func(ctx context.Context, sess Session) {
		menu, err := sess.InitMenu(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to build menu")
			return
		}
		client.Emit("pushMenu", menu)
	})
}

func (s *Server) pushState(client *socket.Socket) {
	s.withSession(func(ctx context.Context, sess Session) {
		st, err := sess.Snapshot(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to get state")
			return
		}
		client.Emit("pushState", st)
	})
}

func (s *Server) broadcastPerformance(entries *performance.Entries) {
	if entries == nil {
		return
	}
	s.io.Emit("pushPerformance", entries)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ShowOSD broadcasts an on-screen display prompt. Prompts shown while no
// client is connected are held for the next client.
func (s *Server) ShowOSD(prompt, image string) {
	log.Info().Str("prompt", prompt).Str("image", image).Msg("OSD")
	p := osdPrompt{Prompt: prompt, Image: image}

	s.mu.Lock()
	if len(s.clients) == 0 {
		if len(s.pending) == maxPendingOSD {
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, p)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.io.Emit("pushOSD", p)
}

// PendingPrompts returns the prompts waiting for a client.
func (s *Server) PendingPrompts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.Prompt)
	}
	return out
}

// Presenting reports whether a client is connected.
func (s *Server) Presenting() bool {
	return s.ClientCount() > 0
}

// FanStatus broadcasts the fan status line.
func (s *Server) FanStatus(report session.FanReport) {
	s.io.Emit("pushFanStatus", report)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(report)
		log.Debug().RawJSON("status", data).Int("clients", s.ClientCount()).Msg("Broadcast fan status")
	}
}

// EventReceived broadcasts a device event. It reports whether any client
// was connected to present it; an unpresented event stays pending.
func (s *Server) EventReceived(code uint32, desc events.Descriptor, payload vpc.Value) bool {
	if !s.Presenting() {
		return false
	}
	s.io.Emit("pushEvent", map[string]any{
		"code":    code,
		"name":    desc.Name,
		"image":   desc.Image,
		"payload": payload.Any(),
	})
	return true
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.io.Close(nil)
	return nil
}

func remoteIP(client *socket.Socket) string {
	addr := client.Handshake().Address
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func argMap(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]any)
	return m, ok
}

func intArg(args []any, key string) (int, bool) {
	m, ok := argMap(args)
	if !ok {
		return 0, false
	}
	v, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func boolArg(args []any, key string) (bool, bool) {
	m, ok := argMap(args)
	if !ok {
		return false, false
	}
	v, ok := m[key].(bool)
	return v, ok
}

// fanArgs parses {fan, level}; a null or missing level selects auto.
func fanArgs(args []any) (int, *int, bool) {
	m, ok := argMap(args)
	if !ok {
		return 0, nil, false
	}
	index := 0
	if v, ok := m["fan"].(float64); ok {
		index = int(v)
	}
	if v, ok := m["level"].(float64); ok {
		level := int(v)
		return index, &level, true
	}
	return index, nil, true
}
