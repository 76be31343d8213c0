// Package vpctest provides an in-memory privileged service for tests.
package vpctest

import (
	"sync"

	"github.com/edumarques81/yoganc/internal/infra/vpc"
)

// Command records one write sent to a fake service.
type Command struct {
	Key    string
	String string
	Number int
	IsText bool
}

// Service is one fake service instance.
type Service struct {
	mu sync.Mutex

	Handle vpc.ServiceHandle
	Class  string
	// ClaimedBy is the owner token; non-empty means already opened.
	ClaimedBy string
	// FailOpen makes Open fail with a non-claim error.
	FailOpen bool
	// Unqueryable makes Properties report failure.
	Unqueryable bool
	// RejectRegister makes RegisterForEvents fail.
	RejectRegister bool

	props    map[string]vpc.Value
	rejected map[string]bool
	commands []Command
	register [][]uint32
	events   chan vpc.Notification
	closed   int
}

// NewService creates a fake service with the given class and properties.
func NewService(handle, class string, props map[string]vpc.Value) *Service {
	p := make(map[string]vpc.Value, len(props))
	for k, v := range props {
		p[k] = v
	}
	return &Service{
		Handle:   vpc.ServiceHandle(handle),
		Class:    class,
		props:    p,
		rejected: make(map[string]bool),
		events:   make(chan vpc.Notification, 64),
	}
}

// SetProperty changes a property, simulating device-side drift.
func (s *Service) SetProperty(key string, v vpc.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = v
}

// DeleteProperty removes a property.
func (s *Service) DeleteProperty(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, key)
}

// Reject makes writes to key report failure.
func (s *Service) Reject(key string, reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[key] = reject
}

// Emit delivers an event to the connected client.
func (s *Service) Emit(code uint32, payload vpc.Value) {
	s.events <- vpc.Notification{Code: code, Payload: payload}
}

// Commands returns every write received, including rejected ones.
func (s *Service) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// CommandsFor returns the writes received for key.
func (s *Service) CommandsFor(key string) []Command {
	var out []Command
	for _, c := range s.Commands() {
		if c.Key == key {
			out = append(out, c)
		}
	}
	return out
}

// ResetCommands forgets recorded writes.
func (s *Service) ResetCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

// Registrations returns every RegisterForEvents call.
func (s *Service) Registrations() [][]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]uint32(nil), s.register...)
}

// CloseCount returns how many times the connection was closed.
func (s *Service) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Provider is a fake vpc.Provider over a fixed set of services.
type Provider struct {
	mu       sync.Mutex
	Services []*Service
	opened   []vpc.ServiceHandle
}

// NewProvider returns a provider exposing services in order.
func NewProvider(services ...*Service) *Provider {
	return &Provider{Services: services}
}

// Opened lists the handles Open was attempted on.
func (p *Provider) Opened() []vpc.ServiceHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]vpc.ServiceHandle(nil), p.opened...)
}

func (p *Provider) MatchServices(string) ([]vpc.ServiceInfo, error) {
	out := make([]vpc.ServiceInfo, 0, len(p.Services))
	for _, s := range p.Services {
		out = append(out, vpc.ServiceInfo{Handle: s.Handle, Class: s.Class})
	}
	return out, nil
}

func (p *Provider) Open(h vpc.ServiceHandle, token string) (vpc.Conn, error) {
	p.mu.Lock()
	p.opened = append(p.opened, h)
	p.mu.Unlock()

	for _, s := range p.Services {
		if s.Handle != h {
			continue
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.FailOpen {
			return nil, vpc.ErrOpenFailed
		}
		if s.ClaimedBy != "" && s.ClaimedBy != token {
			return nil, vpc.ErrAlreadyOpen
		}
		s.ClaimedBy = token
		return &conn{svc: s}, nil
	}
	return nil, vpc.ErrOpenFailed
}

type conn struct {
	svc *Service
}

func (c *conn) Properties() (map[string]vpc.Value, bool) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.Unqueryable {
		return nil, false
	}
	out := make(map[string]vpc.Value, len(c.svc.props))
	for k, v := range c.svc.props {
		out[k] = v
	}
	return out, true
}

func (c *conn) GetProperty(key string) (vpc.Value, bool) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	v, ok := c.svc.props[key]
	return v, ok
}

func (c *conn) SendString(key, value string) bool {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	c.svc.commands = append(c.svc.commands, Command{Key: key, String: value, IsText: true})
	if c.svc.rejected[key] {
		return false
	}
	c.svc.props[key] = vpc.String(value)
	return true
}

func (c *conn) SendNumber(key string, value int) bool {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	c.svc.commands = append(c.svc.commands, Command{Key: key, Number: value})
	if c.svc.rejected[key] {
		return false
	}
	c.svc.props[key] = vpc.Int(int64(value))
	return true
}

func (c *conn) RegisterForEvents(codes []uint32) bool {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	c.svc.register = append(c.svc.register, append([]uint32(nil), codes...))
	return !c.svc.RejectRegister
}

func (c *conn) Notifications() <-chan vpc.Notification {
	return c.svc.events
}

func (c *conn) Close() error {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	c.svc.closed++
	c.svc.ClaimedBy = ""
	return nil
}
