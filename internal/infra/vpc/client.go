package vpc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Client holds the exclusive connection to the privileged service.
type Client struct {
	mu       sync.RWMutex
	provider Provider
	service  ServiceInfo
	conn     Conn
	token    string
}

// NewClient creates a new, unconnected client.
func NewClient(provider Provider) *Client {
	return &Client{
		provider: provider,
		token:    uuid.New().String(),
	}
}

// DiscoverAndOpen enumerates services matching classFilter and opens the
// first one that accepts this process. A candidate that fails to open is
// skipped; only exhausting all candidates is an error.
func (c *Client) DiscoverAndOpen(classFilter string) (ServiceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.service, nil
	}

	candidates, err := c.provider.MatchServices(classFilter)
	if err != nil {
		return ServiceInfo{}, fmt.Errorf("%w: %v", ErrNoMatch, err)
	}

	var claimed, tried int
	for _, svc := range candidates {
		if svc.Class == "" {
			log.Info().Str("handle", string(svc.Handle)).Msg("Invalid service instance")
			continue
		}
		log.Info().Str("class", svc.Class).Msg("Found service")
		tried++

		conn, err := c.provider.Open(svc.Handle, c.token)
		if err != nil {
			if errors.Is(err, ErrAlreadyOpen) {
				claimed++
			}
			log.Warn().Err(err).Str("class", svc.Class).Msg("Failed to open service")
			continue
		}

		c.service = svc
		c.conn = conn
		log.Info().Str("class", svc.Class).Str("token", c.token).Msg("Connected to service")
		return svc, nil
	}

	switch {
	case tried == 0:
		return ServiceInfo{}, ErrNoMatch
	case claimed > 0:
		return ServiceInfo{}, ErrAlreadyOpen
	default:
		return ServiceInfo{}, ErrOpenFailed
	}
}

// Service returns the opened service, if any.
func (c *Client) Service() ServiceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// Connected reports whether a connection is held.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Properties returns the full property table of the opened service.
func (c *Client) Properties() (map[string]Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return nil, false
	}
	return c.conn.Properties()
}

// GetProperty reads one property. A missing property means the feature
// is not present.
func (c *Client) GetProperty(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return Value{}, false
	}
	v, ok := c.conn.GetProperty(key)
	if !ok {
		log.Debug().Str("key", key).Msg("Property not present")
	}
	return v, ok
}

// SendString writes a string command. A rejected command is logged; the
// caller keeps its intended state.
func (c *Client) SendString(key, value string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		log.Warn().Str("key", key).Msg("Command dropped: not connected")
		return false
	}
	if !c.conn.SendString(key, value) {
		log.Warn().Str("key", key).Str("value", value).Msg("Command rejected")
		return false
	}
	log.Debug().Str("key", key).Str("value", value).Msg("Command sent")
	return true
}

// SendNumber writes a numeric command.
func (c *Client) SendNumber(key string, value int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		log.Warn().Str("key", key).Msg("Command dropped: not connected")
		return false
	}
	if !c.conn.SendNumber(key, value) {
		log.Warn().Str("key", key).Int("value", value).Msg("Command rejected")
		return false
	}
	log.Debug().Str("key", key).Int("value", value).Msg("Command sent")
	return true
}

// RegisterForEvents subscribes to the given event codes.
func (c *Client) RegisterForEvents(codes []uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return false
	}
	return c.conn.RegisterForEvents(codes)
}

// Notifications returns the event stream of the open connection. The
// channel is nil when not connected.
func (c *Client) Notifications() <-chan Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return nil
	}
	return c.conn.Notifications()
}

// Close releases the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	log.Info().Str("class", c.service.Class).Msg("Service connection closed")
	return err
}
