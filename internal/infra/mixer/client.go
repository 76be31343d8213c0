// Package mixer follows the output volume of an MPD server.
package mixer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// Client wraps the MPD client with reconnection logic.
type Client struct {
	mu       sync.RWMutex
	client   *mpd.Client
	addr     string
	password string
}

// NewClient creates a mixer client for the MPD server at addr.
func NewClient(addr, password string) *Client {
	return &Client{
		addr:     addr,
		password: password,
	}
}

// Connect establishes the connection to MPD.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked()
}

// connectLocked establishes connection (must hold lock).
func (c *Client) connectLocked() error {
	log.Debug().Str("addr", c.addr).Msg("Connecting to MPD mixer")

	client, err := mpd.Dial("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if c.password != "" {
		if err := client.Command("password %s", c.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	c.client = client
	return nil
}

func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.connectLocked()
	}

	if err := c.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting...")
		c.client.Close()
		c.client = nil
		return c.connectLocked()
	}

	return nil
}

// Close closes the MPD connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Volume returns the current output volume (0-100). MPD reports -1 when no
// mixer is available.
func (c *Client) Volume() (int, error) {
	if err := c.ensureConnected(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	status, err := c.client.Status()
	if err != nil {
		return 0, err
	}
	return parseVolume(status)
}

func parseVolume(status mpd.Attrs) (int, error) {
	raw, ok := status["volume"]
	if !ok {
		return 0, fmt.Errorf("status has no volume")
	}
	vol, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid volume %q: %w", raw, err)
	}
	return vol, nil
}

// Watch calls onVolume with the volume after every mixer change until ctx
// is done.
func (c *Client) Watch(ctx context.Context, onVolume func(int)) error {
	watcher, err := mpd.NewWatcher("tcp", c.addr, c.password, "mixer")
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	log.Info().Str("addr", c.addr).Msg("Watching MPD mixer")
	last := -2
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Event:
			if !ok {
				return fmt.Errorf("MPD watcher closed")
			}
			vol, err := c.Volume()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to read volume")
				continue
			}
			if vol < 0 || vol == last {
				continue
			}
			last = vol
			onVolume(vol)
		case err := <-watcher.Error:
			log.Error().Err(err).Msg("MPD watcher error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}
