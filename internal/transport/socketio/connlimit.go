package socketio

import (
	"net"
	"sync"
)

// ClientLimiter bounds the number of menu clients connecting from other
// hosts. Loopback clients are always accepted. When a new remote client
// exceeds the limit the oldest remote client is evicted. A limit of 0
// rejects remote clients outright.
type ClientLimiter struct {
	mu        sync.Mutex
	maxRemote int
	// remote client IDs, oldest first
	remote []string
	// clientID -> remote IP
	clients map[string]string
}

// NewClientLimiter creates a limiter accepting up to maxRemote remote clients.
func NewClientLimiter(maxRemote int) *ClientLimiter {
	return &ClientLimiter{
		maxRemote: maxRemote,
		clients:   make(map[string]string),
	}
}

// TryAdd registers a client. It reports whether the client is accepted and
// the ID of an evicted client, if any.
func (l *ClientLimiter) TryAdd(clientID, ip string) (allowed bool, evictedID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.clients[clientID]; exists {
		return true, ""
	}

	if isLoopback(ip) {
		l.clients[clientID] = ip
		return true, ""
	}
	if l.maxRemote <= 0 {
		return false, ""
	}

	l.clients[clientID] = ip
	l.remote = append(l.remote, clientID)
	if len(l.remote) > l.maxRemote {
		evictedID = l.remote[0]
		l.remote = l.remote[1:]
		delete(l.clients, evictedID)
	}
	return true, evictedID
}

// Remove forgets a disconnected client.
func (l *ClientLimiter) Remove(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ip, exists := l.clients[clientID]
	if !exists {
		return
	}
	delete(l.clients, clientID)
	if isLoopback(ip) {
		return
	}
	for i, id := range l.remote {
		if id == clientID {
			l.remote = append(l.remote[:i], l.remote[i+1:]...)
			break
		}
	}
}

// RemoteCount returns the number of accepted remote clients.
func (l *ClientLimiter) RemoteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.remote)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
