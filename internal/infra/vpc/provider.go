// Package vpc provides the property/command channel to the privileged
// hardware-control service.
package vpc

import "errors"

var (
	// ErrNoMatch is returned when no candidate service could be found.
	ErrNoMatch = errors.New("no matching service")

	// ErrAlreadyOpen is returned when the service is already claimed by
	// another process.
	ErrAlreadyOpen = errors.New("service already connected")

	// ErrOpenFailed is returned when every candidate refused to open.
	ErrOpenFailed = errors.New("failed to open service")

	// ErrNotConnected is returned by operations that need an open connection.
	ErrNotConnected = errors.New("not connected")
)

// ServiceHandle identifies a matched privileged service instance.
type ServiceHandle string

// ServiceInfo describes one candidate returned by MatchServices.
type ServiceInfo struct {
	Handle ServiceHandle
	// Class is the concrete device class ("IdeaVPC", "ThinkVPC", ...).
	// Empty when the instance did not publish one.
	Class string
}

// Notification is one asynchronous event delivered by the service.
type Notification struct {
	Code    uint32
	Payload Value
}

// Provider is the contract consumed from the operating system: service
// matching and opening.
type Provider interface {
	// MatchServices lists services that are instances of classFilter.
	MatchServices(classFilter string) ([]ServiceInfo, error)

	// Open claims the service for this process. token identifies the
	// owner. Implementations return ErrAlreadyOpen when another process
	// holds the claim.
	Open(svc ServiceHandle, token string) (Conn, error)
}

// Conn is an exclusively owned connection to one service.
type Conn interface {
	// Properties returns the full property table, or false if the
	// service cannot be queried.
	Properties() (map[string]Value, bool)

	// GetProperty returns a single property. Absence is not an error.
	GetProperty(key string) (Value, bool)

	// SendString and SendNumber report whether the device accepted the command.
	SendString(key, value string) bool
	SendNumber(key string, value int) bool

	// RegisterForEvents subscribes to the given event codes.
	RegisterForEvents(codes []uint32) bool

	// Notifications delivers subscribed events in arrival order.
	Notifications() <-chan Notification

	Close() error
}
