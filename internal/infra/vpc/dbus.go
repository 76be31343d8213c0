package vpc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBusNamePrefix is the well-known name prefix every service
	// instance registers under (org.yogasmc.VPC.0, org.yogasmc.VPC.1, ...).
	DefaultBusNamePrefix = "org.yogasmc.VPC"

	objectPath     = dbus.ObjectPath("/org/yogasmc/VPC")
	iface          = "org.yogasmc.VPC"
	errNameClaimed = "org.yogasmc.VPC.Error.AlreadyOpen"

	notificationBuffer = 32
)

// DBusProvider matches and opens services published on the system bus.
type DBusProvider struct {
	conn   *dbus.Conn
	prefix string
}

// NewDBusProvider connects to the system bus.
func NewDBusProvider(prefix string) (*DBusProvider, error) {
	if prefix == "" {
		prefix = DefaultBusNamePrefix
	}
	conn, err := dbus.ConnectSystemBus(dbus.WithSignalHandler(dbus.NewSequentialSignalHandler()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &DBusProvider{conn: conn, prefix: prefix}, nil
}

// Close disconnects from the system bus.
func (p *DBusProvider) Close() error {
	return p.conn.Close()
}

// MatchServices lists bus names under the prefix whose service reports
// being an instance of classFilter.
func (p *DBusProvider) MatchServices(classFilter string) ([]ServiceInfo, error) {
	var names []string
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("failed to list bus names: %w", err)
	}

	var out []ServiceInfo
	for _, name := range names {
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		obj := p.conn.Object(name, objectPath)

		var matches bool
		if err := obj.Call(iface+".Matches", 0, classFilter).Store(&matches); err != nil || !matches {
			continue
		}

		info := ServiceInfo{Handle: ServiceHandle(name)}
		var class dbus.Variant
		var ok bool
		if err := obj.Call(iface+".GetProperty", 0, "IOClass").Store(&class, &ok); err == nil && ok {
			info.Class, _ = class.Value().(string)
		}
		out = append(out, info)
	}
	return out, nil
}

// Open performs the client open handshake. The service refuses a second
// owner with a named D-Bus error.
func (p *DBusProvider) Open(svc ServiceHandle, token string) (Conn, error) {
	obj := p.conn.Object(string(svc), objectPath)
	if err := obj.Call(iface+".Open", 0, token).Err; err != nil {
		if dbusErrorName(err) == errNameClaimed {
			return nil, ErrAlreadyOpen
		}
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	// Signals carry the unique name of the sender, not the well-known one.
	var owner string
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, string(svc)).Store(&owner); err != nil {
		obj.Call(iface+".Close", 0, token)
		return nil, fmt.Errorf("%w: failed to resolve owner of %s: %v", ErrOpenFailed, svc, err)
	}

	c := &dbusConn{
		bus:    p.conn,
		obj:    obj,
		name:   string(svc),
		owner:  owner,
		token:  token,
		events: make(chan Notification, notificationBuffer),
		raw:    make(chan *dbus.Signal, notificationBuffer),
		done:   make(chan struct{}),
	}
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchSender(string(svc)),
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember("Event"),
	); err != nil {
		obj.Call(iface+".Close", 0, token)
		return nil, fmt.Errorf("%w: failed to add signal match: %v", ErrOpenFailed, err)
	}
	p.conn.Signal(c.raw)
	go c.forward()
	return c, nil
}

func dbusErrorName(err error) string {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name
	}
	var p *dbus.Error
	if errors.As(err, &p) {
		return p.Name
	}
	return ""
}

type dbusConn struct {
	bus    *dbus.Conn
	obj    dbus.BusObject
	name   string
	owner  string
	token  string
	events chan Notification
	raw    chan *dbus.Signal

	closeOnce sync.Once
	done      chan struct{}
}

// forward converts bus signals into notifications. The channel is
// bounded; on overflow the newest event is dropped and logged.
func (c *dbusConn) forward() {
	defer close(c.events)
	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.raw:
			if !ok {
				return
			}
			n, ok := c.notification(sig)
			if !ok {
				continue
			}
			select {
			case c.events <- n:
			default:
				log.Warn().Uint32("code", n.Code).Msg("Notification queue full, dropping event")
			}
		}
	}
}

// notification decodes an Event signal sent by the opened service. The
// connection's signal channel is shared, so signals from other instances
// are dropped.
func (c *dbusConn) notification(sig *dbus.Signal) (Notification, bool) {
	if sig == nil || sig.Name != iface+".Event" || sig.Path != objectPath {
		return Notification{}, false
	}
	if sig.Sender != c.owner && sig.Sender != c.name {
		log.Debug().Str("sender", sig.Sender).Str("owner", c.owner).Msg("Ignoring event from another instance")
		return Notification{}, false
	}
	if len(sig.Body) < 2 {
		return Notification{}, false
	}
	code, ok := sig.Body[0].(uint32)
	if !ok {
		return Notification{}, false
	}
	payload := Value{}
	if v, ok := sig.Body[1].(dbus.Variant); ok {
		payload = fromVariant(v)
	}
	return Notification{Code: code, Payload: payload}, true
}

func fromVariant(v dbus.Variant) Value {
	switch t := v.Value().(type) {
	case map[string]dbus.Variant:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = fromVariant(e)
		}
		return Map(m)
	default:
		return FromAny(t)
	}
}

func (c *dbusConn) Properties() (map[string]Value, bool) {
	var props map[string]dbus.Variant
	if err := c.obj.Call(iface+".GetProperties", 0).Store(&props); err != nil {
		log.Debug().Err(err).Msg("GetProperties failed")
		return nil, false
	}
	out := make(map[string]Value, len(props))
	for k, v := range props {
		out[k] = fromVariant(v)
	}
	return out, true
}

func (c *dbusConn) GetProperty(key string) (Value, bool) {
	var (
		v  dbus.Variant
		ok bool
	)
	if err := c.obj.Call(iface+".GetProperty", 0, key).Store(&v, &ok); err != nil || !ok {
		return Value{}, false
	}
	return fromVariant(v), true
}

func (c *dbusConn) SendString(key, value string) bool {
	var accepted bool
	if err := c.obj.Call(iface+".SendString", 0, c.token, key, value).Store(&accepted); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("SendString call failed")
		return false
	}
	return accepted
}

func (c *dbusConn) SendNumber(key string, value int) bool {
	var accepted bool
	if err := c.obj.Call(iface+".SendNumber", 0, c.token, key, int32(value)).Store(&accepted); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("SendNumber call failed")
		return false
	}
	return accepted
}

func (c *dbusConn) RegisterForEvents(codes []uint32) bool {
	var ok bool
	if err := c.obj.Call(iface+".RegisterEvents", 0, c.token, codes).Store(&ok); err != nil {
		log.Warn().Err(err).Msg("RegisterEvents call failed")
		return false
	}
	return ok
}

func (c *dbusConn) Notifications() <-chan Notification {
	return c.events
}

func (c *dbusConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.bus.RemoveSignal(c.raw)
		_ = c.bus.RemoveMatchSignal(
			dbus.WithMatchSender(c.name),
			dbus.WithMatchObjectPath(objectPath),
			dbus.WithMatchInterface(iface),
			dbus.WithMatchMember("Event"),
		)
		err = c.obj.Call(iface+".Close", 0, c.token).Err
	})
	return err
}
