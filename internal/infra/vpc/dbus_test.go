package vpc

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventSignal(sender string, code uint32, payload any) *dbus.Signal {
	return &dbus.Signal{
		Sender: sender,
		Path:   objectPath,
		Name:   iface + ".Event",
		Body:   []any{code, dbus.MakeVariant(payload)},
	}
}

func TestNotificationFromOpenedService(t *testing.T) {
	c := &dbusConn{name: "org.yogasmc.VPC.0", owner: ":1.42"}

	n, ok := c.notification(eventSignal(":1.42", 0x1012, int32(1)))
	require.True(t, ok)
	assert.Equal(t, uint32(0x1012), n.Code)
	v, ok := n.Payload.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestNotificationFromOtherInstanceIgnored(t *testing.T) {
	c := &dbusConn{name: "org.yogasmc.VPC.0", owner: ":1.42"}

	_, ok := c.notification(eventSignal(":1.77", 0x1012, int32(1)))
	assert.False(t, ok)
	_, ok = c.notification(eventSignal("org.yogasmc.VPC.1", 0x1012, int32(1)))
	assert.False(t, ok)
}

func TestNotificationRejectsMalformedSignals(t *testing.T) {
	c := &dbusConn{name: "org.yogasmc.VPC.0", owner: ":1.42"}

	other := eventSignal(":1.42", 0x1012, true)
	other.Name = iface + ".PropertyChanged"
	short := eventSignal(":1.42", 0x1012, true)
	short.Body = short.Body[:1]
	badCode := eventSignal(":1.42", 0x1012, true)
	badCode.Body[0] = "0x1012"
	wrongPath := eventSignal(":1.42", 0x1012, true)
	wrongPath.Path = "/org/yogasmc/Other"

	for name, sig := range map[string]*dbus.Signal{
		"nil":        nil,
		"other name": other,
		"short body": short,
		"bad code":   badCode,
		"wrong path": wrongPath,
	} {
		_, ok := c.notification(sig)
		assert.False(t, ok, name)
	}
}
