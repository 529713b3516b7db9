package telemetry

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildResource(t *testing.T) {
	res, err := buildResource(context.Background(), &Config{
		ServiceName:    "heap-analyzer",
		ServiceVersion: "1.2.3",
		ResourceAttrs:  map[string]string{"deployment.environment": "test"},
	})
	require.NoError(t, err)

	attrs := make(map[string]string)
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "heap-analyzer", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "test", attrs["deployment.environment"])
}

func TestHostIP(t *testing.T) {
	ip := hostIP()
	if ip == "" {
		t.Skip("no routable address on this host")
	}
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed, "hostIP returned %q", ip)
	assert.False(t, parsed.IsLoopback())
}

func TestInterfaceIP(t *testing.T) {
	ip := interfaceIP()
	if ip == "" {
		t.Skip("no non-loopback interface on this host")
	}
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed, "interfaceIP returned %q", ip)
	assert.False(t, parsed.IsLoopback())
}
