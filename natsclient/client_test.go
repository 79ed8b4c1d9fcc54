package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorgraph/errors"
)

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://a:4222,nats://b:4222",
		WithCredentials("sensor", "secret"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "nats://a:4222,nats://b:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Len(t, c.connectionOptions(), 8)
}

func TestClient_StatusHandler(t *testing.T) {
	var seen []ConnectionStatus
	c, err := NewClient("nats://127.0.0.1:1",
		WithClientName("sensorgraph-test"),
		WithTimeout(50*time.Millisecond),
		WithStatusHandler(func(s ConnectionStatus) { seen = append(seen, s) }),
	)
	require.NoError(t, err)
	assert.Equal(t, "sensorgraph-test", c.clientName)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusDisconnected}, seen)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusClosed, seen[len(seen)-1])
}

func TestNewClient_InvalidOptions(t *testing.T) {
	_, err := NewClient("")
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithCredentials("user", ""))
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithTimeout(0))
	assert.Error(t, err)
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForConnection(ctx), errors.ErrConnectionTimeout)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusClosed, c.Status())
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.False(t, IsKVConflictError(assert.AnError))
	assert.False(t, IsKVNotFoundError(nil))
}
