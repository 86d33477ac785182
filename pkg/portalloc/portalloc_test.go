package portalloc

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_Allocate(t *testing.T) {
	a := New("127.0.0.1")

	port, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)

	// The released port must be bindable again by the caller.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err, "allocated port should be free")
	ln.Close()
}

func TestAllocator_DistinctPortsWhileHeld(t *testing.T) {
	a := New("127.0.0.1")

	first, err := a.Allocate(context.Background())
	require.NoError(t, err)

	// Hold the first port so the kernel cannot hand it out again.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(first)))
	require.NoError(t, err)
	defer ln.Close()

	second, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAllocator_InvalidHost(t *testing.T) {
	a := New("256.256.256.256")

	_, err := a.Allocate(context.Background())
	assert.Error(t, err)
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", Address(8080))
}
