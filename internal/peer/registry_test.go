package peer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()
	a := Info{Address: "10.0.0.1", Port: 8080, Protocol: "ws"}
	b := Info{Address: "10.0.0.2", Port: 8080, Protocol: "ws"}

	require.NoError(t, r.AddPeer(ctx, b))
	require.NoError(t, r.AddPeer(ctx, a))

	peers, err := r.Peers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "ws://10.0.0.1:8080", peers[0].Locator())

	a.Load = 4
	require.NoError(t, r.UpdatePeer(ctx, a))
	found, err := r.FindPeer(ctx, a.Locator())
	require.NoError(t, err)
	assert.Equal(t, 4, found.Load)

	require.NoError(t, r.RemovePeer(ctx, a.Locator()))
	_, err = r.FindPeer(ctx, a.Locator())
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.Error(t, r.UpdatePeer(ctx, a))
}

func TestInfoURL(t *testing.T) {
	i := Info{Address: "::1", Port: 9000, Protocol: "ws"}
	assert.Equal(t, "ws://[::1]:9000/ws", i.URL())
}
