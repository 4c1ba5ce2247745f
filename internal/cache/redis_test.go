package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formbridge/internal/config"
)

func TestNewClient_ReturnsErrorWhenAddressEmpty(t *testing.T) {
	client, err := NewClient(config.RedisConfig{})
	assert.ErrorIs(t, err, ErrEmptyAddress)
	assert.Nil(t, client)
}

func TestNewClient_PingFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(config.RedisConfig{Address: addr})
	assert.Error(t, err)
}

func TestAttachmentIndex_LookupRemember(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	idx := NewAttachmentIndex(client, time.Hour)

	_, ok, err := idx.Lookup(ctx, "https://files.example.com/cv.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Remember(ctx, "https://files.example.com/cv.pdf", "att-1"))

	id, ok, err := idx.Lookup(ctx, "https://files.example.com/cv.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "att-1", id)

	mr.FastForward(2 * time.Hour)
	_, ok, err = idx.Lookup(ctx, "https://files.example.com/cv.pdf")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after ttl")
}

func TestAttachmentIndex_LookupError(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	mr.SetError("READONLY")
	_, _, err = NewAttachmentIndex(client, 0).Lookup(context.Background(), "https://x/y")
	assert.Error(t, err)
}
