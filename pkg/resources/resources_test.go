package resources

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Self(t *testing.T) {
	usage, err := Snapshot(context.Background(), os.Getpid())
	require.NoError(t, err)

	assert.Equal(t, os.Getpid(), usage.Pid)
	assert.NotEmpty(t, usage.Name)
	assert.Greater(t, usage.RSSBytes, uint64(0))
	assert.Greater(t, usage.Threads, int32(0))
	assert.False(t, usage.StartedAt.IsZero())
	assert.True(t, usage.StartedAt.Before(time.Now().Add(time.Minute)))
}

func TestSnapshot_InvalidPid(t *testing.T) {
	_, err := Snapshot(context.Background(), 0)
	assert.Error(t, err)
}

func TestNode(t *testing.T) {
	usage, err := Node(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	assert.Greater(t, usage.MemoryTotal, uint64(0))
	assert.LessOrEqual(t, usage.MemoryUsed, usage.MemoryTotal)
}
