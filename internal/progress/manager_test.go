package progress

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestManager_CheckpointAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")

	m, err := NewManager(path, testLogger())
	require.NoError(t, err)
	assert.False(t, m.GetProgress().HasCheckpoint())

	require.NoError(t, m.Checkpoint(16249110, 12, 3))
	require.NoError(t, m.Checkpoint(16249122, 40, 5))

	info := m.GetProgress()
	assert.Equal(t, uint64(16249122), info.NextBlock)
	assert.Equal(t, uint64(40), info.WindowSize)
	assert.Equal(t, uint64(2), info.TotalWindows)
	assert.Equal(t, uint64(8), info.TotalEvents)
	assert.False(t, info.StartTime.IsZero())
	require.NoError(t, m.Close())

	reopened, err := NewManager(path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	info = reopened.GetProgress()
	assert.True(t, info.HasCheckpoint())
	assert.Equal(t, uint64(16249122), info.NextBlock)
	assert.Equal(t, uint64(40), info.WindowSize)
	assert.Equal(t, uint64(2), info.TotalWindows)
	assert.Equal(t, uint64(8), info.TotalEvents)
}

func TestManager_Reset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	m, err := NewManager(path, testLogger())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Checkpoint(100, 10, 1))
	require.NoError(t, m.Reset())

	info := m.GetProgress()
	assert.False(t, info.HasCheckpoint())
	assert.Equal(t, uint64(0), info.TotalWindows)

	// 重置后仍可继续保存
	require.NoError(t, m.Checkpoint(50, 5, 0))
	assert.Equal(t, uint64(50), m.GetProgress().NextBlock)
}

func TestManager_GetProgressReturnsCopy(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "p.db"), testLogger())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Checkpoint(7, 3, 0))
	info := m.GetProgress()
	info.NextBlock = 999

	assert.Equal(t, uint64(7), m.GetProgress().NextBlock)
}

func TestManager_GetStats(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "p.db"), testLogger())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Checkpoint(7, 3, 2))
	stats := m.GetStats()
	assert.Equal(t, uint64(7), stats["next_block"])
	assert.Equal(t, uint64(3), stats["window_size"])
	assert.Equal(t, uint64(2), stats["total_events"])
	assert.Contains(t, stats, "running_duration")
}
