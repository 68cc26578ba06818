package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestSession_WritesAllProfiles(t *testing.T) {
	// Given: every profile requested
	dir := t.TempDir()
	cfg := Config{
		CPUPath:   filepath.Join(dir, "cpu.prof"),
		HeapPath:  filepath.Join(dir, "heap.prof"),
		TracePath: filepath.Join(dir, "trace.out"),
	}
	require.True(t, cfg.Enabled())

	// When: running some work between Start and Stop
	s, err := Start(cfg)
	require.NoError(t, err)
	sum := 0
	for i := 0; i < 1000000; i++ {
		sum += i
	}
	_ = sum
	require.NoError(t, s.Stop())

	// Then: every file has content
	assert.Positive(t, fileSize(t, cfg.CPUPath))
	assert.Positive(t, fileSize(t, cfg.HeapPath))
	assert.Positive(t, fileSize(t, cfg.TracePath))
}

func TestSession_StopTwiceIsSafe(t *testing.T) {
	s, err := Start(Config{HeapPath: filepath.Join(t.TempDir(), "heap.prof")})
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Config{CPUPath: filepath.Join(t.TempDir(), "missing", "cpu.prof")})

	assert.Equal(t, dierrors.ErrCodeFilePermission, dierrors.GetCode(err))
}

func TestConfig_Disabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
}
