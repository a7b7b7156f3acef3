//go:build linux

package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-pipeline/artemis/core"
)

func testConfig() core.SandboxConfig {
	return core.SandboxConfig{
		CPUSeconds:    5,
		MemoryMB:      256,
		MaxFileSizeMB: 10,
		WallClock:     "2s",
	}
}

func TestSandbox_ScanSource_RejectsDenylistedPattern(t *testing.T) {
	s := New(testConfig(), nil)
	err := s.ScanSource(`os.RemoveAll("/")`)
	require.Error(t, err)
	assert.True(t, core.IsSandboxViolation(err))
}

func TestSandbox_ScanSource_AllowsCleanSource(t *testing.T) {
	s := New(testConfig(), nil)
	err := s.ScanSource(`func main() { fmt.Println("hello") }`)
	assert.NoError(t, err)
}

func TestSandbox_Execute_RunsCommand(t *testing.T) {
	s := New(testConfig(), nil)
	result, err := s.Execute(context.Background(), "echo hello", t.TempDir(), "echo", "hello")
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "hello")
	assert.Equal(t, 0, result.ExitCode)
}

func TestSandbox_Execute_EnforcesWallClock(t *testing.T) {
	cfg := testConfig()
	cfg.WallClock = "100ms"
	s := New(cfg, nil)

	result, err := s.Execute(context.Background(), "sleep 5", t.TempDir(), "sleep", "5")
	require.Error(t, err)
	assert.True(t, result.TimedOut)
}

func TestSandbox_Execute_NonZeroExitReportedNotAsError(t *testing.T) {
	s := New(testConfig(), nil)
	result, err := s.Execute(context.Background(), "exit 1", t.TempDir(), "sh", "-c", "exit 1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
}

func TestSandbox_Execute_RejectsScanBeforeRunning(t *testing.T) {
	s := New(testConfig(), nil)
	_, err := s.Execute(context.Background(), `rm -rf /`, t.TempDir(), "echo", "never runs")
	require.Error(t, err)
	assert.True(t, core.IsSandboxViolation(err))
}

func TestSandbox_NewFallsBackToDefaultWallClock(t *testing.T) {
	cfg := testConfig()
	cfg.WallClock = ""
	s := New(cfg, nil)
	assert.Equal(t, 60*time.Second, s.wallClock)
}
