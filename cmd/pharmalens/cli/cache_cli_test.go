package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newCacheCLI(t *testing.T) (*CacheOpsCLI, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli, err := NewCacheOpsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli, mr
}

func TestInvalidateCommandJSON(t *testing.T) {
	cli, _ := newCacheCLI(t)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.InvalidateCommand(context.Background(), CacheInvalidateOptions{
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var summary CacheInvalidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, int64(1), summary.PreviousVersion)
	require.Equal(t, int64(2), summary.Version)
	require.False(t, summary.WarmupQueued)
}

func TestInvalidateCommandAdvancesEachRun(t *testing.T) {
	cli, _ := newCacheCLI(t)

	for want := int64(2); want <= 4; want++ {
		stdout := new(bytes.Buffer)
		exitCode := cli.InvalidateCommand(context.Background(), CacheInvalidateOptions{
			JSONOutput: true,
			Stdout:     stdout,
			Stderr:     new(bytes.Buffer),
		})
		require.Zero(t, exitCode)

		var summary CacheInvalidateSummary
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
		require.Equal(t, want, summary.Version)
	}
}

func TestInvalidateCommandHumanOutput(t *testing.T) {
	cli, _ := newCacheCLI(t)

	stdout := new(bytes.Buffer)
	exitCode := cli.InvalidateCommand(context.Background(), CacheInvalidateOptions{
		Stdout: stdout,
		Stderr: new(bytes.Buffer),
	})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "Cache version bumped 1 -> 2")
}

func TestInvalidateCommandRedisDown(t *testing.T) {
	cli, mr := newCacheCLI(t)
	mr.Close()

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.InvalidateCommand(context.Background(), CacheInvalidateOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "cache invalidate:")
	require.Empty(t, stdout.String())
}

func TestStatusCommandJSON(t *testing.T) {
	cli, mr := newCacheCLI(t)
	mr.Set("catalog:records:all:1", `[]`)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.StatusCommand(context.Background(), CacheStatusOptions{
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var summary CacheStatusSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, int64(1), summary.Version)
	// catalog:version plus the seeded record key.
	require.Equal(t, int64(2), summary.Keys)
}
