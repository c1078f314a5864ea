package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/stagehand/internal/supervisor"
)

func TestRun_RequiresConfigPath(t *testing.T) {
	err := newApp(&bytes.Buffer{}).Run(context.Background(), []string{"stagehand"})
	require.ErrorContains(t, err, "pipeline config path")
}

func TestRun_MissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	err := newApp(&bytes.Buffer{}).Run(context.Background(), []string{"stagehand", path})
	require.Error(t, err)
}

func TestRun_StageNeverReady(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mic:
  type: file_stream
  path: `+filepath.Join(dir, "no-such-dir")+`
  to: out
out:
  type: print
`), 0o644))

	logDir := filepath.Join(dir, "logs")
	var console bytes.Buffer
	err := newApp(&console).Run(context.Background(), []string{
		"stagehand", "-t", "1", "--log-dir", logDir, path,
	})

	var notReady *supervisor.NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, []string{"mic"}, notReady.Stages)

	assert.Contains(t, console.String(), "workers_not_ready")
	assert.Contains(t, console.String(), "component=main")

	logged, err := os.ReadFile(filepath.Join(logDir, "stagehand.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logged), "worker=mic")
}
