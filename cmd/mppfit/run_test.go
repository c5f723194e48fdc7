package main

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/store"
)

const testRunConfig = `
image:
  synthetic:
    width: 48
    height: 36
    objects: 2
marks:
  kind: circle
  min_radius: 3
  max_radius: 7
  candidates: 60
kernels:
  refine_weight: 0
termination:
  max_iterations: 200
run:
  seed: 5
  chains: 1
  trace_every: 20
store:
  backend: fs
  dir: %s
`

// withRunGlobals sets the run command globals and restores them afterwards
func withRunGlobals(t *testing.T, cfgPath, out, mask string, save bool) {
	t.Helper()
	origCfg, origOut, origMask, origSave := configPath, outPath, maskPath, saveRun
	configPath, outPath, maskPath, saveRun = cfgPath, out, mask, save
	t.Cleanup(func() {
		configPath, outPath, maskPath, saveRun = origCfg, origOut, origMask, origSave
	})
}

func writeRunConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	content := []byte(fmt.Sprintf(testRunConfig, dataDir))
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestRunFitWritesOutputs(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	out := filepath.Join(outDir, "overlay.png")
	mask := filepath.Join(outDir, "mask.png")
	withRunGlobals(t, writeRunConfig(t, dataDir), out, mask, true)

	require.NoError(t, runFit(nil, nil))

	for _, path := range []string{out, mask} {
		f, err := os.Open(path)
		require.NoError(t, err)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 48, img.Bounds().Dx())
		assert.Equal(t, 36, img.Bounds().Dy())
	}

	runStore, err := store.NewFSStore(dataDir)
	require.NoError(t, err)
	infos, err := runStore.ListRuns()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "circle", infos[0].Kind)

	reader, err := store.NewTraceReader(dataDir, infos[0].RunID)
	require.NoError(t, err)
	defer reader.Close()
}

func TestRunFitWithoutSave(t *testing.T) {
	dataDir := t.TempDir()
	out := filepath.Join(t.TempDir(), "overlay.png")
	withRunGlobals(t, writeRunConfig(t, dataDir), out, "", false)

	require.NoError(t, runFit(nil, nil))
	assert.FileExists(t, out)

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunFitInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("marks:\n  kind: hexagon\n"), 0644))
	withRunGlobals(t, path, filepath.Join(t.TempDir(), "overlay.png"), "", false)

	assert.Error(t, runFit(nil, nil))
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.Default()
	cmd := runCmd
	require.NoError(t, cmd.Flags().Set("kind", "ellipse"))
	require.NoError(t, cmd.Flags().Set("iters", "42"))
	t.Cleanup(func() {
		markKind, iters = "", 0
		cmd.Flags().Lookup("kind").Changed = false
		cmd.Flags().Lookup("iters").Changed = false
	})

	require.NoError(t, applyRunFlags(cmd, &cfg))
	assert.Equal(t, "ellipse", cfg.Marks.Kind)
	assert.Equal(t, 42, cfg.Termination.MaxIterations)
	assert.Equal(t, config.Default().Run.Seed, cfg.Run.Seed)
}
