package main

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.adjust/internal/bundle"
	"github.com/banshee-data/bundle.adjust/internal/fsutil"
	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/scene"
	"github.com/banshee-data/bundle.adjust/internal/solver"
	"github.com/banshee-data/bundle.adjust/internal/store"
	"github.com/banshee-data/bundle.adjust/internal/testutil"
)

const frozenConfig = `
bundle_adjust:
  fixed_frames: "1,2"
  optimize_focal_length: false
  optimize_dist_k1: false
  max_num_iterations: 100
`

func perturbedScene(t *testing.T) *scene.Scene {
	t.Helper()
	_, s := testutil.PerturbedRing(t, 5, 40, 0.02, 9)
	return scene.New("ring-5", s.Model, s.Cameras, s.Landmarks, s.Tracks)
}

func memoryWithScene(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, scene.Save(fsys, "in/scene.json", perturbedScene(t)))
	require.NoError(t, fsys.WriteFile("ba.yaml", []byte(frozenConfig), 0o644))
	return fsys
}

func rmse(t *testing.T, sc *scene.Scene) float64 {
	t.Helper()
	model, err := sc.Model()
	require.NoError(t, err)
	cams, lms, tracks, err := sc.Containers()
	require.NoError(t, err)
	return bundle.ReprojectionErrors(cams, lms, tracks, model).RMSE
}

func TestRunFileScene(t *testing.T) {
	fsys := memoryWithScene(t)
	var stdout, stderr bytes.Buffer

	err := run([]string{
		"-scene", "in/scene.json",
		"-config", "ba.yaml",
		"-out", "out/opt.json",
		"-plot", "out/conv.png",
		"-html", "out/report.html",
	}, fsys, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	assert.Contains(t, stdout.String(), "Solver Report")
	assert.Contains(t, stdout.String(), "RMSE")

	in, err := scene.Load(fsys, "in/scene.json")
	require.NoError(t, err)
	out, err := scene.Load(fsys, "out/opt.json")
	require.NoError(t, err)
	assert.Equal(t, "ring-5", out.Name)
	assert.Greater(t, rmse(t, in), 1.0)
	assert.Less(t, rmse(t, out), 1e-3)

	png, err := fsys.ReadFile("out/conv.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	html, err := fsys.ReadFile("out/report.html")
	require.NoError(t, err)
	assert.Contains(t, string(html), "ring-5")
}

func TestRunReportDir(t *testing.T) {
	t.Parallel()

	fsys := memoryWithScene(t)
	var stdout, stderr bytes.Buffer
	err := run([]string{
		"-scene", "in/scene.json", "-config", "ba.yaml",
		"-report-dir", "results", "-html", "custom.html",
	}, fsys, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	assert.True(t, fsys.Exists("results/ring-5.optimized.json"))
	assert.True(t, fsys.Exists("results/ring-5.convergence.png"))
	assert.True(t, fsys.Exists("custom.html"), "explicit paths win")
	assert.False(t, fsys.Exists("results/ring-5.report.html"))
}

func TestWithReportDir(t *testing.T) {
	t.Parallel()

	o := withReportDir(options{reportDir: "out", plotPath: "p.png"}, "scene / 1")
	assert.Equal(t, "out/scene_1.optimized.json", o.outPath)
	assert.Equal(t, "p.png", o.plotPath)
	assert.Equal(t, "out/scene_1.report.html", o.htmlPath)
}

func TestRunZeroIterations(t *testing.T) {
	t.Parallel()

	fsys := memoryWithScene(t)
	require.NoError(t, fsys.WriteFile("zero.toml", []byte("max_num_iterations = 0\n"), 0o644))
	var stdout, stderr bytes.Buffer

	err := run([]string{"-scene", "in/scene.json", "-config", "zero.toml", "-out", "out.json", "-plot", "conv.png"}, fsys, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "NO_CONVERGENCE")
	assert.True(t, fsys.Exists("conv.png"), "the initial point is still plotted")

	in, err := scene.Load(fsys, "in/scene.json")
	require.NoError(t, err)
	out, err := scene.Load(fsys, "out.json")
	require.NoError(t, err)
	assert.InDelta(t, rmse(t, in), rmse(t, out), 1e-9)
}

func TestWritePlotSkipsEmptySummary(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	var stderr bytes.Buffer
	log := logging.New("", logging.Writers{Ops: &stderr})
	require.NoError(t, writePlot(fsys, "conv.png", bundle.Result{Summary: &solver.Summary{}}, log))
	assert.False(t, fsys.Exists("conv.png"))
	assert.Contains(t, stderr.String(), "no iterations to plot")
}

func TestRunDatabaseScene(t *testing.T) {
	path := testutil.TempPath(t, "scenes.db")
	db, err := store.Open(path, nil)
	require.NoError(t, err)
	id, err := store.NewSceneStore(db.DB).Insert(perturbedScene(t))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("ba.yaml", []byte(frozenConfig), 0o644))
	var stdout, stderr bytes.Buffer
	err = run([]string{"-db", path, "-scene-id", id, "-config", "ba.yaml", "-write-back"}, fsys, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	db, err = store.Open(path, nil)
	require.NoError(t, err)
	defer db.Close()

	runs, err := store.NewRunStore(db.DB).List(id)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEqual(t, solver.Failure.String(), runs[0].Termination)
	require.NotNil(t, runs[0].FinalRMSE)
	assert.Less(t, *runs[0].FinalRMSE, 1e-3)
	assert.Contains(t, string(runs[0].ConfigJSON), `"fixed_frames"`)

	sc, err := store.NewSceneStore(db.DB).Get(id)
	require.NoError(t, err)
	assert.Less(t, rmse(t, sc), 1e-3, "write-back stores the optimized state")
}

func TestRunDumpConfig(t *testing.T) {
	t.Parallel()

	fsys := memoryWithScene(t)
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-dump-config", "-config", "ba.yaml"}, fsys, &stdout, &stderr))
	out := stdout.String()
	assert.Regexp(t, `lens_distortion_type\s+= polynomial_radial`, out)
	assert.Regexp(t, `fixed_frames\s+= 1,2`, out)
	assert.Regexp(t, `optimize_focal_length\s+= false`, out)
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-version"}, fsutil.NewMemoryFileSystem(), &stdout, &stderr))
	assert.Contains(t, stdout.String(), "bundle-adjust dev")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no input", nil, "one of -scene or -db"},
		{"both inputs", []string{"-scene", "a.json", "-db", "b.db", "-scene-id", "x"}, "mutually exclusive"},
		{"db without id", []string{"-db", "b.db"}, "-scene-id"},
		{"write-back without db", []string{"-scene", "in/scene.json", "-write-back"}, "-write-back requires -db"},
		{"missing scene", []string{"-scene", "nope.json"}, "nope.json"},
		{"missing config", []string{"-scene", "in/scene.json", "-config", "nope.yaml"}, "failed to load config file"},
		{"bad config", []string{"-scene", "in/scene.json", "-config", "bad.json"}, "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fsys := memoryWithScene(t)
			require.NoError(t, fsys.WriteFile("bad.json", []byte(`{"loss_function_type": "bogus"}`), 0o644))
			var stdout, stderr bytes.Buffer
			err := run(tt.args, fsys, &stdout, &stderr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	var stdout, stderr bytes.Buffer
	err := run([]string{"-h"}, fsutil.NewMemoryFileSystem(), &stdout, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "-scene-id")
}
