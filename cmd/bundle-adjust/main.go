// Command bundle-adjust refines the cameras and landmarks of a scene and
// writes the optimized scene, a convergence plot and an HTML report.
//
// Usage:
//
//	bundle-adjust -scene in.json -out out.json [-config ba.yaml] [-plot conv.png] [-html report.html]
//	bundle-adjust -db scenes.db -scene-id <id> [-write-back]
//	bundle-adjust -scene in.json -report-dir results/
//	bundle-adjust -dump-config
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/bundle.adjust/internal/bundle"
	"github.com/banshee-data/bundle.adjust/internal/config"
	"github.com/banshee-data/bundle.adjust/internal/fsutil"
	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/report"
	"github.com/banshee-data/bundle.adjust/internal/scene"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/store"
	"github.com/banshee-data/bundle.adjust/internal/version"
)

// configSection is the optional top-level section holding the adjuster keys
// in a shared configuration file.
const configSection = "bundle_adjust"

type options struct {
	configPath  string
	scenePath   string
	dbPath      string
	sceneID     string
	outPath     string
	plotPath    string
	htmlPath    string
	reportDir   string
	verbose     bool
	writeBack   bool
	dumpConfig  bool
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("bundle-adjust", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Configuration file (.json, .yaml, .yml or .toml)")
	fs.StringVar(&o.scenePath, "scene", "", "Input scene JSON file")
	fs.StringVar(&o.dbPath, "db", "", "SQLite scene database (use with -scene-id)")
	fs.StringVar(&o.sceneID, "scene-id", "", "Scene ID in the database")
	fs.StringVar(&o.outPath, "out", "", "Write the optimized scene to this JSON file")
	fs.StringVar(&o.plotPath, "plot", "", "Write a convergence plot PNG")
	fs.StringVar(&o.htmlPath, "html", "", "Write an HTML residual report")
	fs.StringVar(&o.reportDir, "report-dir", "", "Write the optimized scene, plot and report into this directory, named after the scene")
	fs.BoolVar(&o.verbose, "verbose", false, "Log solver progress and the full solver report")
	fs.BoolVar(&o.writeBack, "write-back", false, "Store optimized cameras and landmarks back into the database scene")
	fs.BoolVar(&o.dumpConfig, "dump-config", false, "Print the effective configuration and exit")
	fs.BoolVar(&o.showVersion, "version", false, "Print version information and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.showVersion || o.dumpConfig {
		return o, nil
	}
	switch {
	case o.scenePath == "" && o.dbPath == "":
		return o, errors.New("one of -scene or -db is required")
	case o.scenePath != "" && o.dbPath != "":
		return o, errors.New("-scene and -db are mutually exclusive")
	case o.dbPath != "" && o.sceneID == "":
		return o, errors.New("-db requires -scene-id")
	case o.writeBack && o.dbPath == "":
		return o, errors.New("-write-back requires -db")
	}
	return o, nil
}

func main() {
	if err := run(os.Args[1:], fsutil.OSFileSystem{}, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "bundle-adjust: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, fsys fsutil.FileSystem, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String("bundle-adjust"))
		return nil
	}

	w := logging.Writers{Ops: stderr}
	if o.verbose {
		w.Diag = stderr
	}
	log := logging.New("[bundle-adjust] ", w)
	adj := bundle.New(bundle.DefaultConfig(), bundle.WithLogger(log))

	if o.dumpConfig {
		if err := applyConfig(adj, fsys, o, sfm.DistortionPolynomialRadial, false); err != nil {
			return err
		}
		return adj.Configuration().WriteText(stdout)
	}

	var (
		sc *scene.Scene
		db *store.DB
	)
	if o.dbPath != "" {
		db, err = store.Open(o.dbPath, log)
		if err != nil {
			return err
		}
		defer db.Close()
		if sc, err = store.NewSceneStore(db.DB).Get(o.sceneID); err != nil {
			return err
		}
	} else if sc, err = scene.Load(fsys, o.scenePath); err != nil {
		return err
	}

	if o.reportDir != "" {
		o = withReportDir(o, sceneTitle(sc, o))
	}
	model, err := sc.Model()
	if err != nil {
		return err
	}
	if err := applyConfig(adj, fsys, o, model, true); err != nil {
		return err
	}
	cams, lms, tracks, err := sc.Containers()
	if err != nil {
		return err
	}

	lens := adj.Config().Camera.LensDistortion
	before := bundle.ReprojectionErrors(cams, lms, tracks, lens)
	res, err := adj.Optimize(cams, lms, tracks)
	if err != nil {
		return err
	}
	after := bundle.ReprojectionErrors(res.Cameras, res.Landmarks, tracks, lens)

	fmt.Fprintln(stdout, res.Summary.BriefReport())
	fmt.Fprintf(stdout, "Residuals: %d over %d tracks (%d skipped), RMSE %.6g px -> %.6g px\n",
		res.Stats.Residuals, res.Stats.TracksUsed, res.Stats.TracksSkipped, before.RMSE, after.RMSE)

	if o.outPath != "" {
		if err := scene.Save(fsys, o.outPath, sc.WithState(res.Cameras, res.Landmarks)); err != nil {
			return err
		}
	}
	if o.plotPath != "" {
		if err := writePlot(fsys, o.plotPath, res, log); err != nil {
			return err
		}
	}
	if o.htmlPath != "" {
		var buf bytes.Buffer
		in := report.Input{Title: sceneTitle(sc, o), Summary: res.Summary, Before: before, After: after}
		if err := report.WriteHTML(&buf, in); err != nil {
			return err
		}
		if err := fsutil.WriteFileAll(fsys, o.htmlPath, buf.Bytes()); err != nil {
			return err
		}
	}

	if db != nil {
		if err := recordRun(db, o, adj, res, before, after); err != nil {
			return err
		}
	}
	return nil
}

// applyConfig layers the scene's lens model, the config file and the
// command line flags, in that order.
func applyConfig(adj *bundle.Adjuster, fsys fsutil.FileSystem, o options, model sfm.DistortionModel, check bool) error {
	b := config.NewBlock()
	b.Set("lens_distortion_type", model.String())
	if o.configPath != "" {
		file, err := config.LoadFS(fsys, o.configPath)
		if err != nil {
			return err
		}
		if section := file.Subblock(configSection); section.Len() > 0 {
			file = section
		}
		b.Merge(file)
	}
	if o.verbose {
		b.Set("verbose", "true")
	}
	if check && !adj.CheckConfiguration(b) {
		return fmt.Errorf("%w: see log for details", bundle.ErrInvalidConfig)
	}
	return adj.SetConfiguration(b)
}

func writePlot(fsys fsutil.FileSystem, path string, res bundle.Result, log logging.Logger) error {
	var buf bytes.Buffer
	err := report.WriteConvergencePNG(&buf, res.Summary)
	if errors.Is(err, report.ErrNoIterations) {
		log.Opsf("no iterations to plot, skipping %s", path)
		return nil
	}
	if err != nil {
		return err
	}
	return fsutil.WriteFileAll(fsys, path, buf.Bytes())
}

func recordRun(db *store.DB, o options, adj *bundle.Adjuster, res bundle.Result, before, after bundle.ReprojectionReport) error {
	var cfg bytes.Buffer
	if err := adj.Configuration().WriteJSON(&cfg); err != nil {
		return err
	}
	rec := store.NewRun(o.sceneID, json.RawMessage(cfg.Bytes()), res.Summary)
	rec.InitialRMSE, rec.FinalRMSE = &before.RMSE, &after.RMSE
	if err := store.NewRunStore(db.DB).Insert(rec); err != nil {
		return err
	}
	if o.writeBack {
		if err := store.NewSceneStore(db.DB).ReplaceState(o.sceneID, res.Cameras, res.Landmarks); err != nil {
			return err
		}
	}
	return nil
}

// withReportDir fills the output paths not set explicitly with files in
// o.reportDir named after the scene.
func withReportDir(o options, title string) options {
	base := filepath.Join(o.reportDir, fsutil.SanitizeFilename(title))
	if o.outPath == "" {
		o.outPath = base + ".optimized.json"
	}
	if o.plotPath == "" {
		o.plotPath = base + ".convergence.png"
	}
	if o.htmlPath == "" {
		o.htmlPath = base + ".report.html"
	}
	return o
}

func sceneTitle(sc *scene.Scene, o options) string {
	switch {
	case sc.Name != "":
		return sc.Name
	case o.sceneID != "":
		return o.sceneID
	default:
		return o.scenePath
	}
}
