// Command ba-synth generates a synthetic bundle adjustment scene: a ring of
// cameras looking at a landmark cloud, optionally perturbed away from the
// true state. The scene is written as JSON or inserted into a scene database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/banshee-data/bundle.adjust/internal/config"
	"github.com/banshee-data/bundle.adjust/internal/fsutil"
	"github.com/banshee-data/bundle.adjust/internal/logging"
	"github.com/banshee-data/bundle.adjust/internal/scene"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/store"
	"github.com/banshee-data/bundle.adjust/internal/synth"
	"github.com/banshee-data/bundle.adjust/internal/version"
)

type options struct {
	gen     synth.Options
	perturb synth.Perturbation
	model   string
	fixed   string
	name    string
	outPath string
	dbPath  string
	truth   string

	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	o := options{gen: synth.DefaultOptions()}
	arcDeg := o.gen.RingArc * 180 / math.Pi
	fs := flag.NewFlagSet("ba-synth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.gen.NumCameras, "cameras", o.gen.NumCameras, "Number of cameras on the ring")
	fs.IntVar(&o.gen.NumLandmarks, "landmarks", o.gen.NumLandmarks, "Number of landmarks to sample")
	fs.Float64Var(&o.gen.RingRadius, "ring-radius", o.gen.RingRadius, "Distance of the cameras from the origin")
	fs.Float64Var(&arcDeg, "ring-arc", arcDeg, "Angle spanned by the cameras in degrees (360 for a full ring)")
	fs.Float64Var(&o.gen.CloudRadius, "cloud-radius", o.gen.CloudRadius, "Radius of the landmark ball")
	fs.Float64Var(&o.gen.Intrinsics.FocalLength, "focal", o.gen.Intrinsics.FocalLength, "Focal length in pixels")
	fs.StringVar(&o.model, "model", o.gen.Model.String(), "Lens distortion model recorded with the scene")
	fs.BoolVar(&o.gen.SharedIntrinsics, "shared", o.gen.SharedIntrinsics, "Use one intrinsics group for every camera")
	fs.Float64Var(&o.gen.NoiseStdDev, "noise", o.gen.NoiseStdDev, "Std dev of the pixel noise added to observations")
	fs.IntVar(&o.gen.MinObservations, "min-observations", o.gen.MinObservations, "Drop tracks seen by fewer cameras")
	fs.Int64Var(&o.gen.Seed, "seed", o.gen.Seed, "Random seed")
	fs.Float64Var(&o.perturb.LandmarkStdDev, "perturb-landmarks", 0, "Std dev of the landmark position perturbation")
	fs.Float64Var(&o.perturb.CenterStdDev, "perturb-centers", 0, "Std dev of the camera center perturbation")
	fs.Float64Var(&o.perturb.RotationStdDev, "perturb-rotations", 0, "Std dev of the camera rotation perturbation in radians")
	fs.Float64Var(&o.perturb.FocalStdDev, "perturb-focal", 0, "Relative std dev of the focal length perturbation")
	fs.StringVar(&o.fixed, "fixed", "", "Comma separated frame IDs left unperturbed")
	fs.StringVar(&o.name, "name", "", "Scene name (default derived from the options)")
	fs.StringVar(&o.outPath, "out", "", "Write the scene to this JSON file")
	fs.StringVar(&o.truth, "truth", "", "Also write the unperturbed scene to this JSON file")
	fs.StringVar(&o.dbPath, "db", "", "Insert the scene into this SQLite database")
	fs.BoolVar(&o.showVersion, "version", false, "Print version information and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.showVersion {
		return o, nil
	}
	o.gen.RingArc = arcDeg * math.Pi / 180

	m, err := sfm.ParseDistortionModel(o.model)
	if err != nil {
		return o, err
	}
	o.gen.Model = m

	if o.fixed != "" {
		b := config.NewBlock()
		b.Set("fixed", o.fixed)
		ids, err := b.GetInt64List("fixed")
		if err != nil {
			return o, fmt.Errorf("-fixed: %w", err)
		}
		for _, id := range ids {
			o.perturb.FixedFrames = append(o.perturb.FixedFrames, sfm.FrameID(id))
		}
	}
	o.perturb.Seed = o.gen.Seed + 1

	if o.outPath == "" && o.dbPath == "" {
		return o, errors.New("one of -out or -db is required")
	}
	if o.name == "" {
		o.name = fmt.Sprintf("ring-%dc-%dl-seed%d", o.gen.NumCameras, o.gen.NumLandmarks, o.gen.Seed)
	}
	return o, nil
}

func main() {
	if err := run(os.Args[1:], fsutil.OSFileSystem{}, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "ba-synth: %v\n", err)
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
		fmt.Fprintln(stdout, version.String("ba-synth"))
		return nil
	}
	log := logging.New("[ba-synth] ", logging.Writers{Ops: stderr})

	truth, err := synth.Generate(o.gen)
	if err != nil {
		return err
	}
	start := synth.Perturb(truth, o.perturb)
	sc := scene.New(o.name, start.Model, start.Cameras, start.Landmarks, start.Tracks)
	log.Opsf("generated %s: %d cameras, %d landmarks, %d observations",
		o.name, start.Cameras.Len(), start.Landmarks.Len(), start.Tracks.NumObservations())

	if o.truth != "" {
		ts := scene.New(o.name+"-truth", truth.Model, truth.Cameras, truth.Landmarks, truth.Tracks)
		if err := scene.Save(fsys, o.truth, ts); err != nil {
			return err
		}
	}
	if o.outPath != "" {
		if err := scene.Save(fsys, o.outPath, sc); err != nil {
			return err
		}
	}
	if o.dbPath != "" {
		db, err := store.Open(o.dbPath, log)
		if err != nil {
			return err
		}
		defer db.Close()
		id, err := store.NewSceneStore(db.DB).Insert(sc)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, id)
	}
	return nil
}
