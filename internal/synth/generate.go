// Package synth generates synthetic bundle adjustment scenes: a ring of
// cameras looking at a cloud of landmarks, noiseless or noisy observations,
// and perturbed starting points for the optimizer.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bundle.adjust/internal/sfm"
)

// ErrInvalidOptions is returned when generator options are out of range.
var ErrInvalidOptions = errors.New("synth: invalid options")

// Options controls scene generation.
type Options struct {
	NumCameras   int
	NumLandmarks int
	// RingRadius is the distance of every camera from the origin.
	RingRadius float64
	// RingArc is the angle in radians the cameras are spread over.
	RingArc float64
	// CloudRadius bounds the landmarks, which are uniform in a ball.
	CloudRadius float64

	Intrinsics sfm.Intrinsics
	Model      sfm.DistortionModel
	// SharedIntrinsics puts every camera in one intrinsics group; otherwise
	// each camera gets its own copy.
	SharedIntrinsics bool

	// NoiseStdDev is the pixel noise added to each observation.
	NoiseStdDev float64
	// MinObservations drops tracks seen by fewer cameras.
	MinObservations int
	Seed            int64
}

// DefaultOptions returns a 12 camera, 200 landmark scene with a 1000px lens
// on a 1280x960 sensor.
func DefaultOptions() Options {
	k := sfm.DefaultIntrinsics(1000, r2.Point{X: 640, Y: 480})
	k.ImageWidth, k.ImageHeight = 1280, 960
	return Options{
		NumCameras:       12,
		NumLandmarks:     200,
		RingRadius:       10,
		RingArc:          math.Pi / 2,
		CloudRadius:      2,
		Intrinsics:       k,
		Model:            sfm.DistortionPolynomialRadial,
		SharedIntrinsics: true,
		MinObservations:  2,
		Seed:             1,
	}
}

// Validate reports the first out of range option.
func (o Options) Validate() error {
	switch {
	case o.NumCameras < 2:
		return fmt.Errorf("%w: need at least 2 cameras, got %d", ErrInvalidOptions, o.NumCameras)
	case o.NumLandmarks < 1:
		return fmt.Errorf("%w: need at least 1 landmark, got %d", ErrInvalidOptions, o.NumLandmarks)
	case !(o.CloudRadius >= 0) || !(o.RingRadius > o.CloudRadius):
		return fmt.Errorf("%w: ring radius %g must exceed cloud radius %g", ErrInvalidOptions, o.RingRadius, o.CloudRadius)
	case !(o.RingArc > 0) || o.RingArc > 2*math.Pi:
		return fmt.Errorf("%w: ring arc %g outside (0, 2pi]", ErrInvalidOptions, o.RingArc)
	case !(o.Intrinsics.FocalLength > 0) || !(o.Intrinsics.AspectRatio > 0):
		return fmt.Errorf("%w: focal length and aspect ratio must be positive", ErrInvalidOptions)
	case o.NoiseStdDev < 0:
		return fmt.Errorf("%w: negative noise %g", ErrInvalidOptions, o.NoiseStdDev)
	case o.MinObservations < 1:
		return fmt.Errorf("%w: min observations must be >= 1, got %d", ErrInvalidOptions, o.MinObservations)
	}
	return nil
}

// Scene is a generated problem. Cameras and Landmarks are the exact values
// the observations were made from.
type Scene struct {
	Model     sfm.DistortionModel
	Cameras   *sfm.CameraMap
	Landmarks *sfm.LandmarkMap
	Tracks    *sfm.TrackSet
}

// Generate builds a scene from opts. The same options and seed always
// produce the same scene.
func Generate(opts Options) (*Scene, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	k := opts.Intrinsics.Clone()
	k.Distortion = sfm.FlattenDistortion(opts.Model, k.Distortion)

	var intrinsics []sfm.Intrinsics
	cams := make(map[sfm.FrameID]sfm.Camera, opts.NumCameras)
	for i := 0; i < opts.NumCameras; i++ {
		theta := -opts.RingArc/2 + opts.RingArc*float64(i)/float64(opts.NumCameras-1)
		if opts.RingArc == 2*math.Pi {
			theta = opts.RingArc * float64(i) / float64(opts.NumCameras)
		}
		id := sfm.IntrinsicsID(0)
		if opts.SharedIntrinsics {
			if i == 0 {
				intrinsics = append(intrinsics, k)
			}
		} else {
			id = sfm.IntrinsicsID(len(intrinsics))
			intrinsics = append(intrinsics, k.Clone())
		}
		cams[sfm.FrameID(i+1)] = ringCamera(theta, opts.RingRadius, id)
	}

	lms := make(map[sfm.TrackID]sfm.Landmark, opts.NumLandmarks)
	var tracks []sfm.Track
	for i := 0; i < opts.NumLandmarks; i++ {
		id := sfm.TrackID(i + 1)
		loc := pointInBall(rng, opts.CloudRadius)

		t := sfm.Track{ID: id}
		for f := 1; f <= opts.NumCameras; f++ {
			c := cams[sfm.FrameID(f)]
			if c.Depth(loc) <= 0 {
				continue
			}
			uv := sfm.Project(c, k, opts.Model, loc)
			if !inImage(k, uv) {
				continue
			}
			if opts.NoiseStdDev > 0 {
				uv = uv.Add(r2.Point{X: rng.NormFloat64(), Y: rng.NormFloat64()}.Mul(opts.NoiseStdDev))
			}
			t.History = append(t.History, sfm.TrackState{
				Frame:   sfm.FrameID(f),
				Feature: sfm.Feature{Loc: uv, Scale: 1},
			})
		}
		if len(t.History) < opts.MinObservations {
			continue
		}
		lm := sfm.NewLandmark(loc)
		lm.Color = sfm.RGB{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256))}
		lm.Observations = len(t.History)
		lms[id] = lm
		tracks = append(tracks, t)
	}

	return &Scene{
		Model:     opts.Model,
		Cameras:   sfm.NewCameraMap(intrinsics, cams),
		Landmarks: sfm.NewLandmarkMap(lms),
		Tracks:    sfm.NewTrackSet(tracks),
	}, nil
}

// ringCamera places a camera at angle theta on a circle of radius r in the
// x-z plane, looking at the origin with image y along world +y.
func ringCamera(theta, r float64, k sfm.IntrinsicsID) sfm.Camera {
	center := r3.Vector{X: r * math.Sin(theta), Z: -r * math.Cos(theta)}
	z := center.Mul(-1).Normalize()
	x := r3.Vector{Y: 1}.Cross(z).Normalize()
	y := z.Cross(x)
	rot := mat.NewDense(3, 3, []float64{
		x.X, x.Y, x.Z,
		y.X, y.Y, y.Z,
		z.X, z.Y, z.Z,
	})
	return sfm.Camera{
		Rotation:   sfm.AngleAxisFromMatrix(rot),
		Center:     center,
		Intrinsics: k,
	}
}

func pointInBall(rng *rand.Rand, radius float64) r3.Vector {
	for {
		p := r3.Vector{X: 2*rng.Float64() - 1, Y: 2*rng.Float64() - 1, Z: 2*rng.Float64() - 1}
		if p.Norm2() <= 1 {
			return p.Mul(radius)
		}
	}
}

// inImage reports whether uv falls on the sensor. Intrinsics without an
// image size accept every point.
func inImage(k sfm.Intrinsics, uv r2.Point) bool {
	if k.ImageWidth <= 0 || k.ImageHeight <= 0 {
		return true
	}
	return uv.X >= 0 && uv.Y >= 0 && uv.X < float64(k.ImageWidth) && uv.Y < float64(k.ImageHeight)
}
