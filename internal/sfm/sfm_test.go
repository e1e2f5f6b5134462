package sfm

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRotatePoint(t *testing.T) {
	t.Parallel()

	t.Run("quarter turn about z", func(t *testing.T) {
		t.Parallel()
		got := RotatePoint(r3.Vector{Z: math.Pi / 2}, r3.Vector{X: 1})
		assert.InDelta(t, 0, got.X, 1e-12)
		assert.InDelta(t, 1, got.Y, 1e-12)
		assert.InDelta(t, 0, got.Z, 1e-12)
	})

	t.Run("zero rotation is identity", func(t *testing.T) {
		t.Parallel()
		p := r3.Vector{X: 1, Y: -2, Z: 3}
		assert.Equal(t, p, RotatePoint(r3.Vector{}, p))
	})

	t.Run("preserves norm", func(t *testing.T) {
		t.Parallel()
		p := r3.Vector{X: 0.3, Y: -1.2, Z: 2.5}
		got := RotatePoint(r3.Vector{X: 0.4, Y: -0.1, Z: 0.9}, p)
		assert.InDelta(t, p.Norm(), got.Norm(), 1e-12)
	})
}

func TestAngleAxisRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []r3.Vector{
		{X: 0.1, Y: 0.2, Z: -0.3},
		{X: 1.5},
		{Y: -2.2, Z: 0.4},
		{Z: math.Pi - 1e-3},
		r3.Vector{X: 1, Y: 1}.Normalize().Mul(math.Pi),
		r3.Vector{X: 1, Y: -2, Z: 0.5}.Normalize().Mul(math.Pi - 1e-7),
		{},
	}
	for _, aa := range cases {
		r := RotationMatrix(aa)
		got := AngleAxisFromMatrix(r)
		back := RotationMatrix(got)
		assert.True(t, mat.EqualApprox(r, back, 1e-9), "aa=%v got=%v", aa, got)
	}
}

func TestAngleAxisFromMatrixAngleNearPi(t *testing.T) {
	t.Parallel()

	aa := r3.Vector{X: 1, Y: 1}.Normalize().Mul(math.Pi)
	got := AngleAxisFromMatrix(RotationMatrix(aa))
	assert.InDelta(t, math.Pi, got.Norm(), 1e-12)
	assert.InDelta(t, got.X, got.Y, 1e-12)
	assert.InDelta(t, 0, got.Z, 1e-12)
}

func TestRotationMatrixIsOrthonormal(t *testing.T) {
	t.Parallel()

	r := RotationMatrix(r3.Vector{X: 0.7, Y: -0.2, Z: 1.1})
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	id := mat.NewDiagDense(3, []float64{1, 1, 1})
	assert.True(t, mat.EqualApprox(&rtr, id, 1e-12))
	assert.InDelta(t, 1, mat.Det(r), 1e-12)
}

func TestDistortionModels(t *testing.T) {
	t.Parallel()

	counts := map[DistortionModel]int{
		DistortionNone:                       0,
		DistortionPolynomialRadial:           2,
		DistortionPolynomialRadialTangential: 5,
		DistortionRationalRadialTangential:   8,
	}
	for m, n := range counts {
		assert.Equal(t, n, m.NumParams(), m.String())
		parsed, err := ParseDistortionModel(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	_, err := ParseDistortionModel("fisheye")
	assert.Error(t, err)
}

func TestFlattenDistortion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []float64{0.1, 0.2, 0, 0, 0},
		FlattenDistortion(DistortionPolynomialRadialTangential, []float64{0.1, 0.2}))
	assert.Equal(t, []float64{0.1, 0.2},
		FlattenDistortion(DistortionPolynomialRadial, []float64{0.1, 0.2, 0.3, 0.4}))
	assert.Empty(t, FlattenDistortion(DistortionNone, []float64{0.1}))
}

func TestDistort(t *testing.T) {
	t.Parallel()

	t.Run("radial", func(t *testing.T) {
		t.Parallel()
		x, y := Distort(DistortionPolynomialRadial, []float64{0.1, 0.01}, 0.5, 0)
		r2 := 0.25
		assert.InDelta(t, 0.5*(1+0.1*r2+0.01*r2*r2), x, 1e-15)
		assert.InDelta(t, 0, y, 1e-15)
	})

	t.Run("tangential", func(t *testing.T) {
		t.Parallel()
		x, y := Distort(DistortionPolynomialRadialTangential, []float64{0, 0, 0.01, 0.02, 0}, 0.2, 0.1)
		r2 := 0.05
		assert.InDelta(t, 0.2+2*0.01*0.02+0.02*(r2+2*0.04), x, 1e-15)
		assert.InDelta(t, 0.1+0.01*(r2+2*0.01)+2*0.02*0.02, y, 1e-15)
	})

	t.Run("rational with zero denominator terms matches polynomial", func(t *testing.T) {
		t.Parallel()
		xr, yr := Distort(DistortionRationalRadialTangential, []float64{0.1, 0.01, 0, 0, 0.001, 0, 0, 0}, 0.3, -0.4)
		xp, yp := Distort(DistortionPolynomialRadialTangential, []float64{0.1, 0.01, 0, 0, 0.001}, 0.3, -0.4)
		assert.InDelta(t, xp, xr, 1e-15)
		assert.InDelta(t, yp, yr, 1e-15)
	})

	t.Run("none is identity", func(t *testing.T) {
		t.Parallel()
		x, y := Distort(DistortionNone, nil, 0.3, 0.4)
		assert.Equal(t, 0.3, x)
		assert.Equal(t, 0.4, y)
	})

	t.Run("coefficients beyond the model are ignored", func(t *testing.T) {
		t.Parallel()
		x1, y1 := Distort(DistortionPolynomialRadial, []float64{0.1, 0.01, 0.5, 0.5, 0.5}, 0.3, -0.4)
		x2, y2 := Distort(DistortionPolynomialRadial, []float64{0.1, 0.01}, 0.3, -0.4)
		assert.Equal(t, x2, x1)
		assert.Equal(t, y2, y1)
	})
}

func TestProject(t *testing.T) {
	t.Parallel()

	k := Intrinsics{FocalLength: 1000, PrincipalPoint: r2.Point{X: 640, Y: 480}, AspectRatio: 2, Skew: 3}
	cam := Camera{Center: r3.Vector{Z: -10}}
	got := Project(cam, k, DistortionNone, r3.Vector{X: 1, Y: 2})
	// normalized (0.1, 0.2)
	assert.InDelta(t, 1000*0.1+3*0.2+640, got.X, 1e-9)
	assert.InDelta(t, 500*0.2+480, got.Y, 1e-9)
	assert.InDelta(t, 10, cam.Depth(r3.Vector{X: 1, Y: 2}), 1e-12)

	// K applied to the normalized point gives the same pixel
	var px mat.VecDense
	px.MulVec(k.Matrix(), mat.NewVecDense(3, []float64{0.1, 0.2, 1}))
	assert.InDelta(t, got.X, px.AtVec(0), 1e-9)
	assert.InDelta(t, got.Y, px.AtVec(1), 1e-9)
}

func TestCameraMapIsImmutable(t *testing.T) {
	t.Parallel()

	intr := []Intrinsics{{FocalLength: 500, AspectRatio: 1, Distortion: []float64{0.1}}}
	cams := map[FrameID]Camera{1: {Intrinsics: 0}, 2: {Intrinsics: 0}}
	cm := NewCameraMap(intr, cams)

	intr[0].Distortion[0] = 9
	cams[3] = Camera{}
	assert.Equal(t, 2, cm.Len())
	k, ok := cm.IntrinsicsFor(1)
	require.True(t, ok)
	assert.Equal(t, 0.1, k.Distortion[0])

	out := cm.Cameras()
	delete(out, 1)
	_, ok = cm.Camera(1)
	assert.True(t, ok)

	table := cm.Intrinsics()
	table[0].Distortion[0] = 7
	k, _ = cm.IntrinsicsAt(0)
	assert.Equal(t, 0.1, k.Distortion[0])

	_, ok = cm.IntrinsicsAt(NoIntrinsics)
	assert.False(t, ok)
	assert.Equal(t, []FrameID{1, 2}, cm.FrameIDs())
}

func TestLandmarkMap(t *testing.T) {
	t.Parallel()

	l := NewLandmark(r3.Vector{X: 1})
	l.Color = RGB{R: 10}
	moved := l.WithLoc(r3.Vector{Y: 2})
	assert.Equal(t, r3.Vector{X: 1}, l.Loc)
	assert.Equal(t, r3.Vector{Y: 2}, moved.Loc)
	assert.Equal(t, l.Color, moved.Color)

	src := map[TrackID]Landmark{5: l, 3: moved}
	m := NewLandmarkMap(src)
	delete(src, 5)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []TrackID{3, 5}, m.TrackIDs())
}

func TestTrackSet(t *testing.T) {
	t.Parallel()

	tracks := []Track{
		{ID: 1, History: []TrackState{{Frame: 4}, {Frame: 2}}},
		{ID: 2, History: []TrackState{{Frame: 2}, {Frame: 9}}},
		{ID: 3},
	}
	ts := NewTrackSet(tracks)
	tracks[0].History[0].Frame = 100

	assert.Equal(t, 3, ts.Len())
	assert.Equal(t, 4, ts.NumObservations())
	assert.Equal(t, []FrameID{2, 4, 9}, ts.AllFrameIDs())

	tr, ok := ts.Track(1)
	require.True(t, ok)
	first, ok := tr.FirstFrame()
	require.True(t, ok)
	assert.Equal(t, FrameID(2), first)

	empty, _ := ts.Track(3)
	_, ok = empty.FirstFrame()
	assert.False(t, ok)
}
