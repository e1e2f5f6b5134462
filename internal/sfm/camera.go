package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// FrameID identifies the frame (and therefore the camera) an observation
// was made in.
type FrameID int64

// IntrinsicsID indexes a CameraMap's intrinsics table.
type IntrinsicsID int

// NoIntrinsics marks a camera without an intrinsics reference.
const NoIntrinsics IntrinsicsID = -1

// Intrinsics holds the internal calibration of a camera.
type Intrinsics struct {
	FocalLength    float64   `json:"focal_length"`
	PrincipalPoint r2.Point  `json:"principal_point"`
	AspectRatio    float64   `json:"aspect_ratio"`
	Skew           float64   `json:"skew"`
	Distortion     []float64 `json:"distortion,omitempty"`
	ImageWidth     int       `json:"image_width,omitempty"`
	ImageHeight    int       `json:"image_height,omitempty"`
}

// DefaultIntrinsics returns unit-aspect intrinsics with the given focal
// length and principal point and no distortion.
func DefaultIntrinsics(focal float64, pp r2.Point) Intrinsics {
	return Intrinsics{FocalLength: focal, PrincipalPoint: pp, AspectRatio: 1}
}

// Clone returns a deep copy.
func (k Intrinsics) Clone() Intrinsics {
	if k.Distortion != nil {
		k.Distortion = append([]float64(nil), k.Distortion...)
	}
	return k
}

// Matrix returns the 3x3 calibration matrix K.
func (k Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		k.FocalLength, k.Skew, k.PrincipalPoint.X,
		0, k.FocalLength / k.AspectRatio, k.PrincipalPoint.Y,
		0, 0, 1,
	})
}

// Map converts normalized image coordinates to pixels, applying lens
// distortion under model m first.
func (k Intrinsics) Map(m DistortionModel, n r2.Point) r2.Point {
	x, y := Distort(m, k.Distortion, n.X, n.Y)
	return r2.Point{
		X: k.FocalLength*x + k.Skew*y + k.PrincipalPoint.X,
		Y: k.FocalLength/k.AspectRatio*y + k.PrincipalPoint.Y,
	}
}

// Camera is the pose of one frame plus a reference to its intrinsics.
// Rotation is an angle-axis vector mapping world to camera coordinates;
// Center is the camera position in world coordinates.
type Camera struct {
	Rotation   r3.Vector    `json:"rotation"`
	Center     r3.Vector    `json:"center"`
	Intrinsics IntrinsicsID `json:"intrinsics"`
}

// ToCamera transforms the world point p into camera coordinates.
func (c Camera) ToCamera(p r3.Vector) r3.Vector {
	return RotatePoint(c.Rotation, p.Sub(c.Center))
}

// Depth returns the camera-frame depth of world point p.
func (c Camera) Depth(p r3.Vector) float64 {
	return c.ToCamera(p).Z
}

// Project maps world point p to pixel coordinates.
func Project(c Camera, k Intrinsics, m DistortionModel, p r3.Vector) r2.Point {
	xc := c.ToCamera(p)
	return k.Map(m, r2.Point{X: xc.X / xc.Z, Y: xc.Y / xc.Z})
}

// CameraMap is an immutable collection of cameras keyed by frame together
// with the intrinsics table they index into.
type CameraMap struct {
	intrinsics []Intrinsics
	cameras    map[FrameID]Camera
}

// NewCameraMap copies intrinsics and cameras into a new CameraMap.
func NewCameraMap(intrinsics []Intrinsics, cameras map[FrameID]Camera) *CameraMap {
	cm := &CameraMap{
		intrinsics: make([]Intrinsics, len(intrinsics)),
		cameras:    make(map[FrameID]Camera, len(cameras)),
	}
	for i, k := range intrinsics {
		cm.intrinsics[i] = k.Clone()
	}
	for id, c := range cameras {
		cm.cameras[id] = c
	}
	return cm
}

// Len returns the number of cameras.
func (cm *CameraMap) Len() int {
	return len(cm.cameras)
}

// Camera returns the camera for frame id.
func (cm *CameraMap) Camera(id FrameID) (Camera, bool) {
	c, ok := cm.cameras[id]
	return c, ok
}

// Cameras returns a copy of the frame to camera map.
func (cm *CameraMap) Cameras() map[FrameID]Camera {
	out := make(map[FrameID]Camera, len(cm.cameras))
	for id, c := range cm.cameras {
		out[id] = c
	}
	return out
}

// FrameIDs returns the frames in ascending order.
func (cm *CameraMap) FrameIDs() []FrameID {
	ids := make([]FrameID, 0, len(cm.cameras))
	for id := range cm.cameras {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NumIntrinsics returns the size of the intrinsics table.
func (cm *CameraMap) NumIntrinsics() int {
	return len(cm.intrinsics)
}

// Intrinsics returns a copy of the intrinsics table.
func (cm *CameraMap) Intrinsics() []Intrinsics {
	out := make([]Intrinsics, len(cm.intrinsics))
	for i, k := range cm.intrinsics {
		out[i] = k.Clone()
	}
	return out
}

// IntrinsicsAt returns the intrinsics group id refers to.
func (cm *CameraMap) IntrinsicsAt(id IntrinsicsID) (Intrinsics, bool) {
	if id < 0 || int(id) >= len(cm.intrinsics) {
		return Intrinsics{}, false
	}
	return cm.intrinsics[id].Clone(), true
}

// IntrinsicsFor returns the intrinsics of the camera at frame id.
func (cm *CameraMap) IntrinsicsFor(id FrameID) (Intrinsics, bool) {
	c, ok := cm.cameras[id]
	if !ok {
		return Intrinsics{}, false
	}
	return cm.IntrinsicsAt(c.Intrinsics)
}
