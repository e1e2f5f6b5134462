// Package scene reads and writes bundle adjustment problems as JSON.
//
// A scene file holds the lens model name, the intrinsics table, cameras
// keyed by frame, landmarks keyed by track and the track observation
// histories:
//
//	{
//	  "name": "ring-12",
//	  "distortion_model": "polynomial_radial",
//	  "intrinsics": [{"focal_length": 1000, ...}],
//	  "cameras": [{"frame": 1, "rotation": {...}, "center": {...}, "intrinsics": 0}],
//	  "landmarks": [{"track": 1, "loc": {...}, ...}],
//	  "tracks": [{"id": 1, "history": [{"frame": 1, "feature": {...}}]}]
//	}
package scene

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/banshee-data/bundle.adjust/internal/fsutil"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
)

// ErrInvalidScene is returned for scene files that decode but are not
// self-consistent.
var ErrInvalidScene = errors.New("scene: invalid scene")

// MaxFileSize bounds scene files read from disk.
const MaxFileSize = 256 * 1024 * 1024

// Camera is a camera with the frame it belongs to.
type Camera struct {
	Frame sfm.FrameID `json:"frame"`
	sfm.Camera
}

// Landmark is a landmark with the track it triangulates.
type Landmark struct {
	Track sfm.TrackID `json:"track"`
	sfm.Landmark
}

// Scene is the serialized form of a problem. Cameras and landmarks are kept
// sorted by ID so files diff cleanly.
type Scene struct {
	Name            string           `json:"name,omitempty"`
	DistortionModel string           `json:"distortion_model"`
	Intrinsics      []sfm.Intrinsics `json:"intrinsics"`
	Cameras         []Camera         `json:"cameras"`
	Landmarks       []Landmark       `json:"landmarks"`
	Tracks          []sfm.Track      `json:"tracks"`
}

// New builds a Scene from sfm containers.
func New(name string, model sfm.DistortionModel, cams *sfm.CameraMap, lms *sfm.LandmarkMap, tracks *sfm.TrackSet) *Scene {
	s := &Scene{
		Name:            name,
		DistortionModel: model.String(),
		Intrinsics:      cams.Intrinsics(),
		Tracks:          tracks.Tracks(),
	}
	for _, id := range cams.FrameIDs() {
		c, _ := cams.Camera(id)
		s.Cameras = append(s.Cameras, Camera{Frame: id, Camera: c})
	}
	for _, id := range lms.TrackIDs() {
		l, _ := lms.Landmark(id)
		s.Landmarks = append(s.Landmarks, Landmark{Track: id, Landmark: l})
	}
	return s
}

// Model parses the scene's distortion model. An empty name means none.
func (s *Scene) Model() (sfm.DistortionModel, error) {
	if s.DistortionModel == "" {
		return sfm.DistortionNone, nil
	}
	m, err := sfm.ParseDistortionModel(s.DistortionModel)
	if err != nil {
		return sfm.DistortionNone, fmt.Errorf("%w: %v", ErrInvalidScene, err)
	}
	return m, nil
}

// Validate checks that IDs are unique and every intrinsics reference
// resolves. Observations of unknown frames are allowed.
func (s *Scene) Validate() error {
	if _, err := s.Model(); err != nil {
		return err
	}
	frames := make(map[sfm.FrameID]bool, len(s.Cameras))
	for _, c := range s.Cameras {
		if frames[c.Frame] {
			return fmt.Errorf("%w: duplicate camera for frame %d", ErrInvalidScene, c.Frame)
		}
		frames[c.Frame] = true
		if c.Intrinsics < 0 || int(c.Intrinsics) >= len(s.Intrinsics) {
			return fmt.Errorf("%w: frame %d references intrinsics %d of %d", ErrInvalidScene, c.Frame, c.Intrinsics, len(s.Intrinsics))
		}
	}
	tracks := make(map[sfm.TrackID]bool, len(s.Landmarks))
	for _, l := range s.Landmarks {
		if tracks[l.Track] {
			return fmt.Errorf("%w: duplicate landmark for track %d", ErrInvalidScene, l.Track)
		}
		tracks[l.Track] = true
	}
	seen := make(map[sfm.TrackID]bool, len(s.Tracks))
	for _, t := range s.Tracks {
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate track %d", ErrInvalidScene, t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Containers converts the scene to sfm containers after validating it.
func (s *Scene) Containers() (*sfm.CameraMap, *sfm.LandmarkMap, *sfm.TrackSet, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, nil, err
	}
	cams := make(map[sfm.FrameID]sfm.Camera, len(s.Cameras))
	for _, c := range s.Cameras {
		cams[c.Frame] = c.Camera
	}
	lms := make(map[sfm.TrackID]sfm.Landmark, len(s.Landmarks))
	for _, l := range s.Landmarks {
		lms[l.Track] = l.Landmark
	}
	return sfm.NewCameraMap(s.Intrinsics, cams), sfm.NewLandmarkMap(lms), sfm.NewTrackSet(s.Tracks), nil
}

// WithState returns a copy of s with cameras, intrinsics and landmarks
// replaced. Tracks are kept.
func (s *Scene) WithState(cams *sfm.CameraMap, lms *sfm.LandmarkMap) *Scene {
	out := New(s.Name, sfm.DistortionNone, cams, lms, sfm.NewTrackSet(s.Tracks))
	out.DistortionModel = s.DistortionModel
	return out
}

// Decode reads a scene from r.
func Decode(r io.Reader) (*Scene, error) {
	var s Scene
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scene: %w", err)
	}
	sort.SliceStable(s.Cameras, func(i, j int) bool { return s.Cameras[i].Frame < s.Cameras[j].Frame })
	sort.SliceStable(s.Landmarks, func(i, j int) bool { return s.Landmarks[i].Track < s.Landmarks[j].Track })
	return &s, nil
}

// Encode writes s to w as indented JSON.
func (s *Scene) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	return nil
}

// Load reads and validates a scene file.
func Load(fsys fsutil.FileSystem, path string) (*Scene, error) {
	data, err := fsutil.ReadFileLimit(fsys, path, MaxFileSize)
	if err != nil {
		return nil, err
	}
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path, creating parent directories.
func Save(fsys fsutil.FileSystem, path string, s *Scene) error {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return err
	}
	return fsutil.WriteFileAll(fsys, path, buf.Bytes())
}
