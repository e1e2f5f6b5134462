package sfm

import (
	"sort"

	"github.com/golang/geo/r3"
)

// TrackID identifies a feature track and the landmark it triangulates.
type TrackID int64

// RGB is an 8-bit color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Landmark is a 3D scene point. Only Loc is refined by bundle adjustment;
// the remaining attributes are carried through untouched.
type Landmark struct {
	Loc          r3.Vector  `json:"loc"`
	Scale        float64    `json:"scale,omitempty"`
	Normal       r3.Vector  `json:"normal"`
	Covariance   [9]float64 `json:"covariance"`
	Color        RGB        `json:"color"`
	Observations int        `json:"observations,omitempty"`
}

// NewLandmark returns a landmark at loc with unit scale, identity
// covariance and white color.
func NewLandmark(loc r3.Vector) Landmark {
	return Landmark{
		Loc:        loc,
		Scale:      1,
		Covariance: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Color:      RGB{R: 255, G: 255, B: 255},
	}
}

// WithLoc returns a copy of l moved to loc.
func (l Landmark) WithLoc(loc r3.Vector) Landmark {
	l.Loc = loc
	return l
}

// LandmarkMap is an immutable collection of landmarks keyed by track.
type LandmarkMap struct {
	landmarks map[TrackID]Landmark
}

// NewLandmarkMap copies lms into a new LandmarkMap.
func NewLandmarkMap(lms map[TrackID]Landmark) *LandmarkMap {
	m := &LandmarkMap{landmarks: make(map[TrackID]Landmark, len(lms))}
	for id, l := range lms {
		m.landmarks[id] = l
	}
	return m
}

// Len returns the number of landmarks.
func (m *LandmarkMap) Len() int {
	return len(m.landmarks)
}

// Landmark returns the landmark for track id.
func (m *LandmarkMap) Landmark(id TrackID) (Landmark, bool) {
	l, ok := m.landmarks[id]
	return l, ok
}

// Landmarks returns a copy of the track to landmark map.
func (m *LandmarkMap) Landmarks() map[TrackID]Landmark {
	out := make(map[TrackID]Landmark, len(m.landmarks))
	for id, l := range m.landmarks {
		out[id] = l
	}
	return out
}

// TrackIDs returns the landmark keys in ascending order.
func (m *LandmarkMap) TrackIDs() []TrackID {
	ids := make([]TrackID, 0, len(m.landmarks))
	for id := range m.landmarks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
