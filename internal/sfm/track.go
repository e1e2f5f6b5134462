package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
)

// Feature is a detected image feature.
type Feature struct {
	Loc       r2.Point `json:"loc"`
	Scale     float64  `json:"scale,omitempty"`
	Angle     float64  `json:"angle,omitempty"`
	Magnitude float64  `json:"magnitude,omitempty"`
}

// TrackState is one observation of a track: a feature in a frame.
type TrackState struct {
	Frame   FrameID `json:"frame"`
	Feature Feature `json:"feature"`
}

// Track is an ordered observation history of one landmark.
type Track struct {
	ID      TrackID      `json:"id"`
	History []TrackState `json:"history"`
}

// Clone returns a deep copy.
func (t Track) Clone() Track {
	t.History = append([]TrackState(nil), t.History...)
	return t
}

// FirstFrame returns the earliest frame in the history, or false if empty.
func (t Track) FirstFrame() (FrameID, bool) {
	if len(t.History) == 0 {
		return 0, false
	}
	first := t.History[0].Frame
	for _, ts := range t.History[1:] {
		if ts.Frame < first {
			first = ts.Frame
		}
	}
	return first, true
}

// TrackSet is an immutable ordered collection of tracks.
type TrackSet struct {
	tracks []Track
	index  map[TrackID]int
}

// NewTrackSet copies tracks into a new TrackSet. Later tracks with a
// duplicate ID replace earlier ones in lookups but keep their position.
func NewTrackSet(tracks []Track) *TrackSet {
	ts := &TrackSet{
		tracks: make([]Track, len(tracks)),
		index:  make(map[TrackID]int, len(tracks)),
	}
	for i, t := range tracks {
		ts.tracks[i] = t.Clone()
		ts.index[t.ID] = i
	}
	return ts
}

// Len returns the number of tracks.
func (ts *TrackSet) Len() int {
	return len(ts.tracks)
}

// Tracks returns a copy of the tracks in their original order.
func (ts *TrackSet) Tracks() []Track {
	out := make([]Track, len(ts.tracks))
	for i, t := range ts.tracks {
		out[i] = t.Clone()
	}
	return out
}

// Track returns the track with the given id.
func (ts *TrackSet) Track(id TrackID) (Track, bool) {
	i, ok := ts.index[id]
	if !ok {
		return Track{}, false
	}
	return ts.tracks[i].Clone(), true
}

// NumObservations returns the total history length across tracks.
func (ts *TrackSet) NumObservations() int {
	n := 0
	for _, t := range ts.tracks {
		n += len(t.History)
	}
	return n
}

// AllFrameIDs returns every frame observed by any track, ascending.
func (ts *TrackSet) AllFrameIDs() []FrameID {
	seen := make(map[FrameID]struct{})
	for _, t := range ts.tracks {
		for _, s := range t.History {
			seen[s.Frame] = struct{}{}
		}
	}
	ids := make([]FrameID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
