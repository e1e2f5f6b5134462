// Package sfm owns the structure-from-motion entity model.
//
// Responsibilities: cameras and their shared intrinsics table, landmarks,
// feature tracks, and the rotation/distortion/projection math used to
// relate them.
// Key types: Camera, CameraMap, Intrinsics, Landmark, LandmarkMap, Track,
// TrackSet.
//
// Containers are values: constructors copy their inputs and accessors
// return copies, so an optimizer can never mutate a caller's collection in
// place. Sharing of intrinsics between cameras is explicit: a camera holds
// an IntrinsicsID indexing into its CameraMap's intrinsics table.
package sfm
