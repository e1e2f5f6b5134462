package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/banshee-data/bundle.adjust/internal/scene"
	"github.com/banshee-data/bundle.adjust/internal/sfm"
	"github.com/banshee-data/bundle.adjust/internal/timeutil"
)

// SceneInfo summarizes a stored scene.
type SceneInfo struct {
	SceneID         string `json:"scene_id"`
	Name            string `json:"name"`
	DistortionModel string `json:"distortion_model"`
	NumCameras      int    `json:"num_cameras"`
	NumLandmarks    int    `json:"num_landmarks"`
	NumObservations int    `json:"num_observations"`
	CreatedAtNs     int64  `json:"created_at_ns"`
	UpdatedAtNs     *int64 `json:"updated_at_ns,omitempty"`
}

// SceneStore provides persistence for scenes.
type SceneStore struct {
	db *sql.DB
	// Clock stamps creation and update times.
	Clock timeutil.Clock
}

// NewSceneStore creates a new SceneStore.
func NewSceneStore(db *sql.DB) *SceneStore {
	return &SceneStore{db: db, Clock: timeutil.RealClock{}}
}

// Insert stores s under a new ID and returns it.
func (s *SceneStore) Insert(sc *scene.Scene) (string, error) {
	if err := sc.Validate(); err != nil {
		return "", err
	}
	id := uuid.New().String()
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO scenes (scene_id, name, distortion_model, created_at_ns) VALUES (?, ?, ?, ?)`,
			id, sc.Name, sc.DistortionModel, s.Clock.Now().UnixNano(),
		); err != nil {
			return fmt.Errorf("insert scene: %w", err)
		}
		if err := insertState(tx, id, sc); err != nil {
			return err
		}
		return insertTracks(tx, id, sc.Tracks)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get loads a scene by ID. Tracks come back ordered by ID; tracks stored
// without observations are not returned.
func (s *SceneStore) Get(sceneID string) (*scene.Scene, error) {
	sc := &scene.Scene{}
	err := s.db.QueryRow(
		`SELECT name, distortion_model FROM scenes WHERE scene_id = ?`, sceneID,
	).Scan(&sc.Name, &sc.DistortionModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: scene %s", ErrNotFound, sceneID)
	}
	if err != nil {
		return nil, fmt.Errorf("get scene: %w", err)
	}

	if sc.Intrinsics, err = s.loadIntrinsics(sceneID); err != nil {
		return nil, err
	}
	if sc.Cameras, err = s.loadCameras(sceneID); err != nil {
		return nil, err
	}
	if sc.Landmarks, err = s.loadLandmarks(sceneID); err != nil {
		return nil, err
	}
	if sc.Tracks, err = s.loadTracks(sceneID); err != nil {
		return nil, err
	}
	return sc, nil
}

// List returns every scene, newest first.
func (s *SceneStore) List() ([]*SceneInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.scene_id, s.name, s.distortion_model, s.created_at_ns, s.updated_at_ns,
		       (SELECT COUNT(*) FROM cameras c WHERE c.scene_id = s.scene_id),
		       (SELECT COUNT(*) FROM landmarks l WHERE l.scene_id = s.scene_id),
		       (SELECT COUNT(*) FROM observations o WHERE o.scene_id = s.scene_id)
		FROM scenes s
		ORDER BY s.created_at_ns DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var out []*SceneInfo
	for rows.Next() {
		var info SceneInfo
		var updated sql.NullInt64
		if err := rows.Scan(&info.SceneID, &info.Name, &info.DistortionModel, &info.CreatedAtNs, &updated,
			&info.NumCameras, &info.NumLandmarks, &info.NumObservations); err != nil {
			return nil, fmt.Errorf("scan scene row: %w", err)
		}
		if updated.Valid {
			v := updated.Int64
			info.UpdatedAtNs = &v
		}
		out = append(out, &info)
	}
	return out, rows.Err()
}

// ReplaceState overwrites a scene's intrinsics, cameras and landmarks, for
// example with optimized values. Observations are kept.
func (s *SceneStore) ReplaceState(sceneID string, cams *sfm.CameraMap, lms *sfm.LandmarkMap) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE scenes SET updated_at_ns = ? WHERE scene_id = ?`, s.Clock.Now().UnixNano(), sceneID)
		if err != nil {
			return fmt.Errorf("update scene: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: scene %s", ErrNotFound, sceneID)
		}
		for _, table := range []string{"intrinsics", "cameras", "landmarks"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE scene_id = ?`, sceneID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return insertState(tx, sceneID, scene.New("", sfm.DistortionNone, cams, lms, sfm.NewTrackSet(nil)))
	})
}

// Delete removes a scene along with its runs.
func (s *SceneStore) Delete(sceneID string) error {
	res, err := s.db.Exec(`DELETE FROM scenes WHERE scene_id = ?`, sceneID)
	if err != nil {
		return fmt.Errorf("delete scene: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: scene %s", ErrNotFound, sceneID)
	}
	return nil
}

func (s *SceneStore) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertState(tx *sql.Tx, sceneID string, sc *scene.Scene) error {
	for i, k := range sc.Intrinsics {
		dist, err := json.Marshal(nonNil(k.Distortion))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO intrinsics (scene_id, intrinsics_id, focal_length, principal_x, principal_y,
				aspect_ratio, skew, distortion_json, image_width, image_height)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sceneID, i, k.FocalLength, k.PrincipalPoint.X, k.PrincipalPoint.Y,
			k.AspectRatio, k.Skew, string(dist), k.ImageWidth, k.ImageHeight,
		); err != nil {
			return fmt.Errorf("insert intrinsics %d: %w", i, err)
		}
	}
	for _, c := range sc.Cameras {
		if _, err := tx.Exec(`
			INSERT INTO cameras (scene_id, frame_id, rx, ry, rz, cx, cy, cz, intrinsics_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sceneID, int64(c.Frame), c.Rotation.X, c.Rotation.Y, c.Rotation.Z,
			c.Center.X, c.Center.Y, c.Center.Z, int(c.Intrinsics),
		); err != nil {
			return fmt.Errorf("insert camera %d: %w", c.Frame, err)
		}
	}
	for _, l := range sc.Landmarks {
		cov, err := json.Marshal(l.Covariance)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO landmarks (scene_id, track_id, x, y, z, scale, nx, ny, nz,
				covariance_json, color_r, color_g, color_b, observations)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sceneID, int64(l.Track), l.Loc.X, l.Loc.Y, l.Loc.Z, l.Scale,
			l.Normal.X, l.Normal.Y, l.Normal.Z, string(cov),
			int(l.Color.R), int(l.Color.G), int(l.Color.B), l.Observations,
		); err != nil {
			return fmt.Errorf("insert landmark %d: %w", l.Track, err)
		}
	}
	return nil
}

func insertTracks(tx *sql.Tx, sceneID string, tracks []sfm.Track) error {
	stmt, err := tx.Prepare(`
		INSERT INTO observations (scene_id, track_id, seq, frame_id, u, v, scale, angle, magnitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare observations: %w", err)
	}
	defer stmt.Close()
	for _, t := range tracks {
		for i, st := range t.History {
			f := st.Feature
			if _, err := stmt.Exec(sceneID, int64(t.ID), i, int64(st.Frame),
				f.Loc.X, f.Loc.Y, f.Scale, f.Angle, f.Magnitude); err != nil {
				return fmt.Errorf("insert observation %d/%d: %w", t.ID, i, err)
			}
		}
	}
	return nil
}

func (s *SceneStore) loadIntrinsics(sceneID string) ([]sfm.Intrinsics, error) {
	rows, err := s.db.Query(`
		SELECT focal_length, principal_x, principal_y, aspect_ratio, skew,
		       distortion_json, image_width, image_height
		FROM intrinsics WHERE scene_id = ? ORDER BY intrinsics_id`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("load intrinsics: %w", err)
	}
	defer rows.Close()

	var out []sfm.Intrinsics
	for rows.Next() {
		var k sfm.Intrinsics
		var dist string
		if err := rows.Scan(&k.FocalLength, &k.PrincipalPoint.X, &k.PrincipalPoint.Y,
			&k.AspectRatio, &k.Skew, &dist, &k.ImageWidth, &k.ImageHeight); err != nil {
			return nil, fmt.Errorf("scan intrinsics row: %w", err)
		}
		if err := json.Unmarshal([]byte(dist), &k.Distortion); err != nil {
			return nil, fmt.Errorf("decode distortion: %w", err)
		}
		if len(k.Distortion) == 0 {
			k.Distortion = nil
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SceneStore) loadCameras(sceneID string) ([]scene.Camera, error) {
	rows, err := s.db.Query(`
		SELECT frame_id, rx, ry, rz, cx, cy, cz, intrinsics_id
		FROM cameras WHERE scene_id = ? ORDER BY frame_id`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("load cameras: %w", err)
	}
	defer rows.Close()

	var out []scene.Camera
	for rows.Next() {
		var c scene.Camera
		var rot, center r3.Vector
		if err := rows.Scan(&c.Frame, &rot.X, &rot.Y, &rot.Z, &center.X, &center.Y, &center.Z, &c.Intrinsics); err != nil {
			return nil, fmt.Errorf("scan camera row: %w", err)
		}
		c.Rotation, c.Center = rot, center
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SceneStore) loadLandmarks(sceneID string) ([]scene.Landmark, error) {
	rows, err := s.db.Query(`
		SELECT track_id, x, y, z, scale, nx, ny, nz, covariance_json,
		       color_r, color_g, color_b, observations
		FROM landmarks WHERE scene_id = ? ORDER BY track_id`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("load landmarks: %w", err)
	}
	defer rows.Close()

	var out []scene.Landmark
	for rows.Next() {
		var l scene.Landmark
		var cov string
		var r, g, b int
		if err := rows.Scan(&l.Track, &l.Loc.X, &l.Loc.Y, &l.Loc.Z, &l.Scale,
			&l.Normal.X, &l.Normal.Y, &l.Normal.Z, &cov, &r, &g, &b, &l.Observations); err != nil {
			return nil, fmt.Errorf("scan landmark row: %w", err)
		}
		if err := json.Unmarshal([]byte(cov), &l.Covariance); err != nil {
			return nil, fmt.Errorf("decode covariance: %w", err)
		}
		l.Color = sfm.RGB{R: uint8(r), G: uint8(g), B: uint8(b)}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SceneStore) loadTracks(sceneID string) ([]sfm.Track, error) {
	rows, err := s.db.Query(`
		SELECT track_id, frame_id, u, v, scale, angle, magnitude
		FROM observations WHERE scene_id = ? ORDER BY track_id, seq`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	var out []sfm.Track
	for rows.Next() {
		var id sfm.TrackID
		var st sfm.TrackState
		var loc r2.Point
		if err := rows.Scan(&id, &st.Frame, &loc.X, &loc.Y, &st.Feature.Scale, &st.Feature.Angle, &st.Feature.Magnitude); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		st.Feature.Loc = loc
		if n := len(out); n == 0 || out[n-1].ID != id {
			out = append(out, sfm.Track{ID: id})
		}
		out[len(out)-1].History = append(out[len(out)-1].History, st)
	}
	return out, rows.Err()
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
