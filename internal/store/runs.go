package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/bundle.adjust/internal/solver"
	"github.com/banshee-data/bundle.adjust/internal/timeutil"
)

// Run records one optimization of a stored scene.
type Run struct {
	RunID       string          `json:"run_id"`
	SceneID     string          `json:"scene_id"`
	ConfigJSON  json.RawMessage `json:"config_json"`
	Termination string          `json:"termination"`
	Message     string          `json:"message,omitempty"`
	Iterations  int             `json:"iterations"`
	InitialCost float64         `json:"initial_cost"`
	FinalCost   float64         `json:"final_cost"`
	InitialRMSE *float64        `json:"initial_rmse,omitempty"`
	FinalRMSE   *float64        `json:"final_rmse,omitempty"`
	DurationNs  int64           `json:"duration_ns"`
	CreatedAtNs int64           `json:"created_at_ns"`
}

// NewRun fills a Run from a solver summary.
func NewRun(sceneID string, config json.RawMessage, s *solver.Summary) *Run {
	return &Run{
		SceneID:     sceneID,
		ConfigJSON:  config,
		Termination: s.Termination.String(),
		Message:     s.Message,
		Iterations:  s.NumIterations(),
		InitialCost: s.InitialCost,
		FinalCost:   s.FinalCost,
		DurationNs:  s.TotalTime.Nanoseconds(),
	}
}

// RunStore provides persistence for optimization runs.
type RunStore struct {
	db *sql.DB
	// Clock stamps runs inserted without a creation time.
	Clock timeutil.Clock
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, Clock: timeutil.RealClock{}}
}

// Insert stores r. Empty RunID and CreatedAtNs are filled in.
func (s *RunStore) Insert(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.CreatedAtNs == 0 {
		r.CreatedAtNs = s.Clock.Now().UnixNano()
	}
	cfg := string(r.ConfigJSON)
	if cfg == "" {
		cfg = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, scene_id, config_json, termination, message, iterations,
			initial_cost, final_cost, initial_rmse, final_rmse, duration_ns, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.SceneID, cfg, r.Termination, r.Message, r.Iterations,
		r.InitialCost, r.FinalCost, nullFloat64(r.InitialRMSE), nullFloat64(r.FinalRMSE),
		r.DurationNs, r.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// List returns the runs of a scene, newest first.
func (s *RunStore) List(sceneID string) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, scene_id, config_json, termination, message, iterations,
		       initial_cost, final_cost, initial_rmse, final_rmse, duration_ns, created_at_ns
		FROM runs WHERE scene_id = ?
		ORDER BY created_at_ns DESC`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var r Run
		var cfg string
		var initRMSE, finalRMSE sql.NullFloat64
		if err := rows.Scan(&r.RunID, &r.SceneID, &cfg, &r.Termination, &r.Message, &r.Iterations,
			&r.InitialCost, &r.FinalCost, &initRMSE, &finalRMSE, &r.DurationNs, &r.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.ConfigJSON = json.RawMessage(cfg)
		if initRMSE.Valid {
			v := initRMSE.Float64
			r.InitialRMSE = &v
		}
		if finalRMSE.Valid {
			v := finalRMSE.Float64
			r.FinalRMSE = &v
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
