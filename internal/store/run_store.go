// Package store persists the round log, committed splits, cached similarity
// sequences and final per-client report of every run in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/model"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	strategy    TEXT NOT NULL,
	clients     INTEGER NOT NULL,
	state       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS rounds (
	run_id        TEXT NOT NULL,
	round         INTEGER NOT NULL,
	participants  INTEGER NOT NULL,
	clusters      INTEGER NOT NULL,
	mean_loss     REAL NOT NULL,
	mean_accuracy REAL NOT NULL,
	cost          REAL NOT NULL,
	PRIMARY KEY (run_id, round)
);
CREATE TABLE IF NOT EXISTS splits (
	run_id    TEXT NOT NULL,
	round     INTEGER NOT NULL,
	parent_id INTEGER NOT NULL,
	child_a   INTEGER NOT NULL,
	child_b   INTEGER NOT NULL,
	members_a TEXT NOT NULL,
	members_b TEXT NOT NULL,
	max_norm  REAL NOT NULL,
	mean_norm REAL NOT NULL,
	PRIMARY KEY (run_id, parent_id)
);
CREATE TABLE IF NOT EXISTS sequences (
	run_id    TEXT NOT NULL,
	client_id INTEGER NOT NULL,
	samples   TEXT NOT NULL,
	PRIMARY KEY (run_id, client_id)
);
CREATE TABLE IF NOT EXISTS results (
	run_id     TEXT NOT NULL,
	client_id  INTEGER NOT NULL,
	name       TEXT NOT NULL,
	test_acc   REAL NOT NULL,
	cluster_id INTEGER NOT NULL,
	PRIMARY KEY (run_id, client_id)
);
`

// RunStore is safe for concurrent use; SQLite serializes the writers.
type RunStore struct {
	db     *sql.DB
	logger hclog.Logger
}

// NewRunStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewRunStore(path string, logger hclog.Logger) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// a single connection keeps in-memory databases shared between calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("Run store opened", "path", path)

	return &RunStore{db: db, logger: logger}, nil
}

func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) StartRun(ctx context.Context, runId string, strategy string, clients int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, strategy, clients, state, started_at) VALUES (?, ?, ?, 'INIT', ?)`,
		runId, strategy, clients, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runId, err)
	}
	return nil
}

func (s *RunStore) SetRunState(ctx context.Context, runId string, state string, finished bool) error {
	var finishedAt interface{}
	if finished {
		finishedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?`, state, finishedAt, runId)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runId, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runId)
	}
	return nil
}

func (s *RunStore) RunState(ctx context.Context, runId string) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM runs WHERE id = ?`, runId).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runId)
	}
	if err != nil {
		return "", fmt.Errorf("select run %s: %w", runId, err)
	}
	return state, nil
}

func (s *RunStore) RecordRound(ctx context.Context, runId string, round events.RoundFinishedEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rounds (run_id, round, participants, clusters, mean_loss, mean_accuracy, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runId, round.Round, round.Participants, round.Clusters, round.MeanLoss, round.MeanAccuracy, round.Cost)
	if err != nil {
		return fmt.Errorf("insert round %d of run %s: %w", round.Round, runId, err)
	}
	return nil
}

func (s *RunStore) Rounds(ctx context.Context, runId string) ([]events.RoundFinishedEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round, participants, clusters, mean_loss, mean_accuracy, cost FROM rounds WHERE run_id = ? ORDER BY round`, runId)
	if err != nil {
		return nil, fmt.Errorf("select rounds of run %s: %w", runId, err)
	}
	defer rows.Close()

	rounds := []events.RoundFinishedEvent{}
	for rows.Next() {
		var r events.RoundFinishedEvent
		if err := rows.Scan(&r.Round, &r.Participants, &r.Clusters, &r.MeanLoss, &r.MeanAccuracy, &r.Cost); err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (s *RunStore) RecordSplit(ctx context.Context, runId string, split events.ClusterSplitEvent) error {
	membersA, err := json.Marshal(split.Members[0])
	if err != nil {
		return err
	}
	membersB, err := json.Marshal(split.Members[1])
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO splits (run_id, round, parent_id, child_a, child_b, members_a, members_b, max_norm, mean_norm)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runId, split.Round, split.ParentId, split.ChildIds[0], split.ChildIds[1], string(membersA), string(membersB),
		split.MaxNorm, split.MeanNorm)
	if err != nil {
		return fmt.Errorf("insert split of cluster %d in run %s: %w", split.ParentId, runId, err)
	}
	return nil
}

func (s *RunStore) Splits(ctx context.Context, runId string) ([]events.ClusterSplitEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round, parent_id, child_a, child_b, members_a, members_b, max_norm, mean_norm
		 FROM splits WHERE run_id = ? ORDER BY round, parent_id`, runId)
	if err != nil {
		return nil, fmt.Errorf("select splits of run %s: %w", runId, err)
	}
	defer rows.Close()

	splits := []events.ClusterSplitEvent{}
	for rows.Next() {
		var split events.ClusterSplitEvent
		var membersA, membersB string
		if err := rows.Scan(&split.Round, &split.ParentId, &split.ChildIds[0], &split.ChildIds[1],
			&membersA, &membersB, &split.MaxNorm, &split.MeanNorm); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(membersA), &split.Members[0]); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(membersB), &split.Members[1]); err != nil {
			return nil, err
		}
		splits = append(splits, split)
	}
	return splits, rows.Err()
}

// RecordSequences stores the retained similarity-sequence window of every
// client, replacing earlier windows of the run.
func (s *RunStore) RecordSequences(ctx context.Context, runId string, sequences map[int][][]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for clientId, samples := range sequences {
		encoded, err := json.Marshal(samples)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO sequences (run_id, client_id, samples) VALUES (?, ?, ?)`,
			runId, clientId, string(encoded)); err != nil {
			return fmt.Errorf("insert sequence of client %d: %w", clientId, err)
		}
	}
	return tx.Commit()
}

func (s *RunStore) Sequences(ctx context.Context, runId string) (map[int][][]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_id, samples FROM sequences WHERE run_id = ?`, runId)
	if err != nil {
		return nil, fmt.Errorf("select sequences of run %s: %w", runId, err)
	}
	defer rows.Close()

	sequences := map[int][][]float64{}
	for rows.Next() {
		var clientId int
		var encoded string
		if err := rows.Scan(&clientId, &encoded); err != nil {
			return nil, err
		}
		var samples [][]float64
		if err := json.Unmarshal([]byte(encoded), &samples); err != nil {
			return nil, err
		}
		sequences[clientId] = samples
	}
	return sequences, rows.Err()
}

func (s *RunStore) RecordResults(ctx context.Context, runId string, results []model.ClientResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range results {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO results (run_id, client_id, name, test_acc, cluster_id) VALUES (?, ?, ?, ?, ?)`,
			runId, r.ClientId, r.Name, r.TestAcc, r.ClusterId); err != nil {
			return fmt.Errorf("insert result of client %d: %w", r.ClientId, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("Results stored", "run", runId, "clients", len(results))
	return nil
}

func (s *RunStore) Results(ctx context.Context, runId string) ([]model.ClientResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, name, test_acc, cluster_id FROM results WHERE run_id = ? ORDER BY client_id`, runId)
	if err != nil {
		return nil, fmt.Errorf("select results of run %s: %w", runId, err)
	}
	defer rows.Close()

	results := []model.ClientResult{}
	for rows.Next() {
		var r model.ClientResult
		if err := rows.Scan(&r.ClientId, &r.Name, &r.TestAcc, &r.ClusterId); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
