package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

// RunLocationPrefix prefixes the Location of artifacts stored by RunStore
const RunLocationPrefix = "run:"

// Run is a stored chain run
type Run struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Location    string    `json:"location,omitempty"`
	StepCount   int       `json:"step_count"`
	FailedCount int       `json:"failed_count"`
	CreatedAt   time.Time `json:"created_at"`
	Steps       []Step    `json:"steps,omitempty"`
}

// Step is one stored step
type Step struct {
	Index  int          `json:"index"`
	Prompt string       `json:"prompt"`
	Result chain.Result `json:"result"`
}

// Entries converts the stored steps back to chain entries
func (r *Run) Entries() []chain.Entry {
	entries := make([]chain.Entry, len(r.Steps))
	for i, s := range r.Steps {
		entries[i] = chain.Entry{Index: s.Index, Result: s.Result}
	}
	return entries
}

// RunStore keeps runs in the chain_runs and chain_steps tables
type RunStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewRunStore creates a run store over a migrated database
func NewRunStore(db *sql.DB, logger *zap.SugaredLogger) *RunStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RunStore{db: db, logger: logger, now: time.Now}
}

// Persist stores the run and its steps in one transaction
func (s *RunStore) Persist(ctx context.Context, doc Document) (*Artifact, error) {
	id := doc.RunID
	if id == "" {
		id = NewRunID()
	}

	failed := 0
	for _, e := range doc.Entries {
		if e.Result.IsNull() {
			failed++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chain_runs (id, name, location, step_count, failed_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, doc.Name, doc.Location, len(doc.Entries), failed, s.now().UTC())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to insert run %s", id)
	}

	for i, e := range doc.Entries {
		content, err := encodeResult(e.Result)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode step %d", e.Index)
		}
		prompt := ""
		if i < len(doc.Prompts) {
			prompt = doc.Prompts[i]
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chain_steps (run_id, step, prompt, kind, content) VALUES (?, ?, ?, ?, ?)`,
			id, e.Index, prompt, e.Result.Kind().String(), content)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to insert step %d of run %s", e.Index, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit run")
	}

	s.logger.Infow("Run stored",
		"run_id", id,
		"chain", doc.Name,
		"count", len(doc.Entries),
		"failed", failed)

	return &Artifact{Text: Render(doc.Entries), Location: RunLocationPrefix + id}, nil
}

// ListRuns returns the most recent runs first, without steps
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, location, step_count, failed_count, created_at
		 FROM chain_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Name, &r.Location, &r.StepCount, &r.FailedCount, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return runs, nil
}

// GetRun loads a run with its steps. The "run:" prefix is accepted.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimPrefix(id, RunLocationPrefix)

	var r Run
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, location, step_count, failed_count, created_at FROM chain_runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Location, &r.StepCount, &r.FailedCount, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load run %s", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, prompt, kind, content FROM chain_steps WHERE run_id = ? ORDER BY step`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load steps of run %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step    Step
			kind    string
			content sql.NullString
		)
		if err := rows.Scan(&step.Index, &step.Prompt, &kind, &content); err != nil {
			return nil, errors.Wrap(err, "failed to scan step")
		}
		step.Result, err = decodeResult(kind, content)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d of run %s", step.Index, id)
		}
		r.Steps = append(r.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate steps")
	}
	return &r, nil
}

// encodeResult maps a result to the content column: NULL, raw text or JSON
func encodeResult(r chain.Result) (sql.NullString, error) {
	switch r.Kind() {
	case chain.KindRaw:
		return sql.NullString{String: r.Text(), Valid: true}, nil
	case chain.KindStructured:
		data, err := json.Marshal(r.Value())
		if err != nil {
			return sql.NullString{}, err
		}
		return sql.NullString{String: string(data), Valid: true}, nil
	default:
		return sql.NullString{}, nil
	}
}

func decodeResult(kind string, content sql.NullString) (chain.Result, error) {
	k, err := chain.ParseKind(kind)
	if err != nil {
		return chain.Null(), err
	}
	switch k {
	case chain.KindRaw:
		return chain.Raw(content.String), nil
	case chain.KindStructured:
		var v any
		if err := json.Unmarshal([]byte(content.String), &v); err != nil {
			return chain.Null(), errors.Wrap(err, "invalid structured content")
		}
		return chain.Structured(v), nil
	default:
		return chain.Null(), nil
	}
}
