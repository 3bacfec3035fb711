package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.WorkflowStore = (*Store)(nil)
var _ storage.ExecutionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	definition JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	result      JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow
	ON workflow_executions (workflow_id, started_at);
`

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components that issue their own
// queries, such as the db_query node.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// --- WorkflowStore -----------------------------------------------------------

func (s *Store) CreateWorkflow(ctx context.Context, def workflow.Definition) (workflow.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	payload, err := json.Marshal(def)
	if err != nil {
		return workflow.Definition{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, def.ID, def.Name, payload, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return workflow.Definition{}, err
	}
	return def, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, def workflow.Definition) (workflow.Definition, error) {
	existing, err := s.GetWorkflow(ctx, def.ID)
	if err != nil {
		return workflow.Definition{}, err
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(def)
	if err != nil {
		return workflow.Definition{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET name = $2, definition = $3, updated_at = $4
		WHERE id = $1
	`, def.ID, def.Name, payload, def.UpdatedAt)
	if err != nil {
		return workflow.Definition{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return workflow.Definition{}, sql.ErrNoRows
	}
	return def, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (workflow.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT definition, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`, id)

	var (
		payload   []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&payload, &createdAt, &updatedAt); err != nil {
		return workflow.Definition{}, err
	}

	var def workflow.Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		return workflow.Definition{}, err
	}
	def.CreatedAt = createdAt
	def.UpdatedAt = updatedAt
	return def, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]workflow.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition, created_at, updated_at
		FROM workflows
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workflow.Definition
	for rows.Next() {
		var (
			payload   []byte
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&payload, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		var def workflow.Definition
		if err := json.Unmarshal(payload, &def); err != nil {
			return nil, err
		}
		def.CreatedAt = createdAt
		def.UpdatedAt = updatedAt
		result = append(result, def)
	}
	return result, rows.Err()
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- ExecutionStore ----------------------------------------------------------

func (s *Store) CreateExecution(ctx context.Context, res workflow.ExecutionResult) (workflow.ExecutionResult, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return workflow.ExecutionResult{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, status, result, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.WorkflowID, res.Status, payload, res.StartedAt)
	if err != nil {
		return workflow.ExecutionResult{}, err
	}
	return res, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (workflow.ExecutionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT result FROM workflow_executions WHERE id = $1
	`, id)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		return workflow.ExecutionResult{}, err
	}

	var res workflow.ExecutionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return workflow.ExecutionResult{}, err
	}
	return res, nil
}

func (s *Store) ListExecutions(ctx context.Context, workflowID string) ([]workflow.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at
	`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workflow.ExecutionResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var res workflow.ExecutionResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}
