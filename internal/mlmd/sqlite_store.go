package mlmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS contexts (
	id   TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	UNIQUE(type, name)
);

CREATE TABLE IF NOT EXISTS executions (
	id                TEXT PRIMARY KEY,
	execution_type    TEXT NOT NULL,
	last_known_state  TEXT NOT NULL,
	custom_properties TEXT NOT NULL DEFAULT '{}',
	created_seq       INTEGER
);

CREATE TABLE IF NOT EXISTS execution_contexts (
	execution_id TEXT NOT NULL,
	context_id   TEXT NOT NULL,
	PRIMARY KEY (execution_id, context_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id        TEXT PRIMARY KEY,
	uri       TEXT NOT NULL,
	type_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	execution_id TEXT NOT NULL,
	artifact_id  TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	key          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS parent_contexts (
	parent_context_id TEXT NOT NULL,
	child_context_id  TEXT NOT NULL,
	PRIMARY KEY (parent_context_id, child_context_id)
);

CREATE TABLE IF NOT EXISTS seq (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// SQLiteStore implements Store against a single-file SQLite database. Every
// write is a single transaction. UpdateExecutionState writes the given
// last_known_state as is: neither Go code nor a CHECK constraint validates
// the transition.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite-backed Store at dsn,
// a filesystem path or "file::memory:?cache=shared" for tests.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeErr("open", err)
	}
	db.SetMaxOpenConns(1) // single-writer-per-pipeline is the caller's job; this avoids SQLITE_BUSY under the pure-Go driver
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storeErr("schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) nextSeq(tx *sql.Tx, name string) (int64, error) {
	var v int64
	err := tx.QueryRow(`SELECT value FROM seq WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		v = 0
	} else if err != nil {
		return 0, err
	}
	v++
	if _, err := tx.Exec(`INSERT INTO seq(name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *SQLiteStore) GetOrCreateContext(ctx context.Context, typ ContextType, name string) (Context, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Context{}, storeErr("GetOrCreateContext.begin", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(`SELECT id FROM contexts WHERE type = ? AND name = ?`, string(typ), name).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		if _, err := tx.Exec(`INSERT INTO contexts(id, type, name) VALUES (?, ?, ?)`, id, string(typ), name); err != nil {
			return Context{}, storeErr("GetOrCreateContext.insert", err)
		}
	case err != nil:
		return Context{}, storeErr("GetOrCreateContext.select", err)
	}

	if err := tx.Commit(); err != nil {
		return Context{}, storeErr("GetOrCreateContext.commit", err)
	}
	return Context{ID: id, Type: typ, Name: name}, nil
}

func (s *SQLiteStore) MostRecentPipelineRunContext(ctx context.Context, pipelineName, excludeRunID string) (Context, error) {
	prefix := PipelineRunContextName(pipelineName, "")
	excludeName := PipelineRunContextName(pipelineName, excludeRunID)

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name FROM contexts
		WHERE type = ? AND name LIKE ? AND name <> ?
		ORDER BY rowid DESC
		LIMIT 1`,
		string(ContextPipelineRun), prefix+"%", excludeName)

	var id, name string
	if err := row.Scan(&id, &name); err != nil {
		if err == sql.ErrNoRows {
			return Context{}, ErrNotFound
		}
		return Context{}, storeErr("MostRecentPipelineRunContext", err)
	}
	return Context{ID: id, Type: ContextPipelineRun, Name: name}, nil
}

func (s *SQLiteStore) ExecutionsByNodeContexts(ctx context.Context, contextIDs []string) ([]Execution, error) {
	if len(contextIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT e.id, e.execution_type, e.last_known_state, e.custom_properties,
			(SELECT COALESCE(group_concat(ec2.context_id), '') FROM execution_contexts ec2 WHERE ec2.execution_id = e.id)
		FROM executions e
		WHERE (
			SELECT COUNT(*) FROM execution_contexts ec
			WHERE ec.execution_id = e.id AND ec.context_id IN (` + placeholdersFor(len(contextIDs)) + `)
		) = ?
		ORDER BY e.created_seq DESC`

	args := make([]any, 0, len(contextIDs)+1)
	for _, id := range contextIDs {
		args = append(args, id)
	}
	args = append(args, len(contextIDs))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("ExecutionsByNodeContexts.query", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var propsJSON string
		var state string
		var ctxList string
		if err := rows.Scan(&e.ID, &e.ExecutionType, &state, &propsJSON, &ctxList); err != nil {
			return nil, storeErr("ExecutionsByNodeContexts.scan", err)
		}
		e.LastKnownState = ExecutionState(state)
		if ctxList != "" {
			e.ContextIDs = strings.Split(ctxList, ",")
		}
		if err := json.Unmarshal([]byte(propsJSON), &e.CustomProperties); err != nil {
			return nil, storeErr("ExecutionsByNodeContexts.unmarshal", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("ExecutionsByNodeContexts.rows", err)
	}
	return out, nil
}

func placeholdersFor(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}

func (s *SQLiteStore) RegisterExecution(ctx context.Context, spec NewExecutionSpec) (Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Execution{}, storeErr("RegisterExecution.begin", err)
	}
	defer tx.Rollback()

	e := Execution{
		ID:               uuid.NewString(),
		ExecutionType:    spec.ExecutionType,
		LastKnownState:   ExecutionActive,
		CustomProperties: cloneProps(spec.CustomProperties),
		ContextIDs:       append([]string(nil), spec.ContextIDs...),
	}
	propsJSON, err := json.Marshal(e.CustomProperties)
	if err != nil {
		return Execution{}, storeErr("RegisterExecution.marshal", err)
	}

	seq, err := s.nextSeq(tx, "executions")
	if err != nil {
		return Execution{}, storeErr("RegisterExecution.seq", err)
	}
	if _, err := tx.Exec(`INSERT INTO executions(id, execution_type, last_known_state, custom_properties, created_seq)
		VALUES (?, ?, ?, ?, ?)`, e.ID, e.ExecutionType, string(e.LastKnownState), string(propsJSON), seq); err != nil {
		return Execution{}, storeErr("RegisterExecution.insert", err)
	}

	if err := attachContexts(tx, e.ID, spec.ContextIDs); err != nil {
		return Execution{}, storeErr("RegisterExecution.contexts", err)
	}
	if err := attachEvents(tx, e.ID, spec.InputArtifacts, EventInput); err != nil {
		return Execution{}, storeErr("RegisterExecution.inputs", err)
	}

	if err := tx.Commit(); err != nil {
		return Execution{}, storeErr("RegisterExecution.commit", err)
	}
	return e, nil
}

func attachContexts(tx *sql.Tx, executionID string, contextIDs []string) error {
	for _, cid := range contextIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO execution_contexts(execution_id, context_id) VALUES (?, ?)`, executionID, cid); err != nil {
			return err
		}
	}
	return nil
}

func attachEvents(tx *sql.Tx, executionID string, refs []ArtifactRef, eventType EventType) error {
	for _, ref := range refs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO artifacts(id, uri, type_name) VALUES (?, ?, ?)`,
			ref.Artifact.ID, ref.Artifact.URI, ref.Artifact.TypeName); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO events(execution_id, artifact_id, event_type, key) VALUES (?, ?, ?, ?)`,
			executionID, ref.Artifact.ID, string(eventType), ref.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) UpdateExecutionState(ctx context.Context, executionID string, state ExecutionState, customProps map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("UpdateExecutionState.begin", err)
	}
	defer tx.Rollback()

	var propsJSON string
	err = tx.QueryRow(`SELECT custom_properties FROM executions WHERE id = ?`, executionID).Scan(&propsJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storeErr("UpdateExecutionState.select", err)
	}

	var props map[string]string
	if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
		return storeErr("UpdateExecutionState.unmarshal", err)
	}
	if props == nil {
		props = make(map[string]string)
	}
	for k, v := range customProps {
		props[k] = v
	}
	merged, err := json.Marshal(props)
	if err != nil {
		return storeErr("UpdateExecutionState.marshal", err)
	}

	if _, err := tx.Exec(`UPDATE executions SET last_known_state = ?, custom_properties = ? WHERE id = ?`,
		string(state), string(merged), executionID); err != nil {
		return storeErr("UpdateExecutionState.update", err)
	}
	return storeErr("UpdateExecutionState.commit", tx.Commit())
}

func (s *SQLiteStore) AttachOutputArtifacts(ctx context.Context, executionID string, outputs []ArtifactRef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("AttachOutputArtifacts.begin", err)
	}
	defer tx.Rollback()

	if err := attachEvents(tx, executionID, outputs, EventOutput); err != nil {
		return storeErr("AttachOutputArtifacts.events", err)
	}
	return storeErr("AttachOutputArtifacts.commit", tx.Commit())
}

func (s *SQLiteStore) OutputArtifactsForExecution(ctx context.Context, executionID string) ([]ArtifactRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.uri, a.type_name, ev.key
		FROM events ev
		JOIN artifacts a ON a.id = ev.artifact_id
		WHERE ev.execution_id = ? AND ev.event_type = ?
		ORDER BY a.id`, executionID, string(EventOutput))
	if err != nil {
		return nil, storeErr("OutputArtifactsForExecution.query", err)
	}
	defer rows.Close()

	var out []ArtifactRef
	for rows.Next() {
		var ref ArtifactRef
		if err := rows.Scan(&ref.Artifact.ID, &ref.Artifact.URI, &ref.Artifact.TypeName, &ref.Key); err != nil {
			return nil, storeErr("OutputArtifactsForExecution.scan", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("OutputArtifactsForExecution.rows", err)
	}
	return out, nil
}

func (s *SQLiteStore) AttachContext(ctx context.Context, executionID, contextID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("AttachContext.begin", err)
	}
	defer tx.Rollback()

	if err := attachContexts(tx, executionID, []string{contextID}); err != nil {
		return storeErr("AttachContext.insert", err)
	}
	return storeErr("AttachContext.commit", tx.Commit())
}

func (s *SQLiteStore) PublishCachedExecution(ctx context.Context, spec CachedPublishSpec) (Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Execution{}, storeErr("PublishCachedExecution.begin", err)
	}
	defer tx.Rollback()

	e := Execution{
		ID:             uuid.NewString(),
		ExecutionType:  spec.ExecutionType,
		LastKnownState: ExecutionCached,
		ContextIDs:     append([]string(nil), spec.ContextIDs...),
	}
	seq, err := s.nextSeq(tx, "executions")
	if err != nil {
		return Execution{}, storeErr("PublishCachedExecution.seq", err)
	}
	if _, err := tx.Exec(`INSERT INTO executions(id, execution_type, last_known_state, custom_properties, created_seq)
		VALUES (?, ?, ?, '{}', ?)`, e.ID, e.ExecutionType, string(e.LastKnownState), seq); err != nil {
		return Execution{}, storeErr("PublishCachedExecution.insert", err)
	}
	if err := attachContexts(tx, e.ID, spec.ContextIDs); err != nil {
		return Execution{}, storeErr("PublishCachedExecution.contexts", err)
	}
	if err := attachEvents(tx, e.ID, spec.OutputArtifacts, EventOutput); err != nil {
		return Execution{}, storeErr("PublishCachedExecution.outputs", err)
	}

	if err := tx.Commit(); err != nil {
		return Execution{}, storeErr("PublishCachedExecution.commit", err)
	}
	return e, nil
}

func (s *SQLiteStore) ParentContextEdge(ctx context.Context, parentContextID, childContextID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO parent_contexts(parent_context_id, child_context_id) VALUES (?, ?)`,
		parentContextID, childContextID)
	if err != nil {
		return storeErr("ParentContextEdge", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
