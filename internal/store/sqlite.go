package store

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yourorg/capgen/pkg/types"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			tool_key TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			methods INTEGER NOT NULL DEFAULT 0,
			parse_failures INTEGER NOT NULL DEFAULT 0,
			model TEXT NOT NULL,
			error_msg TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY(tool_key, stage)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);`,
		`CREATE TABLE IF NOT EXISTS llm_cache (
			tool_key TEXT NOT NULL,
			stage TEXT NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			raw_output TEXT NOT NULL,
			model TEXT NOT NULL,
			error_msg TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY(tool_key, stage, method)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetRun(toolKey, stage string) (*types.Run, error) {
	row := s.db.QueryRow(`SELECT tool_key,stage,status,methods,parse_failures,model,error_msg,created_at,updated_at FROM runs WHERE tool_key=? AND stage=?`, toolKey, stage)
	var r types.Run
	err := row.Scan(&r.ToolKey, &r.Stage, &r.Status, &r.Methods, &r.ParseFailures, &r.Model, &r.ErrorMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkRun upserts the ledger row; created_at survives reruns.
func (s *SQLiteStore) MarkRun(run *types.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO runs(tool_key,stage,status,methods,parse_failures,model,error_msg,created_at,updated_at)
	VALUES(?,?,?,?,?,?,?,?,?)
	ON CONFLICT(tool_key,stage) DO UPDATE SET status=excluded.status,methods=excluded.methods,parse_failures=excluded.parse_failures,model=excluded.model,error_msg=excluded.error_msg,updated_at=excluded.updated_at`,
		run.ToolKey, run.Stage, run.Status, run.Methods, run.ParseFailures, run.Model, run.ErrorMsg, run.CreatedAt, run.UpdatedAt)
	return err
}

// ListRuns returns ledger rows ordered by tool key; an empty stage lists every stage.
func (s *SQLiteStore) ListRuns(stage string) ([]types.Run, error) {
	query := `SELECT tool_key,stage,status,methods,parse_failures,model,error_msg,created_at,updated_at FROM runs`
	var args []any
	if stage != "" {
		query += ` WHERE stage=?`
		args = append(args, stage)
	}
	query += ` ORDER BY tool_key ASC, stage ASC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.Run, 0)
	for rows.Next() {
		var r types.Run
		if err := rows.Scan(&r.ToolKey, &r.Stage, &r.Status, &r.Methods, &r.ParseFailures, &r.Model, &r.ErrorMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes the ledger row and the cached completions of (toolKey, stage).
func (s *SQLiteStore) DeleteRun(toolKey, stage string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM llm_cache WHERE tool_key=? AND stage=?`, toolKey, stage); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE tool_key=? AND stage=?`, toolKey, stage); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveMethodCache(cache *types.LLMCache) error {
	if cache.CreatedAt.IsZero() {
		cache.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO llm_cache(tool_key,stage,method,status,raw_output,model,error_msg,created_at)
	VALUES(?,?,?,?,?,?,?,?)
	ON CONFLICT(tool_key,stage,method) DO UPDATE SET status=excluded.status,raw_output=excluded.raw_output,model=excluded.model,error_msg=excluded.error_msg,created_at=excluded.created_at`,
		cache.ToolKey, cache.Stage, cache.Method, cache.Status, cache.RawOutput, cache.Model, cache.ErrorMsg, cache.CreatedAt)
	return err
}

func (s *SQLiteStore) GetMethodCaches(toolKey, stage string) ([]types.LLMCache, error) {
	rows, err := s.db.Query(`SELECT tool_key,stage,method,status,raw_output,model,error_msg,created_at FROM llm_cache WHERE tool_key=? AND stage=? ORDER BY method ASC`, toolKey, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.LLMCache
	for rows.Next() {
		var c types.LLMCache
		if err := rows.Scan(&c.ToolKey, &c.Stage, &c.Method, &c.Status, &c.RawOutput, &c.Model, &c.ErrorMsg, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearCaches(toolKey, stage string) error {
	_, err := s.db.Exec(`DELETE FROM llm_cache WHERE tool_key=? AND stage=?`, toolKey, stage)
	return err
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
