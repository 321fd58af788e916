package catalog

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite persistence layer behind the catalog. It holds tool
// descriptors (including their vectors, so restarts don't re-embed) and
// synthesized workflow programs.
type Store struct {
	db *sql.DB
}

// OpenStore opens dataDir/catalog.db, creating dataDir if needed. WAL mode,
// pending migrations applied. Caller must Close.
func OpenStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("catalog store: data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("catalog store: %w", err)
	}
	dbPath := filepath.Join(dataDir, "catalog.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("catalog store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog store: WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveTool(d *Descriptor) error {
	vec, err := json.Marshal(d.Vector)
	if err != nil {
		return fmt.Errorf("catalog store: marshal vector: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO tools (id, server, tool, description, input_schema, output_schema, vector, state, seq, exec_count, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   description = excluded.description,
		   input_schema = excluded.input_schema,
		   output_schema = excluded.output_schema,
		   vector = excluded.vector,
		   state = excluded.state,
		   exec_count = excluded.exec_count`,
		d.ID.String(), d.ID.Server, d.ID.Tool, d.Description,
		string(d.InputSchema), string(d.OutputSchema), string(vec),
		int(d.State), d.Seq, d.ExecCount,
		d.RegisteredAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("catalog store: save tool %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) LoadTools() ([]Descriptor, error) {
	rows, err := s.db.Query(
		`SELECT server, tool, description, input_schema, output_schema, vector, state, seq, exec_count, registered_at FROM tools`)
	if err != nil {
		return nil, fmt.Errorf("catalog store: load tools: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		var inSchema, outSchema, vec, registeredAt string
		var state int
		if err := rows.Scan(&d.ID.Server, &d.ID.Tool, &d.Description,
			&inSchema, &outSchema, &vec, &state, &d.Seq, &d.ExecCount, &registeredAt); err != nil {
			return nil, fmt.Errorf("catalog store: scan tool: %w", err)
		}
		d.InputSchema = json.RawMessage(inSchema)
		d.OutputSchema = json.RawMessage(outSchema)
		if err := json.Unmarshal([]byte(vec), &d.Vector); err != nil {
			return nil, fmt.Errorf("catalog store: vector for %s: %w", d.ID, err)
		}
		// Materialized visibility doesn't survive a restart; the caller's
		// session didn't either.
		d.State = State(state)
		if d.State == Materialized {
			d.State = Cataloged
		}
		d.RegisteredAt, _ = time.Parse(time.RFC3339, registeredAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SaveWorkflow(w *Workflow) error {
	deps := make([]string, len(w.Deps))
	for i, d := range w.Deps {
		deps[i] = d.String()
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("catalog store: marshal deps: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO workflows (id, name, source, deps, signature, input_schema, output_schema, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source = excluded.source,
		   deps = excluded.deps,
		   signature = excluded.signature,
		   input_schema = excluded.input_schema,
		   output_schema = excluded.output_schema,
		   version = excluded.version`,
		w.ID.String(), w.Name, w.Source, string(depsJSON), w.Signature,
		string(w.InputSchema), string(w.OutputSchema), w.Version,
		w.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("catalog store: save workflow %s: %w", w.ID, err)
	}
	return nil
}

func (s *Store) DeleteWorkflow(id string) error {
	_, err := s.db.Exec(`DELETE FROM workflows WHERE id = ?`, id)
	return err
}

func (s *Store) LoadWorkflows() ([]Workflow, error) {
	rows, err := s.db.Query(
		`SELECT id, name, source, deps, signature, input_schema, output_schema, version, created_at FROM workflows`)
	if err != nil {
		return nil, fmt.Errorf("catalog store: load workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Workflow
	for rows.Next() {
		var w Workflow
		var id, depsJSON, inSchema, outSchema, createdAt string
		if err := rows.Scan(&id, &w.Name, &w.Source, &depsJSON, &w.Signature,
			&inSchema, &outSchema, &w.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("catalog store: scan workflow: %w", err)
		}
		w.ID, err = ParseID(id)
		if err != nil {
			return nil, fmt.Errorf("catalog store: workflow id: %w", err)
		}
		var deps []string
		if err := json.Unmarshal([]byte(depsJSON), &deps); err != nil {
			return nil, fmt.Errorf("catalog store: deps for %s: %w", id, err)
		}
		for _, ds := range deps {
			did, err := ParseID(ds)
			if err != nil {
				return nil, fmt.Errorf("catalog store: dep id for %s: %w", id, err)
			}
			w.Deps = append(w.Deps, did)
		}
		w.InputSchema = json.RawMessage(inSchema)
		w.OutputSchema = json.RawMessage(outSchema)
		w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) runMigrations() error {
	if _, err := s.db.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY)"); err != nil {
		return fmt.Errorf("migrations: create schema_version: %w", err)
	}
	current, err := s.currentVersion()
	if err != nil {
		return err
	}
	names, err := migrationNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		n, err := migrationNumber(name)
		if err != nil || n <= 0 {
			continue
		}
		if n <= current {
			continue
		}
		stmt, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %s: begin: %w", name, err)
		}
		if _, err := tx.Exec(string(stmt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: clear version: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", n); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: set version: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s: commit: %w", name, err)
		}
	}
	return nil
}

func (s *Store) currentVersion() (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err == sql.ErrNoRows || (err == nil && !v.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return int(v.Int64), nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func migrationNumber(name string) (int, error) {
	base := strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid migration name")
	}
	return strconv.Atoi(parts[0])
}
