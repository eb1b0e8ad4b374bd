package history

import (
	"context"
	"database/sql"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"

	"github.com/comigor/forkchat/internal/logger"
	"github.com/comigor/forkchat/internal/tree"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
    title      TEXT NOT NULL,
    root_id    TEXT NOT NULL DEFAULT '',
    current_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    id              TEXT NOT NULL,
    parent_id       TEXT,
    seq             INTEGER NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    flagged         INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT,
    created_at      INTEGER NOT NULL,
    PRIMARY KEY (conversation_id, id)
);`

// SQLiteStore keeps conversations in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, persistence("open sqlite", err)
	}
	// one writer at a time; SQLite serializes them anyway
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, persistence("create schema", err)
	}
	if err = migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.L.Info("sqlite conversation store initialized", "path", path)
	return &SQLiteStore{db: db}, nil
}

// migrateSQLite adds the project column to databases created before projects
// existed.
func migrateSQLite(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('conversations') WHERE name = 'project_id';`).Scan(&n)
	if err != nil {
		return persistence("inspect schema", err)
	}
	if n == 0 {
		if _, err := db.Exec(`ALTER TABLE conversations ADD COLUMN project_id TEXT REFERENCES projects(id) ON DELETE CASCADE;`); err != nil {
			return persistence("add project column", err)
		}
		logger.L.Info("sqlite schema migrated", "column", "conversations.project_id")
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS conversations_project_idx ON conversations(project_id);`); err != nil {
		return persistence("create index", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, c Conversation) error {
	stamp(&c)
	if c.ProjectID != "" {
		if _, err := s.GetProject(ctx, c.ProjectID); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, project_id, title, created_at, updated_at) VALUES (?,?,?,?,?);`,
		c.ID, nullable(c.ProjectID), c.Title, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
	if err != nil {
		return persistence("create conversation", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, notFound(id)
	}
	if err != nil {
		return Conversation{}, persistence("get conversation", err)
	}
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Conversation, error) {
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC, id ASC;`)
}

func (s *SQLiteStore) ListInProject(ctx context.Context, projectID string) ([]Conversation, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE project_id = ? ORDER BY updated_at DESC, id ASC;`,
		projectID)
}

func (s *SQLiteStore) listConversations(ctx context.Context, query string, args ...any) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("list conversations", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, persistence("scan conversation", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list conversations", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?;`, title, id)
	if err != nil {
		return persistence("set title", err)
	}
	return requireAffected(res, notFound(id))
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE conversation_id = ?;`, id); err != nil {
		return persistence("delete nodes", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?;`, id)
	if err != nil {
		return persistence("delete conversation", err)
	}
	if err := requireAffected(res, notFound(id)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit delete", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (tree.Flat, error) {
	var f tree.Flat
	err := s.db.QueryRowContext(ctx,
		`SELECT root_id, current_id FROM conversations WHERE id = ?;`, id).
		Scan(&f.RootID, &f.CurrentID)
	if errors.Is(err, sql.ErrNoRows) {
		return tree.Flat{}, notFound(id)
	}
	if err != nil {
		return tree.Flat{}, persistence("load conversation", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, seq, role, content, flagged, metadata, created_at
		 FROM nodes WHERE conversation_id = ? ORDER BY seq ASC;`, id)
	if err != nil {
		return tree.Flat{}, persistence("load nodes", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r nodeRow
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Seq, &r.Role, &r.Content, &r.Flagged, &r.Metadata, &r.Created); err != nil {
			return tree.Flat{}, persistence("scan node", err)
		}
		n, err := r.toFlat()
		if err != nil {
			return tree.Flat{}, persistence("load nodes", err)
		}
		f.Nodes = append(f.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return tree.Flat{}, persistence("load nodes", err)
	}
	return f, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id string, f tree.Flat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin save", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET root_id = ?, current_id = ?, updated_at = ? WHERE id = ?;`,
		f.RootID, f.CurrentID, nowUnix(), id)
	if err != nil {
		return persistence("save conversation", err)
	}
	if err := requireAffected(res, notFound(id)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE conversation_id = ?;`, id); err != nil {
		return persistence("clear nodes", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (conversation_id, id, parent_id, seq, role, content, flagged, metadata, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?);`)
	if err != nil {
		return persistence("prepare insert", err)
	}
	defer stmt.Close()

	for i, n := range f.Nodes {
		r, err := toRow(i, n)
		if err != nil {
			return persistence("save nodes", err)
		}
		var metadata any
		if r.Metadata != nil {
			metadata = string(r.Metadata)
		}
		if _, err := stmt.ExecContext(ctx, id, r.ID, r.ParentID, r.Seq, r.Role, r.Content, r.Flagged, metadata, r.Created); err != nil {
			return persistence("insert node", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence("commit save", err)
	}
	logger.L.Debug("conversation saved", "conversation", id, "nodes", len(f.Nodes))
	return nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p Project) error {
	if err := prepareProject(&p); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_at) VALUES (?,?,?,?);`,
		p.ID, p.Name, p.Description, p.CreatedAt.UnixNano())
	if err != nil {
		return persistence("create project", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, projectNotFound(id)
	}
	if err != nil {
		return Project{}, persistence("get project", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, persistence("list projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, persistence("scan project", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list projects", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin delete project", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE conversation_id IN (SELECT id FROM conversations WHERE project_id = ?);`, id); err != nil {
		return persistence("delete project nodes", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE project_id = ?;`, id); err != nil {
		return persistence("delete project conversations", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?;`, id)
	if err != nil {
		return persistence("delete project", err)
	}
	if err := requireAffected(res, projectNotFound(id)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit delete project", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// requireAffected returns missing when res touched no row.
func requireAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("rows affected", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
