package history

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/comigor/forkchat/internal/logger"
	"github.com/comigor/forkchat/internal/tree"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
    title      TEXT NOT NULL,
    root_id    TEXT NOT NULL DEFAULT '',
    current_id TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    id              TEXT NOT NULL,
    parent_id       TEXT,
    seq             INTEGER NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    flagged         BOOLEAN NOT NULL DEFAULT FALSE,
    metadata        JSONB,
    created_at      BIGINT NOT NULL,
    PRIMARY KEY (conversation_id, id)
);
ALTER TABLE conversations ADD COLUMN IF NOT EXISTS project_id TEXT REFERENCES projects(id) ON DELETE CASCADE;
CREATE INDEX IF NOT EXISTS conversations_project_idx ON conversations(project_id);`

// PostgresStore keeps conversations in PostgreSQL through a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and creates the
// tables when missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, persistence("create pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, persistence("ping postgres", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, persistence("create schema", err)
	}
	logger.L.Info("postgres conversation store initialized")
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Conversation) error {
	stamp(&c)
	if c.ProjectID != "" {
		if _, err := s.GetProject(ctx, c.ProjectID); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversations (id, project_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, nullable(c.ProjectID), c.Title, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
	if err != nil {
		return persistence("create conversation", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, notFound(id)
	}
	if err != nil {
		return Conversation{}, persistence("get conversation", err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Conversation, error) {
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC, id ASC`)
}

func (s *PostgresStore) ListInProject(ctx context.Context, projectID string) ([]Conversation, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE project_id = $1 ORDER BY updated_at DESC, id ASC`,
		projectID)
}

func (s *PostgresStore) listConversations(ctx context.Context, query string, args ...any) ([]Conversation, error) {
	rows, err := s.db.Query(ctx, query, args...)
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

func (s *PostgresStore) SetTitle(ctx context.Context, id, title string) error {
	tag, err := s.db.Exec(ctx, `UPDATE conversations SET title = $1 WHERE id = $2`, title, id)
	if err != nil {
		return persistence("set title", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	// nodes go with the conversation through ON DELETE CASCADE
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return persistence("delete conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (tree.Flat, error) {
	var f tree.Flat
	err := s.db.QueryRow(ctx,
		`SELECT root_id, current_id FROM conversations WHERE id = $1`, id).
		Scan(&f.RootID, &f.CurrentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return tree.Flat{}, notFound(id)
	}
	if err != nil {
		return tree.Flat{}, persistence("load conversation", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, parent_id, seq, role, content, flagged, metadata, created_at
		 FROM nodes WHERE conversation_id = $1 ORDER BY seq ASC`, id)
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

func (s *PostgresStore) Save(ctx context.Context, id string, f tree.Flat) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return persistence("begin save", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET root_id = $1, current_id = $2, updated_at = $3 WHERE id = $4`,
		f.RootID, f.CurrentID, nowUnix(), id)
	if err != nil {
		return persistence("save conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM nodes WHERE conversation_id = $1`, id)
	for i, n := range f.Nodes {
		r, err := toRow(i, n)
		if err != nil {
			return persistence("save nodes", err)
		}
		batch.Queue(
			`INSERT INTO nodes (conversation_id, id, parent_id, seq, role, content, flagged, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, r.ID, r.ParentID, r.Seq, r.Role, r.Content, r.Flagged, r.Metadata, r.Created)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return persistence("write nodes", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistence("commit save", err)
	}
	logger.L.Debug("conversation saved", "conversation", id, "nodes", len(f.Nodes))
	return nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p Project) error {
	if err := prepareProject(&p); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Description, p.CreatedAt.UnixNano())
	if err != nil {
		return persistence("create project", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	p, err := scanProject(s.db.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, projectNotFound(id)
	}
	if err != nil {
		return Project{}, persistence("get project", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at ASC, id ASC`)
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

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	// conversations and their nodes follow through ON DELETE CASCADE
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return persistence("delete project", err)
	}
	if tag.RowsAffected() == 0 {
		return projectNotFound(id)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
