// Package history persists conversation trees.
//
// A conversation is stored as its flat node list plus the root and current
// pointers. Conversations may belong to a project; deleting a project deletes
// its conversations and their nodes. Save replaces the whole node set of a conversation inside one
// transaction, so concurrent writers of the same conversation do not
// interleave: the last Save wins and earlier ones are lost. There is no
// optimistic concurrency check.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/comigor/forkchat/internal/config"
	"github.com/comigor/forkchat/internal/logger"
	"github.com/comigor/forkchat/internal/tree"
)

var (
	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")

	// ErrProjectNotFound is returned for an unknown project id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidProject rejects a project that cannot be stored.
	ErrInvalidProject = errors.New("invalid project")

	// ErrPersistence wraps every failure of the underlying database.
	ErrPersistence = errors.New("persistence failure")
)

// Conversation is the listing entry of a stored tree. An empty ProjectID
// means the conversation belongs to no project.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	ProjectID string    `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Project groups conversations.
type Project struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
}

// Store is implemented by every backend. Implementations are safe for
// concurrent use.
type Store interface {
	// Create registers an empty conversation. Zero timestamps are set to now.
	// A non-empty ProjectID must name an existing project.
	Create(ctx context.Context, c Conversation) error
	Get(ctx context.Context, id string) (Conversation, error)
	// List returns all conversations, most recently updated first.
	List(ctx context.Context) ([]Conversation, error)
	// ListInProject is List restricted to one existing project.
	ListInProject(ctx context.Context, projectID string) ([]Conversation, error)
	SetTitle(ctx context.Context, id, title string) error
	// Delete removes the conversation and all of its nodes.
	Delete(ctx context.Context, id string) error

	// Load returns the stored tree. A conversation that was never saved
	// yields a Flat without nodes.
	Load(ctx context.Context, id string) (tree.Flat, error)
	// Save replaces the stored tree and bumps UpdatedAt.
	Save(ctx context.Context, id string, f tree.Flat) error

	// CreateProject stores p. The name is required; a zero CreatedAt is set
	// to now.
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	// ListProjects returns all projects, oldest first.
	ListProjects(ctx context.Context) ([]Project, error)
	// DeleteProject removes the project, its conversations and their nodes.
	DeleteProject(ctx context.Context, id string) error

	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	logger.L.Debug("opening conversation store", "driver", cfg.Driver)
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.DSN)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func notFound(id string) error {
	return errors.Wrapf(ErrNotFound, "conversation %q", id)
}

func projectNotFound(id string) error {
	return errors.Wrapf(ErrProjectNotFound, "project %q", id)
}

// prepareProject validates p and fills in its creation time.
func prepareProject(p *Project) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		return errors.Wrap(ErrInvalidProject, "id is required")
	}
	if p.Name == "" {
		return errors.Wrap(ErrInvalidProject, "name is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func persistence(op string, err error) error {
	return errors.Wrapf(ErrPersistence, "%s: %v", op, err)
}

// rowScanner is satisfied by the row types of database/sql and pgx.
type rowScanner interface {
	Scan(dest ...any) error
}

const conversationColumns = `id, project_id, title, created_at, updated_at`

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c                Conversation
		project          *string
		created, updated int64
	)
	if err := row.Scan(&c.ID, &project, &c.Title, &created, &updated); err != nil {
		return Conversation{}, err
	}
	c.ProjectID = deref(project)
	c.CreatedAt, c.UpdatedAt = fromUnix(created), fromUnix(updated)
	return c, nil
}

const projectColumns = `id, name, description, created_at`

func scanProject(row rowScanner) (Project, error) {
	var (
		p       Project
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &created); err != nil {
		return Project{}, err
	}
	p.CreatedAt = fromUnix(created)
	return p, nil
}

// nodeRow is the column layout shared by the SQL backends.
type nodeRow struct {
	ID       string
	ParentID *string
	Seq      int
	Role     string
	Content  string
	Flagged  bool
	Metadata []byte
	Created  int64
}

func toRow(seq int, n tree.FlatNode) (nodeRow, error) {
	r := nodeRow{
		ID:       n.ID,
		ParentID: n.ParentID,
		Seq:      seq,
		Role:     n.Type,
		Content:  n.Content,
		Flagged:  n.IsFlagged,
		Created:  n.Timestamp.UnixNano(),
	}
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return nodeRow{}, errors.Wrapf(err, "encode metadata of node %q", n.ID)
		}
		r.Metadata = b
	}
	return r, nil
}

func (r nodeRow) toFlat() (tree.FlatNode, error) {
	n := tree.FlatNode{
		ID:        r.ID,
		ParentID:  r.ParentID,
		Type:      r.Role,
		Content:   r.Content,
		Timestamp: fromUnix(r.Created),
		IsFlagged: r.Flagged,
	}
	if len(r.Metadata) > 0 {
		md, err := decodeMetadata(r.Metadata)
		if err != nil {
			return tree.FlatNode{}, errors.Wrapf(err, "decode metadata of node %q", r.ID)
		}
		n.Metadata = md
	}
	return n, nil
}

// decodeMetadata reads stored metadata. Integral numbers come back as int64
// and all other numbers as float64.
func decodeMetadata(b []byte) (tree.Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var md tree.Metadata
	if err := dec.Decode(&md); err != nil {
		return nil, err
	}
	for k, v := range md {
		md[k] = normalizeNumbers(v)
	}
	return md, nil
}

func normalizeNumbers(v any) any {
	switch vv := v.(type) {
	case json.Number:
		if i, err := vv.Int64(); err == nil {
			return i
		}
		f, _ := vv.Float64()
		return f
	case map[string]any:
		for k, e := range vv {
			vv[k] = normalizeNumbers(e)
		}
		return vv
	case []any:
		for i, e := range vv {
			vv[i] = normalizeNumbers(e)
		}
		return vv
	default:
		return v
	}
}

func fromUnix(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nowUnix() int64 {
	return time.Now().UTC().UnixNano()
}

func stamp(c *Conversation) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
}
