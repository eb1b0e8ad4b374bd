// Package session owns one conversation tree and keeps it in step with the
// store and the reply generator.
//
// A Session is not safe for concurrent use. Two sessions opened on the same
// conversation race at the store, where the last Save wins.
package session

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/comigor/forkchat/internal/history"
	"github.com/comigor/forkchat/internal/llm"
	"github.com/comigor/forkchat/internal/logger"
	"github.com/comigor/forkchat/internal/tree"
)

const defaultTitle = "New Chat"

// ErrGeneration wraps generator failures and timeouts; the cause stays
// reachable with errors.Is. When it is returned the user message is already
// part of the tree and current.
var ErrGeneration = errors.New("reply generation failed")

// Session is a loaded conversation.
type Session struct {
	id    string
	title string
	tree  *tree.Tree
	store history.Store
	gen   llm.Generator
}

// Create starts a new conversation holding only the root node. gen may be nil
// for sessions that never generate replies.
func Create(ctx context.Context, store history.Store, gen llm.Generator, title string) (*Session, error) {
	return create(ctx, store, gen, tree.New(), "", title)
}

// CreateInProject is Create for a conversation that belongs to projectID.
func CreateInProject(ctx context.Context, store history.Store, gen llm.Generator, projectID, title string) (*Session, error) {
	return create(ctx, store, gen, tree.New(), projectID, title)
}

// Import stores a validated copy of f as a new conversation.
func Import(ctx context.Context, store history.Store, gen llm.Generator, f tree.Flat, title string) (*Session, error) {
	t, err := tree.FromFlat(f)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = firstUserTitle(t)
	}
	return create(ctx, store, gen, t, "", title)
}

// create registers the conversation and stores its first tree. When the tree
// cannot be stored the conversation is removed again, so no conversation
// without nodes is left behind.
func create(ctx context.Context, store history.Store, gen llm.Generator, t *tree.Tree, projectID, title string) (*Session, error) {
	if title == "" {
		title = defaultTitle
	}
	s := &Session{
		id:    uuid.NewString(),
		title: title,
		tree:  t,
		store: store,
		gen:   gen,
	}
	if err := store.Create(ctx, history.Conversation{ID: s.id, ProjectID: projectID, Title: title}); err != nil {
		return nil, err
	}
	if err := s.save(ctx); err != nil {
		if derr := store.Delete(ctx, s.id); derr != nil {
			logger.L.Warn("failed to remove conversation after failed save", "conversation", s.id, "error", derr)
		}
		return nil, err
	}
	logger.L.Info("conversation created", "conversation", s.id, "project", projectID, "nodes", t.Len())
	return s, nil
}

// Open loads a stored conversation. A stored tree that violates any tree
// invariant is rejected with tree.ErrCorruptState; no partial tree is built.
func Open(ctx context.Context, store history.Store, gen llm.Generator, id string) (*Session, error) {
	conv, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := tree.FromFlat(f)
	if err != nil {
		logger.L.Error("stored conversation is corrupt", "conversation", id, "error", err)
		return nil, errors.Wrapf(err, "conversation %q", id)
	}
	return &Session{id: id, title: conv.Title, tree: t, store: store, gen: gen}, nil
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Title() string { return s.title }

// Tree exposes the in-memory tree for read-only queries.
func (s *Session) Tree() *tree.Tree { return s.tree }

// Resolve maps a node id or a unique id prefix to the full id.
func (s *Session) Resolve(ref string) (string, error) {
	if _, ok := s.tree.Node(ref); ok {
		return ref, nil
	}
	var match string
	for _, n := range s.tree.Nodes() {
		if ref == "" || !strings.HasPrefix(n.ID, ref) {
			continue
		}
		if match != "" {
			return "", errors.Wrapf(tree.ErrInvalidOperation, "node prefix %q is ambiguous", ref)
		}
		match = n.ID
	}
	if match == "" {
		return "", errors.Wrapf(tree.ErrNotFound, "node %q", ref)
	}
	return match, nil
}

// Append adds a message under the current node without generating a reply.
func (s *Session) Append(ctx context.Context, content string, role tree.Role) (*tree.Node, error) {
	if role == tree.RoleSystem {
		return nil, errors.Wrap(tree.ErrInvalidOperation, "append system message")
	}
	n := s.tree.Append(content, role)
	if role == tree.RoleUser {
		s.maybeTitle(ctx, content)
	}
	return n, s.save(ctx)
}

// Navigate moves the current pointer. An unknown id leaves it unchanged.
func (s *Session) Navigate(ctx context.Context, id string) error {
	if err := s.tree.Navigate(id); err != nil {
		return err
	}
	return s.save(ctx)
}

// Flag marks or unmarks id as a checkpoint.
func (s *Session) Flag(ctx context.Context, id string, flagged bool) error {
	if err := s.tree.SetFlag(id, flagged); err != nil {
		return err
	}
	return s.save(ctx)
}

// Edit replaces the content of a non-root node in place.
func (s *Session) Edit(ctx context.Context, id, content string) error {
	if err := s.tree.Edit(id, content); err != nil {
		return err
	}
	return s.save(ctx)
}

// Path is the active path from the root to the current node.
func (s *Session) Path() ([]*tree.Node, error) {
	return s.tree.CurrentPath()
}

// Branches lists the continuations of id in creation order.
func (s *Session) Branches(id string) ([]*tree.Node, error) {
	return s.tree.BranchesAt(id)
}

func (s *Session) Links() []tree.Link {
	return tree.ToLinks(s.tree.Nodes())
}

// Collapsed is the checkpoint view of the whole tree.
func (s *Session) Collapsed() []*tree.Node {
	return tree.CollapseToCheckpoints(s.tree.Nodes())
}

func (s *Session) MainPath() ([]*tree.Node, error) {
	return tree.MainPath(s.tree.Nodes())
}

// GotoMainPath moves the current pointer to the leaf of the deepest path.
func (s *Session) GotoMainPath(ctx context.Context) (*tree.Node, error) {
	path, err := s.MainPath()
	if err != nil {
		return nil, err
	}
	leaf := path[len(path)-1]
	return leaf, s.Navigate(ctx, leaf.ID)
}

func (s *Session) Export() tree.Flat {
	return s.tree.ToFlat()
}

func (s *Session) save(ctx context.Context) error {
	if err := s.store.Save(ctx, s.id, s.tree.ToFlat()); err != nil {
		logger.L.Error("failed to persist conversation; in-memory tree kept", "conversation", s.id, "error", err)
		return err
	}
	return nil
}

// maybeTitle names a conversation after its first user message.
func (s *Session) maybeTitle(ctx context.Context, content string) {
	if s.title != defaultTitle {
		return
	}
	title := tree.TitleFor(content)
	if err := s.store.SetTitle(ctx, s.id, title); err != nil {
		logger.L.Warn("failed to set conversation title", "conversation", s.id, "error", err)
		return
	}
	s.title = title
}

func firstUserTitle(t *tree.Tree) string {
	for _, n := range t.Nodes() {
		if n.Role == tree.RoleUser {
			return tree.TitleFor(n.Content)
		}
	}
	return defaultTitle
}
