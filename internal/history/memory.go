package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/comigor/forkchat/internal/tree"
)

type memoryEntry struct {
	conv Conversation
	flat tree.Flat
}

// MemoryStore keeps conversations in process memory. Everything it hands out
// or takes in is copied.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	projects map[string]Project
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		projects: make(map[string]Project),
	}
}

func (s *MemoryStore) Create(_ context.Context, c Conversation) error {
	stamp(&c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[c.ProjectID]; c.ProjectID != "" && !ok {
		return projectNotFound(c.ProjectID)
	}
	if _, ok := s.entries[c.ID]; ok {
		return persistence("create conversation", errors.Errorf("id %q already exists", c.ID))
	}
	s.entries[c.ID] = &memoryEntry{conv: c}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Conversation{}, notFound(id)
	}
	return e.conv, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Conversation, error) {
	return s.list(func(Conversation) bool { return true }), nil
}

func (s *MemoryStore) ListInProject(ctx context.Context, projectID string) ([]Conversation, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.list(func(c Conversation) bool { return c.ProjectID == projectID }), nil
}

func (s *MemoryStore) list(keep func(Conversation) bool) []Conversation {
	s.mu.Lock()
	out := make([]Conversation, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e.conv) {
			out = append(out, e.conv)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) SetTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return notFound(id)
	}
	e.conv.Title = title
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return notFound(id)
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (tree.Flat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return tree.Flat{}, notFound(id)
	}
	return e.flat.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, id string, f tree.Flat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return notFound(id)
	}
	e.flat = f.Clone()
	e.conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreateProject(_ context.Context, p Project) error {
	if err := prepareProject(&p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return persistence("create project", errors.Errorf("id %q already exists", p.ID))
	}
	s.projects[p.ID] = p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, projectNotFound(id)
	}
	return p, nil
}

func (s *MemoryStore) ListProjects(_ context.Context) ([]Project, error) {
	s.mu.Lock()
	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return projectNotFound(id)
	}
	for cid, e := range s.entries {
		if e.conv.ProjectID == id {
			delete(s.entries, cid)
		}
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
