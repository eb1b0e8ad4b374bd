package tree

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts both the three-role form and the two-party USER/AI form
// used by older stored conversations.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant", "ai", "model":
		return RoleAssistant, nil
	default:
		return "", errors.Errorf("unknown role %q", s)
	}
}

// Metadata holds JSON-like annotations (model name, token usage, ...).
// Stores that keep it as JSON return integral numbers as int64 and other
// numbers as float64.
type Metadata map[string]any

// Clone returns a deep copy of nested maps and slices. Scalars are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return map[string]any(Metadata(vv).Clone())
	case Metadata:
		return vv.Clone()
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Node is one message turn. Nodes reference each other by id only; the
// owning Tree resolves ids.
type Node struct {
	ID        string
	ParentID  string
	Children  []string
	Role      Role
	Content   string
	Timestamp time.Time
	Flagged   bool
	Metadata  Metadata
}

func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// IsBranchPoint reports whether more than one continuation starts at n.
func (n *Node) IsBranchPoint() bool {
	return len(n.Children) > 1
}

func (n *Node) clone() *Node {
	c := *n
	c.Children = append([]string(nil), n.Children...)
	c.Metadata = n.Metadata.Clone()
	return &c
}

type NodeOption func(*Node)

func WithMetadata(md Metadata) NodeOption {
	return func(n *Node) {
		n.Metadata = md.Clone()
	}
}

func WithTimestamp(ts time.Time) NodeOption {
	return func(n *Node) {
		n.Timestamp = ts.UTC()
	}
}

func newNode(parentID string, role Role, content string, options ...NodeOption) *Node {
	ret := &Node{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// PathMessage is the role/content pair handed to a text generator.
type PathMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
