package tree

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned when an id is not part of the tree. The tree is
	// left unchanged.
	ErrNotFound = errors.New("node not found")

	// ErrCorruptState reports a violated tree invariant: a cycle, a dangling
	// parent, a duplicate id, or a wrong number of roots.
	ErrCorruptState = errors.New("corrupt conversation tree")

	ErrInvalidOperation = errors.New("invalid tree operation")
)

func notFound(id string) error {
	return errors.Wrapf(ErrNotFound, "node %q", id)
}

func corrupt(format string, args ...any) error {
	return errors.Wrapf(ErrCorruptState, format, args...)
}
