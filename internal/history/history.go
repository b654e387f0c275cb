// Package history implements the undo/redo command stack.
//
// A [Stack] records applied [edit.Op] values. Undo applies an op's inverse
// actions in the order they were recorded; each inverse action is
// self-describing, so the list is not reversed. A new dispatch invalidates
// the redo path.
//
// Stack is not safe for concurrent use; its owner serialises access.
package history

import (
	"fmt"

	"github.com/MrWong99/wordcut/internal/edit"
)

// Reducer applies actions to a state, all or nothing.
type Reducer[S any] func(state S, actions []edit.Action) (S, error)

// Option configures a [Stack].
type Option func(*options)

type options struct {
	limit int
}

// WithLimit caps the number of undoable ops. When the cap is exceeded the
// oldest op is forgotten. Zero or negative means unbounded.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// Stack is the undo/redo history over states of type S.
type Stack[S any] struct {
	reduce Reducer[S]
	limit  int
	done   []edit.Op
	undone []edit.Op
}

// New returns an empty Stack that applies actions with reduce.
func New[S any](reduce Reducer[S], opts ...Option) *Stack[S] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Stack[S]{reduce: reduce, limit: o.limit}
}

// Dispatch applies op.Do to state. On success the op is recorded and the redo
// stack is cleared. On failure the stack is unchanged and state is returned.
func (s *Stack[S]) Dispatch(state S, op edit.Op) (S, error) {
	next, err := s.reduce(state, op.Do)
	if err != nil {
		return state, fmt.Errorf("history: dispatch %s: %w", op.Kind(), err)
	}
	s.push(op)
	s.undone = nil
	return next, nil
}

// Undo reverts the most recent op. ok is false when there is nothing to undo,
// which is not an error.
func (s *Stack[S]) Undo(state S) (next S, ok bool, err error) {
	if len(s.done) == 0 {
		return state, false, nil
	}
	op := s.done[len(s.done)-1]
	next, err = s.reduce(state, op.Undo)
	if err != nil {
		return state, false, fmt.Errorf("history: undo %s: %w", op.Kind(), err)
	}
	s.done = s.done[:len(s.done)-1]
	s.undone = append(s.undone, op)
	return next, true, nil
}

// Redo re-applies the most recently undone op. ok is false when the redo
// stack is empty.
func (s *Stack[S]) Redo(state S) (next S, ok bool, err error) {
	if len(s.undone) == 0 {
		return state, false, nil
	}
	op := s.undone[len(s.undone)-1]
	next, err = s.reduce(state, op.Do)
	if err != nil {
		return state, false, fmt.Errorf("history: redo %s: %w", op.Kind(), err)
	}
	s.undone = s.undone[:len(s.undone)-1]
	s.push(op)
	return next, true, nil
}

func (s *Stack[S]) push(op edit.Op) {
	s.done = append(s.done, op)
	if s.limit > 0 && len(s.done) > s.limit {
		drop := len(s.done) - s.limit
		s.done = append(s.done[:0:0], s.done[drop:]...)
	}
}

// PeekUndo returns the op Undo would revert without reverting it.
func (s *Stack[S]) PeekUndo() (edit.Op, bool) {
	if len(s.done) == 0 {
		return edit.Op{}, false
	}
	return s.done[len(s.done)-1], true
}

// PeekRedo returns the op Redo would re-apply without applying it.
func (s *Stack[S]) PeekRedo() (edit.Op, bool) {
	if len(s.undone) == 0 {
		return edit.Op{}, false
	}
	return s.undone[len(s.undone)-1], true
}

// CanUndo reports whether Undo would do anything.
func (s *Stack[S]) CanUndo() bool { return len(s.done) > 0 }

// CanRedo reports whether Redo would do anything.
func (s *Stack[S]) CanRedo() bool { return len(s.undone) > 0 }

// Len returns the sizes of the undo and redo stacks.
func (s *Stack[S]) Len() (done, undone int) { return len(s.done), len(s.undone) }

// Clear forgets all history.
func (s *Stack[S]) Clear() {
	s.done, s.undone = nil, nil
}
