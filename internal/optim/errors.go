package optim

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorNode is a tree of diagnostic contexts. Each level names where an
// error arose, e.g. optimizer > kernel > stage. It never affects control flow.
type ErrorNode struct {
	Name  string
	Count int
	Last  error

	children []*ErrorNode
	index    map[string]*ErrorNode
}

// NewErrorNode creates a root node
func NewErrorNode(name string) *ErrorNode {
	return &ErrorNode{Name: name}
}

// Child returns the sub-context with the given name, creating it if needed
func (n *ErrorNode) Child(name string) *ErrorNode {
	if c, ok := n.index[name]; ok {
		return c
	}
	if n.index == nil {
		n.index = make(map[string]*ErrorNode)
	}
	c := NewErrorNode(name)
	n.index[name] = c
	n.children = append(n.children, c)
	return c
}

// Record notes an error at this level
func (n *ErrorNode) Record(err error) {
	n.Count++
	n.Last = err
}

// Children returns sub-contexts in creation order
func (n *ErrorNode) Children() []*ErrorNode {
	return append([]*ErrorNode(nil), n.children...)
}

// Total counts errors at this level and below
func (n *ErrorNode) Total() int {
	total := n.Count
	for _, c := range n.children {
		total += c.Total()
	}
	return total
}

// Find follows a path of names below n
func (n *ErrorNode) Find(path ...string) (*ErrorNode, bool) {
	cur := n
	for _, name := range path {
		next, ok := cur.index[name]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// String renders the branches that hold errors as an indented tree
func (n *ErrorNode) String() string {
	var sb strings.Builder
	n.write(&sb, 0)
	return sb.String()
}

func (n *ErrorNode) write(sb *strings.Builder, depth int) {
	if n.Total() == 0 && depth > 0 {
		return
	}
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.Name)
	if n.Count > 0 {
		fmt.Fprintf(sb, " (%d): %v", n.Count, n.Last)
	}
	sb.WriteByte('\n')
	for _, c := range n.children {
		c.write(sb, depth+1)
	}
}

// KernelCalculateEnergyError reports that a proposal could not be converted
// between the optimizer state and the kernel representation. The iteration
// is skipped.
type KernelCalculateEnergyError struct {
	Kernel string
	Stage  string
	Err    error
}

func (e *KernelCalculateEnergyError) Error() string {
	return fmt.Sprintf("kernel %s: %s: %v", e.Kernel, e.Stage, e.Err)
}

func (e *KernelCalculateEnergyError) Unwrap() error { return e.Err }

// Is matches any KernelCalculateEnergyError
func (e *KernelCalculateEnergyError) Is(target error) bool {
	_, ok := target.(*KernelCalculateEnergyError)
	return ok
}

// CreateError reports an optimizer that cannot be assembled
type CreateError struct {
	Field string
	Err   error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create optimizer: %s: %v", e.Field, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// Is matches any CreateError
func (e *CreateError) Is(target error) bool {
	_, ok := target.(*CreateError)
	return ok
}

// OptTerminatedEarlyError reports a run aborted before its termination
// condition was met. Errors holds the diagnostic tree gathered so far.
type OptTerminatedEarlyError struct {
	Iteration int
	Kernel    string
	Err       error
	Errors    *ErrorNode
}

func (e *OptTerminatedEarlyError) Error() string {
	if e.Kernel != "" {
		return fmt.Sprintf("optimization terminated early at iteration %d in kernel %s: %v", e.Iteration, e.Kernel, e.Err)
	}
	return fmt.Sprintf("optimization terminated early at iteration %d: %v", e.Iteration, e.Err)
}

func (e *OptTerminatedEarlyError) Unwrap() error { return e.Err }

// Is matches any OptTerminatedEarlyError
func (e *OptTerminatedEarlyError) Is(target error) bool {
	_, ok := target.(*OptTerminatedEarlyError)
	return ok
}

// recoverable reports whether err only invalidates the current iteration
func recoverable(err error) bool {
	var kce *KernelCalculateEnergyError
	return errors.As(err, &kce)
}
