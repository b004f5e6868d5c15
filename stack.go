package glean

// Stack is a persistent LIFO list. Push returns a new stack sharing its
// tail with the receiver, so a Stack is never modified once created and
// stacks may alias each other freely.
//
// The zero value is an empty stack.
type Stack[T any] struct {
	top *stackNode[T]
}

type stackNode[T any] struct {
	value T
	next  *stackNode[T]
	depth int // number of nodes from the bottom, inclusive
}

// ConditionStack is the stack of terms asserted along a path.
type ConditionStack = Stack[Term]

// Push returns a new stack with v on top.
func (s Stack[T]) Push(v T) Stack[T] {
	return Stack[T]{top: &stackNode[T]{value: v, next: s.top, depth: s.Len() + 1}}
}

// Pop returns the stack without its top element.
// Popping an empty stack returns an empty stack.
func (s Stack[T]) Pop() Stack[T] {
	if s.top == nil {
		return s
	}
	return Stack[T]{top: s.top.next}
}

// Peek returns the top element, if any.
func (s Stack[T]) Peek() (v T, ok bool) {
	if s.top == nil {
		return v, false
	}
	return s.top.value, true
}

// Len returns the number of elements.
func (s Stack[T]) Len() int {
	if s.top == nil {
		return 0
	}
	return s.top.depth
}

// Empty returns true if the stack has no elements.
func (s Stack[T]) Empty() bool { return s.top == nil }

// Same returns true if both stacks share the same top node.
func (s Stack[T]) Same(other Stack[T]) bool { return s.top == other.top }

// Slice returns the elements from bottom to top.
func (s Stack[T]) Slice() []T {
	a := make([]T, s.Len())
	for n := s.top; n != nil; n = n.next {
		a[n.depth-1] = n.value
	}
	return a
}

// CommonAncestor returns the longest tail shared by s and other.
// Nodes are compared by identity, never by value.
func (s Stack[T]) CommonAncestor(other Stack[T]) Stack[T] {
	a, b := s.top, other.top

	// Align both cursors to the same depth before walking down together.
	for a != nil && b != nil && a.depth > b.depth {
		a = a.next
	}
	for a != nil && b != nil && b.depth > a.depth {
		b = b.next
	}
	for a != nil && b != nil && a != b {
		a, b = a.next, b.next
	}
	if a != b {
		return Stack[T]{}
	}
	return Stack[T]{top: a}
}

// MergeStacks combines stacks into one holding every element of every input.
// The longest stack is used as the base; for each other stack, the elements
// above its common ancestor with the base are pushed in bottom to top order.
// Elements shared by several inputs above the base are pushed once.
func MergeStacks[T any](stacks ...Stack[T]) Stack[T] {
	if len(stacks) == 0 {
		return Stack[T]{}
	}

	base := stacks[0]
	for _, s := range stacks[1:] {
		if s.Len() > base.Len() {
			base = s
		}
	}

	result := base
	copied := make(map[*stackNode[T]]struct{})
	for _, s := range stacks {
		if s.Same(base) {
			continue
		}

		ancestor := s.CommonAncestor(base)
		var suffix []*stackNode[T]
		for n := s.top; n != ancestor.top; n = n.next {
			suffix = append(suffix, n)
		}
		for i := len(suffix) - 1; i >= 0; i-- {
			if _, ok := copied[suffix[i]]; ok {
				continue
			}
			copied[suffix[i]] = struct{}{}
			result = result.Push(suffix[i].value)
		}
	}
	return result
}
