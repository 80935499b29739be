// Package dom abstracts the page surface the reconciler works against:
// elements, attribute access, and child-list mutation observation. The
// in-memory implementation backs tests and headless runs.
package dom

// Element is a node in the observed page tree.
type Element interface {
	// Tag returns the element's tag name, lower case.
	Tag() string
	// Attr returns a named attribute and whether it is set.
	Attr(name string) (string, bool)
	// SetAttr sets a named attribute.
	SetAttr(name, value string)
	// Text returns the element's own text content.
	Text() string
	// SetText replaces the element's own text content.
	SetText(s string)
	// Children returns the current child elements in order.
	Children() []Element
	// Append adds a child at the end of the child list.
	Append(child Element)
	// Remove detaches a direct child. Unknown children are ignored.
	Remove(child Element)
	// Parent returns the parent element, or nil at the root.
	Parent() Element
}

// MutationKind distinguishes child additions from removals.
type MutationKind string

const (
	MutationAdded     MutationKind = "added"
	MutationRemoved   MutationKind = "removed"
	MutationAttribute MutationKind = "attribute"
)

// Mutation describes one change under an observed element: a child added or
// removed, or an attribute change on a descendant. Attr is set for attribute
// mutations only.
type Mutation struct {
	Kind MutationKind
	Node Element
	Attr string
}

// Observer delivers mutations for one target element's subtree.
type Observer interface {
	// Observe starts delivering mutations on target to fn. Only one target
	// per observer; calling Observe again replaces it.
	Observe(target Element, fn func([]Mutation)) error
	// Disconnect stops delivery. Safe to call more than once.
	Disconnect()
}

// Document is the page-level entry point.
type Document interface {
	// ElementByID resolves an element by its id attribute.
	ElementByID(id string) (Element, bool)
	// CreateElement builds a detached element with the given tag.
	CreateElement(tag string) Element
	// NewObserver builds an observer for elements of this document.
	NewObserver() Observer
}
