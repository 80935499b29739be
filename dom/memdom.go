package dom

import "sync"

// MemDocument is an in-memory Document. Mutations on its elements are
// delivered synchronously to attached observers.
type MemDocument struct {
	mu   sync.Mutex
	root *node
	ids  map[string]*node
}

// NewMemDocument builds a document with an empty body element as root.
func NewMemDocument() *MemDocument {
	doc := &MemDocument{ids: make(map[string]*node)}
	doc.root = &node{doc: doc, tag: "body", attrs: make(map[string]string)}
	return doc
}

// Root returns the document's body element.
func (d *MemDocument) Root() Element { return d.root }

// CreateElement builds a detached element owned by this document.
func (d *MemDocument) CreateElement(tag string) Element {
	return &node{doc: d, tag: tag, attrs: make(map[string]string)}
}

// ElementByID resolves an attached element by its id attribute.
func (d *MemDocument) ElementByID(id string) (Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.ids[id]
	return n, ok
}

// NewObserver builds an observer for this document's elements.
func (d *MemDocument) NewObserver() Observer { return &memObserver{} }

func (d *MemDocument) index(n *node) {
	n.mu.Lock()
	id := n.attrs["id"]
	children := append([]*node(nil), n.children...)
	n.mu.Unlock()

	if id != "" {
		d.mu.Lock()
		d.ids[id] = n
		d.mu.Unlock()
	}
	for _, child := range children {
		d.index(child)
	}
}

func (d *MemDocument) unindex(n *node) {
	n.mu.Lock()
	id := n.attrs["id"]
	children := append([]*node(nil), n.children...)
	n.mu.Unlock()

	if id != "" {
		d.mu.Lock()
		delete(d.ids, id)
		d.mu.Unlock()
	}
	for _, child := range children {
		d.unindex(child)
	}
}

type node struct {
	mu        sync.Mutex
	doc       *MemDocument
	tag       string
	attrs     map[string]string
	text      string
	parent    *node
	children  []*node
	observers []*memObserver
}

func (n *node) Tag() string { return n.tag }

func (n *node) Attr(name string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.attrs[name]
	return v, ok
}

func (n *node) SetAttr(name, value string) {
	n.mu.Lock()
	previous, existed := n.attrs[name]
	n.attrs[name] = value
	n.mu.Unlock()
	if name == "id" {
		n.doc.mu.Lock()
		n.doc.ids[value] = n
		n.doc.mu.Unlock()
	}
	if existed && previous == value {
		return
	}
	// Attribute changes surface on observers anywhere up the ancestor chain,
	// mirroring subtree attribute observation.
	for ancestor := n.parentNode(); ancestor != nil; ancestor = ancestor.parentNode() {
		ancestor.mu.Lock()
		observers := append([]*memObserver(nil), ancestor.observers...)
		ancestor.mu.Unlock()
		for _, obs := range observers {
			obs.deliver([]Mutation{{Kind: MutationAttribute, Node: n, Attr: name}})
		}
	}
}

func (n *node) parentNode() *node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

func (n *node) Text() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

func (n *node) SetText(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.text = s
}

func (n *node) Children() []Element {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Element, len(n.children))
	for i, child := range n.children {
		out[i] = child
	}
	return out
}

func (n *node) Parent() Element {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) Append(child Element) {
	c, ok := child.(*node)
	if !ok {
		return
	}
	n.mu.Lock()
	c.parent = n
	n.children = append(n.children, c)
	observers := append([]*memObserver(nil), n.observers...)
	n.mu.Unlock()

	n.doc.index(c)
	for _, obs := range observers {
		obs.deliver([]Mutation{{Kind: MutationAdded, Node: c}})
	}
}

func (n *node) Remove(child Element) {
	c, ok := child.(*node)
	if !ok {
		return
	}
	n.mu.Lock()
	idx := -1
	for i, existing := range n.children {
		if existing == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		n.mu.Unlock()
		return
	}
	n.children = append(n.children[:idx], n.children[idx+1:]...)
	c.parent = nil
	observers := append([]*memObserver(nil), n.observers...)
	n.mu.Unlock()

	n.doc.unindex(c)
	for _, obs := range observers {
		obs.deliver([]Mutation{{Kind: MutationRemoved, Node: c}})
	}
}

type memObserver struct {
	mu     sync.Mutex
	target *node
	fn     func([]Mutation)
}

func (o *memObserver) Observe(target Element, fn func([]Mutation)) error {
	t, ok := target.(*node)
	if !ok {
		return errNotMemElement
	}

	o.Disconnect()

	o.mu.Lock()
	o.target = t
	o.fn = fn
	o.mu.Unlock()

	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
	return nil
}

func (o *memObserver) Disconnect() {
	o.mu.Lock()
	target := o.target
	o.target = nil
	o.fn = nil
	o.mu.Unlock()

	if target == nil {
		return
	}
	target.mu.Lock()
	for i, existing := range target.observers {
		if existing == o {
			target.observers = append(target.observers[:i], target.observers[i+1:]...)
			break
		}
	}
	target.mu.Unlock()
}

func (o *memObserver) deliver(muts []Mutation) {
	o.mu.Lock()
	fn := o.fn
	o.mu.Unlock()
	if fn != nil {
		fn(muts)
	}
}
