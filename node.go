package imwire

import (
	"fmt"
	"strings"
)

// Node is the in-memory form of one stanza, or one child of a stanza. A
// Node has either Data or Children, never both; the writer relies on this
// invariant and the reader never produces a Node that violates it.
type Node struct {
	Name       string
	Attributes map[string]string
	Data       []byte
	Children   []*Node
}

// NewNode constructs a Node. children may be a single *Node, a []*Node, or
// nil; anything else is normalised to an empty child list.
func NewNode(name string, attrs map[string]string, data []byte, children interface{}) *Node {
	n := &Node{
		Name:       name,
		Attributes: attrs,
		Data:       data,
	}
	switch c := children.(type) {
	case nil:
	case *Node:
		if c != nil {
			n.Children = []*Node{c}
		}
	case []*Node:
		n.Children = c
	}
	return n
}

// Attr returns the named attribute and whether it was present.
func (n *Node) Attr(key string) (string, bool) {
	if n.Attributes == nil {
		return "", false
	}
	v, ok := n.Attributes[key]
	return v, ok
}

// AttrDefault returns the named attribute, or def if it is absent.
func (n *Node) AttrDefault(key, def string) string {
	if v, ok := n.Attr(key); ok {
		return v
	}
	return def
}

// HasAttr reports whether the named attribute is present.
func (n *Node) HasAttr(key string) bool {
	_, ok := n.Attr(key)
	return ok
}

// SetAttr sets the named attribute, allocating the map if necessary.
func (n *Node) SetAttr(key, value string) {
	if n.Attributes == nil {
		n.Attributes = make(map[string]string)
	}
	n.Attributes[key] = value
}

// AddChild appends a child node.
func (n *Node) AddChild(child *Node) {
	n.Children = append(n.Children, child)
}

// Child returns the first child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// DataString returns Data interpreted as UTF-8 text.
func (n *Node) DataString() string {
	return string(n.Data)
}

// String renders a compact, debug-printable form of the node tree.
func (n *Node) String() string {
	var b strings.Builder
	n.writeString(&b)
	return b.String()
}

func (n *Node) writeString(b *strings.Builder) {
	b.WriteString(n.Name)
	if len(n.Attributes) > 0 {
		b.WriteByte('{')
		first := true
		for k, v := range n.Attributes {
			if !first {
				b.WriteByte(' ')
			}
			first = false
			fmt.Fprintf(b, "%s=%q", k, v)
		}
		b.WriteByte('}')
	}
	switch {
	case len(n.Data) > 0:
		fmt.Fprintf(b, "[%q]", n.Data)
	case len(n.Children) > 0:
		b.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			c.writeString(b)
		}
		b.WriteByte(')')
	}
}
