// Package phylo parses rooted phylogenetic trees and replays the
// Wright-Fisher simulator along their branches.
package phylo

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is one vertex of a rooted tree. Length is the incoming branch
// length (zero for the root). Genotype and Sequence are filled by the
// driver once the incoming branch has been simulated.
type Node struct {
	Name     string
	Length   float64
	Parent   *Node
	Children []*Node

	Genotype int
	Sequence string
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// LevelOrder visits the subtree rooted at n breadth-first. Children are
// visited in their stored order, so traversal is deterministic.
func (n *Node) LevelOrder(fn func(*Node)) {
	queue := []*Node{n}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		fn(node)
		queue = append(queue, node.Children...)
	}
}

// Leaves returns the leaves of the subtree in level order.
func (n *Node) Leaves() []*Node {
	var leaves []*Node
	n.LevelOrder(func(node *Node) {
		if node.IsLeaf() {
			leaves = append(leaves, node)
		}
	})
	return leaves
}

// Parse reads a newick string into a rooted tree. Branch lengths and
// internal node names are optional, polytomies are allowed; every leaf
// must carry a label.
func Parse(s string) (*Node, error) {
	p := &parser{input: strings.TrimSpace(s)}
	root, err := p.parseNode(nil)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == ';' {
		p.pos++
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trailing input at offset %d: %q", p.pos, p.input[p.pos:])
	}

	unlabeled := false
	root.LevelOrder(func(n *Node) {
		if n.IsLeaf() && n.Name == "" {
			unlabeled = true
		}
	})
	if unlabeled {
		return nil, fmt.Errorf("tree has a leaf without a label")
	}
	return root, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\n' || p.input[p.pos] == '\t' || p.input[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) parseNode(parent *Node) (*Node, error) {
	p.skipSpace()
	node := &Node{Parent: parent, Genotype: -1}

	if p.pos < len(p.input) && p.input[p.pos] == '(' {
		p.pos++
		for {
			child, err := p.parseNode(node)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)

			p.skipSpace()
			if p.pos >= len(p.input) {
				return nil, fmt.Errorf("unterminated subtree at offset %d", p.pos)
			}
			if p.input[p.pos] == ',' {
				p.pos++
				continue
			}
			if p.input[p.pos] == ')' {
				p.pos++
				break
			}
			return nil, fmt.Errorf("unexpected character %q at offset %d", p.input[p.pos], p.pos)
		}
	}

	node.Name = p.parseLabel()
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == ':' {
		p.pos++
		length, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, fmt.Errorf("negative branch length %v for node %q", length, node.Name)
		}
		node.Length = length
	}
	return node, nil
}

func (p *parser) parseLabel() string {
	start := p.pos
	for p.pos < len(p.input) && !strings.ContainsRune("(),:;", rune(p.input[p.pos])) {
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

func (p *parser) parseNumber() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && !strings.ContainsRune("(),:;", rune(p.input[p.pos])) {
		p.pos++
	}
	text := strings.TrimSpace(p.input[start:p.pos])
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("bad branch length %q at offset %d", text, start)
	}
	return v, nil
}

// Newick serializes the subtree with all names and branch lengths,
// terminated by a semicolon.
func (n *Node) Newick() string {
	var b strings.Builder
	n.writeNewick(&b, true)
	b.WriteByte(';')
	return b.String()
}

func (n *Node) writeNewick(b *strings.Builder, root bool) {
	if len(n.Children) > 0 {
		b.WriteByte('(')
		for i, child := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			child.writeNewick(b, false)
		}
		b.WriteByte(')')
	}
	b.WriteString(n.Name)
	if !root {
		b.WriteString(fmt.Sprintf(":%g", n.Length))
	}
}
