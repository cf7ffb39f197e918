package stats

import "strings"

// PathTree indexes every part file under the partitioned root as a
// directory tree, so a caller can repeatedly list or probe files under a
// partition prefix ("year=2026/month=01") without re-walking the
// filesystem on every call.
type PathTree struct {
	name     string
	isFile   bool
	children []*PathTree
}

// NewPathTree returns an empty root node.
func NewPathTree() *PathTree {
	return &PathTree{}
}

// AddPath inserts one "/"-separated relative file path into the tree.
func (n *PathTree) AddPath(path string) {
	n.addParts(path, strings.Split(path, "/"))
}

func (n *PathTree) addParts(fullPath string, parts []string) {
	if len(parts) == 1 {
		for _, c := range n.children {
			if c.name == parts[0] {
				return
			}
		}
		n.children = append(n.children, &PathTree{name: parts[0], isFile: true})
		return
	}
	for _, c := range n.children {
		if c.name == parts[0] {
			c.addParts(fullPath, parts[1:])
			return
		}
	}
	child := &PathTree{name: parts[0]}
	n.children = append(n.children, child)
	child.addParts(fullPath, parts[1:])
}

// Files returns every file path indexed under prefix ("" lists
// everything from the root).
func (n *PathTree) Files(prefix string) []string {
	if prefix == "" {
		return n.allFiles("")
	}
	node := n.descend(strings.Split(prefix, "/"))
	if node == nil {
		return nil
	}
	return node.allFiles(prefix)
}

func (n *PathTree) descend(parts []string) *PathTree {
	if len(parts) == 0 {
		return n
	}
	for _, c := range n.children {
		if c.name == parts[0] {
			return c.descend(parts[1:])
		}
	}
	return nil
}

func (n *PathTree) allFiles(base string) []string {
	var out []string
	for _, c := range n.children {
		path := c.name
		if base != "" {
			path = base + "/" + c.name
		}
		if c.isFile {
			out = append(out, path)
		} else {
			out = append(out, c.allFiles(path)...)
		}
	}
	return out
}

// HasFile reports whether path is indexed as a file in the tree.
func (n *PathTree) HasFile(path string) bool {
	parts := strings.Split(path, "/")
	node := n.descend(parts[:len(parts)-1])
	if node == nil {
		return false
	}
	for _, c := range node.children {
		if c.isFile && c.name == parts[len(parts)-1] {
			return true
		}
	}
	return false
}
