package session

import "github.com/pi-agent/pi/pkg/types"

// TreeNode is one entry in the session tree view.
type TreeNode struct {
	Entry    types.Entry `json:"entry"`
	Label    string      `json:"label,omitempty"`
	Children []*TreeNode `json:"children"`
}

// Tree returns the session as a forest. Roots are entries without a parent,
// with a parent the store does not hold, or that name themselves as parent.
// Children are listed in append order.
func (s *Store) Tree() []*TreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make(map[string]*TreeNode, len(s.entries))
	for _, e := range s.entries {
		id := e.Base().ID
		nodes[id] = &TreeNode{Entry: e, Label: s.labels[id], Children: []*TreeNode{}}
	}

	var roots []*TreeNode
	for _, e := range s.entries {
		b := e.Base()
		node := nodes[b.ID]
		parent, ok := nodes[b.Parent()]
		if b.Parent() == "" || b.Parent() == b.ID || !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// Branch returns the path from the root to fromID (the leaf when fromID is ""),
// following parent links. An unknown id yields an empty path.
func (s *Store) Branch(fromID string) []types.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fromID == "" {
		fromID = s.leafID
	}
	return s.pathTo(fromID)
}

// pathTo walks parent links from id back to a root. The caller holds the lock.
func (s *Store) pathTo(id string) []types.Entry {
	var path []types.Entry
	seen := make(map[string]bool)
	for cur, ok := s.byID[id]; ok; cur, ok = s.byID[cur.Base().Parent()] {
		b := cur.Base()
		if seen[b.ID] {
			break
		}
		seen[b.ID] = true
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Children returns the direct children of parentID in append order.
func (s *Store) Children(parentID string) []types.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Entry
	for _, e := range s.entries {
		if e.Base().Parent() == parentID && e.Base().ID != parentID {
			out = append(out, e)
		}
	}
	return out
}

// CommonAncestor returns the deepest entry shared by the paths to a and b, or "".
func (s *Store) CommonAncestor(a, b string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	onA := make(map[string]bool)
	for _, e := range s.pathTo(a) {
		onA[e.Base().ID] = true
	}
	pathB := s.pathTo(b)
	for i := len(pathB) - 1; i >= 0; i-- {
		if id := pathB[i].Base().ID; onA[id] {
			return id
		}
	}
	return ""
}
