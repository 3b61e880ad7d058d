// Package tree holds the supervision tree and its ownership invariants.
//
// The Coordinator always has exactly one child, the root SubManager owning
// the whole project. Every SubManager owns one directory and its children own
// pairwise-disjoint strict subsets of it. Implementers own one file and have
// no children. Diagnosticians never appear here.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/internal/project"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// ErrNotFound is returned for unknown node IDs.
var ErrNotFound = errors.New("node not found")

// ErrInvariant reports a broken structural invariant.
var ErrInvariant = errors.New("tree invariant violated")

// Ownership is one row of the ownership map.
type Ownership struct {
	NodeID   string
	Role     models.Role
	Scope    string
	ParentID string
}

// Tree is the supervision tree. It is safe for concurrent use.
type Tree struct {
	// nodes maps node IDs to nodes.
	nodes map[string]*models.AgentNode
	// mu protects nodes.
	mu sync.RWMutex

	coordinatorID string
	rootID        string
	historyLimit  int
}

// New creates a tree holding a Coordinator and its root SubManager.
func New(historyLimit int) *Tree {
	now := time.Now()
	coord := &models.AgentNode{
		ID:        uuid.New().String(),
		Role:      models.RoleCoordinator,
		Status:    models.NodeStatusRunning,
		CreatedAt: now,
	}
	root := &models.AgentNode{
		ID:        uuid.New().String(),
		Role:      models.RoleSubManager,
		ParentID:  coord.ID,
		Scope:     ".",
		Status:    models.NodeStatusIdle,
		CreatedAt: now,
	}
	coord.Children = []string{root.ID}

	return &Tree{
		nodes: map[string]*models.AgentNode{
			coord.ID: coord,
			root.ID:  root,
		},
		coordinatorID: coord.ID,
		rootID:        root.ID,
		historyLimit:  historyLimit,
	}
}

// Restore rebuilds a tree from a persisted ownership map. The map must
// contain exactly one Coordinator and its root SubManager.
func Restore(rows []Ownership, historyLimit int) (*Tree, error) {
	t := &Tree{nodes: make(map[string]*models.AgentNode), historyLimit: historyLimit}
	now := time.Now()
	for _, row := range rows {
		t.nodes[row.NodeID] = &models.AgentNode{
			ID:        row.NodeID,
			Role:      row.Role,
			ParentID:  row.ParentID,
			Scope:     row.Scope,
			Status:    models.NodeStatusIdle,
			CreatedAt: now,
		}
		if row.Role == models.RoleCoordinator {
			t.coordinatorID = row.NodeID
		}
	}
	// Children are rebuilt in input order so restored trees list them stably.
	for _, row := range rows {
		if row.ParentID == "" {
			continue
		}
		parent, ok := t.nodes[row.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s references missing parent %s", ErrInvariant, row.NodeID, row.ParentID)
		}
		parent.Children = append(parent.Children, row.NodeID)
	}
	if t.coordinatorID == "" {
		return nil, fmt.Errorf("%w: no coordinator in ownership map", ErrInvariant)
	}
	coord := t.nodes[t.coordinatorID]
	coord.Status = models.NodeStatusRunning
	if len(coord.Children) != 1 {
		return nil, fmt.Errorf("%w: coordinator has %d children", ErrInvariant, len(coord.Children))
	}
	t.rootID = coord.Children[0]
	if err := t.CheckInvariants(); err != nil {
		return nil, err
	}
	return t, nil
}

// CoordinatorID returns the Coordinator's ID.
func (t *Tree) CoordinatorID() string {
	return t.coordinatorID
}

// RootID returns the root SubManager's ID.
func (t *Tree) RootID() string {
	return t.rootID
}

// Get returns a snapshot of the node.
func (t *Tree) Get(id string) (*models.AgentNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Has reports whether id is a live tree node.
func (t *Tree) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// Children returns snapshots of the node's children in spawn order.
func (t *Tree) Children(id string) []*models.AgentNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*models.AgentNode, 0, len(n.Children))
	for _, cid := range n.Children {
		if c, ok := t.nodes[cid]; ok {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Nodes returns snapshots of every node ordered by creation time.
func (t *Tree) Nodes() []*models.AgentNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.AgentNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of live nodes.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Spawn creates a SubManager or Implementer child of parentID owning scope.
// The scope must be a strict subset of the parent's directory and disjoint
// from every live sibling. The Coordinator cannot gain tree children.
func (t *Tree) Spawn(parentID string, role models.Role, scope, instruction string, docVersion int64) (*models.AgentNode, error) {
	if !role.OwnsScope() {
		return nil, fault.Permissionf(string(models.VerbSpawn), "%s is not a tree role", role)
	}
	norm, err := project.Normalize(scope)
	if err != nil {
		return nil, fault.Permissionf(string(models.VerbSpawn), "%v", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	switch parent.Role {
	case models.RoleCoordinator:
		return nil, fault.Permissionf(string(models.VerbSpawn),
			"the coordinator's only child is the root submanager; delegate to it or spawn a diagnostician")
	case models.RoleSubManager:
	default:
		return nil, fault.Permissionf(string(models.VerbSpawn), "%s nodes cannot have children", parent.Role)
	}
	if !project.StrictlyContains(parent.Scope, norm) {
		return nil, fault.Permissionf(string(models.VerbSpawn), "scope %q is not strictly inside %q", norm, parent.Scope)
	}
	for _, sid := range parent.Children {
		sib := t.nodes[sid]
		if sib != nil && project.Overlaps(sib.Scope, norm) {
			return nil, fault.Permissionf(string(models.VerbSpawn), "scope %q overlaps sibling %s owning %q", norm, sib.ID, sib.Scope)
		}
	}

	child := &models.AgentNode{
		ID:          uuid.New().String(),
		Role:        role,
		ParentID:    parentID,
		Scope:       norm,
		Status:      models.NodeStatusIdle,
		Instruction: instruction,
		DocVersion:  docVersion,
		CreatedAt:   time.Now(),
	}
	t.nodes[child.ID] = child
	parent.Children = append(parent.Children, child.ID)
	return child.Clone(), nil
}

// SetStatus updates a node's status.
func (t *Tree) SetStatus(id string, status models.NodeStatus) error {
	return t.update(id, func(n *models.AgentNode) { n.Status = status })
}

// Assign hands a node a new instruction and marks it idle for dispatch.
func (t *Tree) Assign(id, instruction string, docVersion int64) error {
	return t.update(id, func(n *models.AgentNode) {
		n.Instruction = instruction
		if docVersion > n.DocVersion {
			n.DocVersion = docVersion
		}
	})
}

// Record appends obs to the node's bounded history.
func (t *Tree) Record(id string, obs models.Observation) error {
	return t.update(id, func(n *models.AgentNode) {
		n.History = append(n.History, obs)
		if t.historyLimit > 0 && len(n.History) > t.historyLimit {
			n.History = append([]models.Observation(nil), n.History[len(n.History)-t.historyLimit:]...)
		}
	})
}

func (t *Tree) update(id string, fn func(*models.AgentNode)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(n)
	return nil
}

// Destroy removes the subtree rooted at id and returns the removed IDs.
// The Coordinator and the root SubManager cannot be destroyed.
func (t *Tree) Destroy(id string) ([]string, error) {
	if id == t.coordinatorID || id == t.rootID {
		return nil, fmt.Errorf("%w: %s is permanent", ErrInvariant, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if parent, ok := t.nodes[n.ParentID]; ok {
		parent.Children = removeID(parent.Children, id)
	}
	return t.destroyLocked(id), nil
}

// ResetRoot destroys everything below the root SubManager and returns it to
// idle with no instruction.
func (t *Tree) ResetRoot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.nodes[t.rootID]
	var removed []string
	for _, cid := range root.Children {
		removed = append(removed, t.destroyLocked(cid)...)
	}
	root.Children = nil
	root.Status = models.NodeStatusIdle
	root.Instruction = ""
	root.History = nil
	return removed
}

func (t *Tree) destroyLocked(id string) []string {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var removed []string
	for _, cid := range n.Children {
		removed = append(removed, t.destroyLocked(cid)...)
	}
	delete(t.nodes, id)
	return append(removed, id)
}

// OwnedByChild reports whether path lies in the scope of one of parentID's children.
func (t *Tree) OwnedByChild(parentID, path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return false
	}
	for _, cid := range parent.Children {
		if c := t.nodes[cid]; c != nil && project.Contains(c.Scope, path) {
			return true
		}
	}
	return false
}

// Ownership returns the ownership map ordered parents before children.
func (t *Tree) Ownership() []Ownership {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rows []Ownership
	var walk func(id string)
	walk = func(id string) {
		n, ok := t.nodes[id]
		if !ok {
			return
		}
		rows = append(rows, Ownership{NodeID: n.ID, Role: n.Role, Scope: n.Scope, ParentID: n.ParentID})
		for _, cid := range n.Children {
			walk(cid)
		}
	}
	walk(t.coordinatorID)
	return rows
}

// CheckInvariants verifies the structural invariants of the whole tree.
func (t *Tree) CheckInvariants() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	coord, ok := t.nodes[t.coordinatorID]
	if !ok || coord.Role != models.RoleCoordinator {
		return fmt.Errorf("%w: coordinator missing", ErrInvariant)
	}
	if len(coord.Children) != 1 || coord.Children[0] != t.rootID {
		return fmt.Errorf("%w: coordinator must have exactly one child", ErrInvariant)
	}
	for _, n := range t.nodes {
		switch n.Role {
		case models.RoleImplementer:
			if len(n.Children) > 0 {
				return fmt.Errorf("%w: implementer %s has children", ErrInvariant, n.ID)
			}
		case models.RoleSubManager:
			for i, a := range n.Children {
				ca := t.nodes[a]
				if ca == nil {
					return fmt.Errorf("%w: %s lists missing child %s", ErrInvariant, n.ID, a)
				}
				if !project.StrictlyContains(n.Scope, ca.Scope) {
					return fmt.Errorf("%w: %s scope %q escapes parent %q", ErrInvariant, ca.ID, ca.Scope, n.Scope)
				}
				for _, b := range n.Children[i+1:] {
					if cb := t.nodes[b]; cb != nil && project.Overlaps(ca.Scope, cb.Scope) {
						return fmt.Errorf("%w: siblings %s and %s overlap", ErrInvariant, ca.ID, cb.ID)
					}
				}
			}
		case models.RoleDiagnostician:
			return fmt.Errorf("%w: diagnostician %s in tree", ErrInvariant, n.ID)
		}
	}
	return nil
}

// Disjoint reports the first overlapping pair among scopes.
func Disjoint(scopes []string) (a, b string, ok bool) {
	for i := range scopes {
		for j := i + 1; j < len(scopes); j++ {
			if project.Overlaps(scopes[i], scopes[j]) {
				return scopes[i], scopes[j], false
			}
		}
	}
	return "", "", true
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
