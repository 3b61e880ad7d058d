// Package contextasm builds the bounded per-turn input for a worker.
//
// A payload carries the documentation excerpt for the worker's scope, the
// contents of files strictly inside that scope, the worker's most recent
// results and a statement of the current phase. Nothing from a sibling
// subtree is ever included; Verify enforces this before a payload leaves the
// engine.
package contextasm

import (
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/arbor/internal/capability"
	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/policy"
	"github.com/ShayCichocki/arbor/internal/project"
	"github.com/ShayCichocki/arbor/internal/workspace"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// ErrScopeLeak reports a payload exposing a path outside the worker's scope.
var ErrScopeLeak = errors.New("context exposes out-of-scope path")

// ErrStaleDocumentation reports a payload older than the node's spawn snapshot.
var ErrStaleDocumentation = errors.New("context documentation older than spawn snapshot")

// Input is what the engine knows about the node taking a turn.
type Input struct {
	Node     *models.AgentNode
	Phase    models.Phase
	Children []*models.AgentNode
	// Workspace and Focus are set for Diagnosticians.
	Workspace *workspace.Workspace
	Focus     []string
	// Notes are human messages for the Coordinator.
	Notes []string
}

// Assembler builds payloads.
type Assembler struct {
	files  *project.Tree
	docs   *docstore.Store
	policy *policy.Config
	// ownedByChild reports whether a path belongs to one of the node's children.
	ownedByChild func(parentID, path string) bool
}

// New creates an Assembler.
func New(files *project.Tree, docs *docstore.Store, pol *policy.Config, ownedByChild func(parentID, path string) bool) *Assembler {
	if ownedByChild == nil {
		ownedByChild = func(string, string) bool { return false }
	}
	return &Assembler{files: files, docs: docs, policy: pol, ownedByChild: ownedByChild}
}

// EffectiveScope returns the part of the tree a node may see. The
// Coordinator and Diagnosticians see the whole tree.
func EffectiveScope(node *models.AgentNode) string {
	if node.Role.OwnsScope() && node.Scope != "" {
		return node.Scope
	}
	return "."
}

// Build assembles and verifies the payload for one turn.
func (a *Assembler) Build(in Input) (*Payload, error) {
	node := in.Node
	scope := EffectiveScope(node)
	cp := a.policy.Context
	snap := a.docs.Snapshot()

	p := &Payload{
		NodeID:      node.ID,
		Role:        node.Role,
		Phase:       in.Phase,
		Statement:   Statement(node.Role, in.Phase),
		Scope:       scope,
		Instruction: node.Instruction,
		Allowed:     capability.Allowed(node.Role, in.Phase),
		Commands:    a.policy.Commands.Describe(a.policy.RuleFor(node.Role, in.Phase)),
		DocVersion:  snap.Version,
		Recent:      recent(node.History, cp.RecentResults),
		BuiltAt:     time.Now(),
	}

	switch node.Role {
	case models.RoleCoordinator:
		p.Documentation = capString(snap.Content, cp.MaxDocBytes)
		p.Notes = append([]string(nil), in.Notes...)
	default:
		p.Documentation = a.docs.Excerpt(scope, cp.MaxDocBytes)
	}

	for _, c := range in.Children {
		p.Children = append(p.Children, ChildView{
			ID: c.ID, Role: c.Role, Scope: c.Scope, Status: c.Status, Instruction: c.Instruction,
		})
	}

	// A quarter of the budget is reserved for recent results.
	reserve := cp.MaxTotalBytes / 4
	budget := cp.MaxTotalBytes - len(p.Documentation) - reserve
	for _, n := range p.Notes {
		budget -= len(n)
	}
	var err error
	switch node.Role {
	case models.RoleCoordinator:
		p.Listing, p.ListingCut, err = a.listing(".", 2)
	case models.RoleSubManager:
		// A directory the SubManager has not created yet is an empty listing.
		if err = a.requireDir(scope); err == nil && a.files.IsDir(scope) {
			p.Listing, p.ListingCut, err = a.listing(scope, cp.ListingDepth)
		}
		if err == nil && a.files.IsDir(scope) {
			var direct []string
			direct, err = a.files.Files(scope)
			var unowned []string
			for _, f := range direct {
				if !a.ownedByChild(node.ID, f) {
					unowned = append(unowned, f)
				}
			}
			p.Files = a.readFiles(unowned, &budget)
		}
	case models.RoleImplementer:
		p.Files = a.readFiles([]string{scope}, &budget)
	case models.RoleDiagnostician:
		p.Listing, p.ListingCut, err = a.listing(".", cp.ListingDepth)
		if err == nil {
			p.Files = a.readFiles(a.focusFiles(in.Focus), &budget)
		}
		if err == nil && in.Workspace != nil {
			p.Scratch, err = a.scratchFiles(in.Workspace, &budget)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("assemble context for %s: %w", node.ID, err)
	}

	if err := p.Verify(scope, node.DocVersion); err != nil {
		return nil, err
	}

	budget += reserve
	p.Recent = fitRecent(p.Recent, &budget)
	if node.Role == models.RoleCoordinator {
		// Proposals are shown once; whatever does not fit waits for a later turn.
		p.Proposals = a.docs.TakeProposals(budget)
	}
	return p, nil
}

// Verify checks that every exposed path lies inside scope and that the
// documentation is at least as new as minVersion.
func (p *Payload) Verify(scope string, minVersion int64) error {
	for _, path := range p.Paths() {
		if !project.Contains(scope, path) {
			return fmt.Errorf("%w: %q outside %q for node %s", ErrScopeLeak, path, scope, p.NodeID)
		}
	}
	if p.DocVersion < minVersion {
		return fmt.Errorf("%w: version %d < %d for node %s", ErrStaleDocumentation, p.DocVersion, minVersion, p.NodeID)
	}
	return nil
}

// requireDir rejects a scope that exists as something other than a directory.
func (a *Assembler) requireDir(scope string) error {
	if a.files.Exists(scope) && !a.files.IsDir(scope) {
		return fmt.Errorf("scope %q is not a directory", scope)
	}
	return nil
}

func (a *Assembler) listing(dir string, depth int) ([]project.Entry, bool, error) {
	if !a.files.IsDir(dir) {
		return nil, false, nil
	}
	return a.files.List(dir, depth, a.policy.Context.MaxListingEntries, nil)
}

// focusFiles expands focus paths into files, one directory level deep.
func (a *Assembler) focusFiles(focus []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range focus {
		norm, err := project.Normalize(f)
		if err != nil || seen[norm] {
			continue
		}
		seen[norm] = true
		if a.files.IsDir(norm) {
			files, err := a.files.Files(norm)
			if err == nil {
				out = append(out, files...)
			}
			continue
		}
		if a.files.Exists(norm) {
			out = append(out, norm)
		}
	}
	return out
}

func (a *Assembler) readFiles(paths []string, budget *int) []FileView {
	var views []FileView
	for _, path := range paths {
		if a.files.Detector().IsIgnored(path) {
			continue
		}
		if !a.files.Exists(path) {
			views = append(views, FileView{Path: path, Withheld: "file does not exist yet"})
			continue
		}
		if sensitive, reason := a.files.Detector().IsSensitive(path); sensitive {
			views = append(views, FileView{Path: path, Withheld: reason})
			continue
		}
		if *budget <= 0 {
			views = append(views, FileView{Path: path, Withheld: "context budget exhausted"})
			continue
		}
		max := a.policy.Context.MaxFileBytes
		if max > *budget {
			max = *budget
		}
		content, truncated, err := a.files.ReadFile(path, max)
		if err != nil {
			views = append(views, FileView{Path: path, Withheld: err.Error()})
			continue
		}
		*budget -= len(content)
		views = append(views, FileView{Path: path, Content: content, Truncated: truncated})
	}
	return views
}

func (a *Assembler) scratchFiles(ws *workspace.Workspace, budget *int) ([]FileView, error) {
	names, err := ws.Files()
	if err != nil {
		return nil, err
	}
	var views []FileView
	for _, name := range names {
		max := a.policy.Context.MaxFileBytes
		if max > *budget {
			max = *budget
		}
		if max <= 0 {
			views = append(views, FileView{Path: name, Withheld: "context budget exhausted"})
			continue
		}
		content, err := ws.Read(name, max+1)
		if err != nil {
			return nil, err
		}
		truncated := len(content) > max
		if truncated {
			content = content[:max]
		}
		*budget -= len(content)
		views = append(views, FileView{Path: name, Content: content, Truncated: truncated})
	}
	return views, nil
}

func recent(history []models.Observation, n int) []models.Observation {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return append([]models.Observation(nil), history...)
}

// fitRecent caps observation text newest first against budget. Older
// observations that no longer fit keep their kind with the text cut.
func fitRecent(obs []models.Observation, budget *int) []models.Observation {
	for i := len(obs) - 1; i >= 0; i-- {
		room := max(*budget, 0)
		if len(obs[i].Text) > room {
			obs[i].Text = obs[i].Text[:room] + "\n...[truncated]"
		}
		*budget -= len(obs[i].Text)
	}
	return obs
}

func capString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
