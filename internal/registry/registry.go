// Package registry is the arena of live Diagnosticians.
//
// Each entry is keyed by a spawn ID and owns exactly one scratch workspace.
// Finishing a Diagnostician deletes its entry and its workspace in the same
// call; nothing is left for a later sweep.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/internal/policy"
	"github.com/ShayCichocki/arbor/internal/protect"
	"github.com/ShayCichocki/arbor/internal/workspace"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// ErrNotFound is returned for unknown spawn IDs.
var ErrNotFound = errors.New("diagnostician not found")

// Entry is one live Diagnostician.
type Entry struct {
	Node      *models.AgentNode
	Workspace *workspace.Workspace
	// Focus lists project paths the Diagnostician was asked to investigate.
	Focus []string
}

// Registry tracks live Diagnosticians. It is safe for concurrent use.
type Registry struct {
	// entries maps spawn IDs to live Diagnosticians.
	entries map[string]*Entry
	// mu protects entries and the nodes they hold.
	mu sync.RWMutex

	root        string
	scratchBase string
	detect      *protect.Detector
	scratch     policy.ScratchPolicy
	logger      *zap.Logger
}

// New creates a registry for the project at root. Scratch workspaces are
// created under scratchBase, or the system temp directory when empty.
func New(root, scratchBase string, detect *protect.Detector, scratch policy.ScratchPolicy, logger *zap.Logger) *Registry {
	if detect == nil {
		detect = protect.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries:     make(map[string]*Entry),
		root:        root,
		scratchBase: scratchBase,
		detect:      detect,
		scratch:     scratch,
		logger:      logger.Named("registry"),
	}
}

// Spawn allocates a spawn ID and a scratch workspace for a new Diagnostician
// working for parentID.
func (r *Registry) Spawn(parentID, instruction string, focus []string, docVersion int64) (*models.AgentNode, error) {
	id := uuid.New().String()
	ws, err := workspace.Create(r.scratchBase, id)
	if err != nil {
		return nil, err
	}

	node := &models.AgentNode{
		ID:          id,
		Role:        models.RoleDiagnostician,
		ParentID:    parentID,
		Status:      models.NodeStatusIdle,
		Instruction: instruction,
		DocVersion:  docVersion,
		CreatedAt:   time.Now(),
	}

	r.mu.Lock()
	r.entries[id] = &Entry{Node: node, Workspace: ws, Focus: append([]string(nil), focus...)}
	r.mu.Unlock()

	r.logger.Info("diagnostician spawned",
		zap.String("id", id),
		zap.String("parent", parentID),
		zap.String("workspace", ws.Dir))
	return node.Clone(), nil
}

// Get returns a snapshot of the Diagnostician's node and its workspace.
func (r *Registry) Get(id string) (*models.AgentNode, *workspace.Workspace, []string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, nil, false
	}
	return e.Node.Clone(), e.Workspace, append([]string(nil), e.Focus...), true
}

// Has reports whether id is a live Diagnostician.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// List returns snapshots of all live Diagnosticians ordered by spawn time.
func (r *Registry) List() []*models.AgentNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]*models.AgentNode, 0, len(r.entries))
	for _, e := range r.entries {
		nodes = append(nodes, e.Node.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].CreatedAt.Before(nodes[j].CreatedAt) })
	return nodes
}

// Count returns the number of live Diagnosticians.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetStatus updates a Diagnostician's status.
func (r *Registry) SetStatus(id string, status models.NodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Node.Status = status
	return nil
}

// Record appends obs to the Diagnostician's history, keeping at most limit entries.
func (r *Registry) Record(id string, obs models.Observation, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Node.History = appendBounded(e.Node.History, obs, limit)
	return nil
}

// WriteScratch writes a scratch file for Diagnostician id.
//
// Targets outside the workspace or inside tracked project source are
// rejected with a permission error. Content dominated by fresh definitions is
// written but returned with a warning for the worker.
func (r *Registry) WriteScratch(id, name, content string) (abs string, warning string, err error) {
	_, ws, _, ok := r.Get(id)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	target, err := ws.Resolve(name)
	if err != nil {
		return "", "", fault.Permissionf(string(models.VerbWriteScratch), "%v", err)
	}
	if r.detect.IsTracked(r.root, target) {
		return "", "", fault.Permissionf(string(models.VerbWriteScratch), "%q is tracked project source", name)
	}
	if len(content) > r.scratch.MaxFileBytes {
		return "", "", fault.Permissionf(string(models.VerbWriteScratch), "scratch file exceeds %d bytes", r.scratch.MaxFileBytes)
	}

	abs, err = ws.Write(name, content)
	if err != nil {
		return "", "", err
	}

	profile := protect.Profile(name, content)
	if ratio := profile.DefinitionRatio(); ratio > r.scratch.MaxDefinitionRatio {
		warning = fmt.Sprintf("scratch file is %.0f%% definitions; call and import existing code instead of re-implementing it", ratio*100)
		r.logger.Warn("scratch file looks like a reimplementation",
			zap.String("id", id),
			zap.String("file", name),
			zap.Float64("definition_ratio", ratio))
	}
	return abs, warning, nil
}

// ScriptPath resolves a scratch script for running. The script must exist
// inside the Diagnostician's workspace.
func (r *Registry) ScriptPath(id, name string) (dir string, rel string, err error) {
	_, ws, _, ok := r.Get(id)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	abs, err := ws.Resolve(name)
	if err != nil {
		return "", "", fault.Permissionf(string(models.VerbRunScratch), "%v", err)
	}
	if _, err := ws.Read(name, 1); err != nil {
		return "", "", fault.Permissionf(string(models.VerbRunScratch), "scratch file %q does not exist", name)
	}
	rel, err = relTo(ws.Dir, abs)
	if err != nil {
		return "", "", err
	}
	return ws.Dir, rel, nil
}

// Finish records report, removes the Diagnostician and its workspace, and
// returns the report stamped with the reporter for propagation to the parent.
func (r *Registry) Finish(id string, report *models.Report) (*models.Report, string, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if report == nil {
		report = &models.Report{Status: models.ReportFail, Summary: "finished without a report"}
	}
	out := *report
	out.From = id
	out.Role = models.RoleDiagnostician

	if err := e.Workspace.Remove(); err != nil {
		r.logger.Error("remove scratch workspace", zap.String("id", id), zap.Error(err))
	}
	r.logger.Info("diagnostician finished",
		zap.String("id", id),
		zap.String("parent", e.Node.ParentID),
		zap.String("status", string(out.Status)))
	return &out, e.Node.ParentID, nil
}

// DestroyAll removes every live Diagnostician and returns their IDs.
func (r *Registry) DestroyAll() []string {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	ids := make([]string, 0, len(entries))
	for id, e := range entries {
		if err := e.Workspace.Remove(); err != nil {
			r.logger.Error("remove scratch workspace", zap.String("id", id), zap.Error(err))
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func appendBounded(history []models.Observation, obs models.Observation, limit int) []models.Observation {
	history = append(history, obs)
	if limit > 0 && len(history) > limit {
		history = append([]models.Observation(nil), history[len(history)-limit:]...)
	}
	return history
}

func relTo(base, abs string) (string, error) {
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
