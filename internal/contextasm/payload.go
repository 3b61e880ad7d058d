package contextasm

import (
	"time"

	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/project"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// FileView is one file shown to a worker.
type FileView struct {
	Path      string
	Content   string
	Truncated bool
	// Withheld explains why the content is not shown.
	Withheld string
}

// ChildView summarizes a child node for its parent.
type ChildView struct {
	ID          string
	Role        models.Role
	Scope       string
	Status      models.NodeStatus
	Instruction string
}

// Payload is everything one worker sees for one turn.
type Payload struct {
	NodeID      string
	Role        models.Role
	Phase       models.Phase
	Statement   string
	Scope       string
	Instruction string
	Allowed     []models.Verb
	Commands    string

	DocVersion    int64
	Documentation string

	Listing    []project.Entry
	ListingCut bool
	Files      []FileView
	// Scratch holds the Diagnostician's own workspace files, named relative
	// to the workspace.
	Scratch []FileView

	Recent    []models.Observation
	Children  []ChildView
	Proposals []docstore.Proposal
	Notes     []string

	BuiltAt time.Time
}

// Paths returns every project path the payload exposes.
func (p *Payload) Paths() []string {
	paths := make([]string, 0, len(p.Listing)+len(p.Files))
	for _, e := range p.Listing {
		paths = append(paths, e.Path)
	}
	for _, f := range p.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Size returns the number of content bytes carried by the payload.
func (p *Payload) Size() int {
	n := len(p.Documentation)
	for _, f := range p.Files {
		n += len(f.Content)
	}
	for _, f := range p.Scratch {
		n += len(f.Content)
	}
	for _, o := range p.Recent {
		n += len(o.Text)
	}
	for _, prop := range p.Proposals {
		n += len(prop.Content)
	}
	for _, note := range p.Notes {
		n += len(note)
	}
	return n
}
