// Package stage defines the closed set of delivery workflow stages and
// their static metadata. The set is fixed at compile time; stages are
// never represented as free-form strings inside the core.
package stage

import "fmt"

// Stage is one of the nine fixed phases of the delivery workflow.
type Stage string

const (
	InitialReview     Stage = "initial_review"
	AIResearch        Stage = "ai_research"
	DesignMockup      Stage = "design_mockup"
	ContentCollection Stage = "content_collection"
	Development       Stage = "development"
	QualityAssurance  Stage = "quality_assurance"
	ClientPreview     Stage = "client_preview"
	Deployment        Stage = "deployment"
	Delivered         Stage = "delivered"
)

// Actor identifies who executes a stage.
type Actor string

const (
	ActorAI    Actor = "ai"
	ActorHuman Actor = "human"
)

// Meta holds the static metadata attached to each stage.
type Meta struct {
	DisplayName      string
	Actor            Actor
	RequiresApproval bool
	DurationHours    int
	// ApprovalType is the remote backend's approval category tag.
	// Empty for stages that do not gate on client approval.
	ApprovalType string
}

// ordered is the fixed total order of the workflow.
var ordered = [...]Stage{
	InitialReview,
	AIResearch,
	DesignMockup,
	ContentCollection,
	Development,
	QualityAssurance,
	ClientPreview,
	Deployment,
	Delivered,
}

var metadata = map[Stage]Meta{
	InitialReview:     {DisplayName: "Initial Review & Research Setup", Actor: ActorHuman, DurationHours: 2},
	AIResearch:        {DisplayName: "AI Research & Analysis", Actor: ActorAI, DurationHours: 2},
	DesignMockup:      {DisplayName: "Design Mockup Creation", Actor: ActorAI, RequiresApproval: true, DurationHours: 8, ApprovalType: "design_mockup"},
	ContentCollection: {DisplayName: "Content Collection & SEO", Actor: ActorAI, RequiresApproval: true, DurationHours: 6, ApprovalType: "content_review"},
	Development:       {DisplayName: "Full-Stack Development", Actor: ActorAI, DurationHours: 16},
	QualityAssurance:  {DisplayName: "Quality Assurance & Testing", Actor: ActorHuman, DurationHours: 4},
	ClientPreview:     {DisplayName: "Client Preview & Final Review", Actor: ActorHuman, RequiresApproval: true, DurationHours: 6, ApprovalType: "final_preview"},
	Deployment:        {DisplayName: "Production Deployment", Actor: ActorAI, DurationHours: 4},
	Delivered:         {DisplayName: "Project Delivered", Actor: ActorHuman, DurationHours: 0},
}

// Count is the number of stages in the workflow.
const Count = len(ordered)

// All returns every stage in workflow order.
func All() []Stage {
	out := make([]Stage, Count)
	copy(out, ordered[:])
	return out
}

// First returns the entry stage of the workflow.
func First() Stage { return ordered[0] }

// Last returns the terminal stage of the workflow.
func Last() Stage { return ordered[Count-1] }

// Next returns the stage following s, or ok=false if s is terminal.
func Next(s Stage) (next Stage, ok bool) {
	for i, st := range ordered {
		if st == s && i < Count-1 {
			return ordered[i+1], true
		}
	}
	return "", false
}

// Index returns the zero-based position of s in the workflow order,
// or -1 for an unknown stage.
func Index(s Stage) int {
	for i, st := range ordered {
		if st == s {
			return i
		}
	}
	return -1
}

// Lookup returns the metadata for s. The second return is false for an
// unknown stage.
func Lookup(s Stage) (Meta, bool) {
	m, ok := metadata[s]
	return m, ok
}

// RequiresApproval reports whether s is a gated stage.
func RequiresApproval(s Stage) bool {
	return metadata[s].RequiresApproval
}

// DisplayName returns the human-readable name of s.
func DisplayName(s Stage) string {
	return metadata[s].DisplayName
}

// Parse converts a wire string into a Stage, rejecting unknown names.
func Parse(s string) (Stage, error) {
	candidate := Stage(s)
	if _, ok := metadata[candidate]; !ok {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return candidate, nil
}

func (s Stage) String() string { return string(s) }
