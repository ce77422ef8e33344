package history

import (
	"fmt"

	"realtime-canvas/internal/model"
)

// StepKind is the mutation a replayed action performs.
type StepKind int

const (
	// StepRecreate creates the entity from Patch, keeping ObjectID.
	StepRecreate StepKind = iota
	// StepRemove deletes the entity.
	StepRemove
	// StepPatch writes Patch onto the existing entity.
	StepPatch
)

func (k StepKind) String() string {
	switch k {
	case StepRecreate:
		return "recreate"
	case StepRemove:
		return "remove"
	case StepPatch:
		return "patch"
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Step is one mutation handed to an ApplyFunc. Replays must not be recorded.
type Step struct {
	Kind     StepKind
	ObjectID string
	Patch    model.Patch
}

// creates reports whether the action brought its object into existence.
// Duplicate and paste without a before-state are creations.
func creates(a model.HistoryAction) bool {
	switch a.Type {
	case model.ActionCreate:
		return true
	case model.ActionDuplicate, model.ActionPaste:
		return a.Before == nil
	}
	return false
}

// Invert returns the step that undoes a.
func Invert(a model.HistoryAction) Step {
	switch {
	case creates(a):
		return Step{Kind: StepRemove, ObjectID: a.ObjectID}
	case a.Type == model.ActionDelete:
		return Step{Kind: StepRecreate, ObjectID: a.ObjectID, Patch: deref(a.Before)}
	default:
		return Step{Kind: StepPatch, ObjectID: a.ObjectID, Patch: deref(a.Before)}
	}
}

// Replay returns the step that redoes a.
func Replay(a model.HistoryAction) Step {
	switch {
	case creates(a):
		return Step{Kind: StepRecreate, ObjectID: a.ObjectID, Patch: deref(a.After)}
	case a.Type == model.ActionDelete:
		return Step{Kind: StepRemove, ObjectID: a.ObjectID}
	default:
		return Step{Kind: StepPatch, ObjectID: a.ObjectID, Patch: deref(a.After)}
	}
}

func deref(p *model.Patch) model.Patch {
	if p == nil {
		return model.Patch{}
	}
	return *p
}
