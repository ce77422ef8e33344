package model

import (
	"time"

	"realtime-canvas/internal/apperr"
)

// ActionType 히스토리 액션 타입
type ActionType string

const (
	ActionCreate    ActionType = "create"
	ActionDelete    ActionType = "delete"
	ActionUpdate    ActionType = "update"
	ActionDuplicate ActionType = "duplicate"
	ActionPaste     ActionType = "paste"
)

func (a ActionType) String() string {
	return string(a)
}

// HistoryAction is one recorded, invertible user mutation. ObjectID refers to
// the entity by id only; the entity may no longer exist.
type HistoryAction struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Timestamp time.Time  `json:"timestamp"`
	Type      ActionType `json:"type"`
	ObjectID  string     `json:"objectId"`
	Before    *Patch     `json:"beforeState"`
	After     *Patch     `json:"afterState"`
}

// Validate enforces the before/after nullability rules.
func (a HistoryAction) Validate() error {
	if a.ObjectID == "" {
		return apperr.Validation("objectId", "is required")
	}
	switch a.Type {
	case ActionCreate:
		if a.Before != nil {
			return apperr.Validation("beforeState", "must be null for create")
		}
	case ActionUpdate:
		if a.Before == nil {
			return apperr.Validation("beforeState", "is required for update")
		}
	case ActionDelete:
		if a.Before == nil {
			return apperr.Validation("beforeState", "is required for delete")
		}
		if a.After != nil {
			return apperr.Validation("afterState", "must be null for delete")
		}
		return nil
	case ActionDuplicate, ActionPaste:
	default:
		return apperr.Validation("type", "unknown action type "+string(a.Type))
	}
	if a.After == nil {
		return apperr.Validation("afterState", "is required for "+string(a.Type))
	}
	return nil
}
