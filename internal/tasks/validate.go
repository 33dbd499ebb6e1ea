package tasks

import (
	"strings"

	"github.com/dohr-michael/missionctl/internal/apierr"
)

// ParentLookup resolves a task by id for depth validation. A nil result
// with a nil error means the parent does not exist.
type ParentLookup func(id string) (*Task, error)

// ValidateNew checks a task before any write attempt. Validation failures
// are 400-class and never produce a partial write.
func ValidateNew(t *Task, lookup ParentLookup) error {
	if strings.TrimSpace(t.Title) == "" {
		return apierr.Validation("title", "is required")
	}
	if strings.TrimSpace(t.WorkspaceID) == "" {
		return apierr.Validation("workspace_id", "is required")
	}
	if t.Status != "" && !ValidStatus(t.Status) {
		return apierr.Validation("status", "unknown status "+string(t.Status))
	}
	if t.Priority != "" && !ValidPriority(t.Priority) {
		return apierr.Validation("priority", "unknown priority "+string(t.Priority))
	}
	if t.Type != "" && !ValidType(t.Type) {
		return apierr.Validation("task_type", "unknown task type "+string(t.Type))
	}
	if err := t.TypeConfig.Validate(t.Type); err != nil {
		return apierr.Validation("task_type_config", err.Error())
	}
	if t.ParentTaskID != "" {
		if lookup == nil {
			return apierr.Validation("parent_task_id", "parent lookup unavailable")
		}
		parent, err := lookup(t.ParentTaskID)
		if err != nil {
			return err
		}
		if parent == nil {
			return apierr.Validation("parent_task_id", "parent task does not exist")
		}
		// Subtasks nest at most one level deep.
		if parent.ParentTaskID != "" {
			return apierr.Validation("parent_task_id", "depth limit exceeded")
		}
	}
	return nil
}

// ApplyDefaults fills zero-value fields before insert.
func ApplyDefaults(t *Task) {
	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	if t.Status == "" {
		t.Status = StatusInbox
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if t.Source == "" {
		t.Source = DefaultSource
	}
	if t.Type == "" {
		t.Type = TypeOpenClawNative
	}
	if t.Type == TypeOpenClawNative && t.TypeConfig.OpenClawNative == nil {
		t.TypeConfig.OpenClawNative = &OpenClawNativeConfig{}
	}
}
