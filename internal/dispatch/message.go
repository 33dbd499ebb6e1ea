package dispatch

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dohr-michael/missionctl/internal/tasks"
)

// InitiativeContext is spliced into an outbound message when the task is
// attached to an initiative.
type InitiativeContext struct {
	ID        string
	Title     string
	Status    string
	TaskCount int
}

// Slugify derives a deterministic directory-safe slug from a title.
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// OutputDir returns the deliverable directory for a task title.
func OutputDir(title string) string {
	return path.Join("deliverables", Slugify(title))
}

// completionProtocol is the mandatory three-step wrap-up embedded in
// every dispatched message. Tasks move to review, never directly to
// done; done requires separate approval.
const completionProtocol = `## Completion protocol
When the work is finished you MUST, in order:
1. Register each deliverable you produced.
2. Log a completion activity describing what was done.
3. Transition the task to "review". Never move it to "done" yourself; done requires separate approval.`

// BuildMessage constructs the outbound instruction for a task. The body
// is polymorphic over the task type; every message embeds priority, due
// date, task id, the slugified output directory and the completion
// protocol. When ictx is non-nil its block is spliced in immediately
// after the first paragraph.
func BuildMessage(t *tasks.Task, ictx *InitiativeContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task: %s\n\n", t.Title)
	b.WriteString(typeInstructions(t))
	b.WriteString("\n")

	if t.Description != "" {
		b.WriteString("\n" + t.Description + "\n")
	}

	fmt.Fprintf(&b, "\n## Details\n- Task ID: %s\n- Priority: %s\n- Output directory: %s\n",
		t.ID, t.Priority, OutputDir(t.Title))
	if t.DueAt != nil {
		fmt.Fprintf(&b, "- Due: %s\n", t.DueAt.Format(time.RFC3339))
	} else {
		b.WriteString("- Due: none\n")
	}

	b.WriteString("\n" + completionProtocol + "\n")

	msg := b.String()
	if ictx != nil {
		msg = spliceAfterFirstParagraph(msg, initiativeBlock(ictx))
	}
	return msg
}

func typeInstructions(t *tasks.Task) string {
	switch t.Type {
	case tasks.TypeClaudeTeam:
		cfg := t.TypeConfig.ClaudeTeam
		var b strings.Builder
		fmt.Fprintf(&b, "Work this task as an orchestrated team of %d.", cfg.TeamSize)
		if len(cfg.TeamMembers) > 0 {
			fmt.Fprintf(&b, " Team members: %s.", strings.Join(cfg.TeamMembers, ", "))
		}
		if cfg.Model != "" {
			fmt.Fprintf(&b, " Use model %s for all workers.", cfg.Model)
		}
		return b.String()
	case tasks.TypeMultiHypothesis:
		cfg := t.TypeConfig.MultiHypothesis
		var b strings.Builder
		b.WriteString("Explore the following hypotheses in parallel and converge on the strongest:\n")
		for i, h := range cfg.Hypotheses {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h)
		}
		if cfg.Coordinator != "" {
			fmt.Fprintf(&b, "Coordinator: %s.", cfg.Coordinator)
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return "Work this task with your native toolset."
	}
}

func initiativeBlock(ictx *InitiativeContext) string {
	return fmt.Sprintf("## Initiative context\n- Initiative: %s (%s)\n- Status: %s\n- Tasks in initiative: %d",
		ictx.Title, ictx.ID, ictx.Status, ictx.TaskCount)
}

// spliceAfterFirstParagraph inserts block after the first blank-line
// paragraph break of msg.
func spliceAfterFirstParagraph(msg, block string) string {
	idx := strings.Index(msg, "\n\n")
	if idx < 0 {
		return msg + "\n\n" + block
	}
	return msg[:idx+2] + block + "\n\n" + msg[idx+2:]
}
