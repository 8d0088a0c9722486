package executor

import (
	"fmt"
	"strings"

	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

// autonomyDirective is appended to every agent's system prompt. Agents
// answer directly; the service decides delegation, so the model is told not
// to narrate hand-offs it cannot perform.
const autonomyDirective = `Work autonomously on the task you are given.
Produce your best complete answer directly. Do not ask clarifying questions
and do not describe delegating work to others; specialist follow-up happens
outside of your reply.`

// buildSystemPrompt assembles the system prompt: identity line, the
// user-authored prompt, the autonomy directive, and the delegation targets
// listing when the agent has children.
func buildSystemPrompt(agent *models.Agent, cap *treecache.Capability, snapshot *treecache.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s", agent.Name)
	if agent.Role != "" {
		fmt.Fprintf(&sb, ", %s", agent.Role)
	}
	sb.WriteString(".\n\n")

	if agent.SystemPrompt != "" {
		sb.WriteString(agent.SystemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString(autonomyDirective)

	if cap != nil && len(cap.Children) > 0 {
		sb.WriteString("\n\nSpecialists that may refine parts of your answer afterwards:\n")
		for _, childID := range cap.Children {
			child := snapshot.Capability(childID)
			if child == nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s: %s\n", child.AgentName, strings.Join(child.Keywords, ", "))
		}
	}
	return sb.String()
}

// buildUserPrompt assembles the user prompt from the trailing history
// window, the parent's output when delegated, and the task itself.
func buildUserPrompt(task, parentOutput string, history []models.HistoryEntry, window int) string {
	var sb strings.Builder

	if window > 0 && len(history) > 0 {
		start := len(history) - window
		if start < 0 {
			start = 0
		}
		sb.WriteString("Recent conversation:\n")
		for _, entry := range history[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", entry.Role, entry.Content)
		}
		sb.WriteString("\n")
	}

	if parentOutput != "" {
		sb.WriteString("Context from the coordinating agent:\n")
		sb.WriteString(parentOutput)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Task: ")
	sb.WriteString(task)
	return sb.String()
}
