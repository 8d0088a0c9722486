package executor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

func TestBuildSystemPrompt(t *testing.T) {
	agent := &models.Agent{
		AgentID:      "root",
		Name:         "Research Lead",
		Role:         "coordinator of research",
		SystemPrompt: "Prefer primary sources.",
	}
	snap := &treecache.Snapshot{Capabilities: map[string]*treecache.Capability{
		"root": {AgentID: "root", Children: []string{"searcher"}},
		"searcher": {
			AgentID: "searcher", AgentName: "Web Searcher",
			Keywords: []string{"search", "web"},
		},
	}}

	prompt := buildSystemPrompt(agent, snap.Capability("root"), snap)

	assert.True(t, strings.HasPrefix(prompt, "You are Research Lead, coordinator of research."))
	assert.Contains(t, prompt, "Prefer primary sources.")
	assert.Contains(t, prompt, "Work autonomously")
	assert.Contains(t, prompt, "Web Searcher: search, web")
}

func TestBuildSystemPromptLeafHasNoSpecialistListing(t *testing.T) {
	agent := &models.Agent{AgentID: "leaf", Name: "Writer"}
	snap := &treecache.Snapshot{Capabilities: map[string]*treecache.Capability{
		"leaf": {AgentID: "leaf"},
	}}

	prompt := buildSystemPrompt(agent, snap.Capability("leaf"), snap)
	assert.NotContains(t, prompt, "Specialists")
}

func TestBuildUserPromptHistoryWindow(t *testing.T) {
	history := []models.HistoryEntry{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
		{Role: "assistant", Content: "fourth"},
	}

	prompt := buildUserPrompt("do the thing", "", history, 3)

	assert.NotContains(t, prompt, "first")
	assert.Contains(t, prompt, "second")
	assert.Contains(t, prompt, "third")
	assert.Contains(t, prompt, "fourth")
	assert.Contains(t, prompt, "Task: do the thing")
}

func TestBuildUserPromptParentOutput(t *testing.T) {
	prompt := buildUserPrompt("refine the draft", "parent findings here", nil, 3)

	assert.Contains(t, prompt, "Context from the coordinating agent:\nparent findings here")
	assert.Contains(t, prompt, "Task: refine the draft")
}

func TestBuildUserPromptZeroWindowDropsHistory(t *testing.T) {
	history := []models.HistoryEntry{{Role: "user", Content: "old"}}
	prompt := buildUserPrompt("task", "", history, 0)
	assert.NotContains(t, prompt, "old")
}
