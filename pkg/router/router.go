// Package router selects which child agents receive a delegated task.
// Selection is purely lexical and deterministic: no model calls, no
// randomness, ties broken by agent ID.
package router

import (
	"sort"
	"strings"

	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

const depthPenalty = 0.1

// Router scores children of a capability node against a task.
type Router struct {
	threshold float64
}

// New creates a router. Children score above threshold to be selected.
func New(threshold float64) *Router {
	return &Router{threshold: threshold}
}

// Selection is one scored child, kept for event reporting.
type Selection struct {
	AgentID string
	Score   float64
}

// SelectChildren returns the children of cap that should receive the task,
// ordered by agent ID. Children whose score clears the threshold are all
// selected; when none clear it, the single best child is chosen only if the
// task literally contains one of its keywords.
func (r *Router) SelectChildren(task string, cap *treecache.Capability, snapshot *treecache.Snapshot) []Selection {
	if cap == nil || len(cap.Children) == 0 {
		return nil
	}

	taskTokens := tokenize(task)
	taskFolded := strings.ToLower(task)

	var scored []Selection
	for _, childID := range cap.Children {
		child := snapshot.Capability(childID)
		if child == nil {
			continue
		}
		scored = append(scored, Selection{
			AgentID: childID,
			Score:   score(taskTokens, child),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].AgentID < scored[j].AgentID
		}
		return scored[i].Score > scored[j].Score
	})

	var selected []Selection
	for _, s := range scored {
		if s.Score > r.threshold {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 && len(scored) > 0 {
		// Weak-match fallback: only the best child, and only when the task
		// literally mentions one of its keywords.
		best := scored[0]
		if containsAnyKeyword(taskFolded, snapshot.Capability(best.AgentID)) {
			selected = append(selected, best)
		}
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].AgentID < selected[j].AgentID })
	return selected
}

// score computes normalized keyword overlap minus a depth penalty.
func score(taskTokens map[string]bool, child *treecache.Capability) float64 {
	if len(child.Keywords) == 0 {
		return -depthPenalty * float64(child.Depth)
	}
	overlap := 0
	for _, kw := range child.Keywords {
		if taskTokens[strings.ToLower(kw)] {
			overlap++
		}
	}
	return float64(overlap)/float64(len(child.Keywords)) - depthPenalty*float64(child.Depth)
}

func containsAnyKeyword(taskFolded string, child *treecache.Capability) bool {
	if child == nil {
		return false
	}
	for _, kw := range child.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(taskFolded, kw) {
			return true
		}
	}
	return false
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, token := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		tokens[token] = true
	}
	return tokens
}
