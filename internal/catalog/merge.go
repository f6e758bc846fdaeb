package catalog

import (
	"sort"

	"cavvy/internal/domain"
)

// Merge combines a shared and a custom catalog. An entry in custom replaces
// the shared entry with the same id; everything else is the union. Neither
// input is modified. The result is sorted by id.
func Merge[T any](shared, custom []T, id func(T) string) []T {
	byID := make(map[string]T, len(shared)+len(custom))
	for _, item := range shared {
		byID[id(item)] = item
	}
	for _, item := range custom {
		byID[id(item)] = item
	}

	out := make([]T, 0, len(byID))
	for _, item := range byID {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}

func typeID(t domain.CanvasType) string { return t.ID }

func agentID(a domain.AIAgent) string { return a.ID }

// MergeTypes is Merge for canvas types.
func MergeTypes(shared, custom []domain.CanvasType) []domain.CanvasType {
	return Merge(shared, custom, typeID)
}

// MergeAgents is Merge for AI agents.
func MergeAgents(shared, custom []domain.AIAgent) []domain.AIAgent {
	return Merge(shared, custom, agentID)
}
