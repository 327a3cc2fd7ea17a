package components

import "sort"

// SortNodes sorts a slice of NodeData with the most recently seen first, then by NodeID as tiebreaker
func SortNodes(nodes []NodeData) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].LastSeen.Equal(nodes[j].LastSeen) {
			return nodes[i].LastSeen.After(nodes[j].LastSeen)
		}
		return nodes[i].NodeID < nodes[j].NodeID
	})
}
