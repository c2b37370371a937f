package session

// hasCycle reports whether the dependency graph contains a cycle. Edges
// point from a task to the tasks it depends on; direction does not
// matter for cycle existence.
func hasCycle(edges map[string][]string) bool {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for node := range edges {
		if !visited[node] {
			if hasCycleDFS(node, edges, visited, recStack) {
				return true
			}
		}
	}
	return false
}

func hasCycleDFS(node string, edges map[string][]string, visited, recStack map[string]bool) bool {
	visited[node] = true
	recStack[node] = true

	for _, neighbor := range edges[node] {
		if !visited[neighbor] {
			if hasCycleDFS(neighbor, edges, visited, recStack) {
				return true
			}
		} else if recStack[neighbor] {
			// Back edge found.
			return true
		}
	}

	recStack[node] = false
	return false
}
