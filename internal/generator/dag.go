package generator

import "swarmcore.io/swarm/internal/domain"

// detectCycle runs a Kahn's-algorithm topological sort over tickets'
// dependency edges and returns the id of a ticket still unresolved once
// the sort stalls, or "" if the graph is acyclic (spec.md §4.D rule 4:
// "cycles are a generator bug and rejected at activation").
func detectCycle(tickets []*domain.Ticket) string {
	byID := make(map[string]*domain.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}

	// inDegree here counts *unresolved dependencies*, not graph in-degree:
	// a ticket is ready to "emit" once every ticket it depends on has
	// already been emitted.
	remaining := make(map[string]int, len(tickets))
	dependents := make(map[string][]string)
	for _, t := range tickets {
		count := 0
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue // dependency outside this batch, e.g. a prior session's ticket
			}
			count++
			dependents[dep] = append(dependents[dep], t.ID)
		}
		remaining[t.ID] = count
	}

	queue := make([]string, 0, len(tickets))
	for id, n := range remaining {
		if n == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited == len(tickets) {
		return ""
	}
	for id, n := range remaining {
		if n > 0 {
			return id
		}
	}
	return ""
}
