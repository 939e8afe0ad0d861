package scheduler

// agentsToLetIn returns how many more executors the current task count
// calls for. Each active agent covers minTasksPerAgent tasks; the uncovered
// remainder is divided by the same figure, rounding up.
func agentsToLetIn(minTasksPerAgent, activeAgents, totalTasks uint64) uint64 {
	if minTasksPerAgent == 0 {
		return 0
	}
	covered := activeAgents * minTasksPerAgent
	if totalTasks <= covered {
		return 0
	}
	uncovered := totalTasks - covered
	return (uncovered + minTasksPerAgent - 1) / minTasksPerAgent
}
