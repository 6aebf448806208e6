package planner

import (
	"math"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// MinScore is the lowest suitability score a distributable task may have.
const MinScore = 0.2

// Score computes the suitability of distributing a task across allocationCount
// agents. The result is rounded to two decimals.
func Score(task *models.DistributedTask, subtaskCount, allocationCount int, strategy models.CoordinationStrategy) float64 {
	var score float64

	beneficial := subtaskCount > 1 &&
		strategy.Type != models.StrategySequential &&
		strategy.MaxConcurrentAgents > 1
	if task.Parallelizable && beneficial {
		score += 0.4
	}
	if len(task.RequirementTypes()) > 1 {
		score += 0.2
	}
	if task.Complexity == models.ComplexityComplex {
		score += 0.3
	}
	if allocationCount > 1 {
		score -= 0.1 * float64(allocationCount-1)
	}
	return math.Round(score*100) / 100
}

// estimateSubtasks predicts the subtask count without decomposing.
func estimateSubtasks(task *models.DistributedTask) int {
	if len(task.Subtasks) > 0 {
		return len(task.Subtasks)
	}
	switch task.Complexity {
	case models.ComplexityModerate:
		return 2
	case models.ComplexityComplex:
		return 3
	default:
		return 1
	}
}
