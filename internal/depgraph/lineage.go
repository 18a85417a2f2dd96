package depgraph

import (
	"fmt"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

// NoCohort is returned by NextCohort when the age slot has no successor in the run.
const NoCohort = -1

// Lineage follows one age slot through the grid: when a cohort dies, the
// cohort born at that instant takes over its slot.
type Lineage struct {
	numAgeGroups int
	numTasks     int
}

// NewLineage returns the lineage view of an A x T grid.
func NewLineage(numAgeGroups, numTimeSteps int) (*Lineage, error) {
	if numAgeGroups <= 0 || numTimeSteps <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", types.ErrInvalidArgument, numAgeGroups, numTimeSteps)
	}
	return &Lineage{
		numAgeGroups: numAgeGroups,
		numTasks:     numAgeGroups + numTimeSteps - 1,
	}, nil
}

// NextCohort returns the task that occupies the slot of taskID once taskID
// finishes, or NoCohort.
func (l *Lineage) NextCohort(taskID int) int {
	var next int
	if taskID < l.numAgeGroups {
		next = 2*l.numAgeGroups - 1 - taskID
	} else {
		next = taskID + l.numAgeGroups
	}
	if next >= l.numTasks {
		return NoCohort
	}
	return next
}

// Chain returns start followed by its successors.
func (l *Lineage) Chain(start int) []int {
	chain := make([]int, 0)
	for id := start; id != NoCohort; id = l.NextCohort(id) {
		chain = append(chain, id)
	}
	return chain
}

// Chains returns one chain per initial age group. Every task appears in
// exactly one chain.
func (l *Lineage) Chains() [][]int {
	chains := make([][]int, l.numAgeGroups)
	for k := 0; k < l.numAgeGroups; k++ {
		chains[k] = l.Chain(k)
	}
	return chains
}

// InitialCohorts returns the initial age groups handed to worker when they
// are dealt round-robin over numWorkers.
func (l *Lineage) InitialCohorts(worker, numWorkers int) []int {
	ids := make([]int, 0)
	if numWorkers <= 0 || worker < 0 || worker >= numWorkers {
		return ids
	}
	for k := worker; k < l.numAgeGroups; k += numWorkers {
		ids = append(ids, k)
	}
	return ids
}
