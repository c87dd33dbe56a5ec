package lifecycle

import (
	"fmt"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// Operation is a lifecycle action an operator can take
type Operation string

const (
	OpDeploy Operation = "deploy"
	OpRecall Operation = "recall"
)

// Transition returns the state reached by applying op in state from.
// Deploy is allowed from not_deployed and recalled; recall only from deployed.
func Transition(from models.LifecycleState, op Operation) (models.LifecycleState, error) {
	switch op {
	case OpDeploy:
		switch from {
		case models.StateNotDeployed, models.StateRecalled:
			return models.StateDeployed, nil
		case models.StateDeployed:
			return from, ErrAlreadyDeployed
		}
	case OpRecall:
		switch from {
		case models.StateDeployed:
			return models.StateRecalled, nil
		case models.StateNotDeployed, models.StateRecalled:
			return from, ErrNotDeployed
		}
	default:
		return from, fmt.Errorf("unknown operation %q", op)
	}
	return from, fmt.Errorf("unknown state %q", from)
}
