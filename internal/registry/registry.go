// Package registry binds workflows and activities to a Temporal worker
// under their stable names.
package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/heliconai/salesdesk/internal/activities"
	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/workflows"
)

// RegisterWorkflows registers every workflow this service hosts.
func RegisterWorkflows(w worker.Worker) {
	w.RegisterWorkflowWithOptions(workflows.TurnWorkflow,
		workflow.RegisterOptions{Name: constants.TurnWorkflow})
}

// RegisterActivities registers the activity set under the names the
// workflows invoke them by.
func RegisterActivities(w worker.Worker, a *activities.Activities) {
	for name, fn := range map[string]interface{}{
		constants.RouteTurnActivity:           a.RouteTurn,
		constants.CheckTurnSafetyActivity:     a.CheckTurnSafety,
		constants.RecordDispatchActivity:      a.RecordDispatch,
		constants.ExecuteWorkerActivity:       a.ExecuteWorker,
		constants.AggregateResultsActivity:    a.AggregateResults,
		constants.FetchSessionMemoryActivity:  a.FetchSessionMemory,
		constants.UpdateSessionMemoryActivity: a.UpdateSessionMemory,
		constants.PersistTurnActivity:         a.PersistTurn,
	} {
		w.RegisterActivityWithOptions(fn, activityOptions(name))
	}
}

func activityOptions(name string) activity.RegisterOptions {
	return activity.RegisterOptions{Name: name}
}
