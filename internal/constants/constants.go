package constants

// TaskQueue is the Temporal task queue the orchestrator worker polls.
const TaskQueue = "salesdesk-orchestrator"

// TurnWorkflow is the registered name of the per-turn workflow.
const TurnWorkflow = "TurnWorkflow"

// Activity names, shared by worker registration and workflow
// invocation.
const (
	// Routing
	RouteTurnActivity = "RouteTurn"

	// Safety guard
	CheckTurnSafetyActivity = "CheckTurnSafety"
	RecordDispatchActivity  = "RecordDispatch"

	// Worker execution
	ExecuteWorkerActivity = "ExecuteWorker"

	// Aggregation
	AggregateResultsActivity = "AggregateResults"

	// Session memory
	FetchSessionMemoryActivity  = "FetchSessionMemory"
	UpdateSessionMemoryActivity = "UpdateSessionMemory"

	// Persistence (fire-and-forget)
	PersistTurnActivity = "PersistTurn"
)

// Worker names. These identify the external responder services the
// orchestrator dispatches to.
const (
	WorkerConversation = "conversation"
	WorkerKnowledge    = "knowledge"
	WorkerDocExtract   = "document-extraction"
	WorkerCalendar     = "calendar"
	WorkerVision       = "vision"
)

// DefaultWorker handles turns nothing else claims, and every fallback path.
const DefaultWorker = WorkerConversation
