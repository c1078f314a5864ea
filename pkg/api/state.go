package api

// WorkerState is a position in the worker lifecycle:
//
//	Created → Setup → AwaitingStart → Running → {Done | Exiting} → Terminated
type WorkerState string

const (
	StateCreated       WorkerState = "CREATED"
	StateSetup         WorkerState = "SETUP"
	StateAwaitingStart WorkerState = "AWAITING_START"
	StateRunning       WorkerState = "RUNNING"
	StateDone          WorkerState = "DONE"
	StateExiting       WorkerState = "EXITING"
	StateTerminated    WorkerState = "TERMINATED"
)

// Phase names the lifecycle hook in which an error happened.
type Phase string

const (
	PhaseSetup   Phase = "setup"
	PhaseStartup Phase = "startup"
	PhaseRoutine Phase = "routine"
	PhaseCleanup Phase = "cleanup"
)
