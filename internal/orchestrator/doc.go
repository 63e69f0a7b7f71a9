// Package orchestrator runs a plan to completion, one task at a time.
//
// Each iteration re-reads the progress record, picks the lowest-order task
// that is neither Done nor Skipped, and either records it Done because its
// effects already exist or dispatches it to a delegate and waits for the
// completion detector. Every outcome is written to the progress store
// before the next task is considered, and the execution lock guarantees at
// most one task is in progress per workspace, across restarts.
//
// # State Machine
//
//	Idle -> Scheduling -> Skipping ------------------------------> Scheduling
//	                   \-> Dispatching -> AwaitingCompletion -> Recording -> Scheduling
//	Scheduling -> Finished | Paused
//	any waiting state -> Cancelled
//
// A run that cannot continue (unparseable plan, unreadable progress,
// declined stale-lease recovery) ends Failed and Run returns the error.
// Cancellation is not an error: the lease of an interrupted task stays in
// progress and the next run asks the operator before clearing it.
//
// # Usage
//
//	orch, err := orchestrator.New(orchestrator.Config{MaxIterations: 10}, orchestrator.Deps{
//	    Leases:   leases,
//	    Detector: detector,
//	    Delegate: del,
//	    Verifier: verify.New(root),
//	})
//	result, err := orch.Run(ctx, plan.FileSource{Path: "plan.yaml"}, store)
package orchestrator
