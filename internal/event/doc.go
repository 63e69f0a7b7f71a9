// Package event provides a synchronous pub-sub bus carrying orchestrator
// progress to observers such as the CLI's live output and the log.
//
// # Main Types
//
//   - [Event]: interface providing EventType() and Timestamp()
//   - [Bus]: thread-safe dispatcher; handlers run on the publisher's goroutine
//   - [Handler]: func(Event)
//
// # Event Types
//
// Task lifecycle:
//   - [TaskDispatchedEvent] ("task.dispatched")
//   - [TaskCompletedEvent] ("task.completed")
//   - [TaskFailedEvent] ("task.failed")
//   - [TaskSkippedEvent] ("task.skipped")
//
// Run lifecycle:
//   - [RunStateEvent] ("run.state")
//   - [LeaseForcedEvent] ("lease.forced")
//
// # Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//	bus.Subscribe(event.TypeTaskFailed, func(e event.Event) {
//	    failed := e.(event.TaskFailedEvent)
//	    fmt.Println(failed.TaskID, failed.Reason)
//	})
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
//
// A panicking handler is recovered and logged; the remaining handlers
// still receive the event.
package event
