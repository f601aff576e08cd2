// Package orchestrator provides the start, stop and restart sequencing for llmn.
//
// The orchestrator consumes the registry's groups and resolved enablement and
// issues per-service operations. It does not schedule per service
// dependencies; coarse ordering comes from the groups.
//
// # Start
//
// Groups run in start order (for example databases, middleware, apps). All
// enabled services of a group start concurrently and the orchestrator waits
// for the whole batch. Failures are collected, never cancelling siblings, and
// any failure stops the sequence before the next group.
//
// # Stop
//
// Stopping walks the groups in reverse and tolerates services that are
// already stopped. Every failure is reported; none halts the walk.
//
// # Restart
//
// Restart is a stop of the whole stack followed by a start. The start phase
// only begins after the stop phase settled successfully.
//
// # Events
//
// Callers can watch progress through SubscribeToStateChanges:
//
//	events := orch.SubscribeToStateChanges()
//	go func() {
//	    for e := range events {
//	        fmt.Printf("%s %s: %v\n", e.Operation, e.ServiceID, e.Success)
//	    }
//	}()
//
// Events are dropped rather than blocking when a subscriber falls behind.
package orchestrator
