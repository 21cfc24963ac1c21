// Package runner coordinates agent runs for sessions.
//
// A session is either idle or running. Trigger performs the atomic
// idle->running flip and executes the run on its own goroutine:
//
//  1. snapshot the history
//  2. call the agent loop; its callbacks publish assistant_block,
//     tool_result and api_exchange events
//  3. persist every returned turn beyond the snapshot, in order
//  4. commit the turns to memory and publish done
//
// A failed run publishes one error event and leaves history untouched.
// Either way the session returns to idle and the status is mirrored into
// the store. User turns posted while a run is in flight start one follow-up
// run once the current one ends.
//
// Side effects are skipped once the session has been deleted.
package runner
