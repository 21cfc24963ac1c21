// Package service is the session lifecycle API.
//
// A Service owns the live session registry, the fanout hub and the run
// coordinator. It is constructed once at process start, optionally
// rehydrated from the store with Restore, and torn down with Shutdown.
//
// Errors follow the package sentinels: session.ErrNotFound for unknown ids,
// session.ErrInvalidOptions and agent.ErrMissingCredential for rejected
// create requests, store.ErrStorage for database faults. Run failures are
// never returned; they reach subscribers as error events.
package service
