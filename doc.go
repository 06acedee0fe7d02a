// Package tandem provides a composable, event-sourced saga orchestration
// engine for Go. It offers an append-only event log with optimistic
// concurrency, a coordinator that drives multi-step distributed
// transactions with compensation, and projections that keep read models
// eventually consistent with the log.
//
// Tandem is designed as a library, not a service. Import it, configure a
// store, register saga definitions and projection handlers, and feed it
// domain events.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithDefinition(orderSaga),
//	)
//
// # Architecture
//
// Tandem follows a composable store pattern where each subsystem
// (eventlog, saga, projection, deadletter) defines its own store
// interface. A single backend implements all of them.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package tandem
