// Package engine wires all Tandem subsystems together: the event log,
// the in-process bus, the saga coordinator with its lock and timeout
// managers, the command executor, projections, dead letters, and the
// maintenance scheduler.
//
// This package exists to break import cycles: the subsystem packages
// define the interfaces they depend on (saga.CommandExecutor,
// command.Sink, projection.DeadLetterer) and the engine plugs concrete
// implementations into them. It sits above every subsystem package and
// below the application layer.
package engine
