// Package runner provides the runner hierarchy that loads, explores and
// executes a tree of test packages.
//
// The main components are:
//   - MasterRunner: the only runner callers construct; owns run lifecycle, timing and failure containment
//   - AggregatingRunner: fans work out over one subordinate runner per leaf package, sequentially or in a bounded pool
//   - DirectRunner: drives a single leaf package through a drivers.Driver
//   - NotRunnableRunner: returns a fixed invalid or skipped fragment for a package that cannot run
//
// Results are exchanged as XML fragments (see package results) and progress
// is reported to an events.Listener while a run is in flight.
package runner
