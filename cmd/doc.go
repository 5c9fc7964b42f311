// Package cmd implements the command-line interface for this module: a
// thin harness around the dispatch/topology engine, useful for exercising
// it against a live cluster without embedding it in a larger program.
//
// The package is organized into subpackages:
//
//   - coreprobe: connects to a cluster, reconciles topology, and reports on it
//   - util: shared utilities for command-line processing and configuration (internal use)
//
// See corekit -help for a list of all commands.
package cmd
