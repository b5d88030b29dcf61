// Package types defines the data structures shared across the load harness.
//
// It holds the plain value types that flow between packages:
//   - Stage lists and execution modes for the scheduler
//   - Threshold definitions and their evaluated results
//   - Check results recorded by the assertion engine
package types
