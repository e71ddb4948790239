// Package workflow runs one natural-language query as a durable Temporal
// workflow. The workflow normalizes the container number, alternates between
// the Reason activity and concurrent tool calls, enforces the round cap and
// the overall query deadline, and hands the final result to the Finalize
// activity on a disconnected context so it is persisted exactly once.
//
// Workflow code here is deterministic: it never reads the wall clock, never
// touches metrics or the network, and derives tool call IDs from the query
// ID and position. Everything with side effects lives in Activities.
package workflow
