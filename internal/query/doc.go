// Package query owns the records of submitted container queries: the
// submitted question, the final result written once by the workflow's
// finalize step, and the publishers that announce finished results.
package query
