// Package agent contains the orchestrator that performs one reasoning round
// for a container query. Given the question and the tool calls and results
// gathered so far, it asks the reasoning service for the next step: more
// tool calls or a final answer. It never contacts a tracking source itself;
// every lookup is requested as a tool call and executed by the workflow.
package agent
