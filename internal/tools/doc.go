// Package tools is the workflow-side tool invocation layer. It keeps the
// static registry of tool definitions and their JSON Schemas, validates
// every call before dispatch, starts the backing activity (or local
// handler) and turns whatever comes back into a typed ToolResult.
//
// A ToolResult is always produced: schema violations, unknown tools,
// activity failures, timeouts and cancellations all become a result with a
// populated Error rather than a workflow error.
package tools
