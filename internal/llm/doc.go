// Package llm defines the reasoning-service contract used by the agent: a
// tool-calling conversation in, either tool calls or a final answer out.
// Provider adapters live in subpackages; RateLimited wraps any of them with
// a process-wide request budget.
package llm
