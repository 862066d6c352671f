// Package agent drives model-backed agent runs: it owns the agent
// descriptors, the provider abstraction with failover, and the tool loop
// that executes model-requested calls through the tool registry.
//
// Invariants:
// - A run terminates completed or failed within its deadline and turn cap.
// - Tool outputs are only submitted once the whole batch has resolved.
// - A handoff transfers control to the target descriptor's instructions and
//   tool set; the loop continues under that agent.
package agent
